//go:build linux

package cmd

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// getCurrentUid is replaced in tests.
var getCurrentUid = os.Geteuid

// setNoNewPrivs sets PR_SET_NO_NEW_PRIVS so the wrapped command cannot gain
// privileges through setuid binaries or file capabilities.
func setNoNewPrivs() {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		logger.Warn("failed to set PR_SET_NO_NEW_PRIVS", zap.Error(err))
	}
}

// verifySocketPeer checks that the process on the other end of a unix socket
// runs as the current user or root.
func verifySocketPeer(conn net.Conn) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return errors.New("not a unix socket")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "accessing socket")
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return errors.Wrap(err, "accessing socket")
	}
	if credErr != nil {
		return errors.Wrap(credErr, "reading peer credentials")
	}

	if int(cred.Uid) != getCurrentUid() && cred.Uid != 0 {
		return errors.Errorf("socket peer uid %d is not trusted", cred.Uid)
	}
	return nil
}
