//go:build !linux

package cmd

import (
	"net"
	"os"
)

var getCurrentUid = os.Geteuid

// setNoNewPrivs is a no-op on non-Linux platforms.
func setNoNewPrivs() {}

// verifySocketPeer is a no-op where peer credentials are not available; the
// 0700 socket directory is the only access control there.
func verifySocketPeer(conn net.Conn) error {
	return nil
}
