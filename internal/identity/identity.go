// Package identity collects the host characteristics the agent registers with.
package identity

import (
	"bufio"
	"os"
	"os/user"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

const osReleasePath = "/etc/os-release"

// instanceID is stable for the lifetime of the process.
var instanceID = uuid.NewString()

// Collect returns the current host's identifying characteristics.
func Collect() protocol.SystemInformation {
	name, version := osRelease(osReleasePath)
	return protocol.SystemInformation{
		OsName:     name,
		OsVersion:  version,
		Hostname:   hostname(),
		HostUser:   username(),
		Privileges: privileges(),
		InstanceID: instanceID,
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func username() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
}

func privileges() string {
	if runtime.GOOS == "windows" {
		return "unknown"
	}
	if os.Geteuid() == 0 {
		return "root"
	}
	return "user"
}

// osRelease reads NAME and VERSION_ID from an os-release file, falling back
// to the Go runtime's view of the platform.
func osRelease(path string) (name, version string) {
	name, version = runtime.GOOS, "unknown"

	f, err := os.Open(path)
	if err != nil {
		return name, version
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "NAME":
			name = value
		case "VERSION_ID":
			version = value
		}
	}
	return name, version
}
