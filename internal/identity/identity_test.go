package identity

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestOsRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "os-release")
	content := "NAME=\"Debian GNU/Linux\"\nVERSION_ID=\"12\"\nID=debian\n# comment\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	name, version := osRelease(path)
	if name != "Debian GNU/Linux" || version != "12" {
		t.Errorf("osRelease() = %q, %q", name, version)
	}
}

func TestOsRelease_Missing(t *testing.T) {
	name, version := osRelease(filepath.Join(t.TempDir(), "missing"))
	if name != runtime.GOOS || version != "unknown" {
		t.Errorf("osRelease() = %q, %q", name, version)
	}
}

func TestCollect(t *testing.T) {
	a := Collect()
	b := Collect()
	if a.Hostname == "" || a.HostUser == "" || a.Privileges == "" {
		t.Errorf("Collect() left fields empty: %+v", a)
	}
	if a.InstanceID == "" || a.InstanceID != b.InstanceID {
		t.Errorf("instance id not stable: %q vs %q", a.InstanceID, b.InstanceID)
	}
}
