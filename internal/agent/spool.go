package agent

import (
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

const spoolVersion = 1

type spoolFile struct {
	Version int                   `cbor:"1,keyasint"`
	Results []protocol.TaskResult `cbor:"2,keyasint"`
}

// Spool keeps results that could not be submitted across restarts.
type Spool struct {
	path string
}

// NewSpool returns a spool stored at path.
func NewSpool(path string) *Spool {
	return &Spool{path: path}
}

// Load returns the spooled results. A missing file is an empty spool.
func (s *Spool) Load() ([]protocol.TaskResult, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading spool")
	}
	var f spoolFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "decoding spool %s", s.path)
	}
	if f.Version != spoolVersion {
		return nil, errors.Errorf("spool %s has version %d, want %d", s.path, f.Version, spoolVersion)
	}
	return f.Results, nil
}

// Save replaces the spool contents. Saving nothing removes the file.
func (s *Spool) Save(results []protocol.TaskResult) error {
	if len(results) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "clearing spool")
		}
		return nil
	}

	data, err := cbor.Marshal(spoolFile{Version: spoolVersion, Results: results})
	if err != nil {
		return errors.Wrap(err, "encoding spool")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "creating spool directory")
	}

	// Write atomically
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "writing spool")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replacing spool")
	}
	return nil
}
