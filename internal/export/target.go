package export

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Target is where units and static files are written.
type Target interface {
	Root() string
	Write(name string, data []byte) error
}

// DirTarget writes files under a local directory. Every write replaces the file
// atomically so a reader never sees a partial unit.
type DirTarget struct {
	root string
}

// OpenDir creates root if needed and verifies it is writable.
func OpenDir(root string) (*DirTarget, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}
	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, errors.Wrap(err, "open output directory")
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return &DirTarget{root: root}, nil
}

func (d *DirTarget) Root() string { return d.root }

func (d *DirTarget) Write(name string, data []byte) error {
	path := filepath.Join(d.root, filepath.FromSlash(name))
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", name)
	}
	tmp, err := os.CreateTemp(dir, ".unit-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", name)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "close %s", name)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "rename %s", name)
	}
	return nil
}
