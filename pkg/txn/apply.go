package txn

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// apply executes one logged operation against the storage root.
//
// Every operation tolerates having been applied before, so a committed
// log can be replayed after a crash in the middle of a commit.
func (m *Manager) apply(id uuid.UUID, op Operation) error {
	source := m.abs(op.Source)

	switch op.Type {
	case OpCreate:
		if op.Directory {
			return m.fs.MkdirAll(source, 0755)
		}
		if err := m.fs.MkdirAll(filepath.Dir(source), 0755); err != nil {
			return err
		}
		f, err := m.fs.OpenFile(source, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		return f.Close()

	case OpWrite:
		data, err := afero.ReadFile(m.fs, filepath.Join(m.txDir(id), op.Staged))
		if err != nil {
			return err
		}
		if err := m.fs.MkdirAll(filepath.Dir(source), 0755); err != nil {
			return err
		}
		f, err := m.fs.OpenFile(source, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		if _, err := f.WriteAt(data, op.Offset); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()

	case OpCopy:
		target := m.abs(op.Target)
		if replayed(m.fs, source, target) {
			return nil
		}
		return copyTree(m.fs, source, target)

	case OpMove:
		target := m.abs(op.Target)
		if replayed(m.fs, source, target) {
			return nil
		}
		if err := m.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return m.fs.Rename(source, target)

	case OpDelete:
		return m.fs.RemoveAll(source)
	}

	return errors.New("unknown operation type " + string(op.Type))
}

// replayed reports whether a copy or move was already applied: the source
// is gone (moved by a later operation or by this one) and the target exists.
func replayed(fs afero.Fs, source, target string) bool {
	if _, err := fs.Stat(source); !errors.Is(err, os.ErrNotExist) {
		return false
	}
	_, err := fs.Stat(target)
	return err == nil
}

// copyTree copies a file or a directory tree, overwriting files already
// present at the destination.
func copyTree(fs afero.Fs, source, target string) error {
	return afero.Walk(fs, source, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		dst := target + strings.TrimPrefix(p, source)
		if info.IsDir() {
			return fs.MkdirAll(dst, 0755)
		}
		if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		return copyFile(fs, p, dst)
	})
}

func copyFile(fs afero.Fs, source, target string) error {
	in, err := fs.Open(source)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
