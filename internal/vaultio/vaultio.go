// Package vaultio implements atomic reads/writes/deletes against a vault
// directory on the local filesystem.
package vaultio

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/atomicobject/vaultweaver/internal/vaultpath"
	"github.com/atomicobject/vaultweaver/internal/vwerr"
)

// Stat is the metadata VaultIO.Stat returns for an existing path.
type Stat struct {
	ModTime time.Time
	Size    int64
}

// VaultIO is the interface the core requires from the vault. A narrow
// surface so rules and the sync layer never touch os/filepath directly.
type VaultIO interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Delete(path string) error
	ListFiles(prefix string) ([]string, error)
	Stat(path string) (*Stat, bool, error)
}

// Local implements VaultIO against a real filesystem directory.
type Local struct {
	Root string
}

// New returns a Local VaultIO rooted at root (must be absolute).
func New(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) resolve(relPath string) (string, error) {
	abs, err := vaultpath.Join(l.Root, relPath)
	if err != nil {
		return "", vwerr.New("vaultio.resolve", vwerr.VaultIOError, err)
	}
	return abs, nil
}

// ReadFile reads a vault-relative path's bytes.
func (l *Local) ReadFile(relPath string) ([]byte, error) {
	abs, err := l.resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, vwerr.New("vaultio.ReadFile", vwerr.VaultIOError, err)
	}
	return data, nil
}

// WriteFile writes data atomically: temp file in the same directory, fsync,
// then rename over the target.
func (l *Local) WriteFile(relPath string, data []byte) error {
	abs, err := l.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return vwerr.New("vaultio.WriteFile", vwerr.VaultIOError, err)
	}
	if err := writeFileAtomic(abs, data, 0o644); err != nil {
		return vwerr.New("vaultio.WriteFile", vwerr.VaultIOError, err)
	}
	return nil
}

// Delete removes a vault-relative file.
func (l *Local) Delete(relPath string) error {
	abs, err := l.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return vwerr.New("vaultio.Delete", vwerr.VaultIOError, err)
	}
	return nil
}

// ListFiles returns all vault-relative .md paths under prefix ("" for the
// whole vault).
func (l *Local) ListFiles(prefix string) ([]string, error) {
	root := l.Root
	if prefix != "" {
		abs, err := l.resolve(prefix)
		if err != nil {
			return nil, err
		}
		root = abs
	}

	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(p) != ".md" {
			return nil
		}
		rel, err := filepath.Rel(l.Root, p)
		if err != nil {
			return err
		}
		out = append(out, vaultpath.Normalize(rel))
		return nil
	})
	if err != nil {
		return nil, vwerr.New("vaultio.ListFiles", vwerr.VaultIOError, err)
	}
	return out, nil
}

// Stat returns file metadata, ok=false if the path does not exist.
func (l *Local) Stat(relPath string) (*Stat, bool, error) {
	abs, err := l.resolve(relPath)
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, vwerr.New("vaultio.Stat", vwerr.VaultIOError, err)
	}
	return &Stat{ModTime: info.ModTime(), Size: info.Size()}, true, nil
}

// writeFileAtomic writes data to a file via a temp file + rename, so a
// crash mid-write never leaves a partially written note.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	tmp = nil

	return os.Rename(tmpName, path)
}
