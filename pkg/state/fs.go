package state

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FsObjects is an ObjectStore on a local (or in-memory) filesystem, used when
// snapshots are enabled without S3.
type FsObjects struct {
	fs  afero.Fs
	dir string
}

func NewFsObjects(fs afero.Fs, dir string) *FsObjects {
	return &FsObjects{fs: fs, dir: dir}
}

func (o *FsObjects) Put(_ context.Context, key string, body io.Reader) (string, error) {
	path := filepath.Join(o.dir, key)
	if err := o.fs.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return "", err
	}

	tmp := path + ".tmp"
	f, err := o.fs.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		_ = o.fs.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, o.fs.Rename(tmp, path)
}

func (o *FsObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := o.fs.Open(filepath.Join(o.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	return f, err
}
