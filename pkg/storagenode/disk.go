package storagenode

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

const incomingPrefix = ".incoming-"

// disk is the folder a node keeps its replicas in. Files are written to a temp name
// and renamed into place, so a listed file is always complete.
type disk struct {
	dir string
}

// reset empties the folder. A node never trusts bytes left over from a previous run.
func (d disk) reset() error {
	err := os.RemoveAll(d.dir)
	if err != nil {
		return ewrap.Wrap(err, "clear storage folder")
	}

	err = os.MkdirAll(d.dir, 0o750)
	if err != nil {
		return ewrap.Wrap(err, "create storage folder")
	}

	return nil
}

// path validates name and resolves it inside the folder.
func (d disk) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name ||
		strings.HasPrefix(name, incomingPrefix) {
		return "", ewrap.Wrap(sentinel.ErrMalformedCommand, "invalid file name "+name)
	}

	return filepath.Join(d.dir, name), nil
}

// list returns the complete files in ascending order.
func (d disk) list() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, ewrap.Wrap(err, "read storage folder")
	}

	out := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), incomingPrefix) {
			continue
		}

		out = append(out, e.Name())
	}

	slices.Sort(out)

	return out, nil
}

// write copies exactly size bytes from r into name.
func (d disk) write(name string, size int64, r io.Reader) error {
	final, err := d.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.dir, incomingPrefix+"*")
	if err != nil {
		return ewrap.Wrap(err, "create temp file")
	}

	_, err = io.CopyN(tmp, r, size)

	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return ewrap.Wrapf(err, "receive %s", name)
	}

	err = os.Rename(tmp.Name(), final)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return ewrap.Wrapf(err, "commit %s", name)
	}

	return nil
}

// open returns a reader for name and its size.
func (d disk) open(name string) (*os.File, int64, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(p) //nolint:gosec // p is confined to the storage folder
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, ewrap.Wrap(sentinel.ErrNotFound, name)
		}

		return nil, 0, ewrap.Wrapf(err, "open %s", name)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, 0, ewrap.Wrapf(err, "stat %s", name)
	}

	return f, info.Size(), nil
}

// remove deletes name; a missing file yields ErrNotFound.
func (d disk) remove(name string) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}

	err = os.Remove(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ewrap.Wrap(sentinel.ErrNotFound, name)
		}

		return ewrap.Wrapf(err, "remove %s", name)
	}

	return nil
}
