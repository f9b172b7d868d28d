// Package archive provides read-only access to the content of a module: its
// code units and resources.
//
// Code units are addressed by qualified name. A unit "a.b.X" lives at
// "a/b/X.unit"; the package of the unit is "a.b".
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/afero/zipfs"
)

// UnitExt is the file extension of code units.
const UnitExt = ".unit"

var (
	ErrNotExist = errors.New("archive entry does not exist")
	ErrClosed   = errors.New("archive is closed")
)

// Archive is a read-only view over a filesystem tree.
type Archive struct {
	name   string
	fs     afero.Fs
	closer io.Closer
	closed bool
}

// New wraps an arbitrary afero filesystem rooted at "/".
func New(name string, fsys afero.Fs) *Archive {
	return &Archive{name: name, fs: afero.NewReadOnlyFs(fsys)}
}

// NewMemory builds an in-memory archive from path -> content pairs.
func NewMemory(name string, files map[string][]byte) *Archive {
	mem := afero.NewMemMapFs()
	for p, data := range files {
		// MemMapFs only fails on malformed paths, which clean() rules out.
		if err := afero.WriteFile(mem, clean(p), data, 0o644); err != nil {
			panic(fmt.Sprintf("archive: writing %s: %v", p, err))
		}
	}
	return New(name, mem)
}

// NewDir exposes root of fsys as an archive.
func NewDir(fsys afero.Fs, root string) *Archive {
	return New(root, afero.NewBasePathFs(fsys, root))
}

// FromReader reads a zip archive.
func FromReader(name string, r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("reading zip %s: %w", name, err)
	}
	return New(name, zipfs.New(zr)), nil
}

// FromPath opens a directory or a zip file on the local disk.
func FromPath(p string) (*Archive, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", p, err)
	}
	if info.IsDir() {
		return NewDir(afero.NewOsFs(), p), nil
	}
	rc, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("opening zip %s: %w", p, err)
	}
	a := New(p, zipfs.New(&rc.Reader))
	a.closer = rc
	return a, nil
}

// Name returns the archive name, usually its location.
func (a *Archive) Name() string { return a.name }

// Open opens the entry at p.
func (a *Archive) Open(p string) (afero.File, error) {
	if a.closed {
		return nil, ErrClosed
	}
	f, err := a.fs.Open(clean(p))
	if err != nil {
		return nil, wrapNotExist(a.name, p, err)
	}
	return f, nil
}

// Stat describes the entry at p.
func (a *Archive) Stat(p string) (fs.FileInfo, error) {
	if a.closed {
		return nil, ErrClosed
	}
	info, err := a.fs.Stat(clean(p))
	if err != nil {
		return nil, wrapNotExist(a.name, p, err)
	}
	return info, nil
}

// Has reports whether a regular file exists at p.
func (a *Archive) Has(p string) bool {
	info, err := a.Stat(p)
	return err == nil && !info.IsDir()
}

// ReadFile returns the content of the entry at p.
func (a *Archive) ReadFile(p string) ([]byte, error) {
	if a.closed {
		return nil, ErrClosed
	}
	data, err := afero.ReadFile(a.fs, clean(p))
	if err != nil {
		return nil, wrapNotExist(a.name, p, err)
	}
	return data, nil
}

// Walk calls fn for every regular file, with slash separated paths relative
// to the archive root.
func (a *Archive) Walk(fn func(p string, info fs.FileInfo) error) error {
	if a.closed {
		return ErrClosed
	}
	return afero.Walk(a.fs, "/", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return fn(strings.TrimPrefix(path.Clean("/"+p), "/"), info)
	})
}

// Close releases the underlying file, if any. Closing twice is a no-op.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func clean(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

func wrapNotExist(name, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s!/%s", ErrNotExist, name, strings.TrimPrefix(p, "/"))
	}
	return fmt.Errorf("%s!/%s: %w", name, strings.TrimPrefix(p, "/"), err)
}
