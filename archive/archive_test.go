package archive

import (
	"archive/zip"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	assert.Equal(t, "a/b/X.unit", UnitPath("a.b.X"))
	assert.Equal(t, "X.unit", UnitPath("X"))
	assert.Equal(t, "a.b", PackageOf("a.b.X"))
	assert.Equal(t, "", PackageOf("X"))
	assert.Equal(t, "a.b", PackageOfPath("/a/b/res.txt"))
	assert.Equal(t, "", PackageOfPath("res.txt"))
}

func TestMatchPackage(t *testing.T) {
	assert.True(t, MatchPackage("*", "x.y"))
	assert.True(t, MatchPackage("com.acme.*", "com.acme"))
	assert.True(t, MatchPackage("com.acme.*", "com.acme.impl"))
	assert.False(t, MatchPackage("com.acme.*", "com.acmex"))
	assert.True(t, MatchPackage("a", "a"))
	assert.False(t, MatchPackage("a", "a.b"))
}

func TestMemoryArchive(t *testing.T) {
	a := NewMemory("mem:test", map[string][]byte{
		"a/X.unit":    []byte("x"),
		"/a/b/Y.unit": []byte("y"),
	})

	assert.True(t, a.Has("a/X.unit"))
	assert.True(t, a.Has("/a/b/Y.unit"))
	assert.False(t, a.Has("a"), "directories are not entries")

	data, err := a.ReadFile("a/b/Y.unit")
	require.NoError(t, err)
	assert.Equal(t, "y", string(data))

	_, err = a.ReadFile("missing.unit")
	assert.ErrorIs(t, err, ErrNotExist)

	var paths []string
	require.NoError(t, a.Walk(func(p string, _ fs.FileInfo) error {
		paths = append(paths, p)
		return nil
	}))
	sort.Strings(paths)
	assert.Equal(t, []string{"a/X.unit", "a/b/Y.unit"}, paths)

	require.NoError(t, a.Close())
	_, err = a.ReadFile("a/X.unit")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDirArchive(t *testing.T) {
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/deploy/m1/a/X.unit", []byte("x"), 0o644))

	a := NewDir(mem, "/deploy/m1")
	assert.True(t, a.Has("a/X.unit"))
	assert.Equal(t, "/deploy/m1", a.Name())
}

func TestZipArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("a/b/X.unit")
	require.NoError(t, err)
	_, err = w.Write([]byte("zipped"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	a, err := FromReader("m.zip", bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	data, err := a.ReadFile("a/b/X.unit")
	require.NoError(t, err)
	assert.Equal(t, "zipped", string(data))

	p := filepath.Join(t.TempDir(), "m.zip")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	fa, err := FromPath(p)
	require.NoError(t, err)
	defer fa.Close()
	assert.True(t, fa.Has("a/b/X.unit"))
}
