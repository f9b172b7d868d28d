package deploy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	mu        sync.Mutex
	nextID    int64
	installed map[int64]string
	calls     []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{installed: make(map[int64]string)}
}

func (h *fakeHost) record(call string) {
	h.calls = append(h.calls, call)
}

func (h *fakeHost) Install(_ context.Context, location string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.installed[h.nextID] = location
	h.record("install " + filepath.Base(location))
	return h.nextID, nil
}

func (h *fakeHost) Update(_ context.Context, id int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("update " + filepath.Base(h.installed[id]))
	return nil
}

func (h *fakeHost) Uninstall(_ context.Context, id int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("uninstall " + filepath.Base(h.installed[id]))
	delete(h.installed, id)
	return nil
}

func (h *fakeHost) Start(_ context.Context, id int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("start " + filepath.Base(h.installed[id]))
	return nil
}

func (h *fakeHost) Refresh(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("refresh")
	return nil
}

func (h *fakeHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]string(nil), h.calls...)
	h.calls = nil
	return out
}

func writeModuleDir(t *testing.T, dir, name string) {
	t.Helper()
	mf := filepath.Join(dir, name, "MODULE-INF")
	require.NoError(t, os.MkdirAll(mf, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mf, "module.yaml"), []byte("name: "+name+"\n"), 0o600))
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeModuleDir(t, dir, "alpha")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta.zip"), []byte("zip"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.zip"), []byte("zip"), 0o600))

	host := newFakeHost()
	d := New(host, dir)
	require.NoError(t, d.Scan(context.Background()))
	assert.Equal(t, []string{"install alpha", "start alpha", "install beta.zip", "start beta.zip"}, host.Calls())

	id, ok := d.Deployed("beta.zip")
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)

	require.NoError(t, d.Scan(context.Background()))
	assert.Empty(t, host.Calls(), "unchanged entries are left alone")
}

func TestScanUpdateAndRemove(t *testing.T) {
	dir := t.TempDir()
	zip := filepath.Join(dir, "beta.zip")
	require.NoError(t, os.WriteFile(zip, []byte("zip"), 0o600))

	host := newFakeHost()
	d := New(host, dir, WithoutAutostart())
	require.NoError(t, d.Scan(context.Background()))
	assert.Equal(t, []string{"install beta.zip"}, host.Calls())

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.WriteFile(zip, []byte("zip v2"), 0o600))
	require.NoError(t, os.Chtimes(zip, later, later))
	require.NoError(t, d.Scan(context.Background()))
	assert.Equal(t, []string{"update beta.zip", "refresh"}, host.Calls())

	require.NoError(t, os.Remove(zip))
	require.NoError(t, d.Scan(context.Background()))
	assert.Equal(t, []string{"uninstall beta.zip", "refresh"}, host.Calls())
	_, ok := d.Deployed("beta.zip")
	assert.False(t, ok)
}

func TestRunFollowsDirectory(t *testing.T) {
	dir := t.TempDir()
	host := newFakeHost()
	d := New(host, dir, WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gamma.zip"), []byte("zip"), 0o600))

	assert.Eventually(t, func() bool {
		_, ok := d.Deployed("gamma.zip")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestScanMissingDirectory(t *testing.T) {
	d := New(newFakeHost(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, d.Scan(context.Background()))
}
