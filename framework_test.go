package modhost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhost/archive"
	"github.com/GoCodeAlone/modhost/config"
	"github.com/GoCodeAlone/modhost/lifecycle"
	"github.com/GoCodeAlone/modhost/manifest"
	"github.com/GoCodeAlone/modhost/scr"
	"github.com/GoCodeAlone/modhost/wiring"
)

const (
	providerYAML = `
name: m1
version: 1.0.0
exports:
  - package: a
    version: 1.0.0
`
	consumerYAML = `
name: m2
version: 1.0.0
imports:
  - package: a
    version: "[1.0.0,2.0.0)"
`
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Pool.PollInterval = 5 * time.Millisecond
	cfg.StopTimeout = 5 * time.Second
	return cfg
}

// newFramework returns an initialized and started framework stopped at the
// end of the test.
func newFramework(t *testing.T, opts ...Option) *Framework {
	t.Helper()
	fw, err := New(testConfig(), nil, opts...)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, fw.Init(ctx))
	require.NoError(t, fw.Start(ctx))
	t.Cleanup(func() { _ = fw.Stop(context.Background()) })
	return fw
}

func memArchive(name, descriptor string, units ...string) *archive.Archive {
	files := map[string][]byte{
		filepath.ToSlash(filepath.Join(manifest.Dir, "module.yaml")): []byte(descriptor),
	}
	for _, u := range units {
		files[archive.UnitPath(u)] = []byte(u)
	}
	return archive.NewMemory(name, files)
}

func install(t *testing.T, fw *Framework, name, descriptor string, units ...string) *Module {
	t.Helper()
	m, err := fw.InstallArchive(context.Background(), "mem:"+name, memArchive(name, descriptor, units...))
	require.NoError(t, err)
	return m
}

// eventLog is an observer recording event types.
type eventLog struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (l *eventLog) OnEvent(_ context.Context, ev cloudevents.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) ObserverID() string { return "test.events" }

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type())
	}
	return out
}

func (l *eventLog) has(t string) bool { return slices.Contains(l.types(), t) }

func (l *eventLog) count(t string) int {
	n := 0
	for _, x := range l.types() {
		if x == t {
			n++
		}
	}
	return n
}

func TestFrameworkStates(t *testing.T) {
	ctx := context.Background()
	fw, err := New(testConfig(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, fw.ID())

	_, err = fw.InstallArchive(ctx, "mem:m1", memArchive("m1", providerYAML))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, fw.Start(ctx), ErrNotInitialized)

	require.NoError(t, fw.Init(ctx))
	assert.ErrorIs(t, fw.Init(ctx), ErrAlreadyInitialized)
	require.NoError(t, fw.Start(ctx))
	assert.ErrorIs(t, fw.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, fw.Stop(ctx))
	require.NoError(t, fw.Stop(ctx))
	_, err = fw.InstallArchive(ctx, "mem:m1", memArchive("m1", providerYAML))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Pool.MaxWorkers = 0
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidMaxWorkers)
}

func TestInstall(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)

	m1 := install(t, fw, "m1", providerYAML, "a.X")
	assert.Equal(t, lifecycle.Installed, m1.State())
	assert.Equal(t, "m1", m1.Name())
	assert.Equal(t, "1.0.0", m1.Version().String())

	again, err := fw.InstallArchive(ctx, "mem:m1", memArchive("m1", providerYAML))
	require.NoError(t, err)
	assert.Same(t, m1, again, "same location returns the installed module")

	_, err = fw.InstallArchive(ctx, "mem:copy", memArchive("copy", providerYAML))
	assert.ErrorIs(t, err, ErrDuplicateModule)

	_, err = fw.InstallArchive(ctx, "mem:empty", archive.NewMemory("empty", nil))
	assert.ErrorIs(t, err, manifest.ErrNoDescriptor)

	_, err = fw.InstallArchive(ctx, "mem:nil", nil)
	assert.ErrorIs(t, err, ErrNilArchive)

	m2 := install(t, fw, "m2", consumerYAML)
	assert.Greater(t, m2.ID(), m1.ID(), "ids increase")
	assert.Len(t, fw.Modules(), 2)
	assert.Len(t, fw.ModuleByName("m2"), 1)
}

func TestInstallFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, manifest.Dir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.Dir, "module.yaml"), []byte(providerYAML), 0o644))

	fw := newFramework(t)
	m, err := fw.Install(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, dir, m.Location())

	_, err = fw.Install(context.Background(), filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}

func TestResolveModules(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)

	m2 := install(t, fw, "m2", consumerYAML)
	err := fw.ResolveModules(ctx, m2.ID())
	require.Error(t, err, "nothing exports a yet")
	assert.Equal(t, lifecycle.Installed, m2.State())
	unresolved, err := fw.UnresolvedRequirements(m2.ID())
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "a", unresolved[0].Package)

	m1 := install(t, fw, "m1", providerYAML)
	require.NoError(t, fw.ResolveModules(ctx))
	assert.Equal(t, lifecycle.Resolved, m1.State())
	assert.Equal(t, lifecycle.Resolved, m2.State())

	wires, err := fw.Wires(m2.ID())
	require.NoError(t, err)
	require.Len(t, wires, 1)
	assert.Equal(t, m1.Revision(), wires[0].Provider())

	deps, err := fw.Dependents(m1.ID())
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, m2.ID(), deps[0].ID())
}

func TestLoadUnitFromImportedPackage(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)
	m1 := install(t, fw, "m1", providerYAML, "a.X")
	m2 := install(t, fw, "m2", consumerYAML)

	loc, err := fw.LoadUnit(ctx, m2.ID(), "a.X")
	require.NoError(t, err)
	assert.Equal(t, m1.ID(), loc.Module)
	data, err := loc.Read()
	require.NoError(t, err)
	assert.Equal(t, "a.X", string(data))
	assert.Equal(t, lifecycle.Resolved, m1.State(), "loading does not activate eager modules")

	res, err := fw.FindResource(ctx, m2.ID(), archive.UnitPath("a.X"))
	require.NoError(t, err)
	assert.Equal(t, m1.ID(), res.Module)
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	var started, stopped int
	fw := newFramework(t, WithActivator("counter", func() ModuleActivator {
		return ActivatorFuncs{
			OnStart: func(context.Context, *ModuleContext) error { started++; return nil },
			OnStop:  func(context.Context, *ModuleContext) error { stopped++; return nil },
		}
	}))
	m := install(t, fw, "m1", providerYAML+"activator: counter\n")

	require.NoError(t, fw.StartModule(ctx, m.ID()))
	assert.Equal(t, lifecycle.Active, m.State())
	assert.True(t, m.Info().Autostart)
	require.NoError(t, fw.StartModule(ctx, m.ID()), "starting an active module is a no-op")
	assert.Equal(t, 1, started)

	require.NoError(t, fw.StopModule(ctx, m.ID()))
	assert.Equal(t, lifecycle.Resolved, m.State())
	assert.False(t, m.Info().Autostart)
	assert.Equal(t, 1, stopped)

	require.NoError(t, fw.StopModule(ctx, m.ID()), "stopping a resolved module is a no-op")
	_, err := fw.Module(99)
	assert.ErrorIs(t, err, ErrModuleNotFound)
	assert.ErrorIs(t, fw.StartModule(ctx, 99), ErrModuleNotFound)
}

func TestStartModules(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)
	m1 := install(t, fw, "m1", providerYAML)
	m2 := install(t, fw, "m2", consumerYAML)

	require.NoError(t, fw.StartModules(ctx, []int64{m1.ID(), m2.ID()}))
	assert.Equal(t, lifecycle.Active, m1.State())
	assert.Equal(t, lifecycle.Active, m2.State())
}

func TestStartFragmentFails(t *testing.T) {
	fw := newFramework(t)
	install(t, fw, "host", providerYAML)
	frag := install(t, fw, "frag", "name: frag\nversion: 1.0.0\nfragmentHost:\n  name: m1\n")
	assert.True(t, frag.IsFragment())
	assert.ErrorIs(t, fw.StartModule(context.Background(), frag.ID()), ErrFragmentNotStartable)
}

func TestActivatorFailureLeavesResolved(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	fw := newFramework(t, WithActivator("failing", func() ModuleActivator {
		return ActivatorFuncs{OnStart: func(_ context.Context, mc *ModuleContext) error {
			if _, err := mc.RegisterService([]string{"svc"}, "value", nil); err != nil {
				return err
			}
			return boom
		}}
	}))
	log := &eventLog{}
	require.NoError(t, fw.RegisterObserver(log))
	m := install(t, fw, "m1", providerYAML+"activator: failing\n")

	err := fw.StartModule(ctx, m.ID())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, lifecycle.Resolved, m.State())
	assert.Empty(t, fw.Registry().RegisteredBy(m.ID()), "services are unregistered")
	assert.Eventually(t, func() bool { return log.has(EventTypeFrameworkError) }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return log.count(EventTypeFrameworkError) > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"the failure is broadcast once")
}

func TestUnresolvableStartEmitsError(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)
	log := &eventLog{}
	require.NoError(t, fw.RegisterObserver(log))
	m := install(t, fw, "m2", consumerYAML)

	err := fw.StartModule(ctx, m.ID())
	require.ErrorIs(t, err, lifecycle.ErrStateChange)
	assert.ErrorIs(t, err, wiring.ErrUnresolved)
	assert.Equal(t, lifecycle.Installed, m.State())
	assert.Eventually(t, func() bool { return log.count(EventTypeFrameworkError) == 1 }, time.Second, 5*time.Millisecond)
}

func TestActivatorPanic(t *testing.T) {
	fw := newFramework(t, WithActivator("panics", func() ModuleActivator {
		return ActivatorFuncs{OnStart: func(context.Context, *ModuleContext) error { panic("bad") }}
	}))
	m := install(t, fw, "m1", providerYAML+"activator: panics\n")
	assert.ErrorIs(t, fw.StartModule(context.Background(), m.ID()), ErrActivatorPanicked)
	assert.Equal(t, lifecycle.Resolved, m.State())
}

func TestUnknownActivator(t *testing.T) {
	fw := newFramework(t)
	m := install(t, fw, "m1", providerYAML+"activator: nobody\n")
	assert.ErrorIs(t, fw.StartModule(context.Background(), m.ID()), ErrUnknownActivator)
	require.NoError(t, fw.RegisterActivator("x", nil))
	assert.ErrorIs(t, fw.RegisterActivator("x", nil), ErrDuplicateActivator)
}

func TestLazyActivationPolicy(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)
	m1 := install(t, fw, "m1", providerYAML+"activation:\n  policy: lazy\n  include: [a]\n", "a.X")
	m2 := install(t, fw, "m2", consumerYAML)

	require.NoError(t, fw.StartModule(ctx, m1.ID(), UseActivationPolicy()))
	assert.Equal(t, lifecycle.Starting, m1.State())
	assert.True(t, m1.Info().Lazy)

	_, err := fw.FindResource(ctx, m2.ID(), archive.UnitPath("a.X"))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Starting, m1.State(), "resources never activate")

	_, err = fw.LoadUnit(ctx, m2.ID(), "a.X")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Active, m1.State())
	assert.False(t, m1.Info().Lazy)
}

func TestLazyModuleStopsWithoutActivation(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)
	m1 := install(t, fw, "m1", providerYAML+"activation:\n  policy: lazy\n")

	require.NoError(t, fw.StartModule(ctx, m1.ID(), UseActivationPolicy()))
	require.Equal(t, lifecycle.Starting, m1.State())
	require.NoError(t, fw.StopModule(ctx, m1.ID()))
	assert.Equal(t, lifecycle.Resolved, m1.State())
}

func TestRequesterTriggerActivatesResolvedProvider(t *testing.T) {
	ctx := context.Background()
	var activations int
	fw := newFramework(t, WithActivator("tracked", func() ModuleActivator {
		return ActivatorFuncs{OnStart: func(context.Context, *ModuleContext) error { activations++; return nil }}
	}))
	m1 := install(t, fw, "m1", providerYAML+"activator: tracked\n", "a.X")
	m2 := install(t, fw, "m2", consumerYAML+"activation:\n  include: [a.X]\n")
	require.NoError(t, fw.ResolveModules(ctx))
	require.Equal(t, lifecycle.Resolved, m1.State())

	loc, err := fw.LoadUnit(ctx, m2.ID(), "a.X")
	require.NoError(t, err)
	assert.Equal(t, m1.ID(), loc.Module)
	assert.Equal(t, lifecycle.Active, m1.State())
	assert.Equal(t, 1, activations)
	assert.False(t, m1.Info().Autostart, "trigger starts are transient")
}

func TestUninstallDuringStartAborts(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var stopped bool
	fw := newFramework(t, WithActivator("blocking", func() ModuleActivator {
		return ActivatorFuncs{
			OnStart: func(_ context.Context, mc *ModuleContext) error {
				if _, err := mc.RegisterService([]string{"svc"}, "value", nil); err != nil {
					return err
				}
				close(entered)
				<-release
				return nil
			},
			OnStop: func(context.Context, *ModuleContext) error {
				mu.Lock()
				defer mu.Unlock()
				stopped = true
				return nil
			},
		}
	}))
	log := &eventLog{}
	require.NoError(t, fw.RegisterObserver(log))
	m := install(t, fw, "m1", providerYAML+"activator: blocking\n")

	errc := make(chan error, 1)
	go func() { errc <- fw.StartModule(ctx, m.ID()) }()
	<-entered
	require.Equal(t, lifecycle.Starting, m.State())

	require.NoError(t, fw.Uninstall(ctx, m.ID()))
	select {
	case err := <-errc:
		var sce *lifecycle.StateChangeError
		require.ErrorAs(t, err, &sce)
		assert.ErrorIs(t, err, lifecycle.ErrAborted)
		assert.Equal(t, m.ID(), sce.Module)
	case <-time.After(5 * time.Second):
		t.Fatal("start caller was not released")
	}
	assert.Eventually(t, func() bool { return log.has(EventTypeFrameworkError) }, time.Second, 5*time.Millisecond,
		"the aborted start is broadcast")
	close(release)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stopped
	}, time.Second, 5*time.Millisecond, "the late activator is stopped")
	assert.Equal(t, lifecycle.Uninstalled, m.State())
	assert.True(t, m.Uninstalled())
	assert.Eventually(t, func() bool { return len(fw.Registry().References("svc", nil)) == 0 }, time.Second, 5*time.Millisecond)
	_, err := fw.Module(m.ID())
	assert.ErrorIs(t, err, ErrModuleNotFound)
	assert.ErrorIs(t, fw.StartModule(ctx, m.ID()), ErrModuleNotFound)
}

func TestUninstallWaitsForRunningStop(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	var stops atomic.Int32
	fw := newFramework(t, WithActivator("slowstop", func() ModuleActivator {
		return ActivatorFuncs{OnStop: func(context.Context, *ModuleContext) error {
			stops.Add(1)
			close(entered)
			<-release
			return nil
		}}
	}))
	m := install(t, fw, "m1", providerYAML+"activator: slowstop\n")
	require.NoError(t, fw.StartModule(ctx, m.ID()))

	stopc := make(chan error, 1)
	go func() { stopc <- fw.StopModule(ctx, m.ID()) }()
	<-entered

	uninstc := make(chan error, 1)
	go func() { uninstc <- fw.Uninstall(ctx, m.ID()) }()
	select {
	case err := <-uninstc:
		t.Fatalf("uninstall overtook the running stop: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	_, err := fw.Module(m.ID())
	require.NoError(t, err, "still installed while its stop runs")

	close(release)
	require.NoError(t, <-stopc)
	require.NoError(t, <-uninstc)
	assert.Equal(t, lifecycle.Uninstalled, m.State())
	assert.Equal(t, int32(1), stops.Load())
}

func TestUninstallActiveModule(t *testing.T) {
	ctx := context.Background()
	var stopped bool
	fw := newFramework(t, WithActivator("svc", func() ModuleActivator {
		return ActivatorFuncs{
			OnStart: func(_ context.Context, mc *ModuleContext) error {
				_, err := mc.RegisterService([]string{"svc"}, "value", nil)
				return err
			},
			OnStop: func(context.Context, *ModuleContext) error { stopped = true; return nil },
		}
	}))
	m := install(t, fw, "m1", providerYAML+"activator: svc\n")
	require.NoError(t, fw.StartModule(ctx, m.ID()))
	require.Len(t, fw.Registry().References("svc", nil), 1)

	require.NoError(t, fw.Uninstall(ctx, m.ID()))
	assert.True(t, stopped)
	assert.Equal(t, lifecycle.Uninstalled, m.State())
	assert.Empty(t, fw.Registry().References("svc", nil))
	assert.ErrorIs(t, fw.Uninstall(ctx, m.ID()), ErrModuleNotFound)
}

func writeModule(t *testing.T, dir, descriptor string, units ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, manifest.Dir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.Dir, "module.yaml"), []byte(descriptor), 0o644))
	for _, u := range units {
		p := filepath.Join(dir, filepath.FromSlash(archive.UnitPath(u)))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(descriptor), 0o644))
	}
}

func TestUpdateAndRefresh(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)
	dir := filepath.Join(t.TempDir(), "m1")
	writeModule(t, dir, providerYAML, "a.X")

	m1, err := fw.Install(ctx, dir, nil)
	require.NoError(t, err)
	m2 := install(t, fw, "m2", consumerYAML)
	require.NoError(t, fw.StartModule(ctx, m2.ID()))
	old := m1.Revision()

	writeModule(t, dir, `
name: m1
version: 1.1.0
exports:
  - package: a
    version: 1.1.0
`, "a.X")
	require.NoError(t, fw.Update(ctx, m1.ID(), nil))
	assert.Equal(t, "1.1.0", m1.Version().String())
	assert.NotEqual(t, old, m1.Revision())

	pending := fw.RemovalPending()
	require.Len(t, pending, 1, "m2 still uses the old revision")
	assert.Equal(t, old, pending[0].ID)
	wires, err := fw.Wires(m2.ID())
	require.NoError(t, err)
	assert.Equal(t, old, wires[0].Provider())

	require.NoError(t, fw.Refresh(ctx))
	assert.Empty(t, fw.RemovalPending())
	assert.Equal(t, lifecycle.Active, m2.State(), "active dependents are restarted")
	wires, err = fw.Wires(m2.ID())
	require.NoError(t, err)
	require.Len(t, wires, 1)
	assert.Equal(t, m1.Revision(), wires[0].Provider())

	require.NoError(t, fw.Refresh(ctx), "nothing pending")
}

func TestUpdatedFragmentKeepsSearchOrder(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)
	h := install(t, fw, "h", "name: h\nversion: 1.0.0\n")
	dir := filepath.Join(t.TempDir(), "f1")
	writeModule(t, dir, "name: f1\nversion: 1.0.0\nfragmentHost:\n  name: h\n", "x.X")
	f1, err := fw.Install(ctx, dir, nil)
	require.NoError(t, err)
	install(t, fw, "f2", "name: f2\nversion: 1.0.0\nfragmentHost:\n  name: h\n", "x.X")

	writeModule(t, dir, "name: f1\nversion: 1.1.0\nfragmentHost:\n  name: h\n", "x.X")
	require.NoError(t, fw.Update(ctx, f1.ID(), nil))

	loc, err := fw.LoadUnit(ctx, h.ID(), "x.X")
	require.NoError(t, err)
	assert.Equal(t, f1.Revision(), loc.Revision, "lower module id is searched first")
	data, err := loc.Read()
	require.NoError(t, err)
	assert.Contains(t, string(data), "version: 1.1.0")
}

func TestUpdatedProviderKeepsPrecedence(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)
	dir := filepath.Join(t.TempDir(), "p1")
	writeModule(t, dir, "name: p1\nexports:\n  - package: p\n    version: 1.0.0\n", "p.X")
	p1, err := fw.Install(ctx, dir, nil)
	require.NoError(t, err)
	install(t, fw, "p2", "name: p2\nexports:\n  - package: p\n    version: 1.0.0\n", "p.X")
	c := install(t, fw, "c", "name: c\nimports:\n  - package: p\n")

	require.NoError(t, fw.Update(ctx, p1.ID(), nil))
	loc, err := fw.LoadUnit(ctx, c.ID(), "p.X")
	require.NoError(t, err)
	assert.Equal(t, p1.ID(), loc.Module, "equal versions prefer the first installed module")
}

func TestUpdateRestartsActiveModule(t *testing.T) {
	ctx := context.Background()
	var starts int
	fw := newFramework(t, WithActivator("count", func() ModuleActivator {
		return ActivatorFuncs{OnStart: func(context.Context, *ModuleContext) error { starts++; return nil }}
	}))
	dir := filepath.Join(t.TempDir(), "m1")
	writeModule(t, dir, providerYAML+"activator: count\n")
	m, err := fw.Install(ctx, dir, nil)
	require.NoError(t, err)
	require.NoError(t, fw.StartModule(ctx, m.ID()))

	require.NoError(t, fw.Update(ctx, m.ID(), nil))
	assert.Equal(t, lifecycle.Active, m.State())
	assert.Equal(t, 2, starts)
	assert.Empty(t, fw.RemovalPending(), "unused revisions are purged at once")
}

type greeter struct{ greeting string }

func TestManifestComponents(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)
	require.NoError(t, fw.RegisterImplementation("greeter.impl", scr.Implementation{
		New: func() any { return &greeter{} },
		Lifecycle: map[string]scr.LifecycleHook{
			"activate": func(inst any, cc *scr.Context) error {
				inst.(*greeter).greeting, _ = cc.Properties().String("greeting")
				return nil
			},
		},
	}))
	require.NoError(t, fw.ConfigAdmin().Update("greeter", map[string]any{"greeting": "hello"}))

	m := install(t, fw, "greeter", `
name: greeter
version: 1.0.0
components:
  - name: greeter
    implementation: greeter.impl
    activate: activate
    services: [com.acme.Greeter]
`)
	require.NoError(t, fw.StartModule(ctx, m.ID()))

	var svc any
	require.Eventually(t, func() bool {
		var err error
		svc, err = fw.LocateService("com.acme.Greeter", "")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", svc.(*greeter).greeting)

	c, ok := fw.Components().Component("greeter")
	require.True(t, ok)
	assert.Equal(t, m.ID(), c.Owner())

	require.NoError(t, fw.StopModule(ctx, m.ID()))
	assert.Eventually(t, func() bool { return len(fw.Registry().References("com.acme.Greeter", nil)) == 0 }, time.Second, 5*time.Millisecond)
	_, ok = fw.Components().Component("greeter")
	assert.False(t, ok, "components are removed with their module")
}

func TestLocateServiceTarget(t *testing.T) {
	fw := newFramework(t)
	_, err := fw.RegisterService([]string{"store"}, "primary", map[string]any{"role": "primary"})
	require.NoError(t, err)
	_, err = fw.RegisterService([]string{"store"}, "replica", map[string]any{"role": "replica"})
	require.NoError(t, err)

	svc, err := fw.LocateService("store", `props["role"] == "replica"`)
	require.NoError(t, err)
	assert.Equal(t, "replica", svc)

	_, err = fw.LocateService("store", `props[`)
	assert.Error(t, err)
}

func TestStartBeforeFrameworkStartRecordsAutostart(t *testing.T) {
	ctx := context.Background()
	fw, err := New(testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, fw.Init(ctx))
	t.Cleanup(func() { _ = fw.Stop(context.Background()) })

	m := install(t, fw, "m1", providerYAML)
	require.NoError(t, fw.StartModule(ctx, m.ID()))
	assert.Equal(t, lifecycle.Installed, m.State())
	assert.True(t, m.Info().Autostart)

	require.NoError(t, fw.Start(ctx))
	assert.Equal(t, lifecycle.Active, m.State())
}

func TestStopKeepsAutostart(t *testing.T) {
	ctx := context.Background()
	fw, err := New(testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, fw.Init(ctx))
	require.NoError(t, fw.Start(ctx))
	m := install(t, fw, "m1", providerYAML)
	require.NoError(t, fw.StartModule(ctx, m.ID()))

	require.NoError(t, fw.Stop(ctx))
	assert.Equal(t, lifecycle.Resolved, m.State())
	assert.True(t, m.Info().Autostart)
}

func TestObserverReceivesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	fw := newFramework(t)
	log := &eventLog{}
	require.NoError(t, fw.RegisterObserver(log))

	m := install(t, fw, "m1", providerYAML)
	require.NoError(t, fw.StartModule(ctx, m.ID()))
	require.NoError(t, fw.StopModule(ctx, m.ID()))

	want := []string{
		EventTypeModuleInstalled,
		EventTypeModuleResolved,
		EventTypeModuleStarting,
		EventTypeModuleStarted,
		EventTypeModuleStopping,
		EventTypeModuleStopped,
	}
	require.Eventually(t, func() bool { return len(log.types()) >= len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, log.types()[:len(want)])

	log.mu.Lock()
	ev := log.events[0]
	log.mu.Unlock()
	assert.NoError(t, ValidateCloudEvent(ev))
	var data ModuleEventData
	require.NoError(t, ev.DataAs(&data))
	assert.Equal(t, m.ID(), data.Module)
	assert.Equal(t, "INSTALLED", data.To)
}

func TestObserverEventFilter(t *testing.T) {
	fw := newFramework(t)
	log := &eventLog{}
	require.NoError(t, fw.RegisterObserver(log, EventTypeServiceRegistered))
	assert.ErrorIs(t, fw.RegisterObserver(nil), ErrObserverNil)

	install(t, fw, "m1", providerYAML)
	_, err := fw.RegisterService([]string{"svc"}, "value", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return log.has(EventTypeServiceRegistered) }, time.Second, 5*time.Millisecond)
	assert.False(t, log.has(EventTypeModuleInstalled))

	infos := fw.GetObservers()
	require.Len(t, infos, 1)
	assert.Equal(t, "test.events", infos[0].ID)
	require.NoError(t, fw.UnregisterObserver(log))
	assert.Empty(t, fw.GetObservers())
}

func TestModuleContextInvalidAfterStop(t *testing.T) {
	ctx := context.Background()
	var saved *ModuleContext
	fw := newFramework(t, WithActivator("keep", func() ModuleActivator {
		return ActivatorFuncs{OnStart: func(_ context.Context, mc *ModuleContext) error { saved = mc; return nil }}
	}))
	m := install(t, fw, "m1", providerYAML+"activator: keep\n")
	require.NoError(t, fw.StartModule(ctx, m.ID()))
	require.NotNil(t, saved)
	assert.Equal(t, m, saved.Module())

	require.NoError(t, fw.StopModule(ctx, m.ID()))
	_, err := saved.RegisterService([]string{"svc"}, "late", nil)
	assert.ErrorIs(t, err, ErrInvalidContext)
}
