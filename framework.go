// Package modhost is a dynamic module runtime. Modules are installed from
// archives carrying a MODULE-INF descriptor, wired to each other by the
// packages they export and import, started and stopped on a pool of
// lifecycle workers, and publish services through a shared registry and
// declarative components.
//
// A Framework owns every subsystem; several may coexist in one process.
//
//	fw, err := modhost.New(config.Default(), logger)
//	if err := fw.Init(ctx); err != nil { ... }
//	m, err := fw.Install(ctx, "modules/greeter.zip", nil)
//	err = fw.Start(ctx)
//	err = fw.StartModule(ctx, m.ID())
package modhost

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/modhost/archive"
	"github.com/GoCodeAlone/modhost/cm"
	"github.com/GoCodeAlone/modhost/config"
	"github.com/GoCodeAlone/modhost/deploy"
	"github.com/GoCodeAlone/modhost/internal/logging"
	"github.com/GoCodeAlone/modhost/lifecycle"
	"github.com/GoCodeAlone/modhost/loader"
	"github.com/GoCodeAlone/modhost/registry"
	"github.com/GoCodeAlone/modhost/scr"
	"github.com/GoCodeAlone/modhost/wiring"
)

type frameworkState int

const (
	stateCreated frameworkState = iota
	stateInitialized
	stateStarted
	stateStopped
)

// Framework is the runtime context: the module table, the wiring graph,
// the service registry, configuration admin and the component runtime.
type Framework struct {
	cfg    *config.Config
	logger Logger
	id     string

	graph      *wiring.Graph
	resolver   *loader.Resolver
	dispatcher *lifecycle.Dispatcher
	pool       *lifecycle.Pool
	registry   *registry.Registry
	configs    *cm.Admin
	components *scr.Runtime
	impls      *scr.Implementations
	activators activators
	subject    *subject

	mu        sync.RWMutex
	state     frameworkState
	modules   map[int64]*Module
	nextID    int64
	revisions map[wiring.RevisionID]*archive.Archive

	cfgWatcher *cm.Watcher
	deployer   *deploy.Deployer
	scheduler  *cron.Cron
	cancel     context.CancelFunc
	background sync.WaitGroup
	unlisten   func()
}

// Option configures a Framework.
type Option func(*Framework)

// WithImplementations shares a component implementation table.
func WithImplementations(impls *scr.Implementations) Option {
	return func(fw *Framework) {
		if impls != nil {
			fw.impls = impls
		}
	}
}

// WithActivator registers an activator factory under name.
func WithActivator(name string, factory ActivatorFactory) Option {
	return func(fw *Framework) {
		if err := fw.activators.register(name, factory); err != nil {
			fw.logger.Warn("Ignoring activator", "name", name, "error", err)
		}
	}
}

// New creates a framework. cfg may be nil for defaults; logger may be nil
// to discard logs.
func New(cfg *config.Config, logger Logger, opts ...Option) (*Framework, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	fw := &Framework{
		cfg:        cfg,
		logger:     logger,
		id:         id.String(),
		impls:      scr.NewImplementations(),
		activators: activators{factories: make(map[string]ActivatorFactory)},
		modules:    make(map[int64]*Module),
		revisions:  make(map[wiring.RevisionID]*archive.Archive),
	}
	fw.subject = newSubject(logger)
	for _, opt := range opts {
		opt(fw)
	}

	fw.graph = wiring.NewGraph(wiring.WithLogger(logger))
	fw.resolver = loader.New(fw.graph, content{fw},
		loader.WithLogger(logger),
		loader.WithActivator(lazyActivator{fw}))
	fw.dispatcher = lifecycle.NewDispatcher(&lifecycle.DispatchConfig{
		EnablePersistence: cfg.EventHistoryLimit > 0,
		EnableMetrics:     true,
		HistoryLimit:      cfg.EventHistoryLimit,
	}, lifecycle.WithDispatcherLogger(logger))
	fw.pool = lifecycle.NewPool(fw.dispatcher, append(cfg.PoolOptions(), lifecycle.WithLogger(logger))...)
	fw.registry = registry.New(registry.WithLogger(logger))
	fw.configs = cm.New(cm.WithLogger(logger))
	fw.components = scr.New(fw.registry, fw.configs, fw.impls,
		scr.WithLogger(logger),
		scr.WithEventListener(fw.onComponentEvent))
	return fw, nil
}

// ID returns the unique id of this framework instance.
func (fw *Framework) ID() string { return fw.id }

// Config returns the runtime configuration.
func (fw *Framework) Config() *config.Config { return fw.cfg }

// Registry returns the service registry.
func (fw *Framework) Registry() *registry.Registry { return fw.registry }

// ConfigAdmin returns the configuration admin.
func (fw *Framework) ConfigAdmin() *cm.Admin { return fw.configs }

// Components returns the component runtime.
func (fw *Framework) Components() *scr.Runtime { return fw.components }

// Implementations returns the component implementation table.
func (fw *Framework) Implementations() *scr.Implementations { return fw.impls }

// Graph returns the wiring graph.
func (fw *Framework) Graph() *wiring.Graph { return fw.graph }

// Events returns the lifecycle event dispatcher; its store holds the event
// history when persistence is enabled.
func (fw *Framework) Events() *lifecycle.Dispatcher { return fw.dispatcher }

// PoolStats reports the lifecycle worker pool.
func (fw *Framework) PoolStats() lifecycle.PoolStats { return fw.pool.Stats() }

// RegisterActivator makes an activator available to manifests naming it.
func (fw *Framework) RegisterActivator(name string, factory ActivatorFactory) error {
	return fw.activators.register(name, factory)
}

// RegisterImplementation adds the code behind component descriptions
// naming it.
func (fw *Framework) RegisterImplementation(name string, impl scr.Implementation) error {
	return fw.impls.Register(name, impl)
}

// Init starts event delivery, loads the configuration directory and
// installs the modules found in the deploy directory.
func (fw *Framework) Init(ctx context.Context) error {
	fw.mu.Lock()
	if fw.state != stateCreated {
		fw.mu.Unlock()
		return ErrAlreadyInitialized
	}
	fw.state = stateInitialized
	fw.mu.Unlock()

	if err := fw.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}
	if err := fw.dispatcher.RegisterObserver(lifecycleBridge{fw}); err != nil {
		return fmt.Errorf("registering event bridge: %w", err)
	}
	fw.subject.start()
	fw.unlisten = fw.registry.AddListener("", nil, fw.onServiceEvent)

	if dir := fw.cfg.ConfigDir; dir != "" {
		fw.cfgWatcher = cm.NewWatcher(fw.configs, dir, cm.WithWatcherLogger(fw.logger))
		if err := fw.cfgWatcher.Load(); err != nil {
			fw.logger.Warn("Some configuration files could not be loaded", "dir", dir, "error", err)
		}
	}
	if dir := fw.cfg.DeployDir; dir != "" {
		fw.deployer = deploy.New(deployHost{fw}, dir, deploy.WithLogger(fw.logger))
		if err := fw.deployer.Scan(ctx); err != nil {
			fw.logger.Warn("Some deployed modules could not be installed", "dir", dir, "error", err)
		}
	}
	fw.logger.Info("Framework initialized", "id", fw.id)
	return nil
}

// Start resolves installed modules, starts those started persistently
// before, and begins watching the configured directories and the refresh
// schedule.
func (fw *Framework) Start(ctx context.Context) error {
	fw.mu.Lock()
	switch fw.state {
	case stateCreated:
		fw.mu.Unlock()
		return ErrNotInitialized
	case stateStarted:
		fw.mu.Unlock()
		return ErrAlreadyStarted
	case stateStopped:
		fw.mu.Unlock()
		return ErrStopped
	}
	fw.state = stateStarted
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	fw.cancel = cancel
	fw.mu.Unlock()

	if err := fw.ResolveModules(ctx); err != nil {
		fw.logger.Debug("Some modules did not resolve", "error", err)
	}
	for _, m := range fw.Modules() {
		info := m.Info()
		if !info.Autostart || info.Fragment {
			continue
		}
		opts := []StartOption{Transient()}
		if m.lazyPolicyRequested() {
			opts = append(opts, UseActivationPolicy())
		}
		if err := fw.StartModule(ctx, m.id, opts...); err != nil {
			fw.logger.Error("Failed to start module", "module", m.id, "name", info.Name, "error", err)
		}
	}

	if fw.cfgWatcher != nil {
		fw.runBackground("config watcher", func() error { return fw.cfgWatcher.Run(bg) })
	}
	if fw.deployer != nil {
		fw.runBackground("deployer", func() error { return fw.deployer.Run(bg) })
	}
	if spec := fw.cfg.RefreshSchedule; spec != "" {
		fw.scheduler = cron.New()
		if _, err := fw.scheduler.AddFunc(spec, func() { fw.scheduledRefresh(bg) }); err != nil {
			return fmt.Errorf("scheduling refresh: %w", err)
		}
		fw.scheduler.Start()
	}

	fw.emitFramework(ctx, lifecycle.EventTypeFrameworkStarted, nil)
	fw.logger.Info("Framework started", "id", fw.id, "modules", len(fw.Modules()))
	return nil
}

func (fw *Framework) runBackground(name string, run func() error) {
	fw.background.Add(1)
	go func() {
		defer fw.background.Done()
		if err := run(); err != nil {
			fw.logger.Error("Background task failed", "task", name, "error", err)
		}
	}()
}

func (fw *Framework) scheduledRefresh(ctx context.Context) {
	if len(fw.graph.RemovalPending()) == 0 {
		return
	}
	if err := fw.Refresh(ctx); err != nil {
		fw.logger.Error("Scheduled refresh failed", "error", err)
	}
}

// Stop stops every active module, most recently installed first, disposes
// all components and shuts the worker pool down. Stopping keeps the
// persistent start flags.
func (fw *Framework) Stop(ctx context.Context) error {
	fw.mu.Lock()
	if fw.state == stateStopped {
		fw.mu.Unlock()
		return nil
	}
	if fw.state == stateCreated {
		fw.mu.Unlock()
		return ErrNotInitialized
	}
	fw.state = stateStopped
	cancel := fw.cancel
	fw.mu.Unlock()

	ctx, done := context.WithTimeout(ctx, fw.cfg.StopTimeout)
	defer done()

	if cancel != nil {
		cancel()
	}
	if fw.scheduler != nil {
		select {
		case <-fw.scheduler.Stop().Done():
		case <-ctx.Done():
		}
	}
	fw.background.Wait()

	mods := fw.Modules()
	slices.Reverse(mods)
	for _, m := range mods {
		if err := fw.callStop(ctx, m, func(ctx context.Context) error {
			return fw.stop(ctx, m, true)
		}); err != nil {
			fw.logger.Error("Failed to stop module", "module", m.id, "error", err)
		}
	}
	if err := fw.components.Close(ctx); err != nil {
		fw.logger.Warn("Disposing components", "error", err)
	}

	fw.emitFramework(ctx, lifecycle.EventTypeFrameworkStopped, nil)
	if err := fw.pool.Close(ctx); err != nil {
		fw.logger.Warn("Closing lifecycle pool", "error", err)
	}
	if fw.unlisten != nil {
		fw.unlisten()
	}
	fw.subject.close()
	if err := fw.dispatcher.Stop(ctx); err != nil {
		fw.logger.Warn("Stopping dispatcher", "error", err)
	}
	fw.logger.Info("Framework stopped", "id", fw.id)
	return nil
}

func (fw *Framework) checkOpen() error {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	switch fw.state {
	case stateCreated:
		return ErrNotInitialized
	case stateStopped:
		return ErrStopped
	}
	return nil
}

func (fw *Framework) started() bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	return fw.state == stateStarted
}

// content serves revision archives to the resolver.
type content struct{ fw *Framework }

func (c content) Archive(rev wiring.RevisionID) (*archive.Archive, bool) {
	c.fw.mu.RLock()
	defer c.fw.mu.RUnlock()
	a, ok := c.fw.revisions[rev]
	return a, ok
}

// lazyActivator lets the resolver activate modules on a trigger.
type lazyActivator struct{ fw *Framework }

func (a lazyActivator) AwaitingActivation(module int64) bool {
	m, err := a.fw.module(module)
	return err == nil && m.awaitingActivation()
}

func (a lazyActivator) Activate(ctx context.Context, module int64) error {
	m, err := a.fw.module(module)
	if err != nil {
		return err
	}
	a.fw.logger.Debug("Activating module on trigger", "module", module)
	return a.fw.callStart(ctx, m, func(ctx context.Context) error {
		return a.fw.start(ctx, m, startOptions{transient: true, activate: true})
	})
}
