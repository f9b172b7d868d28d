package modhost

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/modhost/lifecycle"
	"github.com/GoCodeAlone/modhost/scr"
	"github.com/GoCodeAlone/modhost/wiring"
)

type startOptions struct {
	transient bool
	policy    bool
	// activate bypasses a lazy activation policy
	activate bool
}

// StartOption modifies StartModule.
type StartOption func(*startOptions)

// Transient starts the module without recording it for restart by
// Framework.Start.
func Transient() StartOption {
	return func(o *startOptions) { o.transient = true }
}

// UseActivationPolicy honours a lazy activation policy declared by the
// module: it stays STARTING until one of its trigger packages is loaded.
func UseActivationPolicy() StartOption {
	return func(o *startOptions) { o.policy = true }
}

// StartModule starts a module on the lifecycle pool and waits for it.
// Before the framework has started only the persistent start flag is
// recorded.
func (fw *Framework) StartModule(ctx context.Context, id int64, opts ...StartOption) error {
	if err := fw.checkOpen(); err != nil {
		return err
	}
	m, err := fw.module(id)
	if err != nil {
		return err
	}
	if m.IsFragment() {
		return fmt.Errorf("%w: module %d", ErrFragmentNotStartable, id)
	}
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}
	return fw.callStart(ctx, m, func(ctx context.Context) error {
		return fw.start(ctx, m, o)
	})
}

// StopModule stops a module on the lifecycle pool and waits for it. The
// persistent start flag is cleared.
func (fw *Framework) StopModule(ctx context.Context, id int64) error {
	if err := fw.checkOpen(); err != nil {
		return err
	}
	m, err := fw.module(id)
	if err != nil {
		return err
	}
	return fw.callStop(ctx, m, func(ctx context.Context) error {
		return fw.stop(ctx, m, false)
	})
}

// reportedError marks a failure already broadcast as a framework error
// event by the operation that hit it.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// callStart runs op on the module's lifecycle queue. Failures, aborts
// included, reach the caller and are broadcast as framework error events.
func (fw *Framework) callStart(ctx context.Context, m *Module, op lifecycle.Op) error {
	return fw.reportFailure(ctx, m, fw.pool.CallStart(ctx, m, op))
}

// callStop is callStart for stop operations.
func (fw *Framework) callStop(ctx context.Context, m *Module, op lifecycle.Op) error {
	return fw.reportFailure(ctx, m, fw.pool.CallStop(ctx, m, op))
}

func (fw *Framework) reportFailure(ctx context.Context, m *Module, err error) error {
	if err == nil {
		return nil
	}
	var r reportedError
	if !errors.As(err, &r) {
		fw.logger.Debug("Lifecycle operation failed", "module", m.id, "error", err)
		fw.emitError(ctx, m, err)
	}
	return err
}

// StartModules starts several modules concurrently. Every start runs to
// completion; the first failure is returned.
func (fw *Framework) StartModules(ctx context.Context, ids []int64, opts ...StartOption) error {
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			return fw.StartModule(ctx, id, opts...)
		})
	}
	return g.Wait()
}

// ResolveModules resolves the given modules, or every installed module when
// ids is empty. It returns the resolution failures of the requested modules
// joined.
func (fw *Framework) ResolveModules(ctx context.Context, ids ...int64) error {
	if err := fw.checkOpen(); err != nil {
		return err
	}
	var revs []wiring.RevisionID
	for _, id := range ids {
		m, err := fw.module(id)
		if err != nil {
			return err
		}
		revs = append(revs, m.Revision())
	}
	if len(ids) > 0 && len(revs) == 0 {
		return nil
	}
	_, failures := fw.graph.Resolve(revs...)
	fw.syncStates(ctx)

	var errs []error
	for _, rev := range slices.Sorted(maps.Keys(failures)) {
		if m, ok := fw.moduleByRevision(rev); ok {
			errs = append(errs, fmt.Errorf("module %d: %w", m.id, failures[rev]))
		}
	}
	return errors.Join(errs...)
}

func (fw *Framework) resolve(ctx context.Context, m *Module) error {
	rev := m.Revision()
	_, failures := fw.graph.Resolve(rev)
	fw.syncStates(ctx)
	if err, ok := failures[rev]; ok {
		return err
	}
	return nil
}

// syncStates moves INSTALLED and RESOLVED modules to match the graph.
func (fw *Framework) syncStates(ctx context.Context) {
	for _, m := range fw.Modules() {
		resolved := fw.graph.IsResolved(m.Revision())
		m.mu.Lock()
		from := m.state
		switch {
		case from == lifecycle.Installed && resolved:
			m.state = lifecycle.Resolved
		case from == lifecycle.Resolved && !resolved:
			m.state = lifecycle.Installed
		default:
			m.mu.Unlock()
			continue
		}
		to := m.state
		m.mu.Unlock()
		if to == lifecycle.Resolved {
			fw.logger.Debug("Module resolved", "module", m.id)
			fw.emit(ctx, m, lifecycle.EventTypeModuleResolved, from, to)
		} else {
			fw.logger.Debug("Module unresolved", "module", m.id)
			fw.emit(ctx, m, lifecycle.EventTypeModuleUnresolved, from, to)
		}
	}
}

// start runs on the module's lifecycle queue.
func (fw *Framework) start(ctx context.Context, m *Module, o startOptions) error {
	m.mu.Lock()
	if !o.transient {
		m.autostart = true
		m.lazyPolicy = o.policy
	}
	st, lazyWaiting := m.state, m.lazy
	m.mu.Unlock()

	if !fw.started() {
		return nil
	}
	switch {
	case st == lifecycle.Uninstalled:
		return fmt.Errorf("%w: %d", ErrModuleUninstalled, m.id)
	case st == lifecycle.Active:
		return nil
	case lazyWaiting && o.policy && !o.activate:
		return nil
	case st == lifecycle.Installed:
		if err := fw.resolve(ctx, m); err != nil {
			return err
		}
	}

	if !lazyWaiting && o.policy && !o.activate && m.Manifest().Activation.Lazy() {
		m.mu.Lock()
		if m.state == lifecycle.Uninstalled {
			m.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrModuleUninstalled, m.id)
		}
		m.state, m.lazy = lifecycle.Starting, true
		m.mu.Unlock()
		fw.logger.Debug("Module waiting for lazy activation", "module", m.id)
		fw.emit(ctx, m, lifecycle.EventTypeModuleLazyStart, lifecycle.Resolved, lifecycle.Starting)
		return nil
	}
	return fw.activate(ctx, m)
}

func (fw *Framework) activate(ctx context.Context, m *Module) error {
	m.mu.Lock()
	from := m.state
	if from != lifecycle.Resolved && !(from == lifecycle.Starting && m.lazy) {
		m.mu.Unlock()
		return fmt.Errorf("%w: module %d is %s", lifecycle.ErrStateChange, m.id, from)
	}
	m.state, m.lazy = lifecycle.Starting, false
	man := m.manifest
	m.mu.Unlock()
	if from != lifecycle.Starting {
		fw.emit(ctx, m, lifecycle.EventTypeModuleStarting, from, lifecycle.Starting)
	}

	mc := newModuleContext(fw, m)
	var act ModuleActivator
	var err error
	if man.Activator != "" {
		act, err = fw.activators.create(man.Activator)
	}
	if err == nil && act != nil {
		err = fw.callActivator(ctx, m, mc, act.Start)
	}
	if err == nil {
		fw.registerComponents(ctx, m)
	}

	m.mu.Lock()
	if m.state == lifecycle.Uninstalled {
		m.mu.Unlock()
		fw.logger.Warn("Module uninstalled while starting", "module", m.id)
		if err == nil && act != nil {
			if serr := fw.callActivator(ctx, m, mc, act.Stop); serr != nil {
				fw.logger.Warn("Activator stop failed", "module", m.id, "error", serr)
			}
		}
		fw.release(ctx, m, mc)
		return fmt.Errorf("%w: %d", ErrModuleUninstalled, m.id)
	}
	if err != nil {
		m.state = lifecycle.Resolved
		m.mu.Unlock()
		fw.release(ctx, m, mc)
		fw.logger.Error("Module failed to start", "module", m.id, "name", man.Name, "error", err)
		fw.emitError(ctx, m, err)
		fw.emit(ctx, m, lifecycle.EventTypeModuleStopped, lifecycle.Starting, lifecycle.Resolved)
		return reportedError{err}
	}
	m.state = lifecycle.Active
	m.activator, m.mctx = act, mc
	m.mu.Unlock()

	fw.logger.Info("Module started", "module", m.id, "name", man.Name)
	fw.emit(ctx, m, lifecycle.EventTypeModuleStarted, lifecycle.Starting, lifecycle.Active)
	return nil
}

// stop runs on the module's lifecycle queue.
func (fw *Framework) stop(ctx context.Context, m *Module, transient bool) error {
	m.mu.Lock()
	if !transient {
		m.autostart = false
	}
	from := m.state
	if from == lifecycle.Starting && m.lazy {
		m.state, m.lazy = lifecycle.Resolved, false
		m.mu.Unlock()
		fw.emit(ctx, m, lifecycle.EventTypeModuleStopped, from, lifecycle.Resolved)
		return nil
	}
	if from != lifecycle.Active {
		m.mu.Unlock()
		return nil
	}
	m.state = lifecycle.Stopping
	act, mc := m.activator, m.mctx
	m.activator, m.mctx = nil, nil
	m.mu.Unlock()
	fw.emit(ctx, m, lifecycle.EventTypeModuleStopping, from, lifecycle.Stopping)

	if err := fw.components.RemoveOwner(ctx, m.id, scr.ReasonModuleStopped); err != nil {
		fw.logger.Warn("Removing components", "module", m.id, "error", err)
	}
	var err error
	if act != nil {
		err = fw.callActivator(ctx, m, mc, act.Stop)
	}
	fw.release(ctx, m, mc)

	to := lifecycle.Resolved
	if _, ok := m.setState(lifecycle.Resolved); !ok {
		to = lifecycle.Uninstalled
	}
	if err != nil {
		fw.logger.Error("Module stopped with error", "module", m.id, "error", err)
		fw.emitError(ctx, m, err)
	} else {
		fw.logger.Info("Module stopped", "module", m.id)
	}
	fw.emit(ctx, m, lifecycle.EventTypeModuleStopped, lifecycle.Stopping, to)
	if err != nil {
		return reportedError{err}
	}
	return nil
}

func (fw *Framework) callActivator(ctx context.Context, m *Module, mc *ModuleContext, fn func(context.Context, *ModuleContext) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: module %d: %v", ErrActivatorPanicked, m.id, r)
		}
	}()
	return fn(ctx, mc)
}

// registerComponents registers the components declared by the module.
// A description that cannot be registered is reported and skipped.
func (fw *Framework) registerComponents(ctx context.Context, m *Module) {
	for _, c := range m.Manifest().Components {
		if _, err := fw.components.Register(ctx, m.id, scr.FromManifest(c)); err != nil {
			fw.logger.Error("Failed to register component", "module", m.id, "component", c.Name, "error", err)
			fw.emitError(ctx, m, err)
		}
	}
}

// release drops everything the module registered or obtained.
func (fw *Framework) release(ctx context.Context, m *Module, mc *ModuleContext) {
	if mc != nil {
		mc.valid.Store(false)
	}
	if err := fw.components.RemoveOwner(ctx, m.id, scr.ReasonModuleStopped); err != nil {
		fw.logger.Warn("Removing components", "module", m.id, "error", err)
	}
	fw.registry.UnregisterAll(m.id)
	fw.registry.ReleaseAll(m.id)
}

// Refresh purges removal-pending revisions. Modules depending on them,
// transitively, are stopped, unresolved and resolved again against the
// current revisions; those that were active are started again.
func (fw *Framework) Refresh(ctx context.Context) error {
	if err := fw.checkOpen(); err != nil {
		return err
	}
	pending := fw.graph.RemovalPending()
	if len(pending) == 0 {
		return nil
	}
	closure := fw.graph.DependencyClosure(pending...)

	var affected, restart []*Module
	for _, rev := range closure {
		m, ok := fw.moduleByRevision(rev)
		if !ok {
			continue
		}
		affected = append(affected, m)
		m.mu.Lock()
		if m.state == lifecycle.Active || (m.state == lifecycle.Starting && m.lazy) {
			restart = append(restart, m)
		}
		m.mu.Unlock()
	}

	for _, m := range slices.Backward(restart) {
		if err := fw.callStop(ctx, m, func(ctx context.Context) error {
			return fw.stop(ctx, m, true)
		}); err != nil {
			fw.logger.Warn("Module stopped with error during refresh", "module", m.id, "error", err)
		}
	}
	for _, rev := range closure {
		if err := fw.graph.Unresolve(rev); err != nil {
			fw.logger.Debug("Unresolving revision", "revision", rev, "error", err)
		}
	}
	for _, rev := range pending {
		fw.purge(rev)
	}
	fw.syncStates(ctx)

	var revs []wiring.RevisionID
	for _, m := range affected {
		revs = append(revs, m.Revision())
	}
	if len(revs) > 0 {
		fw.graph.Resolve(revs...)
		fw.syncStates(ctx)
	}

	var errs []error
	for _, m := range restart {
		opts := []StartOption{Transient()}
		if m.lazyPolicyRequested() {
			opts = append(opts, UseActivationPolicy())
		}
		if err := fw.StartModule(ctx, m.id, opts...); err != nil {
			errs = append(errs, fmt.Errorf("restarting module %d: %w", m.id, err))
		}
	}
	fw.logger.Info("Framework refreshed", "purged", len(pending), "affected", len(affected))
	fw.emitFramework(ctx, lifecycle.EventTypeFrameworkRefresh, map[string]any{
		"purged":   len(pending),
		"affected": len(affected),
	})
	return errors.Join(errs...)
}
