// Package loader answers code and resource requests on behalf of a module by
// walking the wiring graph in search order:
//
//  1. an established wire for the package (static or dynamic) delegates to
//     the provider; a miss there is final
//  2. required modules exporting the package, in declaration order
//  3. the module's own archive, then attached fragments by ascending id
//  4. a miss on a package the module exports or imports is final
//  5. a dynamic import pattern wires the package late and delegates as in 1
//
// Units found in a module waiting for activation may schedule that module's
// activation. Activations collected during one outermost request run after it
// completes, before it returns.
package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/modhost/archive"
	"github.com/GoCodeAlone/modhost/internal/logging"
	"github.com/GoCodeAlone/modhost/wiring"
)

var ErrNotFound = errors.New("not found")

// Content gives access to the archive of a revision.
type Content interface {
	Archive(rev wiring.RevisionID) (*archive.Archive, bool)
}

// Activator activates modules on behalf of lazy loading.
type Activator interface {
	// AwaitingActivation reports whether the module is RESOLVED, or started
	// lazily and not yet activated.
	AwaitingActivation(module int64) bool
	Activate(ctx context.Context, module int64) error
}

// Location is where a unit or resource was found.
type Location struct {
	// Revision whose archive holds the entry. For fragment content this is
	// the fragment.
	Revision wiring.RevisionID
	// Owner is the revision whose class space the entry belongs to.
	Owner   wiring.RevisionID
	Module  int64
	Archive *archive.Archive
	Path    string
}

// Read returns the entry's content.
func (l *Location) Read() ([]byte, error) {
	return l.Archive.ReadFile(l.Path)
}

// Resolver performs the lookups.
type Resolver struct {
	graph     *wiring.Graph
	content   Content
	activator Activator
	logger    logging.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithActivator enables lazy activation.
func WithActivator(a Activator) Option {
	return func(r *Resolver) { r.activator = a }
}

// New creates a Resolver.
func New(graph *wiring.Graph, content Content, opts ...Option) *Resolver {
	r := &Resolver{graph: graph, content: content, logger: logging.Nop{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds the code unit qualifiedName as seen from rev.
func (r *Resolver) Resolve(ctx context.Context, rev wiring.RevisionID, qualifiedName string) (*Location, error) {
	b, nested := batchFrom(ctx)
	if !nested || b == nil {
		b = &batch{}
		ctx = withBatch(ctx, b)
		defer r.flush(withoutBatch(ctx), b)
	}

	pkg := archive.PackageOf(qualifiedName)
	loc, err := r.search(rev, archive.UnitPath(qualifiedName), pkg)
	if err != nil {
		return nil, fmt.Errorf("unit %s from #%d: %w", qualifiedName, rev, err)
	}
	r.noteTrigger(b, rev, loc, qualifiedName)
	return loc, nil
}

// FindResource finds a resource path as seen from rev. Resource lookups
// never trigger activation.
func (r *Resolver) FindResource(_ context.Context, rev wiring.RevisionID, p string) (*Location, error) {
	loc, err := r.search(rev, p, archive.PackageOfPath(p))
	if err != nil {
		return nil, fmt.Errorf("resource %s from #%d: %w", p, rev, err)
	}
	return loc, nil
}

func (r *Resolver) search(rev wiring.RevisionID, p, pkg string) (*Location, error) {
	if h, ok := r.graph.Host(rev); ok {
		rev = h
	}
	if !r.graph.IsResolved(rev) {
		return nil, fmt.Errorf("%w: #%d is not resolved", wiring.ErrUnresolved, rev)
	}

	if pkg != "" {
		if w, ok := r.graph.Wire(rev, pkg); ok {
			return r.delegate(w, p, pkg)
		}
	}

	visited := map[wiring.RevisionID]bool{rev: true}
	if loc := r.searchRequired(rev, p, pkg, visited); loc != nil {
		return loc, nil
	}
	if loc := r.local(rev, p); loc != nil {
		return loc, nil
	}

	if pkg == "" || r.graph.Declares(rev, pkg) {
		return nil, ErrNotFound
	}
	w, err := r.graph.DynamicWire(rev, pkg)
	if err != nil {
		if errors.Is(err, wiring.ErrNotDynamic) || errors.Is(err, wiring.ErrNoProvider) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, err
	}
	return r.delegate(w, p, pkg)
}

// delegate runs the provider's own search, skipping its wires.
func (r *Resolver) delegate(w wiring.Wire, p, pkg string) (*Location, error) {
	prov := w.Provider()
	visited := map[wiring.RevisionID]bool{prov: true}
	if loc := r.searchRequired(prov, p, pkg, visited); loc != nil {
		return loc, nil
	}
	if loc := r.local(prov, p); loc != nil {
		return loc, nil
	}
	return nil, fmt.Errorf("%w: wired to #%d for %s", ErrNotFound, prov, pkg)
}

func (r *Resolver) searchRequired(rev wiring.RevisionID, p, pkg string, visited map[wiring.RevisionID]bool) *Location {
	if pkg == "" {
		return nil
	}
	for _, prov := range r.graph.RequiredProviders(rev) {
		if visited[prov] || !r.graph.Exported(prov, pkg) {
			continue
		}
		visited[prov] = true
		if loc := r.searchRequired(prov, p, pkg, visited); loc != nil {
			return loc
		}
		if loc := r.local(prov, p); loc != nil {
			return loc
		}
	}
	return nil
}

func (r *Resolver) local(host wiring.RevisionID, p string) *Location {
	hostRev, ok := r.graph.Revision(host)
	if !ok {
		return nil
	}
	for _, id := range append([]wiring.RevisionID{host}, r.graph.Fragments(host)...) {
		a, ok := r.content.Archive(id)
		if !ok || !a.Has(p) {
			continue
		}
		return &Location{Revision: id, Owner: host, Module: hostRev.Module, Archive: a, Path: p}
	}
	return nil
}

// noteTrigger schedules activation of the owner when the unit crosses an
// activation boundary declared by the owner or listed by the requester.
func (r *Resolver) noteTrigger(b *batch, requester wiring.RevisionID, loc *Location, qualifiedName string) {
	if r.activator == nil {
		return
	}
	owner, ok := r.graph.Revision(loc.Owner)
	if !ok {
		return
	}
	triggers := owner.Manifest.Activation.Triggers(qualifiedName)
	if !triggers {
		if req, ok := r.graph.Revision(requester); ok {
			triggers = req.Manifest.Activation.Lists(qualifiedName)
		}
	}
	if triggers && r.activator.AwaitingActivation(owner.Module) {
		b.add(owner.Module)
	}
}

func (r *Resolver) flush(ctx context.Context, b *batch) {
	if r.activator == nil {
		return
	}
	for _, module := range b.drain() {
		if err := r.activator.Activate(ctx, module); err != nil {
			r.logger.Error("Lazy activation failed", "module", module, "error", err)
		}
	}
}
