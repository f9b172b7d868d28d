package wiring

import (
	"fmt"
	"slices"
	"sync"

	"github.com/GoCodeAlone/modhost/filter"
	"github.com/GoCodeAlone/modhost/internal/logging"
	"github.com/GoCodeAlone/modhost/manifest"
)

// Graph is the arena of revisions and their wires. It is safe for concurrent
// use.
type Graph struct {
	mu     sync.RWMutex
	nodes  map[RevisionID]*node
	order  []RevisionID
	nextID RevisionID
	logger logging.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGraph creates an empty graph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		nodes:  make(map[RevisionID]*node),
		logger: logging.Nop{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type node struct {
	rev      Revision
	resolved bool
	pending  bool

	// fragments: the host currently attached to, 0 when detached
	host RevisionID
	// hosts: attached fragments in ascending module order
	fragments []RevisionID

	declared decl
	// effective declarations, own merged with attached fragments
	eff decl

	substituted map[string]bool
	wires       []Wire
	modWires    []ModuleWire
	unresolved  []Requirement
	failure     error
}

type decl struct {
	caps []Capability
	reqs []Requirement
	dyn  []Requirement
	mods []ModuleRequirement
}

func (d decl) clone() decl {
	return decl{
		caps: slices.Clone(d.caps),
		reqs: slices.Clone(d.reqs),
		dyn:  slices.Clone(d.dyn),
		mods: slices.Clone(d.mods),
	}
}

func (n *node) isFragment() bool { return n.rev.IsFragment() }

// available reports whether n may serve new wires.
func (n *node) available() bool { return n.resolved && !n.pending && !n.isFragment() }

func (n *node) wire(pkg string) (Wire, bool) {
	for _, w := range n.wires {
		if w.Requirement.Package == pkg {
			return w, true
		}
	}
	return Wire{}, false
}

// Add registers a new revision for module and returns its id.
func (g *Graph) Add(module int64, m *manifest.Manifest) (RevisionID, error) {
	if m == nil {
		return 0, fmt.Errorf("adding revision for module %d: nil manifest", module)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextID + 1
	d, err := declarations(id, module, m)
	if err != nil {
		return 0, fmt.Errorf("adding revision of %s: %w", m.Name, err)
	}
	g.nextID = id

	n := &node{
		rev: Revision{
			ID:       id,
			Module:   module,
			Name:     m.Name,
			Version:  m.Version,
			Manifest: m,
		},
		declared: d,
		eff:      d.clone(),
	}
	g.nodes[id] = n
	g.order = append(g.order, id)

	g.logger.Debug("Revision added", "revision", id, "module", module, "name", m.Name, "version", m.Version.String())
	return id, nil
}

func declarations(id RevisionID, module int64, m *manifest.Manifest) (decl, error) {
	var d decl
	for _, e := range m.Exports {
		f, err := filter.Compile(e.ConsumerFilter)
		if err != nil {
			return decl{}, fmt.Errorf("export %s: %w", e.Package, err)
		}
		d.caps = append(d.caps, Capability{
			Package:    e.Package,
			Version:    e.Version,
			Provider:   id,
			Module:     module,
			Declarer:   id,
			Attributes: e.Attributes,
			filter:     f,
		})
	}
	for _, i := range m.Imports {
		res := Mandatory
		if i.Optional() {
			res = Optional
		}
		d.reqs = append(d.reqs, Requirement{Package: i.Package, Range: i.Version, Resolution: res})
	}
	for _, i := range m.DynamicImports {
		d.dyn = append(d.dyn, Requirement{Package: i.Package, Range: i.Version, Resolution: Dynamic})
	}
	for _, r := range m.Requires {
		d.mods = append(d.mods, ModuleRequirement{
			Name:     r.Module,
			Range:    r.Version,
			Reexport: r.Reexport,
			Optional: r.Optional,
		})
	}
	return d, nil
}

func (g *Graph) get(id RevisionID) (*node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrUnknownRevision, id)
	}
	return n, nil
}

// Revision returns the revision with the given id.
func (g *Graph) Revision(id RevisionID) (Revision, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Revision{}, false
	}
	return n.rev, true
}

// Revisions lists all revisions in ascending id order.
func (g *Graph) Revisions() []Revision {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Revision, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].rev)
	}
	return out
}

// IsResolved reports whether id is resolved. Fragments are resolved while
// attached to a resolved host.
func (g *Graph) IsResolved(id RevisionID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return ok && n.resolved
}

// Host returns the host a fragment is attached to.
func (g *Graph) Host(id RevisionID) (RevisionID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok || n.host == 0 {
		return 0, false
	}
	return n.host, true
}

// Fragments returns the fragments attached to a host by ascending module id.
func (g *Graph) Fragments(id RevisionID) []RevisionID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return slices.Clone(n.fragments)
}

// MarkRemovalPending withdraws the revision from future wiring while leaving
// existing wires in place until the next refresh.
func (g *Graph) MarkRemovalPending(id RevisionID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.get(id)
	if err != nil {
		return err
	}
	n.pending = true
	return nil
}

// RemovalPending lists revisions waiting to be purged, ascending.
func (g *Graph) RemovalPending() []RevisionID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []RevisionID
	for _, id := range g.order {
		if g.nodes[id].pending {
			out = append(out, id)
		}
	}
	return out
}

// Unresolve drops every wire of id and detaches its fragments. Unresolving a
// fragment unresolves its host.
func (g *Graph) Unresolve(id RevisionID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.get(id)
	if err != nil {
		return err
	}
	if n.isFragment() {
		if n.host != 0 {
			g.unresolve(g.nodes[n.host])
		}
		n.resolved = false
		return nil
	}
	g.unresolve(n)
	return nil
}

func (g *Graph) unresolve(n *node) {
	for _, fid := range n.fragments {
		f := g.nodes[fid]
		f.resolved = false
		f.host = 0
	}
	n.fragments = nil
	n.resolved = false
	n.wires = nil
	n.modWires = nil
	n.substituted = nil
	n.unresolved = nil
	n.eff = n.declared.clone()
	g.logger.Debug("Revision unresolved", "revision", n.rev.ID, "name", n.rev.Name)
}

// Purge removes a revision from the arena. It fails while other resolved
// revisions are wired to it.
func (g *Graph) Purge(id RevisionID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.get(id)
	if err != nil {
		return err
	}
	for _, dep := range g.dependents(id) {
		if d := g.nodes[dep]; d.resolved && !(n.isFragment() && dep == n.host) {
			return fmt.Errorf("%w: #%d is used by #%d", ErrInUse, id, dep)
		}
	}
	if n.isFragment() && n.host != 0 {
		g.unresolve(g.nodes[n.host])
	}
	g.unresolve(n)
	delete(g.nodes, id)
	g.order = slices.DeleteFunc(g.order, func(x RevisionID) bool { return x == id })
	g.logger.Debug("Revision purged", "revision", id, "name", n.rev.Name)
	return nil
}
