package wiring

import "slices"

// Wire returns the wire of id for pkg, static or dynamic.
func (g *Graph) Wire(id RevisionID, pkg string) (Wire, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Wire{}, false
	}
	return n.wire(pkg)
}

// Wires lists the package wires of id: static wires in declaration order
// followed by dynamic wires in creation order.
func (g *Graph) Wires(id RevisionID) []Wire {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return slices.Clone(n.wires)
}

// ModuleWires lists the module-level wires of id in declaration order.
func (g *Graph) ModuleWires(id RevisionID) []ModuleWire {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return slices.Clone(n.modWires)
}

// RequiredProviders lists the revisions whose export sets id sees through
// required modules: each required provider in declaration order, followed by
// what it re-exports, without duplicates.
func (g *Graph) RequiredProviders(id RevisionID) []RevisionID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	seen := map[RevisionID]bool{id: true}
	var out []RevisionID
	var visit func(RevisionID)
	visit = func(p RevisionID) {
		if seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
		pn, ok := g.nodes[p]
		if !ok {
			return
		}
		for _, mw := range pn.modWires {
			if mw.Requirement.Reexport {
				visit(mw.Provider)
			}
		}
	}
	for _, mw := range n.modWires {
		visit(mw.Provider)
	}
	return out
}

// Exports lists the capabilities id currently offers. Substituted exports
// are left out.
func (g *Graph) Exports(id RevisionID) []Capability {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make([]Capability, 0, len(n.eff.caps))
	for _, c := range n.eff.caps {
		if !n.substituted[c.Package] {
			out = append(out, c)
		}
	}
	return out
}

// Exported reports whether id currently offers pkg.
func (g *Graph) Exported(id RevisionID, pkg string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return ok && hasCap(n.eff.caps, pkg) && !n.substituted[pkg]
}

// Imports lists the static requirements of id followed by its dynamic import
// patterns.
func (g *Graph) Imports(id RevisionID) []Requirement {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := slices.Clone(n.eff.reqs)
	return append(out, n.eff.dyn...)
}

// Unresolved lists the requirements of id that are not wired: the missing
// mandatory ones of an unresolved revision, or the optional ones a resolved
// revision went without.
func (g *Graph) Unresolved(id RevisionID) []Requirement {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	if n.resolved {
		return slices.Clone(n.unresolved)
	}
	if re, ok := n.failure.(*ResolutionError); ok {
		return slices.Clone(re.Requirements)
	}
	return nil
}

// Dependents lists resolved revisions wired to id, plus attached fragments
// or the host of a fragment, ascending.
func (g *Graph) Dependents(id RevisionID) []RevisionID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependents(id)
}

func (g *Graph) dependents(id RevisionID) []RevisionID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	set := map[RevisionID]bool{}
	for _, oid := range g.order {
		if oid == id {
			continue
		}
		o := g.nodes[oid]
		if slices.ContainsFunc(o.wires, func(w Wire) bool { return w.Capability.Provider == id }) ||
			slices.ContainsFunc(o.modWires, func(w ModuleWire) bool { return w.Provider == id }) {
			set[oid] = true
		}
	}
	for _, f := range n.fragments {
		set[f] = true
	}
	if n.host != 0 {
		set[n.host] = true
	}
	return sortedKeys(set)
}

// DependencyClosure returns ids plus every revision transitively depending
// on them, ascending.
func (g *Graph) DependencyClosure(ids ...RevisionID) []RevisionID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set := map[RevisionID]bool{}
	queue := slices.Clone(ids)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if set[id] {
			continue
		}
		if _, ok := g.nodes[id]; !ok {
			continue
		}
		set[id] = true
		queue = append(queue, g.dependents(id)...)
	}
	return sortedKeys(set)
}
