package wiring

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// Resolve resolves the given revisions, or every unresolved revision when
// called without ids. Unresolved revisions able to provide for the requested
// ones are resolved along with them. It returns the revisions that became
// resolved, ascending, and one error per requested revision that could not be.
func (g *Graph) Resolve(ids ...RevisionID) ([]RevisionID, map[RevisionID]error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	failures := make(map[RevisionID]error)
	requested := make(map[RevisionID]bool)
	cand := make(map[RevisionID]bool)

	if len(ids) == 0 {
		for _, id := range g.order {
			n := g.nodes[id]
			if !n.resolved && !n.pending {
				requested[id] = true
				if !n.isFragment() {
					cand[id] = true
				}
			}
		}
	}
	for _, id := range ids {
		n, err := g.get(id)
		if err != nil {
			failures[id] = err
			continue
		}
		if n.resolved || n.pending {
			continue
		}
		requested[id] = true
		if !n.isFragment() {
			cand[id] = true
			continue
		}
		for _, h := range g.order {
			if g.hostMatches(n, g.nodes[h]) {
				cand[h] = true
			}
		}
	}
	g.expand(cand)

	var plans map[RevisionID]*plan
	var attach map[RevisionID][]RevisionID
	for {
		attach = g.attachFragments(cand)
		var failed RevisionID
		var err error
		plans, failed, err = g.plan(cand, attach)
		if err == nil {
			break
		}
		delete(cand, failed)
		n := g.nodes[failed]
		n.failure = err
		if requested[failed] {
			failures[failed] = err
		}
		g.logger.Debug("Revision did not resolve", "revision", failed, "name", n.rev.Name, "error", err)
	}

	resolved := make([]RevisionID, 0, len(plans))
	for _, id := range sortedKeys(plans) {
		g.commit(g.nodes[id], plans[id], attach[id])
		resolved = append(resolved, id)
		resolved = append(resolved, attach[id]...)
	}
	slices.Sort(resolved)

	for id := range requested {
		n := g.nodes[id]
		if n.isFragment() && !n.resolved {
			err := &ResolutionError{Revision: n.rev, Reason: "no resolvable host " + n.rev.Manifest.FragmentHost.Name}
			n.failure = err
			failures[id] = err
		}
	}
	return resolved, failures
}

// expand adds unresolved revisions that could satisfy requirements of the
// candidate set, transitively.
func (g *Graph) expand(cand map[RevisionID]bool) {
	queue := sortedKeys(cand)
	for len(queue) > 0 {
		n := g.nodes[queue[0]]
		queue = queue[1:]

		reqs := slices.Clone(n.declared.reqs)
		mods := slices.Clone(n.declared.mods)
		for _, id := range g.order {
			if f := g.nodes[id]; f.isFragment() && !f.resolved && g.hostMatches(f, n) {
				reqs = append(reqs, f.declared.reqs...)
				mods = append(mods, f.declared.mods...)
			}
		}

		for _, id := range g.order {
			o := g.nodes[id]
			if cand[id] || o.resolved || o.pending || o.isFragment() {
				continue
			}
			if provides(o, reqs, mods) {
				cand[id] = true
				queue = append(queue, id)
			}
		}
	}
}

func provides(o *node, reqs []Requirement, mods []ModuleRequirement) bool {
	for _, r := range reqs {
		for _, c := range o.declared.caps {
			if r.matches(c) {
				return true
			}
		}
	}
	for _, m := range mods {
		if m.Name == o.rev.Name && m.Range.Includes(o.rev.Version) {
			return true
		}
	}
	return false
}

func (g *Graph) hostMatches(frag, host *node) bool {
	ref := frag.rev.Manifest.FragmentHost
	return ref != nil && !host.isFragment() && !host.resolved && !host.pending &&
		host.rev.Name == ref.Name && ref.Version.Includes(host.rev.Version)
}

// attachFragments assigns every detached fragment to the highest-version
// matching candidate host. Each host's fragments are ordered by ascending
// module id, so an updated fragment keeps its place.
func (g *Graph) attachFragments(cand map[RevisionID]bool) map[RevisionID][]RevisionID {
	attach := make(map[RevisionID][]RevisionID)
	for _, fid := range g.order {
		f := g.nodes[fid]
		if !f.isFragment() || f.resolved || f.pending {
			continue
		}
		var best *node
		for _, hid := range sortedKeys(cand) {
			h := g.nodes[hid]
			if !g.hostMatches(f, h) {
				continue
			}
			if best == nil || h.rev.Version.Compare(best.rev.Version) > 0 {
				best = h
			}
		}
		if best != nil {
			attach[best.rev.ID] = append(attach[best.rev.ID], fid)
		}
	}
	for _, frags := range attach {
		slices.SortStableFunc(frags, func(a, b RevisionID) int {
			return cmp.Compare(g.nodes[a].rev.Module, g.nodes[b].rev.Module)
		})
	}
	return attach
}

type plan struct {
	eff         decl
	substituted map[string]bool
	wires       []Wire
	modWires    []ModuleWire
	unresolved  []Requirement
}

// plan computes wires for every candidate. On the first candidate that
// cannot be satisfied it returns its id and error so the caller can retry
// without it.
func (g *Graph) plan(cand map[RevisionID]bool, attach map[RevisionID][]RevisionID) (map[RevisionID]*plan, RevisionID, error) {
	ids := sortedKeys(cand)
	plans := make(map[RevisionID]*plan, len(ids))
	for _, id := range ids {
		plans[id] = &plan{eff: g.merge(g.nodes[id], attach[id]), substituted: map[string]bool{}}
	}

	// Substitutable exports: a candidate importing a package it also exports
	// keeps its own export only when it wins the selection.
	for _, id := range ids {
		p := plans[id]
		for _, r := range p.eff.reqs {
			if !hasCap(p.eff.caps, r.Package) {
				continue
			}
			best, ok := g.bestCapability(g.nodes[id].rev, r, plans, false)
			if ok && best.Provider != id {
				p.substituted[r.Package] = true
			}
		}
	}

	for _, id := range ids {
		n := g.nodes[id]
		p := plans[id]
		var missing []Requirement
		var missingMods []ModuleRequirement

		for _, r := range p.eff.reqs {
			c, ok := g.bestCapability(n.rev, r, plans, true)
			if !ok {
				if r.Resolution == Mandatory {
					missing = append(missing, r)
				} else {
					p.unresolved = append(p.unresolved, r)
				}
				continue
			}
			p.wires = append(p.wires, Wire{Requirer: id, Requirement: r, Capability: c})
		}
		for _, r := range p.eff.mods {
			prov, ok := g.bestModule(id, r, plans)
			if !ok {
				if !r.Optional {
					missingMods = append(missingMods, r)
				}
				continue
			}
			p.modWires = append(p.modWires, ModuleWire{Requirer: id, Requirement: r, Provider: prov})
		}

		if len(missing) > 0 || len(missingMods) > 0 {
			return nil, id, &ResolutionError{Revision: n.rev, Requirements: missing, Modules: missingMods}
		}
	}
	return plans, 0, nil
}

// merge folds attached fragment declarations into a copy of the host's.
func (g *Graph) merge(host *node, frags []RevisionID) decl {
	eff := host.declared.clone()
	for _, fid := range frags {
		f := g.nodes[fid]
		for _, c := range f.declared.caps {
			if hasCap(eff.caps, c.Package) {
				continue
			}
			c.Provider = host.rev.ID
			c.Module = host.rev.Module
			eff.caps = append(eff.caps, c)
		}
		for _, r := range f.declared.reqs {
			if !slices.ContainsFunc(eff.reqs, func(x Requirement) bool { return x.Package == r.Package }) {
				eff.reqs = append(eff.reqs, r)
			}
		}
		eff.dyn = append(eff.dyn, f.declared.dyn...)
		eff.mods = append(eff.mods, f.declared.mods...)
	}
	return eff
}

// bestCapability selects the highest matching version, then the lowest
// provider id. Providers are resolved revisions plus the planned candidates.
func (g *Graph) bestCapability(requester Revision, r Requirement, plans map[RevisionID]*plan, honorSubstitution bool) (Capability, bool) {
	var best Capability
	found := false
	consider := func(c Capability) {
		if !r.matches(c) || !c.admits(requester) {
			return
		}
		if !found || better(c, best) {
			best, found = c, true
		}
	}
	for _, id := range g.order {
		n := g.nodes[id]
		switch p, planned := plans[id]; {
		case planned:
			for _, c := range p.eff.caps {
				if !honorSubstitution || !p.substituted[c.Package] {
					consider(c)
				}
			}
		case n.available():
			for _, c := range n.eff.caps {
				if !n.substituted[c.Package] {
					consider(c)
				}
			}
		}
	}
	return best, found
}

func better(a, b Capability) bool {
	if c := a.Version.Compare(b.Version); c != 0 {
		return c > 0
	}
	if a.Module != b.Module {
		return a.Module < b.Module
	}
	return a.Provider < b.Provider
}

// newerModule orders module providers like capabilities: highest version,
// then lowest module id.
func newerModule(a, b Revision) bool {
	if c := a.Version.Compare(b.Version); c != 0 {
		return c > 0
	}
	return a.Module < b.Module
}

func (g *Graph) bestModule(requirer RevisionID, r ModuleRequirement, plans map[RevisionID]*plan) (RevisionID, bool) {
	var best *node
	for _, id := range g.order {
		n := g.nodes[id]
		if id == requirer || n.isFragment() {
			continue
		}
		if _, planned := plans[id]; !planned && !n.available() {
			continue
		}
		if n.rev.Name != r.Name || !r.Range.Includes(n.rev.Version) {
			continue
		}
		if best == nil || newerModule(n.rev, best.rev) {
			best = n
		}
	}
	if best == nil {
		return 0, false
	}
	return best.rev.ID, true
}

func (g *Graph) commit(n *node, p *plan, frags []RevisionID) {
	n.resolved = true
	n.failure = nil
	n.eff = p.eff
	n.substituted = p.substituted
	n.wires = p.wires
	n.modWires = p.modWires
	n.unresolved = p.unresolved
	n.fragments = slices.Clone(frags)
	for _, fid := range frags {
		f := g.nodes[fid]
		f.resolved = true
		f.failure = nil
		f.host = n.rev.ID
	}
	for _, w := range p.wires {
		g.logger.Debug("Wired", "requirer", n.rev.ID, "package", w.Requirement.Package,
			"provider", w.Capability.Provider, "version", w.Capability.Version.String())
	}
}

func hasCap(caps []Capability, pkg string) bool {
	return slices.ContainsFunc(caps, func(c Capability) bool { return c.Package == pkg })
}

func sortedKeys[V any](m map[RevisionID]V) []RevisionID {
	return slices.Sorted(maps.Keys(m))
}

// Failure returns the error recorded by the last failed resolution of id.
func (g *Graph) Failure(id RevisionID) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: #%d", ErrUnknownRevision, id)
	}
	return n.failure
}
