package wiring

import (
	"fmt"

	"github.com/GoCodeAlone/modhost/archive"
)

// DynamicWire returns the wire for pkg, creating it from a matching dynamic
// import pattern when none exists yet. Packages the revision exports or
// imports statically are never dynamically wired.
func (g *Graph) DynamicWire(id RevisionID, pkg string) (Wire, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.get(id)
	if err != nil {
		return Wire{}, err
	}
	if w, ok := n.wire(pkg); ok {
		return w, nil
	}
	if !n.resolved {
		return Wire{}, fmt.Errorf("%w: #%d is not resolved", ErrUnresolved, id)
	}
	if g.declares(n, pkg) {
		return Wire{}, fmt.Errorf("%w: %s is declared by #%d", ErrNotDynamic, pkg, id)
	}

	var pattern *Requirement
	for i := range n.eff.dyn {
		if archive.MatchPackage(n.eff.dyn[i].Package, pkg) {
			pattern = &n.eff.dyn[i]
			break
		}
	}
	if pattern == nil {
		return Wire{}, fmt.Errorf("%w: %s for #%d", ErrNotDynamic, pkg, id)
	}

	req := Requirement{Package: pkg, Range: pattern.Range, Resolution: Dynamic}
	var best Capability
	found := false
	for _, pid := range g.order {
		p := g.nodes[pid]
		if pid == id || !p.available() {
			continue
		}
		for _, c := range p.eff.caps {
			if p.substituted[c.Package] || !req.matches(c) || !c.admits(n.rev) {
				continue
			}
			if !found || better(c, best) {
				best, found = c, true
			}
		}
	}
	if !found {
		return Wire{}, fmt.Errorf("%w: %s %s for #%d", ErrNoProvider, pkg, pattern.Range, id)
	}

	w := Wire{Requirer: id, Requirement: req, Capability: best}
	n.wires = append(n.wires, w)
	g.logger.Debug("Dynamically wired", "requirer", id, "package", pkg, "provider", best.Provider,
		"version", best.Version.String())
	return w, nil
}

// Declares reports whether id exports or statically imports pkg.
func (g *Graph) Declares(id RevisionID, pkg string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return ok && g.declares(n, pkg)
}

func (g *Graph) declares(n *node, pkg string) bool {
	if hasCap(n.eff.caps, pkg) {
		return true
	}
	for _, r := range n.eff.reqs {
		if r.Package == pkg {
			return true
		}
	}
	return false
}
