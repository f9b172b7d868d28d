package scr

import (
	"errors"
	"slices"

	"ocm.software/open-component-model/bindings/go/dag"
)

// checkCycles looks for a chain of unsatisfied components, each providing a
// service another one in the chain needs, that leads back to c. Such
// components can never be satisfied. The check only reports; it does not
// reject the component.
//
// Components reachable from c are added to a dependency graph edge by edge;
// the first edge closing a cycle through c is reported.
func (c *Component) checkCycles() error {
	components := c.rt.Components()
	g := dag.NewDirectedAcyclicGraph[string]()
	_ = g.AddVertex(c.desc.Name)
	seen := map[*Component]bool{c: true}

	queue := []*Component{c}
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		for _, iface := range x.missingInterfaces() {
			for _, p := range components {
				if !slices.Contains(p.desc.Services, iface) {
					continue
				}
				if st := p.State(); st == StateSatisfied || st == StateDisabled {
					continue
				}
				if p == x {
					if p == c {
						return &CycleError{Chain: []string{c.desc.Name, c.desc.Name}}
					}
					continue
				}
				if !seen[p] {
					seen[p] = true
					_ = g.AddVertex(p.desc.Name)
					queue = append(queue, p)
				}
				var cycle *dag.CycleError
				if err := g.AddEdge(x.desc.Name, p.desc.Name); errors.As(err, &cycle) {
					if chain, ok := chainThrough(cycle.Cycle, c.desc.Name); ok {
						return &CycleError{Chain: chain}
					}
				}
			}
		}
	}
	return nil
}

// chainThrough rotates a closed cycle [a b ... a] to start and end at name.
func chainThrough(cycle []string, name string) ([]string, bool) {
	if len(cycle) < 2 {
		return nil, false
	}
	ring := cycle[:len(cycle)-1]
	i := slices.Index(ring, name)
	if i < 0 {
		return nil, false
	}
	chain := make([]string, 0, len(cycle))
	chain = append(chain, ring[i:]...)
	chain = append(chain, ring[:i]...)
	return append(chain, name), true
}

// missingInterfaces returns the interfaces of unsatisfied mandatory
// references.
func (c *Component) missingInterfaces() []string {
	var out []string
	for _, t := range c.trackers {
		if !t.ok {
			out = append(out, t.desc.Interface)
		}
	}
	return out
}
