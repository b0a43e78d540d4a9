package mo

import "xenoflow/internal/mavg"

// extReactor wraps a mavg.Reactor with spec.md §4.8's ext-FWM activation
// link: before delegating to the wrapped reactor, it activates or
// deactivates every sibling FWM instance the firing limit names as an
// ext, "driven by the MAVG reactor via the mavg_limit_ext_stat -> ptr
// links".
type extReactor struct {
	node *Node
	next mavg.Reactor
}

func (r *extReactor) Fire(fc mavg.FireContext) {
	for _, name := range fc.ExtFWMs {
		if f := r.node.FindFWM(name); f != nil {
			f.SetActive(fc.Over)
		}
	}
	if r.next != nil {
		r.next.Fire(fc)
	}
}

// WireReactors installs reactor (shared launcher/webhook delivery) as
// every MAVG window's Reactor in the tree, wrapped in an extReactor so
// each node's own overlimit transitions also drive that node's extended
// FWMs' activation gate.
func (t *Tree) WireReactors(reactor mavg.Reactor) {
	for _, n := range t.Root {
		wireReactors(n, reactor)
	}
}

func wireReactors(n *Node, reactor mavg.Reactor) {
	for _, m := range n.MAVGs {
		m.Window.Reactor = &extReactor{node: n, next: reactor}
	}
	for _, child := range n.Children {
		wireReactors(child, reactor)
	}
}
