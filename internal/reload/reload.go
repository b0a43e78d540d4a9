// Package reload implements the hot-reload coordinator (component I,
// spec.md §4.9): once per PollInterval, walk the Monitoring Object tree
// and re-parse any mo.conf whose mtime has moved, swapping in new MAVG
// limit tables without disturbing any key's in-flight decayed values.
//
// Grounded on original_source/xenoeye.c's mtime-poll loop and
// monit-objects.c's config parse/merge; structural fields are frozen
// after first load (mo.Node.ReloadIfChanged only ever touches limit
// tables), matching spec.md's "only name/fields/time are rejected as
// not implemented to reload".
package reload

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"xenoflow/internal/metrics"
	"xenoflow/internal/mo"
)

// PollInterval matches spec.md §4.9's "once per ~10 ms".
const PollInterval = 10 * time.Millisecond

// Coordinator owns the poll loop over one loaded tree.
type Coordinator struct {
	Tree     *mo.Tree
	Interval time.Duration
}

// New creates a Coordinator with the spec's default poll interval.
func New(tree *mo.Tree) *Coordinator {
	return &Coordinator{Tree: tree, Interval: PollInterval}
}

// Run polls until ctx is cancelled, spec.md §5's "cooperative via a
// process-wide stop flag" translated to a context.Context, the idiomatic
// Go equivalent of a polled atomic stop flag.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick performs one reload pass over every node in the tree, logging
// (and otherwise ignoring) any individual node's reload failure so one
// broken mo.conf never blocks the rest of the tree from reloading.
func (c *Coordinator) Tick() {
	for _, n := range c.Tree.Root {
		tickNode(n)
	}
}

func tickNode(n *mo.Node) {
	if _, err := n.ReloadIfChanged(); err != nil {
		metrics.ReloadFailures.Inc()
		logrus.WithError(err).WithField("mo", n.Path).Warn("reload: keeping previous limit set")
	}
	for _, child := range n.Children {
		tickNode(child)
	}
}
