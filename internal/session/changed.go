package session

import (
	"github.com/roach88/unisync/internal/unit"
)

// changedSet is the insertion-ordered set of nodes written during one cycle.
type changedSet struct {
	nodes []*unit.Node
	seen  map[*unit.Node]struct{}
}

func (c *changedSet) add(n *unit.Node) {
	if c.seen == nil {
		c.seen = make(map[*unit.Node]struct{})
	}
	if _, ok := c.seen[n]; ok {
		return
	}
	c.seen[n] = struct{}{}
	c.nodes = append(c.nodes, n)
}

// take returns the nodes and clears the set.
func (c *changedSet) take() []*unit.Node {
	nodes := c.nodes
	c.nodes = nil
	c.seen = nil
	return nodes
}
