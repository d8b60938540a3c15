package document

import (
	"errors"
	"fmt"

	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/unit"
)

var (
	// ErrNotFound is returned when no node has the requested name.
	ErrNotFound = errors.New("node not found")

	// ErrAmbiguous is returned when a friendly name matches more than one node.
	ErrAmbiguous = errors.New("ambiguous node name")
)

// Tree is the document a session currently shows: a screen and, optionally,
// an open dialog. Paths are recomputed from it on every call.
type Tree struct {
	Screen *Screen
	Dialog *unit.Dialog
}

// dialogOnly reports whether the dialog replaces the screen as the effective tree.
func (t Tree) dialogOnly() bool {
	return t.Dialog != nil && t.Dialog.HasContent()
}

// FindPath returns the address of n by identity.
func (t Tree) FindPath(n *unit.Node) (protocol.Path, bool) {
	if n == nil {
		return nil, false
	}
	if t.Dialog != nil && t.Dialog.Node == n {
		return protocol.Path{n.Name()}, true
	}
	if t.dialogOnly() {
		for _, c := range t.Dialog.Children() {
			if c.Type() == "block" {
				if p, ok := blockPath(c, n); ok {
					return p, true
				}
			} else if c == n {
				return protocol.Path{t.Dialog.Name(), c.Name()}, true
			}
		}
		return nil, false
	}
	if t.Screen == nil {
		return nil, false
	}
	for _, b := range t.Screen.Blocks() {
		if p, ok := blockPath(b, n); ok {
			return p, true
		}
	}
	for _, e := range t.Screen.Toolbar() {
		if e == n {
			return protocol.Path{protocol.ToolbarBlock, e.Name()}, true
		}
	}
	return nil, false
}

func blockPath(b, n *unit.Node) (protocol.Path, bool) {
	if b == n {
		return protocol.Path{b.Name()}, true
	}
	for _, c := range b.Children() {
		if c == n {
			return protocol.Path{b.Name(), c.Name()}, true
		}
	}
	return nil, false
}

// Resolve finds the node at block/element. An empty element addresses the block.
func (t Tree) Resolve(block, element string) (*unit.Node, bool) {
	if t.Dialog != nil && block == t.Dialog.Name() {
		if element == "" {
			return t.Dialog.Node, true
		}
		return childNamed(t.Dialog.Node, element)
	}
	if block == protocol.ToolbarBlock && !t.dialogOnly() && t.Screen != nil {
		for _, e := range t.Screen.Toolbar() {
			if e.Name() == element {
				return e, true
			}
		}
		return nil, false
	}
	for _, b := range t.blocks() {
		if b.Name() != block {
			continue
		}
		if element == "" {
			return b, true
		}
		return childNamed(b, element)
	}
	return nil, false
}

// ResolvePath is Resolve over an address.
func (t Tree) ResolvePath(p protocol.Path) (*unit.Node, bool) {
	switch len(p) {
	case 1:
		return t.Resolve(p[0], "")
	case 2:
		return t.Resolve(p[0], p[1])
	}
	return nil, false
}

func (t Tree) blocks() []*unit.Node {
	if t.dialogOnly() {
		var out []*unit.Node
		for _, c := range t.Dialog.Children() {
			if c.Type() == "block" {
				out = append(out, c)
			}
		}
		return out
	}
	if t.Screen == nil {
		return nil
	}
	return t.Screen.Blocks()
}

func childNamed(parent *unit.Node, name string) (*unit.Node, bool) {
	for _, c := range parent.Children() {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// FindByName looks a node up by friendly name across the screen, its toolbar
// and an open dialog. More than one match fails with ErrAmbiguous.
func (t Tree) FindByName(name string) (*unit.Node, error) {
	var found []*unit.Node
	seen := make(map[*unit.Node]bool)
	add := func(n *unit.Node) {
		if n.Name() == name && !seen[n] {
			seen[n] = true
			found = append(found, n)
		}
	}
	if t.Screen != nil {
		for _, n := range t.Screen.Nodes() {
			add(n)
		}
	}
	if t.Dialog != nil {
		add(t.Dialog.Node)
		for _, c := range t.Dialog.Children() {
			add(c)
			for _, cc := range c.Children() {
				add(cc)
			}
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	case 1:
		return found[0], nil
	}
	return nil, fmt.Errorf("%q matches %d nodes: %w", name, len(found), ErrAmbiguous)
}
