// Package document holds the screen tree and resolves node addresses in it.
//
// A Screen owns an ordered list of blocks (nested lists lay blocks out in
// rows) and a toolbar. A Block owns an ordered list of nodes, again possibly
// nested. While a dialog with content is open it replaces the screen as the
// effective tree.
package document

import (
	"encoding/json"

	"github.com/roach88/unisync/internal/unit"
)

// Screen is the top-level container selectable by name.
type Screen struct {
	*unit.Node
}

// NewScreen creates a screen from blocks (block nodes or nested lists of them)
// and toolbar nodes.
func NewScreen(name string, blocks []any, toolbar []any, attrs ...unit.Attrs) *Screen {
	if blocks == nil {
		blocks = []any{}
	}
	if toolbar == nil {
		toolbar = []any{}
	}
	defaults := unit.Attrs{
		"blocks":  blocks,
		"toolbar": toolbar,
		"order":   0,
		"icon":    nil,
		"header":  nil,
	}
	return &Screen{Node: unit.New(name, "screen", nil, append([]unit.Attrs{defaults}, attrs...)...)}
}

// Blocks returns the screen blocks, layout lists flattened.
func (s *Screen) Blocks() []*unit.Node {
	return unit.Flatten(s.Attr("blocks"))
}

// Toolbar returns the toolbar nodes.
func (s *Screen) Toolbar() []*unit.Node {
	return unit.Flatten(s.Attr("toolbar"))
}

// Order returns the position of the screen in the menu.
func (s *Screen) Order() int {
	switch v := s.Attr("order").(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Nodes returns every node of the screen: blocks, their elements and the toolbar.
func (s *Screen) Nodes() []*unit.Node {
	var out []*unit.Node
	for _, b := range s.Blocks() {
		out = append(out, b)
		out = append(out, b.Children()...)
	}
	return append(out, s.Toolbar()...)
}

// Activate activates every node of the screen with onChange.
func (s *Screen) Activate(onChange unit.ChangeFunc, override bool) {
	s.Node.Activate(onChange, override)
	for _, n := range s.Nodes() {
		n.Activate(onChange, override)
	}
}

// MenuItem is one entry of the screen menu: [name, icon].
type MenuItem [2]any

// Snapshot is the full screen rendering sent to clients.
type Snapshot struct {
	Screen *Screen
	Menu   []MenuItem
	Reload bool
}

// MarshalJSON renders the screen state plus menu and reload flag.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	state := s.Screen.State()
	delete(state, "value")
	if len(s.Menu) > 0 {
		state["menu"] = s.Menu
	}
	if s.Reload {
		state["reload"] = true
	}
	return json.Marshal(state)
}
