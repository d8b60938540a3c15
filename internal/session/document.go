package session

import (
	"slices"
	"sort"
	"sync"

	"github.com/roach88/unisync/internal/document"
	"github.com/roach88/unisync/internal/unit"
)

// Document is the node tree shared by every session of a reflection group.
//
// The lock serializes whole request cycles of all sessions sharing the tree.
// Node change callbacks are routed to the session currently holding it.
type Document struct {
	mu       sync.Mutex
	screens  []*document.Screen
	handlers map[handlerKey]unit.Handler
	group    []*Session
	active   *Session
}

type handlerKey struct {
	element string
	event   string
}

// NewDocument activates the screens and orders them by their order attribute.
func NewDocument(screens []*document.Screen) *Document {
	d := &Document{
		screens:  slices.Clone(screens),
		handlers: make(map[handlerKey]unit.Handler),
	}
	sort.SliceStable(d.screens, func(i, j int) bool {
		return d.screens[i].Order() < d.screens[j].Order()
	})
	for _, s := range d.screens {
		s.Activate(d.onChange, false)
	}
	return d
}

// Screens returns the screens in menu order.
func (d *Document) Screens() []*document.Screen {
	return d.screens
}

// Screen returns the screen called name.
func (d *Document) Screen(name string) (*document.Screen, bool) {
	for _, s := range d.screens {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Menu lists [name, icon] of every screen.
func (d *Document) Menu() []document.MenuItem {
	menu := make([]document.MenuItem, len(d.screens))
	for i, s := range d.screens {
		menu[i] = document.MenuItem{s.Name(), s.Attr("icon")}
	}
	return menu
}

// Handle registers h for event on every element called element. It takes
// precedence over the node's own handler.
func (d *Document) Handle(element, event string, h unit.Handler) {
	d.handlers[handlerKey{element, event}] = h
}

func (d *Document) handler(n *unit.Node, event string) (unit.Handler, bool) {
	if h, ok := d.handlers[handlerKey{n.Name(), event}]; ok {
		return h, true
	}
	return n.Event(event)
}

// onChange is the change callback of every node in the document.
func (d *Document) onChange(n *unit.Node, attr string, value any) {
	if d.active != nil {
		d.active.register(n, attr, value)
	}
}

// Activate activates nodes created after loading (dialog content, nodes a
// handler adds) so their writes are tracked.
func (d *Document) Activate(nodes ...*unit.Node) {
	for _, n := range nodes {
		n.Activate(d.onChange, false)
		d.Activate(n.Children()...)
	}
}

// Group returns a copy of the reflection group.
func (d *Document) Group() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.group)
}

// join adds s to the reflection group of owner. A group is either empty or
// holds at least two sessions.
func (d *Document) join(owner, s *Session) {
	if len(d.group) == 0 {
		d.group = []*Session{owner, s}
		return
	}
	if !slices.Contains(d.group, s) {
		d.group = append(d.group, s)
	}
}

// leave removes s; a lone remaining member collapses the group.
func (d *Document) leave(s *Session) {
	d.group = slices.DeleteFunc(d.group, func(m *Session) bool { return m == s })
	if len(d.group) < 2 {
		d.group = nil
	}
}
