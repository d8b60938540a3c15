package unit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/unisync/internal/track"
)

// PrivatePrefix marks attributes that are internal bookkeeping.
const PrivatePrefix = "_"

// Event names with a meaning to the engine.
const (
	EventChanged  = "changed"
	EventComplete = "complete"
	EventAppend   = "append"
	EventDelete   = "delete"
	EventModify   = "modify"
	EventUpdate   = "update"
	EventGet      = "get"
)

// IsPrivate reports whether name denotes a private attribute.
func IsPrivate(name string) bool {
	return strings.HasPrefix(name, PrivatePrefix)
}

// Handler runs an event on a node. value is the client supplied payload.
type Handler func(ctx context.Context, n *Node, value any) (Result, error)

// ChangeFunc is installed by the owning session. It receives the node, the
// attribute written ("" for collection writes reported by a tracker) and the
// new value.
type ChangeFunc func(n *Node, attr string, value any)

// RegisterHook lets a node veto the registration of one write.
type RegisterHook func(attr string, value any) bool

// Attrs is a set of extra attributes passed to constructors.
type Attrs map[string]any

// Node is an addressable, observable UI-state entity.
type Node struct {
	name     string
	typ      string
	attrs    map[string]any
	events   map[string]Handler
	trackers map[string]*track.Tracker
	onChange ChangeFunc
	hook     RegisterHook
}

// New creates a node. Later attribute maps override earlier ones; a "name" or
// "type" entry overrides the positional arguments.
func New(name, typ string, value any, attrs ...Attrs) *Node {
	n := &Node{
		name:   name,
		typ:    typ,
		attrs:  map[string]any{"value": track.Unwrap(value)},
		events: map[string]Handler{},
	}
	for _, a := range attrs {
		for k, v := range a {
			n.Store(k, v)
		}
	}
	return n
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Type returns the node type tag.
func (n *Node) Type() string { return n.typ }

// Value returns the value attribute, tracked when the node is active.
func (n *Node) Value() any { return n.Get("value") }

// String renders the node as Type(name) for logs.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.typ, n.name)
}

// Active reports whether a change callback is installed.
func (n *Node) Active() bool { return n.onChange != nil }

// Activate installs onChange unless a callback is already set and override is
// false, then binds a tracker to every public container attribute. Calling it
// again is harmless.
func (n *Node) Activate(onChange ChangeFunc, override bool) {
	if n.onChange == nil || override {
		n.onChange = onChange
	}
	if n.onChange == nil {
		return
	}
	n.trackers = make(map[string]*track.Tracker)
	for k, v := range n.attrs {
		if !IsPrivate(k) && track.IsContainer(v) {
			n.bind(k)
		}
	}
}

// Deactivate removes the change callback and drops every tracker.
func (n *Node) Deactivate() {
	n.onChange = nil
	n.trackers = nil
}

// SetRegisterHook replaces the registration veto. A nil hook restores the
// default, which rejects private attributes only.
func (n *Node) SetRegisterHook(hook RegisterHook) {
	n.hook = hook
}

func (n *Node) bind(attr string) *track.Tracker {
	t := track.Bind(n,
		func() any { return n.attrs[attr] },
		func(v any) { n.attrs[attr] = v })
	n.trackers[attr] = t
	return t
}

func (n *Node) accepts(attr string, value any) bool {
	if n.hook != nil {
		return n.hook(attr, value)
	}
	return !IsPrivate(attr)
}

// Set writes an attribute. When the node is active and the attribute is
// public, the change callback runs first (subject to the register hook).
func (n *Node) Set(attr string, value any) {
	value = track.Unwrap(value)
	if n.onChange != nil && !IsPrivate(attr) && n.accepts(attr, value) {
		n.onChange(n, attr, value)
	}
	n.Store(attr, value)
}

// Store writes an attribute without registering a change.
func (n *Node) Store(attr string, value any) {
	value = track.Unwrap(value)
	switch attr {
	case "name":
		n.name = fmt.Sprint(value)
		return
	case "type":
		n.typ = fmt.Sprint(value)
		return
	}
	n.attrs[attr] = value
	if n.trackers == nil {
		return
	}
	if !IsPrivate(attr) && track.IsContainer(value) {
		n.bind(attr)
	} else {
		delete(n.trackers, attr)
	}
}

// Unset removes an attribute and registers the change.
func (n *Node) Unset(attr string) {
	if _, ok := n.attrs[attr]; !ok {
		return
	}
	if n.onChange != nil && !IsPrivate(attr) && n.accepts(attr, nil) {
		n.onChange(n, attr, nil)
	}
	delete(n.attrs, attr)
	delete(n.trackers, attr)
}

// Get returns an attribute. Container attributes of an active node come back
// as trackers.
func (n *Node) Get(attr string) any {
	switch attr {
	case "name":
		return n.name
	case "type":
		return n.typ
	}
	if t, ok := n.trackers[attr]; ok {
		return t
	}
	return n.attrs[attr]
}

// Attr returns the raw attribute, never a tracker.
func (n *Node) Attr(attr string) any {
	switch attr {
	case "name":
		return n.name
	case "type":
		return n.typ
	}
	return n.attrs[attr]
}

// Has reports whether the attribute is set.
func (n *Node) Has(attr string) bool {
	switch attr {
	case "name", "type":
		return true
	}
	_, ok := n.attrs[attr]
	return ok
}

// Tracker returns a tracker over a container attribute whether or not the
// node is active. Writes through it notify the node.
func (n *Node) Tracker(attr string) (*track.Tracker, bool) {
	if t, ok := n.trackers[attr]; ok {
		return t, true
	}
	if !track.IsContainer(n.attrs[attr]) {
		return nil, false
	}
	return track.Bind(n,
		func() any { return n.attrs[attr] },
		func(v any) { n.attrs[attr] = v }), true
}

// NotifyChanged implements track.Notifier. Collection writes register the
// node with an empty attribute name.
func (n *Node) NotifyChanged() {
	if n.onChange != nil && n.accepts("", nil) {
		n.onChange(n, "", nil)
	}
}

// On registers handler for event, replacing any previous one.
func (n *Node) On(event string, h Handler) *Node {
	if h == nil {
		delete(n.events, event)
	} else {
		n.events[event] = h
	}
	return n
}

// Event returns the handler registered for event.
func (n *Node) Event(event string) (Handler, bool) {
	h, ok := n.events[event]
	return h, ok
}

// Events returns the registered event names in sorted order.
func (n *Node) Events() []string {
	names := make([]string, 0, len(n.events))
	for k := range n.events {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Accept is the entry point of UI driven edits: it runs the changed handler
// when one is set, otherwise it assigns value.
func (n *Node) Accept(ctx context.Context, value any) (Result, error) {
	if h, ok := n.events[EventChanged]; ok {
		return h(ctx, n, value)
	}
	n.Set("value", value)
	return nil, nil
}

// AddChangedHandler chains h after the current changed handler, or after the
// plain assignment when none is set.
func (n *Node) AddChangedHandler(h Handler) {
	prev, ok := n.events[EventChanged]
	if !ok {
		prev = AssignValue
	}
	n.events[EventChanged] = Compose(prev, h)
}

// AssignValue is the default changed handler.
func AssignValue(_ context.Context, n *Node, value any) (Result, error) {
	n.Set("value", value)
	return nil, nil
}

// Children returns the nodes held by a container node (block, screen
// element lists, dialog content), flattening nested layout lists.
func (n *Node) Children() []*Node {
	return Flatten(n.attrs["value"])
}

// Flatten collects the nodes of a possibly nested layout list.
func Flatten(v any) []*Node {
	var out []*Node
	for _, item := range FlattenAny(v) {
		if n, ok := item.(*Node); ok && n != nil {
			out = append(out, n)
		}
	}
	return out
}

// FlattenAny returns the leaves of a possibly nested layout list in order.
func FlattenAny(v any) []any {
	var out []any
	var walk func(any)
	walk = func(v any) {
		switch x := track.Unwrap(v).(type) {
		case nil:
		case []*Node:
			for _, c := range x {
				walk(c)
			}
		case Nodes:
			for _, c := range x {
				walk(c)
			}
		case []any:
			for _, c := range x {
				walk(c)
			}
		default:
			out = append(out, x)
		}
	}
	walk(v)
	return out
}

// State returns the serializable attributes: public attributes plus every
// registered event rendered as true.
func (n *Node) State() map[string]any {
	out := make(map[string]any, len(n.attrs)+len(n.events)+2)
	for k, v := range n.attrs {
		if !IsPrivate(k) {
			out[k] = v
		}
	}
	for k := range n.events {
		if !IsPrivate(k) {
			out[k] = true
		}
	}
	out["name"] = n.name
	out["type"] = n.typ
	return out
}

// MarshalJSON implements json.Marshaler.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.State())
}
