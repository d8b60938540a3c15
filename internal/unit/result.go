package unit

import (
	"context"
	"slices"

	"github.com/roach88/unisync/internal/protocol"
)

// Result is what a handler hands back to the session.
type Result interface {
	isResult()
}

// Nodes is an ordered list of nodes to redraw.
type Nodes []*Node

// Signal asks for a full screen redraw.
type Signal int

const (
	// UpdateScreen redraws the current screen.
	UpdateScreen Signal = iota + 1

	// Redesign redraws the current screen and tells the client to rebuild its layout.
	Redesign
)

func (s Signal) String() string {
	switch s {
	case UpdateScreen:
		return "update_screen"
	case Redesign:
		return "redesign"
	}
	return "unknown"
}

// Reply carries plain data answering a complete, append or get request.
type Reply struct {
	Value any
}

func (*Node) isResult()    {}
func (Nodes) isResult()    {}
func (Signal) isResult()   {}
func (*Message) isResult() {}
func (*Dialog) isResult()  {}
func (Reply) isResult()    {}

// Add appends nodes that are not already in the list, keeping order.
func (ns Nodes) Add(nodes ...*Node) Nodes {
	for _, n := range nodes {
		if n != nil && !slices.Contains(ns, n) {
			ns = append(ns, n)
		}
	}
	return ns
}

// Message is a user-visible or update message with its own node list.
type Message struct {
	Kind  string
	Value any

	// HasValue is false for plain update messages, which carry no value.
	HasValue bool

	// Request is set for answers: it echoes the request being answered.
	Request *protocol.Request

	nodes Nodes
}

// NewMessage creates a message of kind with value and attached nodes.
func NewMessage(kind string, value any, nodes ...*Node) *Message {
	return &Message{Kind: kind, Value: value, HasValue: true, nodes: Nodes{}.Add(nodes...)}
}

// Update creates a plain update message for nodes.
func Update(nodes ...*Node) *Message {
	return &Message{Kind: protocol.KindUpdate, nodes: Nodes{}.Add(nodes...)}
}

// Info creates an info message.
func Info(text string, nodes ...*Node) *Message {
	return NewMessage(protocol.KindInfo, text, nodes...)
}

// Warning creates a warning message.
func Warning(text string, nodes ...*Node) *Message {
	return NewMessage(protocol.KindWarning, text, nodes...)
}

// Error creates an error message.
func Error(text string, nodes ...*Node) *Message {
	return NewMessage(protocol.KindError, text, nodes...)
}

// Progress creates a progress message. An empty label closes the progress
// window on the client.
func Progress(label string, nodes ...*Node) *Message {
	var v any
	if label != "" {
		v = label
	}
	return NewMessage(protocol.KindProgress, v, nodes...)
}

// CloseDialog asks the client to close the active dialog.
func CloseDialog() *Message {
	return NewMessage(protocol.KindAction, "close")
}

// NewAnswer answers req; the message type is the request event.
func NewAnswer(req protocol.Request, value any) *Message {
	m := NewMessage(req.Event, value)
	m.Request = &req
	return m
}

// Nodes returns the attached nodes.
func (m *Message) Nodes() Nodes { return m.nodes }

// Add attaches nodes not already attached.
func (m *Message) Add(nodes ...*Node) {
	m.nodes = m.nodes.Add(nodes...)
}

// Contains reports whether n is attached.
func (m *Message) Contains(n *Node) bool {
	return slices.Contains(m.nodes, n)
}

// Dialog is a modal node substituted for the screen while active.
type Dialog struct {
	*Node
}

// NewDialog creates a dialog asking question. callback receives the pressed
// command name. content nodes are laid out under the question.
func NewDialog(question string, callback Handler, content ...any) *Dialog {
	value := []any{}
	if len(content) > 0 {
		value = append([]any{[]any{}}, content...)
	}
	d := &Dialog{Node: New(question, "dialog", value, Attrs{
		"commands": []any{"Ok", "Cancel"},
		"icon":     "not_listed_location",
	})}
	if callback != nil {
		d.On(EventChanged, callback)
	}
	return d
}

// HasContent reports whether the dialog holds any nodes.
func (d *Dialog) HasContent() bool {
	return len(d.Children()) > 0
}

// Compose runs handlers in order and folds their results: a Signal or a
// Dialog ends the chain immediately; nodes are collected without duplicates;
// a Message takes the collected nodes; a Reply wins over plain nodes.
func Compose(handlers ...Handler) Handler {
	return func(ctx context.Context, n *Node, value any) (Result, error) {
		var (
			nodes Nodes
			msg   *Message
			reply *Reply
		)
		for _, h := range handlers {
			if h == nil {
				continue
			}
			r, err := h(ctx, n, value)
			if err != nil {
				return nil, err
			}
			switch r := r.(type) {
			case Signal, *Dialog:
				return r, nil
			case *Message:
				if msg == nil {
					msg = r
				} else {
					msg.Add(r.nodes...)
				}
			case *Node:
				nodes = nodes.Add(r)
			case Nodes:
				nodes = nodes.Add(r...)
			case Reply:
				reply = &r
			}
		}
		switch {
		case msg != nil:
			msg.Add(nodes...)
			return msg, nil
		case reply != nil:
			return *reply, nil
		case len(nodes) == 1:
			return nodes[0], nil
		case len(nodes) > 1:
			return nodes, nil
		}
		return nil, nil
	}
}
