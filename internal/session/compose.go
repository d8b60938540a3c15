package session

import (
	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/unit"
)

// Compose folds a handler result and the nodes changed during the cycle into
// one outbound message, then clears the changed-set.
//
//   - a Signal, or a changed node of type screen, yields the screen snapshot
//   - a Dialog yields the dialog snapshot
//   - a Message keeps its kind and gets the changed nodes added
//   - a Node, Nodes or nil become one update message
//
// Nodes without a path in the current tree are dropped with a warning. An
// update with nothing in it composes to nil.
func (s *Session) Compose(raw unit.Result) protocol.Outbound {
	changed := s.changed.take()

	var msg *unit.Message
	switch r := raw.(type) {
	case unit.Signal:
		return s.Snapshot(r == unit.Redesign)
	case *unit.Dialog:
		return &protocol.Snapshot{Kind: protocol.KindDialog, Data: r.Node}
	case *unit.Message:
		msg = r
	case *unit.Node:
		msg = unit.Update(r)
	case unit.Nodes:
		msg = unit.Update(r...)
	default:
		msg = unit.Update()
	}
	out := s.render(msg, changed)
	if m, ok := out.(*protocol.Message); ok && m.Type == protocol.KindUpdate && len(m.Updates) == 0 {
		return nil
	}
	return out
}

// render resolves the paths of msg's nodes plus extra. A screen node among
// them turns the whole message into a screen snapshot.
func (s *Session) render(msg *unit.Message, extra []*unit.Node) protocol.Outbound {
	msg.Add(extra...)
	out := &protocol.Message{
		Type:     msg.Kind,
		Value:    msg.Value,
		HasValue: msg.HasValue,
		Request:  msg.Request,
	}
	tree := s.Tree()
	for _, n := range msg.Nodes() {
		if n.Type() == "screen" {
			return s.Snapshot(false)
		}
		p, ok := tree.FindPath(n)
		if !ok {
			s.logger.Warn("unreachable node dropped from update", "node", n.Name(), "type", n.Type())
			continue
		}
		out.Updates = append(out.Updates, protocol.Update{Path: p, Data: n})
	}
	return out
}
