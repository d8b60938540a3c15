package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/unit"
)

// peers returns the other group members showing the same screen.
// The document lock must be held.
func (s *Session) peers() []*Session {
	var out []*Session
	for _, m := range s.doc.group {
		if m != s && m.screen == s.screen {
			out = append(out, m)
		}
	}
	return out
}

// reflect sends the result of req to the peers. When the node req addressed
// is not part of out it is sent separately, so peers never miss a write the
// requesting client already shows.
func (s *Session) reflect(ctx context.Context, req protocol.Request, out protocol.Outbound) {
	peers := s.peers()
	if len(peers) == 0 {
		return
	}
	if reflectable(out) {
		s.broadcastTo(ctx, peers, out)
	}
	if _, full := out.(*protocol.Snapshot); full {
		return
	}
	n, ok := s.Tree().Resolve(req.Block, req.ElementName())
	if !ok {
		return
	}
	if msg, isMsg := out.(*protocol.Message); isMsg && msg.Contains(n) {
		return
	}
	s.broadcastTo(ctx, peers, s.render(unit.Update(n), nil))
}

// reflectable reports whether out concerns every viewer. Dialogs and answers
// are addressed to the requesting client only.
func reflectable(out protocol.Outbound) bool {
	switch o := out.(type) {
	case nil:
		return false
	case *protocol.Snapshot:
		return o.Kind != protocol.KindDialog
	case *protocol.Message:
		return o.Request == nil
	}
	return true
}

// broadcast sends out to the peers.
func (s *Session) broadcast(ctx context.Context, out protocol.Outbound) {
	if peers := s.peers(); len(peers) > 0 {
		s.broadcastTo(ctx, peers, out)
	}
}

// broadcastTo sends out to every peer concurrently. A failing peer is logged
// and does not affect the others.
func (s *Session) broadcastTo(ctx context.Context, peers []*Session, out protocol.Outbound) {
	var g errgroup.Group
	for _, p := range peers {
		g.Go(func() error {
			if err := p.send.Send(ctx, out); err != nil {
				return fmt.Errorf("session %s: %w", p.id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("reflection failed", "error", err)
	}
	s.opts.Metrics.Broadcast(len(peers))
}
