// Package server connects clients to sessions.
//
// A Server owns what the process shares between connections: the session
// map, the startup document, the share map of persistent tables and the
// patch queue of the table registry. Request cycles are serialized per
// document by the session layer; cycles on different documents run in
// parallel. Every queued patch names the session that caused it, so fan-out
// does not depend on which cycle drains the queue.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/unisync/internal/document"
	"github.com/roach88/unisync/internal/metrics"
	"github.com/roach88/unisync/internal/monitor"
	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/session"
	"github.com/roach88/unisync/internal/table"
)

// ErrUnknownSession is returned when a connection asks to share a session
// that does not exist.
var ErrUnknownSession = errors.New("unknown session")

// Loader builds a fresh document for a new connection.
type Loader func(ctx context.Context) (*session.Document, error)

// Config configures a Server.
type Config struct {
	// Share lets a connection join another session with ?share=<id>.
	Share bool
	// Mirror joins every new connection to the last connected session.
	Mirror bool

	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Watchdog *monitor.Watchdog

	// Session is the template of every session's options.
	Session session.Options
	// Patches is the sink of the table registry.
	Patches *Queue
}

type client struct {
	sess *session.Session
	send session.Sender
}

// Server is the connection registry of one process.
type Server struct {
	cfg    Config
	logger *slog.Logger
	load   Loader
	share  ShareMap

	// mu guards the fields below. It is never held across a request cycle.
	mu      sync.Mutex
	startup *session.Document
	clients map[string]*client
	count   int
	last    *session.Session

	// fanout keeps drained patches in publish order on every connection.
	fanout sync.Mutex
}

// New creates a server. The first connection adopts startup; later ones get
// a document from load. The share map is built from startup once.
func New(startup *session.Document, load Loader, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Patches == nil {
		cfg.Patches = NewQueue()
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}
	if cfg.Session.Metrics == nil {
		cfg.Session.Metrics = cfg.Metrics
	}
	if cfg.Session.Watchdog == nil {
		cfg.Session.Watchdog = cfg.Watchdog
	}
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		load:    load,
		startup: startup,
		clients: make(map[string]*client),
	}
	if startup != nil {
		s.share = BuildShareMap(startup)
	}
	return s
}

// Share returns the share map.
func (s *Server) Share() ShareMap { return s.share }

// Sessions returns the ids of the connected sessions, sorted.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Session returns the connected session id.
func (s *Server) Session(id string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, false
	}
	return c.sess, true
}

// Connect creates the session of a new connection and sends its first
// screen. shareID names a session to join when sharing is enabled.
func (s *Server) Connect(ctx context.Context, send session.Sender, shareID string) (*session.Session, error) {
	owner, doc, err := s.pick(shareID)
	if err != nil {
		msg := &protocol.Message{Type: protocol.KindError, Value: fmt.Sprintf("Session %s is not found", shareID), HasValue: true}
		if serr := send.Send(ctx, msg); serr != nil {
			s.logger.Warn("send share refusal", "error", serr)
		}
		return nil, err
	}
	if doc == nil {
		if doc, err = s.load(ctx); err != nil {
			return nil, fmt.Errorf("load document: %w", err)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	sess := session.New(id.String(), doc, send, s.cfg.Session)
	if owner != nil {
		if err := sess.Join(owner); err != nil {
			sess.Close()
			return nil, err
		}
	}

	s.mu.Lock()
	s.clients[sess.ID()] = &client{sess: sess, send: send}
	s.count++
	s.last = sess
	count := s.count
	s.mu.Unlock()
	s.logger.Info("session connected", "session", sess.ID(), "count", count, "shared", owner != nil)

	if err := sess.Start(ctx); err != nil {
		s.remove(sess)
		sess.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	return sess, nil
}

// pick chooses the session a new connection joins and its document. A nil
// document means a fresh one must be loaded.
func (s *Server) pick(shareID string) (*session.Session, *session.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owner *session.Session
	switch {
	case s.cfg.Share && shareID != "":
		c, ok := s.clients[shareID]
		if !ok {
			return nil, nil, fmt.Errorf("share %s: %w", shareID, ErrUnknownSession)
		}
		owner = c.sess
	case s.cfg.Mirror && s.last != nil:
		owner = s.last
	}
	switch {
	case owner != nil:
		return owner, owner.Document(), nil
	case s.startup != nil:
		doc := s.startup
		s.startup = nil
		return nil, doc, nil
	}
	return nil, nil, nil
}

// Process handles one inbound text frame of sess: a request or a batch of
// them. It reports whether the client asked to close the connection. A
// returned error means the connection is broken.
func (s *Server) Process(ctx context.Context, sess *session.Session, data []byte) (closed bool, err error) {
	if strings.TrimSpace(string(data)) == "close" {
		return true, nil
	}
	reqs, perr := protocol.ParseRequests(data)

	s.mu.Lock()
	c, ok := s.clients[sess.ID()]
	s.mu.Unlock()
	if !ok {
		return true, fmt.Errorf("process: %w", ErrUnknownSession)
	}
	switch {
	case errors.Is(perr, protocol.ErrEmptyBatch):
		return false, c.send.Send(ctx, &protocol.Message{Type: protocol.KindWarning, Value: "Empty command batch", HasValue: true})
	case perr != nil:
		s.logger.Warn("invalid request", "session", sess.ID(), "error", perr)
		return false, c.send.Send(ctx, &protocol.Message{Type: protocol.KindError, Value: "Invalid request", HasValue: true})
	}

	for _, req := range reqs {
		if _, err := sess.Handle(ctx, req); err != nil {
			return false, err
		}
		s.flush(ctx)
	}
	return false, nil
}

// Disconnect removes sess. Offloaded work it started keeps running.
func (s *Server) Disconnect(sess *session.Session) {
	if !s.remove(sess) {
		return
	}
	sess.Close()
	s.logger.Info("session disconnected", "session", sess.ID())
}

// remove unregisters sess and reports whether it was registered.
func (s *Server) remove(sess *session.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[sess.ID()]; !ok {
		return false
	}
	delete(s.clients, sess.ID())
	if s.last == sess {
		s.last = nil
	}
	return true
}

// receivers returns the connected clients.
func (s *Server) receivers() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// flush sends the queued table patches to every session showing the table.
// Patches the origin already applied locally skip it.
func (s *Server) flush(ctx context.Context) {
	s.fanout.Lock()
	defer s.fanout.Unlock()
	pending := s.cfg.Patches.Drain()
	if len(pending) == 0 {
		return
	}
	clients := s.receivers()
	for _, p := range pending {
		views := s.share[p.Table]
		if len(views) == 0 {
			continue
		}
		for _, c := range clients {
			if p.Patch.Exclude && c.sess.ID() == p.Origin {
				continue
			}
			sc := c.sess.Screen()
			if sc == nil {
				continue
			}
			for _, path := range views[sc.Name()] {
				if err := c.send.Send(ctx, p.Patch.At(path[0], path[1])); err != nil {
					s.logger.Warn("send table patch", "session", c.sess.ID(), "table", p.Table, "error", err)
				}
			}
		}
	}
}

// ShareMap locates persistent tables: table id → screen name → addresses.
type ShareMap map[string]map[string][]protocol.Path

// BuildShareMap records where doc shows each shared persistent table. Linked
// tables are left out: they show a filtered copy of their own.
func BuildShareMap(doc *session.Document) ShareMap {
	m := ShareMap{}
	for _, sc := range doc.Screens() {
		tree := document.Tree{Screen: sc}
		for _, n := range sc.Nodes() {
			if !table.Persistent(n) || n.Attr("_link") != nil {
				continue
			}
			path, ok := tree.FindPath(n)
			if !ok || len(path) != 2 {
				continue
			}
			id := n.Attr("id").(string)
			if m[id] == nil {
				m[id] = make(map[string][]protocol.Path)
			}
			m[id][sc.Name()] = append(m[id][sc.Name()], path)
		}
	}
	return m
}
