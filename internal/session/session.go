// Package session processes client requests against a shared document.
//
// One Session is one connected viewer. A request cycle resolves the target
// node, runs its handler, composes the nodes written during the cycle into a
// single outbound message, sends it, and reflects it to the other sessions of
// the reflection group that show the same screen.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/roach88/unisync/internal/document"
	"github.com/roach88/unisync/internal/metrics"
	"github.com/roach88/unisync/internal/monitor"
	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/unit"
)

// InternalErrorText is shown to the client when a handler fails unexpectedly.
const InternalErrorText = "Internal server error"

// Sender delivers outbound messages to one client connection.
type Sender interface {
	Send(ctx context.Context, out protocol.Outbound) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, out protocol.Outbound) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, out protocol.Outbound) error {
	return f(ctx, out)
}

// Options are the optional collaborators of a session.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Watchdog *monitor.Watchdog
	Pool     *monitor.Pool

	// Observe is called with every processed request and its result.
	Observe func(req protocol.Request, out protocol.Outbound)
}

// Session is one connected viewer of a Document.
type Session struct {
	id     string
	doc    *Document
	send   Sender
	opts   Options
	logger *slog.Logger

	screen  *document.Screen
	dialog  *unit.Dialog
	// shown mirrors screen for readers outside the document lock.
	shown   atomic.Pointer[document.Screen]
	changed changedSet

	// request is the request being processed, last the previous one.
	request *protocol.Request
	last    *protocol.Request
}

// New creates a session showing the first screen of doc.
func New(id string, doc *Document, send Sender, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:     id,
		doc:    doc,
		send:   send,
		opts:   opts,
		logger: logger.With("session", id),
	}
	if screens := doc.Screens(); len(screens) > 0 {
		s.show(screens[0])
	}
	opts.Metrics.SessionOpened()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Document returns the shared document.
func (s *Session) Document() *Document { return s.doc }

// Screen returns the screen the session shows. It is safe to call while
// another goroutine runs a request cycle of the session.
func (s *Session) Screen() *document.Screen { return s.shown.Load() }

// show switches the session to sc. The document lock must be held once the
// session is connected.
func (s *Session) show(sc *document.Screen) {
	s.screen = sc
	s.shown.Store(sc)
}

// Dialog returns the open dialog, if any.
func (s *Session) Dialog() *unit.Dialog { return s.dialog }

// LastRequest returns the last processed request.
func (s *Session) LastRequest() (protocol.Request, bool) {
	if s.last == nil {
		return protocol.Request{}, false
	}
	return *s.last, true
}

// Tree returns the effective tree used for addressing.
func (s *Session) Tree() document.Tree {
	return document.Tree{Screen: s.screen, Dialog: s.dialog}
}

// Join puts s into the reflection group of owner and shows owner's screen.
// Both sessions must share the same Document.
func (s *Session) Join(owner *Session) error {
	if owner.doc != s.doc {
		return errors.New("join: sessions do not share a document")
	}
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	s.doc.join(owner, s)
	s.show(owner.screen)
	return nil
}

// Close removes s from its reflection group.
func (s *Session) Close() {
	s.doc.mu.Lock()
	s.doc.leave(s)
	s.doc.mu.Unlock()
	s.opts.Metrics.SessionClosed()
}

// Start sends the initial screen snapshot.
func (s *Session) Start(ctx context.Context) error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	if s.screen == nil {
		return s.send.Send(ctx, &protocol.Message{Type: protocol.KindWarning, Value: "No screens loaded", HasValue: true})
	}
	return s.send.Send(ctx, s.Snapshot(false))
}

// Snapshot renders the current screen.
func (s *Session) Snapshot(reload bool) *protocol.Snapshot {
	return &protocol.Snapshot{
		Kind: protocol.KindScreen,
		Data: &document.Snapshot{Screen: s.screen, Menu: s.doc.Menu(), Reload: reload},
	}
}

// Handle runs one full request cycle: process, compose, send, reflect. It
// returns the message sent to the client, nil when there was nothing to send.
func (s *Session) Handle(ctx context.Context, req protocol.Request) (protocol.Outbound, error) {
	start := time.Now()
	d := s.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = s
	defer func() { d.active = nil }()

	ctx = WithSession(ctx, s)
	raw, outcome := s.process(ctx, req)
	if dlg, ok := raw.(*unit.Dialog); ok {
		s.dialog = dlg
		d.Activate(dlg.Node)
	}
	out := s.Compose(raw)
	s.last = &req

	if out != nil {
		if err := s.send.Send(ctx, out); err != nil {
			s.opts.Metrics.Request(metrics.OutcomeFailed, time.Since(start))
			return out, fmt.Errorf("send result: %w", err)
		}
	}
	if s.opts.Observe != nil {
		s.opts.Observe(req, out)
	}
	if !req.IsScreenSwitch() {
		s.reflect(ctx, req, out)
	}
	s.opts.Metrics.Request(outcome, time.Since(start))
	return out, nil
}

// process turns req into a handler result. Request errors and unexpected
// failures become error messages; they never escape the session.
func (s *Session) process(ctx context.Context, req protocol.Request) (res unit.Result, outcome string) {
	s.request = &req
	if s.opts.Watchdog != nil {
		s.opts.Watchdog.Enter(s.id, req.String())
		defer s.opts.Watchdog.Exit(s.id)
	}
	defer func() {
		s.request = nil
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				"screen", s.screenName(),
				"request", req.String(),
				"panic", r,
				"stack", string(debug.Stack()))
			res, outcome = unit.Error(InternalErrorText), metrics.OutcomeFailed
		}
	}()

	res, err := s.result(ctx, req)
	if err == nil {
		return res, metrics.OutcomeOK
	}
	var re *RequestError
	if errors.As(err, &re) {
		s.logger.Warn("request rejected", "screen", s.screenName(), "request", req.String(), "error", err)
		return unit.Error(re.Message), metrics.OutcomeRejected
	}
	s.logger.Error("handler failed", "screen", s.screenName(), "request", req.String(), "error", err)
	return unit.Error(InternalErrorText), metrics.OutcomeFailed
}

func (s *Session) screenName() string {
	if s.screen == nil {
		return ""
	}
	return s.screen.Name()
}

func (s *Session) result(ctx context.Context, req protocol.Request) (unit.Result, error) {
	if d := s.dialog; d != nil && req.Block == d.Name() && req.Element == nil {
		s.dialog = nil
		s.broadcast(ctx, s.render(unit.CloseDialog(), nil))
		h, ok := d.Event(unit.EventChanged)
		if !ok {
			return nil, nil
		}
		return h(ctx, d.Node, req.Value)
	}
	if req.IsScreenSwitch() {
		name, _ := req.Value.(string)
		sc, ok := s.doc.Screen(name)
		if !ok {
			return nil, &RequestError{
				Code:    ErrCodeUnknownScreen,
				Message: fmt.Sprintf("Unknown screen %q", name),
				Request: req.String(),
			}
		}
		s.show(sc)
		s.dialog = nil
		return unit.UpdateScreen, nil
	}
	n, err := s.find(req)
	if err != nil {
		return nil, err
	}
	return s.processElement(ctx, n, req)
}

// find resolves the request address. A request without a block is looked up
// by element name across the document.
func (s *Session) find(req protocol.Request) (*unit.Node, error) {
	tree := s.Tree()
	if n, ok := tree.Resolve(req.Block, req.ElementName()); ok {
		return n, nil
	}
	if req.Block == "" && req.Element != nil {
		n, err := tree.FindByName(*req.Element)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, document.ErrAmbiguous):
			return nil, &RequestError{
				Code:    ErrCodeAmbiguousName,
				Message: fmt.Sprintf("Element name %q is ambiguous", *req.Element),
				Request: req.String(),
			}
		}
	}
	return nil, &RequestError{
		Code:    ErrCodeUnknownAddress,
		Message: fmt.Sprintf("Element %s/%s is not found", req.Block, req.ElementName()),
		Request: req.String(),
	}
}

func (s *Session) processElement(ctx context.Context, n *unit.Node, req protocol.Request) (unit.Result, error) {
	h, ok := s.doc.handler(n, req.Event)
	if !ok {
		if req.Event == unit.EventChanged {
			return n.Accept(ctx, req.Value)
		}
		if settable(n, req.Event) {
			n.Set(req.Event, req.Value)
			return nil, nil
		}
		return nil, &RequestError{
			Code:    ErrCodeUnknownEvent,
			Message: fmt.Sprintf("%s does not handle the %q event", n, req.Event),
			Request: req.String(),
		}
	}
	res, err := h(ctx, n, req.Value)
	if err != nil {
		return nil, fmt.Errorf("%s %s handler: %w", n, req.Event, err)
	}
	if reply, ok := res.(unit.Reply); ok {
		return unit.NewAnswer(req, reply.Value), nil
	}
	return res, nil
}

// settable reports whether a client event without a handler may write the
// attribute of the same name. name and type identify the node.
func settable(n *unit.Node, attr string) bool {
	switch attr {
	case "name", "type":
		return false
	}
	return !unit.IsPrivate(attr) && n.Has(attr)
}

// register records n as changed during the current cycle. A write that only
// repeats what the client just sent is skipped: the client already shows it.
func (s *Session) register(n *unit.Node, attr string, value any) {
	event := attr
	if attr == "value" {
		event = unit.EventChanged
	}
	if r := s.request; r != nil && attr != "" &&
		r.ElementName() == n.Name() && r.Event == event && reflect.DeepEqual(r.Value, value) {
		return
	}
	s.changed.add(n)
}

// Progress sends a progress message to the client and the reflection group.
// An empty label closes the progress window.
func (s *Session) Progress(ctx context.Context, label string, nodes ...*unit.Node) error {
	out := s.render(unit.Progress(label, nodes...), nil)
	if err := s.send.Send(ctx, out); err != nil {
		return fmt.Errorf("send progress: %w", err)
	}
	s.broadcast(ctx, out)
	return nil
}

// SendPatch delivers a table patch to the client and the reflection group.
// It is used for views that exist only in this document, such as linked
// tables; patches of shared tables travel through the table sink instead.
func (s *Session) SendPatch(ctx context.Context, p protocol.Patch) error {
	s.opts.Metrics.Patch(string(p.Update))
	if err := s.send.Send(ctx, p); err != nil {
		return fmt.Errorf("send patch: %w", err)
	}
	s.broadcast(ctx, p)
	return nil
}

// RunProcess runs task on the worker pool, relaying its progress labels.
func (s *Session) RunProcess(ctx context.Context, task monitor.Task) (any, error) {
	if s.opts.Pool == nil {
		return nil, errors.New("run process: no worker pool configured")
	}
	return s.opts.Pool.Run(ctx, task, func(label any) error {
		if label == nil {
			return s.Progress(ctx, "")
		}
		return s.Progress(ctx, fmt.Sprint(label))
	})
}
