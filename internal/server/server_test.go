package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unisync/internal/document"
	"github.com/roach88/unisync/internal/metrics"
	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/session"
	"github.com/roach88/unisync/internal/store"
	"github.com/roach88/unisync/internal/table"
	"github.com/roach88/unisync/internal/unit"
)

type outbox struct {
	mu   sync.Mutex
	msgs []protocol.Outbound
}

func (o *outbox) Send(_ context.Context, out protocol.Outbound) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, out)
	return nil
}

func (o *outbox) take() []protocol.Outbound {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.msgs
	o.msgs = nil
	return msgs
}

func (o *outbox) patches() []protocol.Patch {
	var out []protocol.Patch
	for _, m := range o.take() {
		if p, ok := m.(protocol.Patch); ok {
			out = append(out, p)
		}
	}
	return out
}

// env is a server whose documents show the persistent items table.
type env struct {
	srv   *Server
	reg   *table.Registry
	loads int
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "app.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := &env{}
	cfg.Patches = NewQueue()
	e.reg = table.NewRegistry(st, table.Options{Sink: cfg.Patches, Metrics: cfg.Metrics, Limit: 10})
	startup, err := e.document(context.Background())
	require.NoError(t, err)
	e.srv = New(startup, func(ctx context.Context) (*session.Document, error) {
		e.loads++
		return e.document(ctx)
	}, cfg)
	return e
}

func (e *env) document(ctx context.Context) (*session.Document, error) {
	items := unit.Table("items", []any{"Name"}, []any{[]any{"cat"}, []any{"dog"}}, unit.Attrs{"id": "items"})
	if err := table.Bind(ctx, e.reg, items); err != nil {
		return nil, err
	}
	main := document.NewScreen("Main", []any{
		unit.Block("Data", items, unit.Edit("note", "")),
	}, nil)
	other := document.NewScreen("Other", []any{unit.Block("B", unit.Edit("x", ""))}, nil, unit.Attrs{"order": 1})
	return session.NewDocument([]*document.Screen{main, other}), nil
}

func (e *env) connect(t *testing.T, share string) (*session.Session, *outbox) {
	t.Helper()
	box := &outbox{}
	sess, err := e.srv.Connect(context.Background(), box, share)
	require.NoError(t, err)
	snap, ok := box.take()[0].(*protocol.Snapshot)
	require.True(t, ok, "a new connection starts with the screen")
	assert.Equal(t, protocol.KindScreen, snap.Kind)
	return sess, box
}

func process(t *testing.T, srv *Server, sess *session.Session, raw string) {
	t.Helper()
	closed, err := srv.Process(context.Background(), sess, []byte(raw))
	require.NoError(t, err)
	require.False(t, closed)
}

func TestConnect_FirstAdoptsStartupDocument(t *testing.T) {
	e := newEnv(t, Config{})

	a, _ := e.connect(t, "")
	b, _ := e.connect(t, "")

	assert.Equal(t, 1, e.loads)
	assert.NotSame(t, a.Document(), b.Document())
	assert.Len(t, e.srv.Sessions(), 2)
	assert.Len(t, a.ID(), 36)
}

func TestConnect_Share(t *testing.T) {
	e := newEnv(t, Config{Share: true})
	a, _ := e.connect(t, "")

	b, _ := e.connect(t, a.ID())

	assert.Same(t, a.Document(), b.Document())
	assert.Len(t, a.Document().Group(), 2)
	assert.Equal(t, 0, e.loads)
}

func TestConnect_ShareUnknownSessionIsRefused(t *testing.T) {
	e := newEnv(t, Config{Share: true})
	box := &outbox{}

	_, err := e.srv.Connect(context.Background(), box, "nope")

	assert.ErrorIs(t, err, ErrUnknownSession)
	msgs := box.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindError, msgs[0].OutboundType())
	assert.Empty(t, e.srv.Sessions())
}

func TestConnect_ShareIgnoredWhenDisabled(t *testing.T) {
	e := newEnv(t, Config{})
	a, _ := e.connect(t, "")

	b, _ := e.connect(t, a.ID())

	assert.NotSame(t, a.Document(), b.Document())
}

func TestConnect_MirrorJoinsLastSession(t *testing.T) {
	e := newEnv(t, Config{Mirror: true})
	a, _ := e.connect(t, "")
	b, _ := e.connect(t, "")
	c, _ := e.connect(t, "")

	assert.Same(t, a.Document(), b.Document())
	assert.Same(t, a.Document(), c.Document())
	assert.Len(t, a.Document().Group(), 3)

	e.srv.Disconnect(c)
	d, _ := e.connect(t, "")
	assert.NotSame(t, a.Document(), d.Document(), "a disconnected last session is forgotten")
}

func TestProcess_Frames(t *testing.T) {
	e := newEnv(t, Config{})
	sess, box := e.connect(t, "")

	process(t, e.srv, sess, `[]`)
	msgs := box.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindWarning, msgs[0].OutboundType())

	process(t, e.srv, sess, `{not json`)
	msgs = box.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindError, msgs[0].OutboundType())

	process(t, e.srv, sess, `[{"block":"Data","element":"note","event":"changed","value":"a"},
		{"block":"root","element":null,"event":"changed","value":"Other"}]`)
	msgs = box.take()
	require.Len(t, msgs, 1, "the echoed note value sends nothing")
	assert.Equal(t, protocol.KindScreen, msgs[0].OutboundType())
	assert.Equal(t, "Other", sess.Screen().Name())

	closed, err := e.srv.Process(context.Background(), sess, []byte(" close "))
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestProcess_FansOutTablePatches(t *testing.T) {
	e := newEnv(t, Config{})
	a, boxA := e.connect(t, "")
	_, boxB := e.connect(t, "")
	c, boxC := e.connect(t, "")
	process(t, e.srv, c, `{"block":"root","element":null,"event":"changed","value":"Other"}`)
	boxC.take()

	process(t, e.srv, a, `{"block":"Data","element":"items","event":"append","value":["ant"]}`)

	for _, box := range []*outbox{boxA, boxB} {
		patches := box.patches()
		require.Len(t, patches, 1)
		assert.Equal(t, protocol.PatchAdd, patches[0].Update)
		assert.Equal(t, 2, patches[0].Index)
		assert.Equal(t, "Data", patches[0].Block)
		assert.Equal(t, "items", patches[0].Element)
	}
	assert.Empty(t, boxC.patches(), "sessions on other screens get nothing")

	process(t, e.srv, a, `{"block":"Data","element":"items","event":"delete","value":0}`)

	assert.Empty(t, boxA.patches(), "the origin already removed the row")
	patches := boxB.patches()
	require.Len(t, patches, 1)
	assert.Equal(t, protocol.PatchDelete, patches[0].Update)
	assert.Equal(t, 0, e.srv.cfg.Patches.Len())
}

func TestBuildShareMap_SkipsLinkedTables(t *testing.T) {
	e := newEnv(t, Config{})
	ctx := context.Background()
	_, _, err := e.reg.Open(ctx, "kinds", []string{"Name"}, [][]any{{"pet"}}, 0)
	require.NoError(t, err)

	detail := unit.Table("pets", []any{"Name"}, nil, unit.Attrs{"id": "pets"})
	require.NoError(t, table.Bind(ctx, e.reg, detail))
	kind := unit.Select("kind", nil, []any{"pet"})
	_, err = table.NewLink(ctx, e.reg, detail, kind, table.LinkOptions{Target: "kinds", Key: "Name"})
	require.NoError(t, err)
	plain := unit.Table("kinds", []any{"Name"}, nil, unit.Attrs{"id": "kinds"})
	require.NoError(t, table.Bind(ctx, e.reg, plain))

	doc := session.NewDocument([]*document.Screen{
		document.NewScreen("S", []any{unit.Block("B", kind, detail, plain)}, nil),
	})

	assert.Equal(t, ShareMap{"kinds": {"S": {{"B", "kinds"}}}}, BuildShareMap(doc))
	assert.Equal(t, ShareMap{"items": {"Main": {{"Data", "items"}}}}, e.srv.Share())
}

func TestQueue(t *testing.T) {
	ctx := context.Background()
	sess := session.New("s1", session.NewDocument(nil), &outbox{}, session.Options{})
	q := NewQueue()
	q.Publish(session.WithSession(ctx, sess), "a", protocol.Patch{Update: protocol.PatchAdd})
	q.Publish(ctx, "b", protocol.Patch{Update: protocol.PatchDelete})

	got := q.Drain()

	require.Len(t, got, 2)
	assert.Equal(t, Pending{Table: "a", Origin: "s1", Patch: protocol.Patch{Update: protocol.PatchAdd}}, got[0])
	assert.Equal(t, "b", got[1].Table)
	assert.Empty(t, got[1].Origin, "a write outside a request cycle has no origin")
	assert.Nil(t, q.Drain())

	q.Close()
	q.Publish(ctx, "a", protocol.Patch{})
	assert.Equal(t, 0, q.Len())
}

func TestProcess_DocumentsRunInParallel(t *testing.T) {
	e := newEnv(t, Config{})
	a, _ := e.connect(t, "")
	b, boxB := e.connect(t, "")
	require.NotSame(t, a.Document(), b.Document())

	entered, release := make(chan struct{}), make(chan struct{})
	a.Document().Handle("note", unit.EventChanged, func(context.Context, *unit.Node, any) (unit.Result, error) {
		close(entered)
		<-release
		return nil, nil
	})

	doneA := make(chan error, 1)
	go func() {
		_, err := e.srv.Process(context.Background(), a, []byte(`{"block":"Data","element":"note","event":"changed","value":"slow"}`))
		doneA <- err
	}()
	<-entered

	doneB := make(chan error, 1)
	go func() {
		_, err := e.srv.Process(context.Background(), b,
			[]byte(`{"block":"Data","element":"items","event":"append","value":["ant"]}`))
		doneB <- err
	}()
	select {
	case err := <-doneB:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("a blocked handler on one document stalled another document")
	}
	patches := boxB.patches()
	require.Len(t, patches, 1)
	assert.Equal(t, protocol.PatchAdd, patches[0].Update)
	assert.Len(t, e.srv.Sessions(), 2)

	close(release)
	require.NoError(t, <-doneA)
}

func TestProcess_PatchOriginSurvivesForeignDrain(t *testing.T) {
	e := newEnv(t, Config{})
	a, boxA := e.connect(t, "")
	b, boxB := e.connect(t, "")

	// a's patch is still queued when b's cycle drains the queue.
	ctx := session.WithSession(context.Background(), a)
	list, ok := e.reg.List("items")
	require.True(t, ok)
	_, err := list.Delete(ctx, 0)
	require.NoError(t, err)
	process(t, e.srv, b, `{"block":"Data","element":"note","event":"changed","value":"x"}`)

	assert.Empty(t, boxA.patches(), "the origin is skipped even when another cycle flushes")
	patches := boxB.patches()
	require.Len(t, patches, 1)
	assert.Equal(t, protocol.PatchDelete, patches[0].Update)
}

func TestProcess_CountsEachPatchOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEnv(t, Config{Metrics: metrics.New(reg)})
	a, _ := e.connect(t, "")
	e.connect(t, "")

	process(t, e.srv, a, `{"block":"Data","element":"items","event":"append","value":["ant"]}`)

	expected := `
# HELP unisync_patches_total Table patches emitted by kind
# TYPE unisync_patches_total counter
unisync_patches_total{kind="add"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "unisync_patches_total"))
}

func TestRouter_WebSocketAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	e := newEnv(t, Config{Metrics: metrics.New(reg), Gatherer: reg})
	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snap map[string]any
	require.NoError(t, ws.ReadJSON(&snap))
	assert.Equal(t, "Main", snap["name"])

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"block":"Data","element":"items","event":"get","value":0}`)))
	var answer map[string]any
	require.NoError(t, ws.ReadJSON(&answer))
	assert.Equal(t, "get", answer["type"])

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("close")))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
