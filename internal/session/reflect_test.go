package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/unit"
)

func TestReflection_GroupMembership(t *testing.T) {
	f := newFixture()
	s1, _ := f.session("s1")
	s2, _ := f.session("s2")
	s3, _ := f.session("s3")

	assert.Empty(t, f.doc.Group())
	require.NoError(t, s2.Join(s1))
	assert.Equal(t, []*Session{s1, s2}, f.doc.Group())
	require.NoError(t, s3.Join(s1))
	assert.Len(t, f.doc.Group(), 3)

	s3.Close()
	assert.Len(t, f.doc.Group(), 2)
	s2.Close()
	assert.Empty(t, f.doc.Group(), "a lone member collapses the group")
}

func TestReflection_JoinNeedsSharedDocument(t *testing.T) {
	f, g := newFixture(), newFixture()
	s1, _ := f.session("s1")
	s2, _ := g.session("s2")

	assert.Error(t, s2.Join(s1))
}

func TestReflection_OnlySameScreenPeersReceive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s1, box1 := f.session("s1")
	s2, box2 := f.session("s2")
	s3, box3 := f.session("s3")
	require.NoError(t, s2.Join(s1))
	require.NoError(t, s3.Join(s1))

	_, err := s3.Handle(ctx, protocol.ScreenSwitch("Other"))
	require.NoError(t, err)
	assert.Empty(t, box1.take(), "screen switches are private")
	assert.Empty(t, box2.take())
	box3.take()

	_, err = s1.Handle(ctx, changed("Inputs", "greet", nil))
	require.NoError(t, err)

	require.Len(t, box1.take(), 1)
	got := box2.take()
	require.Len(t, got, 2, "the result plus the pressed button")
	assert.Contains(t, encode(t, got[0]), `"Hello from "`)
	assert.JSONEq(t, `{"type":"update","updates":[
		{"path":["Inputs","greet"],"data":{"name":"greet","type":"command","value":null,"changed":true}}]}`,
		encode(t, got[1]))
	assert.Empty(t, box3.take(), "a peer on another screen is unaffected")
}

func TestReflection_EditEchoReachesPeersOnly(t *testing.T) {
	f := newFixture()
	s1, box1 := f.session("s1")
	s2, box2 := f.session("s2")
	require.NoError(t, s2.Join(s1))

	_, err := s1.Handle(context.Background(), changed("Inputs", "city", "Oslo"))
	require.NoError(t, err)

	assert.Empty(t, box1.take())
	got := box2.take()
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"type":"update","updates":[
		{"path":["Inputs","city"],"data":{"name":"city","type":"string","value":"Oslo"}}]}`, encode(t, got[0]))
}

func TestReflection_AnswersStayPrivate(t *testing.T) {
	f := newFixture()
	s1, _ := f.session("s1")
	s2, box2 := f.session("s2")
	require.NoError(t, s2.Join(s1))
	f.city.On(unit.EventComplete, unit.SmartComplete([]string{"Oslo"}, 1, 10))

	_, err := s1.Handle(context.Background(), protocol.NewRequest("Inputs", "city", "complete", "o"))
	require.NoError(t, err)

	for _, out := range box2.take() {
		assert.NotEqual(t, "complete", out.OutboundType())
	}
}

func TestReflection_DialogCloseIsBroadcast(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s1, _ := f.session("s1")
	s2, box2 := f.session("s2")
	require.NoError(t, s2.Join(s1))
	f.doc.Handle("greet", unit.EventChanged, func(context.Context, *unit.Node, any) (unit.Result, error) {
		return unit.NewDialog("Sure?", func(context.Context, *unit.Node, any) (unit.Result, error) {
			f.greeting.Set("value", "confirmed")
			return nil, nil
		}), nil
	})

	_, err := s1.Handle(ctx, changed("Inputs", "greet", nil))
	require.NoError(t, err)
	assert.Empty(t, box2.take(), "dialogs are not reflected")

	_, err = s1.Handle(ctx, protocol.Request{Block: "Sure?", Event: "changed", Value: "Ok"})
	require.NoError(t, err)

	got := box2.take()
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"type":"action","value":"close"}`, encode(t, got[0]))
	assert.Contains(t, encode(t, got[1]), `"confirmed"`)
}

func TestReflection_ProgressReachesGroup(t *testing.T) {
	f := newFixture()
	s1, box1 := f.session("s1")
	s2, box2 := f.session("s2")
	require.NoError(t, s2.Join(s1))

	require.NoError(t, s1.Progress(context.Background(), "working", f.greeting))

	want := `{"type":"progress","value":"working","updates":[
		{"path":["Output","greeting"],"data":{"name":"greeting","type":"string","value":""}}]}`
	require.Len(t, box1.take(), 1)
	got := box2.take()
	require.Len(t, got, 1)
	assert.JSONEq(t, want, encode(t, got[0]))
}
