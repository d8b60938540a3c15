package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/unit"
)

func sampleScreen() *Screen {
	inputs := unit.Block("Inputs", []any{unit.Edit("city", ""), unit.Edit("zip", 0)}, unit.Line())
	output := unit.Block("Output", unit.Text("result"), unit.Line())
	return NewScreen("Main", []any{inputs, []any{output}}, []any{unit.Button("Help", nil)})
}

func TestTree_PathRoundTrip(t *testing.T) {
	s := sampleScreen()
	tree := Tree{Screen: s}

	for _, n := range s.Nodes() {
		if n.Type() == "line" {
			continue
		}
		p, ok := tree.FindPath(n)
		require.True(t, ok, "path for %s", n)
		got, ok := tree.ResolvePath(p)
		require.True(t, ok, "resolve %v", p)
		assert.Same(t, n, got, "resolve(find_path(%s))", n)
	}
}

func TestTree_FindPathShapes(t *testing.T) {
	s := sampleScreen()
	tree := Tree{Screen: s}

	block, _ := tree.Resolve("Inputs", "")
	p, _ := tree.FindPath(block)
	assert.Equal(t, protocol.Path{"Inputs"}, p)

	city, _ := tree.Resolve("Inputs", "city")
	p, _ = tree.FindPath(city)
	assert.Equal(t, protocol.Path{"Inputs", "city"}, p)

	help, ok := tree.Resolve("toolbar", "Help")
	require.True(t, ok)
	p, _ = tree.FindPath(help)
	assert.Equal(t, protocol.Path{"toolbar", "Help"}, p)
}

func TestTree_FindPathUsesIdentity(t *testing.T) {
	tree := Tree{Screen: sampleScreen()}

	_, ok := tree.FindPath(unit.Edit("city", ""))
	assert.False(t, ok, "an equal but distinct node has no path")
	_, ok = tree.Resolve("Inputs", "nope")
	assert.False(t, ok)
	_, ok = tree.Resolve("Nope", "")
	assert.False(t, ok)
}

func TestTree_DialogWithContentIsTheWholeTree(t *testing.T) {
	s := sampleScreen()
	name := unit.Edit("New name", "")
	d := unit.NewDialog("Rename", nil, name)
	tree := Tree{Screen: s, Dialog: d}

	p, ok := tree.FindPath(name)
	require.True(t, ok)
	assert.Equal(t, protocol.Path{"Rename", "New name"}, p)

	city, _ := Tree{Screen: s}.Resolve("Inputs", "city")
	_, ok = tree.FindPath(city)
	assert.False(t, ok, "screen nodes are hidden by a dialog with content")

	got, ok := tree.Resolve("Rename", "")
	require.True(t, ok)
	assert.Same(t, d.Node, got)
}

func TestTree_DialogWithoutContentKeepsScreen(t *testing.T) {
	s := sampleScreen()
	d := unit.NewDialog("Sure?", nil)
	tree := Tree{Screen: s, Dialog: d}

	city, ok := tree.Resolve("Inputs", "city")
	require.True(t, ok)
	p, ok := tree.FindPath(city)
	require.True(t, ok)
	assert.Equal(t, protocol.Path{"Inputs", "city"}, p)

	got, ok := tree.Resolve("Sure?", "")
	require.True(t, ok)
	assert.Same(t, d.Node, got)
}

func TestTree_FindByName(t *testing.T) {
	s := sampleScreen()
	tree := Tree{Screen: s}

	n, err := tree.FindByName("city")
	require.NoError(t, err)
	assert.Equal(t, "city", n.Name())

	_, err = tree.FindByName("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = tree.FindByName("__Line__")
	assert.ErrorIs(t, err, ErrAmbiguous, "two lines share a name; lookup fails closed")
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, Validate(sampleScreen()))
}

func TestValidate_Problems(t *testing.T) {
	shared := unit.Edit("shared", "")
	tests := []struct {
		name   string
		screen *Screen
		want   string
	}{
		{
			name:   "duplicate sibling",
			screen: NewScreen("S", []any{unit.Block("B", unit.Edit("x", ""), unit.Edit("x", 1))}, nil),
			want:   "duplicate name in S/B",
		},
		{
			name: "duplicate block",
			screen: NewScreen("S", []any{
				unit.Block("B", unit.Edit("x", "")), unit.Block("B", unit.Edit("y", "")),
			}, nil),
			want: "duplicate block name",
		},
		{
			name:   "block in block",
			screen: NewScreen("S", []any{unit.Block("B", unit.Block("Inner"))}, nil),
			want:   "block inside a block",
		},
		{
			name: "node placed twice",
			screen: NewScreen("S", []any{
				unit.Block("A", shared), unit.Block("B", shared),
			}, nil),
			want: "already placed at S/A/shared",
		},
		{
			name:   "element among blocks",
			screen: NewScreen("S", []any{unit.Edit("loose", "")}, nil),
			want:   "placed among blocks",
		},
		{
			name:   "unnamed block",
			screen: NewScreen("S", []any{unit.Block("")}, nil),
			want:   "block has no name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.screen)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_LinesMayRepeat(t *testing.T) {
	s := NewScreen("S", []any{unit.Block("B", unit.Line(), unit.Edit("x", ""), unit.Line())}, nil)
	assert.NoError(t, Validate(s))
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	s := NewScreen("Main", []any{unit.Block("B", unit.Edit("x", "v"))}, nil, unit.Attrs{"icon": "home"})
	snap := &Snapshot{Screen: s, Menu: []MenuItem{{"Main", "home"}}, Reload: true}

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Main","type":"screen","icon":"home","order":0,"header":null,
		"blocks":[{"name":"B","type":"block","value":[{"name":"x","type":"string","value":"v"}]}],
		"toolbar":[],"menu":[["Main","home"]],"reload":true}`, string(data))
}
