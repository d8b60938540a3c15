package screens

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unisync/internal/document"
	"github.com/roach88/unisync/internal/store"
	"github.com/roach88/unisync/internal/table"
	"github.com/roach88/unisync/internal/unit"
)

func compile(t *testing.T, src string) (*Catalog, error) {
	t.Helper()
	return Compile(cuecontext.New().CompileString(src, cue.Filename("inline.cue")))
}

func noop(context.Context, *unit.Node, any) (unit.Result, error) { return nil, nil }

func testActions() Actions {
	return Actions{"greet": noop, "help": noop}
}

func TestLoad_Directory(t *testing.T) {
	cat, err := Load(filepath.Join("testdata", "app"))
	require.NoError(t, err)

	assert.Equal(t, 1, cat.Files)
	require.Len(t, cat.Screens, 2)
	assert.Equal(t, "Main", cat.Screens[0].Name)
	assert.Equal(t, "Other", cat.Screens[1].Name)
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing"))
	assert.Error(t, err)
}

func TestBuild_CreatesFreshTrees(t *testing.T) {
	cat, err := Load(filepath.Join("testdata", "app"))
	require.NoError(t, err)

	first, problems := cat.Build(context.Background(), BuildOptions{Actions: testActions()})
	require.Empty(t, problems)
	second, _ := cat.Build(context.Background(), BuildOptions{Actions: testActions()})

	require.Len(t, first, 2)
	home := first[0]
	assert.Equal(t, "Main", home.Name())
	assert.Equal(t, "home", home.Attr("icon"))
	assert.Equal(t, 1, first[1].Order())

	tree := document.Tree{Screen: home}
	city, ok := tree.Resolve("Inputs", "city")
	require.True(t, ok)
	assert.Equal(t, "string", city.Type())
	count, ok := tree.Resolve("Inputs", "count")
	require.True(t, ok)
	assert.Equal(t, "number", count.Type())
	assert.Equal(t, int64(3), count.Value())
	greet, ok := tree.Resolve("Inputs", "greet")
	require.True(t, ok)
	_, ok = greet.Event(unit.EventChanged)
	assert.True(t, ok)
	_, ok = tree.Resolve("toolbar", "Help")
	assert.True(t, ok)

	other, _ := document.Tree{Screen: second[0]}.Resolve("Inputs", "city")
	assert.NotSame(t, city, other)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"no screens", `x: 1`, "screen"},
		{"unnamed block", `screen: a: blocks: [{elements: []}]`, "blocks.name"},
		{"unnamed element", `screen: a: blocks: [{name: "b", elements: [{value: 1}]}]`, "elements.name"},
		{"non-string action", `screen: a: toolbar: [{name: "x", on: changed: 1}]`, "on.changed"},
		{"link without master", `screen: a: blocks: [{name: "b", elements: [{name: "t", link: {}}]}]`, "link.master"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, tt.src)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompile_CUEErrorCarriesPosition(t *testing.T) {
	_, err := compile(t, `screen: a: order: 1 & 2`)

	var ce *CompileError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "cue", ce.Field)
	assert.True(t, ce.Pos.IsValid())
}

func TestBuild_HeaderAndLangDefaults(t *testing.T) {
	cat, err := compile(t, `
screen: plain: blocks: [{name: "b", elements: [{name: "x"}]}]
screen: own: {header: "Own", blocks: [{name: "b", elements: [{name: "x"}]}]}
`)
	require.NoError(t, err)

	built, problems := cat.Build(context.Background(), BuildOptions{Header: "My app", Lang: "de"})
	require.Empty(t, problems)
	require.Len(t, built, 2)

	byName := map[string]*document.Screen{}
	for _, s := range built {
		byName[s.Name()] = s
	}
	assert.Equal(t, "My app", byName["plain"].Attr("header"))
	assert.Equal(t, "de", byName["plain"].Attr("lang"))
	assert.Equal(t, "Own", byName["own"].Attr("header"))
}

func TestBuild_InvalidScreensAreLeftOut(t *testing.T) {
	cat, err := compile(t, `
screen: good: blocks: [{name: "b", elements: [{name: "x"}]}]
screen: dup: blocks: [{name: "b", elements: [{name: "x"}, {name: "x"}]}]
screen: action: blocks: [{name: "b", elements: [{name: "x", on: changed: "nope"}]}]
screen: storage: blocks: [{name: "b", elements: [{name: "t", type: "table", id: "t"}]}]
`)
	require.NoError(t, err)

	built, problems := cat.Build(context.Background(), BuildOptions{Actions: testActions()})

	require.Len(t, built, 1)
	assert.Equal(t, "good", built[0].Name())
	require.Len(t, problems, 3)
	assert.True(t, document.IsValidationError(problems[0]))
	assert.Contains(t, problems[1].Error(), `unknown action "nope"`)
	assert.Contains(t, problems[2].Error(), "needs storage")
}

func TestBuild_PersistentTablesAndLinks(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "app.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	reg := table.NewRegistry(st, table.Options{Limit: 10})
	_, _, err = reg.Open(context.Background(), "categories", []string{"Name"}, [][]any{{"Animals"}}, 0)
	require.NoError(t, err)

	cat, err := compile(t, `
screen: data: blocks: [{
	name: "Data"
	elements: [
		{name: "category", type: "select", options: ["Animals"]},
		{name: "items", type: "table", id: "items", headers: ["Name"], rows: [["cat"], ["fern"]],
		 link: {master: "category", target: "categories", key: "Name"}},
	]
}]
`)
	require.NoError(t, err)

	built, problems := cat.Build(context.Background(), BuildOptions{Tables: reg})

	require.Empty(t, problems)
	items, ok := document.Tree{Screen: built[0]}.Resolve("Data", "items")
	require.True(t, ok)
	l, ok := table.ListOf(items)
	require.True(t, ok)
	assert.Equal(t, 2, l.Len())
	_, ok = items.Attr("_link").(*table.Link)
	assert.True(t, ok)
}
