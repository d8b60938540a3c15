// Package screens compiles CUE screen definitions into document trees.
//
// A definition directory holds CUE files contributing to one value:
//
//	screen: main: {
//		name:  "Main"
//		order: 0
//		blocks: [{
//			name: "Inputs"
//			elements: [{name: "city", type: "string", value: ""}]
//		}]
//		toolbar: [{name: "Help", type: "command", on: changed: "help"}]
//	}
//
// Blocks and elements may be nested in lists to lay them out in rows. An
// element's on field maps events to names of Go handlers given to Build. A
// table element with an id is backed by a persistent table; its link field
// filters it by another element of the same screen.
//
// Load compiles the definitions once; Build instantiates a fresh tree from
// them for every new document.
package screens

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// ElementDef is one compiled element.
type ElementDef struct {
	Attrs map[string]any
	On    map[string]string
	Link  *LinkDef
	Pos   token.Pos
}

// Name returns the element name.
func (e *ElementDef) Name() string {
	name, _ := e.Attrs["name"].(string)
	return name
}

// LinkDef filters a table element by the selection of Master.
type LinkDef struct {
	Master   string
	Target   string
	Key      string
	Relation bool
}

// BlockDef is one compiled block. Elements holds *ElementDef and nested
// []any layout rows.
type BlockDef struct {
	Attrs    map[string]any
	Elements []any
	Pos      token.Pos
}

// ScreenDef is one compiled screen. Blocks holds *BlockDef and nested []any
// layout rows.
type ScreenDef struct {
	Key     string
	Name    string
	Attrs   map[string]any
	Blocks  []any
	Toolbar []*ElementDef
	Pos     token.Pos
}

// Catalog is the compiled set of screen definitions.
type Catalog struct {
	Screens []*ScreenDef
	Files   int
}

// Load compiles the CUE files in dir.
func Load(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("screens directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("screens directory: not a directory: %s", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	value := cuecontext.New().BuildInstance(inst)
	cat, err := Compile(value)
	if err != nil {
		return nil, err
	}
	cat.Files = len(files)
	return cat, nil
}

// Compile extracts the screen definitions of value.
func Compile(value cue.Value) (*Catalog, error) {
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	screensVal := value.LookupPath(cue.ParsePath("screen"))
	if !screensVal.Exists() {
		return nil, &CompileError{Field: "screen", Message: "no screens defined", Pos: value.Pos()}
	}
	iter, err := screensVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	cat := &Catalog{}
	for iter.Next() {
		def, err := compileScreen(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		cat.Screens = append(cat.Screens, def)
	}
	sort.SliceStable(cat.Screens, func(i, j int) bool {
		return order(cat.Screens[i]) < order(cat.Screens[j])
	})
	return cat, nil
}

func order(s *ScreenDef) int64 {
	n, _ := s.Attrs["order"].(int64)
	return n
}

func compileScreen(key string, v cue.Value) (*ScreenDef, error) {
	attrs, err := structAttrs(v, "blocks", "toolbar")
	if err != nil {
		return nil, err
	}
	def := &ScreenDef{Key: key, Attrs: attrs, Pos: v.Pos()}
	def.Name, _ = attrs["name"].(string)
	if def.Name == "" {
		def.Name = key
		attrs["name"] = key
	}

	if blocks := v.LookupPath(cue.ParsePath("blocks")); blocks.Exists() {
		def.Blocks, err = layout(blocks, compileBlock)
		if err != nil {
			return nil, err
		}
	}
	if toolbar := v.LookupPath(cue.ParsePath("toolbar")); toolbar.Exists() {
		iter, err := toolbar.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			el, err := compileElement(iter.Value())
			if err != nil {
				return nil, err
			}
			def.Toolbar = append(def.Toolbar, el)
		}
	}
	return def, nil
}

// layout compiles a list whose items are structs or nested lists of them.
func layout(v cue.Value, item func(cue.Value) (any, error)) ([]any, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := []any{}
	for iter.Next() {
		e := iter.Value()
		if e.IncompleteKind() == cue.ListKind {
			row, err := layout(e, item)
			if err != nil {
				return nil, err
			}
			out = append(out, row)
			continue
		}
		compiled, err := item(e)
		if err != nil {
			return nil, err
		}
		out = append(out, compiled)
	}
	return out, nil
}

func compileBlock(v cue.Value) (any, error) {
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: "blocks", Message: "a block must be a struct", Pos: v.Pos()}
	}
	attrs, err := structAttrs(v, "elements")
	if err != nil {
		return nil, err
	}
	if _, ok := attrs["name"].(string); !ok {
		return nil, &CompileError{Field: "blocks.name", Message: "block name is required", Pos: v.Pos()}
	}
	def := &BlockDef{Attrs: attrs, Elements: []any{}, Pos: v.Pos()}
	if els := v.LookupPath(cue.ParsePath("elements")); els.Exists() {
		def.Elements, err = layout(els, func(e cue.Value) (any, error) { return compileElement(e) })
		if err != nil {
			return nil, err
		}
	}
	return def, nil
}

func compileElement(v cue.Value) (*ElementDef, error) {
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: "elements", Message: "an element must be a struct", Pos: v.Pos()}
	}
	attrs, err := structAttrs(v, "on", "link")
	if err != nil {
		return nil, err
	}
	def := &ElementDef{Attrs: attrs, On: map[string]string{}, Pos: v.Pos()}
	if _, ok := attrs["name"].(string); !ok {
		if t, _ := attrs["type"].(string); t != "line" {
			return nil, &CompileError{Field: "elements.name", Message: "element name is required", Pos: v.Pos()}
		}
	}

	if on := v.LookupPath(cue.ParsePath("on")); on.Exists() {
		iter, err := on.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			action, err := iter.Value().String()
			if err != nil {
				return nil, &CompileError{Field: "on." + iter.Label(), Message: "action must be a string", Pos: iter.Value().Pos()}
			}
			def.On[iter.Label()] = action
		}
	}

	if link := v.LookupPath(cue.ParsePath("link")); link.Exists() {
		raw, err := decode(link)
		if err != nil {
			return nil, err
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, &CompileError{Field: "link", Message: "link must be a struct", Pos: link.Pos()}
		}
		def.Link = &LinkDef{}
		def.Link.Master, _ = m["master"].(string)
		def.Link.Target, _ = m["target"].(string)
		def.Link.Key, _ = m["key"].(string)
		def.Link.Relation, _ = m["relation"].(bool)
		if def.Link.Master == "" {
			return nil, &CompileError{Field: "link.master", Message: "link master is required", Pos: link.Pos()}
		}
	}
	return def, nil
}

// structAttrs decodes the fields of v except skip.
func structAttrs(v cue.Value, skip ...string) (map[string]any, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	attrs := map[string]any{}
next:
	for iter.Next() {
		for _, s := range skip {
			if iter.Label() == s {
				continue next
			}
		}
		val, err := decode(iter.Value())
		if err != nil {
			return nil, err
		}
		attrs[iter.Label()] = val
	}
	return attrs, nil
}

// decode converts a concrete CUE value to plain Go values: int64, float64,
// string, bool, nil, []any and map[string]any.
func decode(v cue.Value) (any, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		b, err := v.Bool()
		return b, formatCUEError(err)
	case cue.IntKind:
		n, err := v.Int64()
		return n, formatCUEError(err)
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		return f, formatCUEError(err)
	case cue.StringKind:
		s, err := v.String()
		return s, formatCUEError(err)
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := []any{}
		for iter.Next() {
			e, err := decode(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case cue.StructKind:
		return structAttrs(v)
	}
	return nil, &CompileError{Field: "value", Message: fmt.Sprintf("unsupported value %v", v), Pos: v.Pos()}
}
