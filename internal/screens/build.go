package screens

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/unisync/internal/document"
	"github.com/roach88/unisync/internal/table"
	"github.com/roach88/unisync/internal/unit"
)

// Actions maps the handler names used in definitions to Go handlers.
type Actions map[string]unit.Handler

// BuildOptions are the collaborators of Build.
type BuildOptions struct {
	Actions Actions
	// Tables backs table elements that have an id. Without it such
	// elements make their screen unusable.
	Tables *table.Registry

	// Header and Lang are the screen defaults of those attributes.
	Header string
	Lang   string
}

// builder instantiates one screen.
type builder struct {
	ctx   context.Context
	opts  BuildOptions
	def   *ScreenDef
	links []pendingLink
}

type pendingLink struct {
	node *unit.Node
	def  *LinkDef
}

// Build instantiates a fresh node tree for every screen. Screens that fail to
// build or validate are left out; their problems are returned.
func (c *Catalog) Build(ctx context.Context, opts BuildOptions) ([]*document.Screen, []error) {
	var screens []*document.Screen
	var problems []error
	for _, def := range c.Screens {
		b := &builder{ctx: ctx, opts: opts, def: def}
		s, err := b.screen()
		if err != nil {
			problems = append(problems, fmt.Errorf("screen %s: %w", def.Name, err))
			continue
		}
		screens = append(screens, s)
	}
	return screens, problems
}

func (b *builder) screen() (*document.Screen, error) {
	blocks, err := b.layout(b.def.Blocks)
	if err != nil {
		return nil, err
	}
	toolbar := make([]any, 0, len(b.def.Toolbar))
	for _, el := range b.def.Toolbar {
		n, err := b.element(el)
		if err != nil {
			return nil, err
		}
		toolbar = append(toolbar, n)
	}
	defaults := unit.Attrs{}
	if b.opts.Header != "" {
		defaults["header"] = b.opts.Header
	}
	if b.opts.Lang != "" {
		defaults["lang"] = b.opts.Lang
	}
	attrs := maps.Clone(b.def.Attrs)
	delete(attrs, "name")
	s := document.NewScreen(b.def.Name, blocks, toolbar, defaults, attrs)
	if err := document.Validate(s); err != nil {
		return nil, err
	}

	tree := document.Tree{Screen: s}
	for _, l := range b.links {
		master, err := tree.FindByName(l.def.Master)
		if err != nil {
			return nil, &CompileError{Field: "link.master", Message: fmt.Sprintf("%s: %v", l.def.Master, err)}
		}
		if _, err := table.NewLink(b.ctx, b.opts.Tables, l.node, master, table.LinkOptions{
			Target:       l.def.Target,
			Key:          l.def.Key,
			WithRelation: l.def.Relation,
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (b *builder) layout(items []any) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, it := range items {
		switch x := it.(type) {
		case []any:
			row, err := b.layout(x)
			if err != nil {
				return nil, err
			}
			out = append(out, row)
		case *BlockDef:
			n, err := b.block(x)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		case *ElementDef:
			n, err := b.element(x)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
	}
	return out, nil
}

func (b *builder) block(def *BlockDef) (*unit.Node, error) {
	elements, err := b.layout(def.Elements)
	if err != nil {
		return nil, err
	}
	name, _ := def.Attrs["name"].(string)
	n := unit.Block(name, elements...)
	for k, v := range def.Attrs {
		if k != "name" {
			n.Store(k, v)
		}
	}
	return n, nil
}

// element creates the node of def with the defaults of its widget type.
func (b *builder) element(def *ElementDef) (*unit.Node, error) {
	attrs := maps.Clone(def.Attrs)
	name, _ := attrs["name"].(string)
	typ, _ := attrs["type"].(string)
	value := attrs["value"]
	delete(attrs, "name")
	delete(attrs, "type")
	delete(attrs, "value")

	var n *unit.Node
	switch typ {
	case "line":
		n = unit.Line()
	case "table":
		headers, _ := attrs["headers"].([]any)
		rows, _ := attrs["rows"].([]any)
		n = unit.Table(name, headers, rows, attrs)
		n.Store("value", value)
	case "command":
		n = unit.Button(name, nil, attrs)
	case "":
		n = unit.Edit(name, value, attrs)
	default:
		n = unit.New(name, typ, value, attrs)
	}

	for event, action := range def.On {
		h, ok := b.opts.Actions[action]
		if !ok {
			return nil, &CompileError{
				Field:   "on." + event,
				Message: fmt.Sprintf("unknown action %q", action),
				Pos:     def.Pos,
			}
		}
		n.On(event, h)
	}

	if table.Persistent(n) {
		if b.opts.Tables == nil {
			return nil, &CompileError{Field: "id", Message: fmt.Sprintf("table %s needs storage", name), Pos: def.Pos}
		}
		if err := table.Bind(b.ctx, b.opts.Tables, n); err != nil {
			return nil, err
		}
	}
	if def.Link != nil {
		if !table.Persistent(n) {
			return nil, &CompileError{Field: "link", Message: fmt.Sprintf("%s: only persistent tables can be linked", name), Pos: def.Pos}
		}
		b.links = append(b.links, pendingLink{node: n, def: def.Link})
	}
	return n, nil
}
