package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/unisync/internal/unit"
)

// Problem is one structural defect of a screen.
type Problem struct {
	// Path locates the defect, e.g. "Main/Inputs/age".
	Path string

	// Message describes the defect.
	Message string
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Message
	}
	return p.Path + ": " + p.Message
}

// ValidationError reports every structural defect found in one screen.
// A screen with a ValidationError is not usable.
type ValidationError struct {
	Screen   string
	Problems []Problem
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("screen %q is invalid: %s", e.Screen, strings.Join(parts, "; "))
}

// IsValidationError returns true if err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks a screen for missing names, duplicate block names,
// duplicate sibling names (lines excepted), blocks inside blocks and nodes
// placed twice. It returns nil or a *ValidationError.
func Validate(s *Screen) error {
	v := &validator{placed: make(map[*unit.Node]string)}
	name := s.Name()
	if name == "" {
		v.add("", "screen has no name")
	}

	blockNames := make(map[string]bool)
	for _, item := range unit.FlattenAny(s.Attr("blocks")) {
		b, ok := item.(*unit.Node)
		if !ok {
			v.add(name, fmt.Sprintf("blocks contain a non-node value %T", item))
			continue
		}
		path := name + "/" + b.Name()
		if b.Type() != "block" {
			v.add(path, fmt.Sprintf("%s placed among blocks", b))
			continue
		}
		if b.Name() == "" {
			v.add(path, "block has no name")
		} else if blockNames[b.Name()] {
			v.add(path, "duplicate block name")
		}
		blockNames[b.Name()] = true
		v.place(b, path)
		v.siblings(path, b.Children(), true)
	}
	v.siblings(name+"/toolbar", s.Toolbar(), false)

	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Screen: name, Problems: v.problems}
}

type validator struct {
	problems []Problem
	placed   map[*unit.Node]string
}

func (v *validator) add(path, msg string) {
	v.problems = append(v.problems, Problem{Path: path, Message: msg})
}

func (v *validator) place(n *unit.Node, path string) {
	if prev, ok := v.placed[n]; ok {
		v.add(path, fmt.Sprintf("%s is already placed at %s", n, prev))
		return
	}
	v.placed[n] = path
}

func (v *validator) siblings(parent string, nodes []*unit.Node, inBlock bool) {
	names := make(map[string]bool)
	for _, n := range nodes {
		path := parent + "/" + n.Name()
		if n.Type() == "line" {
			v.place(n, path)
			continue
		}
		switch {
		case n.Name() == "":
			v.add(parent, fmt.Sprintf("%s has no name", n))
		case names[n.Name()]:
			v.add(path, "duplicate name in "+parent)
		}
		names[n.Name()] = true
		if inBlock && n.Type() == "block" {
			v.add(path, "block inside a block")
		}
		v.place(n, path)
	}
}
