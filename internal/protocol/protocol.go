// Package protocol defines the JSON shapes exchanged with clients.
//
// Inbound traffic is a Request (or a batch of them). Outbound traffic is one of:
//   - Message: update / info / warning / error / progress / action / answers
//   - Snapshot: a full screen (or dialog) rendering
//   - Patch: an incremental change to a paginated table
//
// The package is a leaf: it knows nothing about nodes or sessions. Node data is
// carried as opaque values that marshal themselves.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Reserved block names.
const (
	// RootBlock addresses the session itself; with a nil element it is a screen switch.
	RootBlock = "root"

	// ToolbarBlock addresses the screen toolbar.
	ToolbarBlock = "toolbar"
)

// Outbound message kinds.
const (
	KindUpdate   = "update"
	KindInfo     = "info"
	KindWarning  = "warning"
	KindError    = "error"
	KindProgress = "progress"
	KindAction   = "action"
	KindScreen   = "screen"
	KindDialog   = "dialog"
)

// Request is one inbound command: run Event with Value on the node at Block/Element.
type Request struct {
	Block   string  `json:"block" yaml:"block"`
	Element *string `json:"element" yaml:"element"`
	Event   string  `json:"event" yaml:"event"`
	Value   any     `json:"value" yaml:"value"`
}

// NewRequest builds a request addressing block/element. An empty element
// addresses the block itself.
func NewRequest(block, element, event string, value any) Request {
	r := Request{Block: block, Event: event, Value: value}
	if element != "" {
		r.Element = &element
	}
	return r
}

// ScreenSwitch builds the request that selects the screen called name.
func ScreenSwitch(name string) Request {
	return Request{Block: RootBlock, Event: "changed", Value: name}
}

// ElementName returns the element name or "" when the request targets a block.
func (r Request) ElementName() string {
	if r.Element == nil {
		return ""
	}
	return *r.Element
}

// IsScreenSwitch reports whether r selects a screen.
func (r Request) IsScreenSwitch() bool {
	return r.Block == RootBlock && r.Element == nil
}

// String renders r as block/element->event(value) for logs.
func (r Request) String() string {
	var el string
	if r.Element != nil {
		el = *r.Element
	} else {
		el = "None"
	}
	return fmt.Sprintf("%s/%s->%s(%v)", r.Block, el, r.Event, r.Value)
}

// ErrEmptyBatch is returned for an inbound batch without requests.
var ErrEmptyBatch = errors.New("empty command batch")

// ParseRequests decodes one request or a JSON array of requests.
func ParseRequests(data []byte) ([]Request, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var batch []Request
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decode request batch: %w", err)
		}
		if len(batch) == 0 {
			return nil, ErrEmptyBatch
		}
		return batch, nil
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return []Request{r}, nil
}

// Path addresses a node: [block], [block, element] or ["toolbar", element].
type Path []string

// String joins the path with "/".
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Outbound is anything the server sends to a client.
type Outbound interface {
	OutboundType() string
}

// Update is one addressed node rendering inside a Message.
type Update struct {
	Path Path `json:"path"`
	Data any  `json:"data"`
}

// Message is the outbound envelope for update, user-visible and answer messages.
//
// Value is serialized only for kinds that carry one (everything but plain
// updates), so a progress message with a nil label renders "value": null.
type Message struct {
	Type     string
	Value    any
	HasValue bool
	Request  *Request
	Updates  []Update
}

// OutboundType implements Outbound.
func (m *Message) OutboundType() string { return m.Type }

// Contains reports whether data (compared by identity for pointers) is among the updates.
func (m *Message) Contains(data any) bool {
	for _, u := range m.Updates {
		if u.Data == data {
			return true
		}
	}
	return false
}

// MarshalJSON renders the message with sorted keys.
func (m *Message) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": m.Type}
	if m.HasValue {
		out["value"] = m.Value
	}
	if m.Request != nil {
		out["message"] = m.Request
	}
	if m.Updates != nil || m.Type == KindUpdate {
		updates := m.Updates
		if updates == nil {
			updates = []Update{}
		}
		out["updates"] = updates
	}
	return json.Marshal(out)
}

// Snapshot is a full rendering of a screen or a dialog.
type Snapshot struct {
	Kind string
	Data json.Marshaler
}

// OutboundType implements Outbound.
func (s *Snapshot) OutboundType() string { return s.Kind }

// MarshalJSON renders the wrapped data as is.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return s.Data.MarshalJSON()
}

// PatchKind names the incremental table operation.
type PatchKind string

const (
	PatchAdd     PatchKind = "add"
	PatchUpdate  PatchKind = "update"
	PatchDelete  PatchKind = "delete"
	PatchUpdates PatchKind = "updates"
)

// Patch is an incremental change of a paginated table.
//
// Exclude marks patches the originating session already applied locally; it is
// routing information and never sent.
type Patch struct {
	Update  PatchKind
	Index   int
	Data    any
	Length  *int
	Block   string
	Element string
	Exclude bool
}

// OutboundType implements Outbound.
func (p Patch) OutboundType() string { return KindAction }

// At returns a copy of p addressed to block/element.
func (p Patch) At(block, element string) Patch {
	p.Block = block
	p.Element = element
	return p
}

// MarshalJSON renders {type: "action", update, index, data?, length?, block?, element?}.
func (p Patch) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"type":   KindAction,
		"update": p.Update,
		"index":  p.Index,
	}
	if p.Update != PatchDelete && p.Data != nil {
		out["data"] = p.Data
	}
	if p.Length != nil {
		out["length"] = *p.Length
	}
	if p.Block != "" {
		out["block"] = p.Block
	}
	if p.Element != "" {
		out["element"] = p.Element
	}
	return json.Marshal(out)
}

// Encode marshals an outbound message for the wire.
func Encode(out Outbound) ([]byte, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", out.OutboundType(), err)
	}
	return data, nil
}
