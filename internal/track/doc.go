// Package track implements transparent mutation tracking for node attributes.
//
// A Tracker wraps one container value ([]any or map[string]any) held in a slot
// owned by a node. Reads pass straight through; every modifying call writes the
// underlying value and then notifies the owner exactly once, however many
// elements the call touched.
//
// # Ownership
//
// The owner holds the value. A Tracker holds only a non-owning back-reference
// (the Notifier) plus load/store accessors for the slot it was bound to. Nested
// containers reached through a Tracker are handed out as new Trackers bound to
// the child slot and the same owner, so a write at any depth is reported to the
// single root owner.
//
// # What is never wrapped
//
// Scalars (numbers, strings, booleans, nil), funcs and any non-container value
// are returned as-is. Only []any and map[string]any are tracked.
package track
