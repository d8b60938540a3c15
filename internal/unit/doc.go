// Package unit implements the observable UI-state node.
//
// A Node is a named, typed value plus a side map of extra attributes and a
// table of event handlers. Once activated it reports every public attribute
// write to its change callback and hands out container attributes wrapped in
// a track.Tracker, so collection writes made by handlers are reported too.
//
// Attribute names starting with "_" are private: they are never serialized,
// never tracked and never registered as changes.
//
// Handlers return a Result, a closed set of outcomes folded by Compose and,
// later, by the session's update composer:
//   - *Node or Nodes: nodes the client must redraw
//   - *Message: a user-visible message carrying its own node list
//   - Signal: redraw the whole screen
//   - *Dialog: open a modal dialog
//   - Reply: plain data answered to complete/append/get requests
package unit
