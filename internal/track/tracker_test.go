package track

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n int
}

func (c *counter) NotifyChanged() { c.n++ }

// bindSlot creates a tracker over a local slot, returning a pointer to the slot.
func bindSlot(owner Notifier, v any) (*Tracker, *any) {
	slot := v
	return Bind(owner, func() any { return slot }, func(nv any) { slot = nv }), &slot
}

func TestTracker_AppendNotifiesOnce(t *testing.T) {
	c := &counter{}
	tr, slot := bindSlot(c, []any{1, 2})

	require.NoError(t, tr.Append(3, 4, 5))

	assert.Equal(t, 1, c.n)
	assert.Equal(t, []any{1, 2, 3, 4, 5}, *slot)
}

func TestTracker_ExtendNotifiesOncePerCall(t *testing.T) {
	c := &counter{}
	tr, _ := bindSlot(c, []any{})

	bulk := make([]any, 100)
	for i := range bulk {
		bulk[i] = i
	}
	require.NoError(t, tr.Extend(bulk))
	require.NoError(t, tr.Extend([]any{"x"}))

	assert.Equal(t, 2, c.n, "one notification per call regardless of element count")
	assert.Equal(t, 101, tr.Len())
}

func TestTracker_EveryModifyingOperationNotifiesOnce(t *testing.T) {
	listOps := map[string]func(*Tracker) error{
		"set":     func(tr *Tracker) error { return tr.Set(0, "z") },
		"delete":  func(tr *Tracker) error { return tr.Delete(1) },
		"append":  func(tr *Tracker) error { return tr.Append("d") },
		"extend":  func(tr *Tracker) error { return tr.Extend([]any{"d", "e"}) },
		"insert":  func(tr *Tracker) error { return tr.Insert(1, "q") },
		"remove":  func(tr *Tracker) error { return tr.Remove("b") },
		"pop":     func(tr *Tracker) error { _, err := tr.Pop(-1); return err },
		"clear":   func(tr *Tracker) error { return tr.Clear() },
		"reverse": func(tr *Tracker) error { return tr.Reverse() },
		"sort": func(tr *Tracker) error {
			return tr.Sort(func(a, b any) int { return strings.Compare(b.(string), a.(string)) })
		},
	}
	for name, op := range listOps {
		t.Run("list/"+name, func(t *testing.T) {
			c := &counter{}
			tr, _ := bindSlot(c, []any{"a", "b", "c"})
			require.NoError(t, op(tr))
			assert.Equal(t, 1, c.n)
		})
	}

	mapOps := map[string]func(*Tracker) error{
		"set":     func(tr *Tracker) error { return tr.Set("k", 1) },
		"delete":  func(tr *Tracker) error { return tr.Delete("a") },
		"update":  func(tr *Tracker) error { return tr.Update(map[string]any{"x": 1, "y": 2}) },
		"popitem": func(tr *Tracker) error { _, err := tr.PopItem("a"); return err },
		"clear":   func(tr *Tracker) error { return tr.Clear() },
	}
	for name, op := range mapOps {
		t.Run("map/"+name, func(t *testing.T) {
			c := &counter{}
			tr, _ := bindSlot(c, map[string]any{"a": 1, "b": 2})
			require.NoError(t, op(tr))
			assert.Equal(t, 1, c.n)
		})
	}
}

func TestTracker_FailedOperationDoesNotNotify(t *testing.T) {
	c := &counter{}
	tr, _ := bindSlot(c, []any{1})

	assert.ErrorIs(t, tr.Set(5, 1), ErrIndexOutOfRange)
	assert.ErrorIs(t, tr.Delete("x"), ErrKeyType)
	assert.ErrorIs(t, tr.Remove(42), ErrKeyNotFound)
	assert.ErrorIs(t, tr.Update(map[string]any{"a": 1}), ErrNotMap)
	_, err := tr.Pop(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	assert.Zero(t, c.n)
}

func TestTracker_NestedWritesReachRootOwner(t *testing.T) {
	c := &counter{}
	tr, slot := bindSlot(c, map[string]any{
		"nodes": []any{map[string]any{"active": false}},
	})

	nodes, ok := tr.Field("nodes").(*Tracker)
	require.True(t, ok, "nested list is handed out tracked")
	first, ok := nodes.Index(0).(*Tracker)
	require.True(t, ok, "nested map is handed out tracked")
	assert.Same(t, tr.Owner(), first.Owner())

	require.NoError(t, first.Set("active", true))
	require.NoError(t, nodes.Append(map[string]any{"active": false}))

	assert.Equal(t, 2, c.n)
	root := (*slot).(map[string]any)
	assert.Len(t, root["nodes"], 2, "append on a nested list is written back into the parent")
	assert.Equal(t, true, root["nodes"].([]any)[0].(map[string]any)["active"])
}

func TestTracker_ScalarsAreNotWrapped(t *testing.T) {
	c := &counter{}
	tr, _ := bindSlot(c, []any{1, "s", true, nil, 2.5, func() {}})

	for i := 0; i < tr.Len(); i++ {
		_, isTracker := tr.Index(i).(*Tracker)
		assert.False(t, isTracker, "element %d", i)
	}
	assert.Equal(t, 7, Wrap(7, c))
	_, isTracker := Wrap([]any{}, c).(*Tracker)
	assert.True(t, isTracker)
}

func TestTracker_EqualDelegatesToWrappedValue(t *testing.T) {
	c := &counter{}
	tr, _ := bindSlot(c, []any{1, 2, 3})
	other, _ := bindSlot(&counter{}, []any{1, 2, 3})

	assert.True(t, tr.Equal([]any{1, 2, 3}))
	assert.True(t, tr.Equal(other))
	assert.False(t, tr.Equal([]any{1, 2}))
	assert.Zero(t, c.n, "reads never notify")
}

func TestTracker_StoresUnwrappedValues(t *testing.T) {
	c := &counter{}
	src, _ := bindSlot(c, []any{"x"})
	tr, slot := bindSlot(c, []any{})

	require.NoError(t, tr.Append(src))

	_, isTracker := (*slot).([]any)[0].(*Tracker)
	assert.False(t, isTracker)
	assert.Equal(t, []any{"x"}, (*slot).([]any)[0])
}

func TestTracker_SetDefault(t *testing.T) {
	c := &counter{}
	tr, _ := bindSlot(c, map[string]any{"a": 1})

	v, err := tr.SetDefault("a", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Zero(t, c.n)

	v, err = tr.SetDefault("b", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, 1, c.n)
}

func TestTracker_MarshalJSON(t *testing.T) {
	tr, _ := bindSlot(&counter{}, map[string]any{"b": []any{1, 2}, "a": "x"})

	data, err := tr.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"x","b":[1,2]}`, string(data))
}

func TestTracker_NilMapIsAllocatedOnWrite(t *testing.T) {
	writes := map[string]func(*Tracker) error{
		"set":    func(tr *Tracker) error { return tr.Set("k", 1) },
		"update": func(tr *Tracker) error { return tr.Update(map[string]any{"k": 1}) },
		"setdefault": func(tr *Tracker) error {
			_, err := tr.SetDefault("k", 1)
			return err
		},
	}
	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			c := &counter{}
			var empty map[string]any
			tr, slot := bindSlot(c, empty)

			require.NotPanics(t, func() { require.NoError(t, write(tr)) })

			assert.Equal(t, map[string]any{"k": 1}, *slot)
			assert.Equal(t, 1, c.n)
		})
	}
}
