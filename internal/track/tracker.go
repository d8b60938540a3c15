package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
)

// Notifier is told about every successful modification made through a Tracker.
type Notifier interface {
	NotifyChanged()
}

var (
	// ErrNotList is returned when a list operation is applied to a map.
	ErrNotList = errors.New("tracked value is not a list")

	// ErrNotMap is returned when a map operation is applied to a list.
	ErrNotMap = errors.New("tracked value is not a map")

	// ErrIndexOutOfRange is returned for list indexes outside [0, len).
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrKeyNotFound is returned when a map key or list element is missing.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyType is returned when the key type does not match the container.
	ErrKeyType = errors.New("invalid key type")
)

// Tracker is a mutation-observing view over a container slot.
//
// The zero value is not usable; create trackers with Bind or Wrap.
type Tracker struct {
	owner Notifier
	load  func() any
	store func(any)
}

// IsContainer reports whether v is a value that gets tracked.
func IsContainer(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return true
	}
	return false
}

// Bind returns a Tracker over the slot described by load and store.
// store is only used when the container header itself changes
// (for example a list growing past its capacity).
func Bind(owner Notifier, load func() any, store func(any)) *Tracker {
	return &Tracker{owner: owner, load: load, store: store}
}

// Wrap returns v unchanged unless it is a container, in which case it
// returns a Tracker over a private slot holding v.
func Wrap(v any, owner Notifier) any {
	if !IsContainer(v) {
		return v
	}
	slot := v
	return Bind(owner, func() any { return slot }, func(nv any) { slot = nv })
}

// Unwrap returns the underlying value of a Tracker, or v itself otherwise.
func Unwrap(v any) any {
	if t, ok := v.(*Tracker); ok {
		return t.Unwrap()
	}
	return v
}

// Unwrap returns the wrapped container.
func (t *Tracker) Unwrap() any {
	return t.load()
}

// Owner returns the node that receives change notifications.
func (t *Tracker) Owner() Notifier {
	return t.owner
}

// Equal compares the wrapped value with other, unwrapping other if needed.
func (t *Tracker) Equal(other any) bool {
	return reflect.DeepEqual(t.Unwrap(), Unwrap(other))
}

// String renders the wrapped value.
func (t *Tracker) String() string {
	return fmt.Sprint(t.Unwrap())
}

// MarshalJSON lets a tracked value serialize as the value itself.
func (t *Tracker) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Unwrap())
}

// Len returns the number of elements in the wrapped container.
func (t *Tracker) Len() int {
	switch v := t.load().(type) {
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	}
	return 0
}

// Get returns the element under key: an int for lists, a string for maps.
// Nested containers come back as Trackers bound to the same owner.
func (t *Tracker) Get(key any) (any, bool) {
	switch v := t.load().(type) {
	case []any:
		i, ok := key.(int)
		if !ok || i < 0 || i >= len(v) {
			return nil, false
		}
		return t.child(key, v[i]), true
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, false
		}
		e, ok := v[k]
		if !ok {
			return nil, false
		}
		return t.child(key, e), true
	}
	return nil, false
}

// Index is Get for lists; it returns nil when i is out of range.
func (t *Tracker) Index(i int) any {
	v, _ := t.Get(i)
	return v
}

// Field is Get for maps; it returns nil for missing keys.
func (t *Tracker) Field(k string) any {
	v, _ := t.Get(k)
	return v
}

// Keys returns the map keys in sorted order, or nil for lists.
func (t *Tracker) Keys() []string {
	m, ok := t.load().(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for every element until fn returns false.
// Lists iterate in order with int keys, maps in sorted key order.
func (t *Tracker) Range(fn func(key, value any) bool) {
	switch v := t.load().(type) {
	case []any:
		for i := range v {
			if !fn(i, t.child(i, v[i])) {
				return
			}
		}
	case map[string]any:
		for _, k := range t.Keys() {
			if !fn(k, t.child(k, v[k])) {
				return
			}
		}
	}
}

// child wraps nested containers in a Tracker over the child slot.
func (t *Tracker) child(key, e any) any {
	if !IsContainer(e) {
		return e
	}
	return &Tracker{
		owner: t.owner,
		load: func() any {
			switch v := t.load().(type) {
			case []any:
				if i := key.(int); i < len(v) {
					return v[i]
				}
			case map[string]any:
				return v[key.(string)]
			}
			return nil
		},
		store: func(nv any) {
			switch v := t.load().(type) {
			case []any:
				if i := key.(int); i < len(v) {
					v[i] = nv
				}
			case map[string]any:
				v[key.(string)] = nv
			}
		},
	}
}

func (t *Tracker) list() ([]any, error) {
	v, ok := t.load().([]any)
	if !ok {
		return nil, ErrNotList
	}
	return v, nil
}

func (t *Tracker) dict() (map[string]any, error) {
	v, ok := t.load().(map[string]any)
	if !ok {
		return nil, ErrNotMap
	}
	return v, nil
}

// writableDict is dict for writes: a nil map is replaced by an allocated one
// stored back into the slot.
func (t *Tracker) writableDict() (map[string]any, error) {
	m, err := t.dict()
	if err == nil && m == nil {
		m = make(map[string]any)
		t.store(m)
	}
	return m, err
}

func (t *Tracker) changed() {
	if t.owner != nil {
		t.owner.NotifyChanged()
	}
}

// Set assigns value under key.
func (t *Tracker) Set(key, value any) error {
	value = Unwrap(value)
	switch v := t.load().(type) {
	case []any:
		i, ok := key.(int)
		if !ok {
			return fmt.Errorf("set %v: %w", key, ErrKeyType)
		}
		if i < 0 || i >= len(v) {
			return fmt.Errorf("set %d: %w", i, ErrIndexOutOfRange)
		}
		v[i] = value
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return fmt.Errorf("set %v: %w", key, ErrKeyType)
		}
		if v == nil {
			v = make(map[string]any)
			t.store(v)
		}
		v[k] = value
	default:
		return fmt.Errorf("set %v: %w", key, ErrNotMap)
	}
	t.changed()
	return nil
}

// Delete removes the element under key.
func (t *Tracker) Delete(key any) error {
	switch v := t.load().(type) {
	case []any:
		i, ok := key.(int)
		if !ok {
			return fmt.Errorf("delete %v: %w", key, ErrKeyType)
		}
		if i < 0 || i >= len(v) {
			return fmt.Errorf("delete %d: %w", i, ErrIndexOutOfRange)
		}
		t.store(slices.Delete(v, i, i+1))
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return fmt.Errorf("delete %v: %w", key, ErrKeyType)
		}
		if _, ok := v[k]; !ok {
			return fmt.Errorf("delete %q: %w", k, ErrKeyNotFound)
		}
		delete(v, k)
	default:
		return fmt.Errorf("delete %v: %w", key, ErrNotMap)
	}
	t.changed()
	return nil
}

// Append adds values to the end of a list.
func (t *Tracker) Append(values ...any) error {
	v, err := t.list()
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	for _, e := range values {
		v = append(v, Unwrap(e))
	}
	t.store(v)
	t.changed()
	return nil
}

// Extend appends every element of values with a single notification.
func (t *Tracker) Extend(values []any) error {
	return t.Append(values...)
}

// Insert places value before index i. Indexes past the end append.
func (t *Tracker) Insert(i int, value any) error {
	v, err := t.list()
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if i < 0 {
		i = max(len(v)+i, 0)
	}
	i = min(i, len(v))
	t.store(slices.Insert(v, i, Unwrap(value)))
	t.changed()
	return nil
}

// Remove deletes the first element equal to value.
func (t *Tracker) Remove(value any) error {
	v, err := t.list()
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	value = Unwrap(value)
	i := slices.IndexFunc(v, func(e any) bool { return reflect.DeepEqual(e, value) })
	if i < 0 {
		return fmt.Errorf("remove %v: %w", value, ErrKeyNotFound)
	}
	t.store(slices.Delete(v, i, i+1))
	t.changed()
	return nil
}

// Pop removes and returns the element at i; negative i counts from the end.
func (t *Tracker) Pop(i int) (any, error) {
	v, err := t.list()
	if err != nil {
		return nil, fmt.Errorf("pop: %w", err)
	}
	if i < 0 {
		i += len(v)
	}
	if i < 0 || i >= len(v) {
		return nil, fmt.Errorf("pop %d: %w", i, ErrIndexOutOfRange)
	}
	e := v[i]
	t.store(slices.Delete(v, i, i+1))
	t.changed()
	return e, nil
}

// PopItem removes and returns the map entry under k.
func (t *Tracker) PopItem(k string) (any, error) {
	m, err := t.dict()
	if err != nil {
		return nil, fmt.Errorf("pop item: %w", err)
	}
	e, ok := m[k]
	if !ok {
		return nil, fmt.Errorf("pop item %q: %w", k, ErrKeyNotFound)
	}
	delete(m, k)
	t.changed()
	return e, nil
}

// Clear empties the container.
func (t *Tracker) Clear() error {
	switch v := t.load().(type) {
	case []any:
		clear(v)
		t.store(v[:0])
	case map[string]any:
		clear(v)
	default:
		return fmt.Errorf("clear: %w", ErrNotList)
	}
	t.changed()
	return nil
}

// Sort orders a list in place using cmp.
func (t *Tracker) Sort(cmp func(a, b any) int) error {
	v, err := t.list()
	if err != nil {
		return fmt.Errorf("sort: %w", err)
	}
	slices.SortStableFunc(v, cmp)
	t.changed()
	return nil
}

// Reverse reverses a list in place.
func (t *Tracker) Reverse() error {
	v, err := t.list()
	if err != nil {
		return fmt.Errorf("reverse: %w", err)
	}
	slices.Reverse(v)
	t.changed()
	return nil
}

// Update copies every entry of other into the map.
func (t *Tracker) Update(other map[string]any) error {
	m, err := t.writableDict()
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	for k, e := range other {
		m[k] = Unwrap(e)
	}
	t.changed()
	return nil
}

// SetDefault returns the value under k, storing def first when k is absent.
// Only an actual insertion notifies.
func (t *Tracker) SetDefault(k string, def any) (any, error) {
	m, err := t.writableDict()
	if err != nil {
		return nil, fmt.Errorf("set default: %w", err)
	}
	if e, ok := m[k]; ok {
		return t.child(k, e), nil
	}
	m[k] = Unwrap(def)
	t.changed()
	return t.child(k, m[k]), nil
}
