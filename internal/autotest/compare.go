package autotest

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
)

// ignoredKey is left out of every comparison: toolbars depend on the
// application build, not on the recorded interaction.
const ignoredKey = "toolbar"

// Equal reports whether two JSON documents are equal once toolbars are
// removed.
func Equal(expected, actual []byte) (bool, error) {
	e, err := strip(expected)
	if err != nil {
		return false, fmt.Errorf("expected: %w", err)
	}
	a, err := strip(actual)
	if err != nil {
		return false, fmt.Errorf("actual: %w", err)
	}
	return jsonpatch.Equal(e, a), nil
}

// Diff renders the merge patch turning expected into actual. Non-object
// documents are shown whole.
func Diff(expected, actual []byte) (string, error) {
	e, err := strip(expected)
	if err != nil {
		return "", err
	}
	a, err := strip(actual)
	if err != nil {
		return "", err
	}
	if isObject(e) && isObject(a) {
		patch, err := jsonpatch.CreateMergePatch(e, a)
		if err != nil {
			return "", fmt.Errorf("diff: %w", err)
		}
		return string(patch), nil
	}
	return fmt.Sprintf("expected %s, got %s", e, a), nil
}

func strip(doc []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, err
	}
	return json.Marshal(without(v))
}

func without(v any) any {
	switch x := v.(type) {
	case map[string]any:
		delete(x, ignoredKey)
		for k, e := range x {
			x[k] = without(e)
		}
	case []any:
		for i, e := range x {
			x[i] = without(e)
		}
	}
	return v
}

// isObject reports whether a compact JSON document is an object.
func isObject(doc []byte) bool {
	return len(doc) > 0 && doc[0] == '{'
}
