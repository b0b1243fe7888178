package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// EmptyState is the state of a freshly created session
var EmptyState = json.RawMessage(`{}`)

// ErrEmptyStateKey is returned by MergeState for a patch with an empty key
var ErrEmptyStateKey = errors.New("state patch keys must not be empty")

// MergeState shallow-merges patch over state. Top-level keys in patch replace
// the same keys in state; other keys are kept. Keys are applied in sorted order
// so the output is deterministic. A patch with an empty key is rejected whole.
func MergeState(state json.RawMessage, patch map[string]any) (json.RawMessage, error) {
	out := []byte(NormalizeState(state))

	keys := make([]string, 0, len(patch))
	for k := range patch {
		if k == "" {
			return nil, ErrEmptyStateKey
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		path := escapePathKey(k)
		switch v := patch[k].(type) {
		case json.RawMessage:
			out, err = sjson.SetRawBytes(out, path, v)
		default:
			out, err = sjson.SetBytes(out, path, v)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to merge key %q: %w", k, err)
		}
	}
	return out, nil
}

// NormalizeState returns state or an empty object when state is missing or null.
func NormalizeState(state json.RawMessage) json.RawMessage {
	if len(state) == 0 || gjson.ParseBytes(state).Type == gjson.Null {
		return append(json.RawMessage(nil), EmptyState...)
	}
	return append(json.RawMessage(nil), state...)
}

// IsStateObject reports whether raw is a JSON object
func IsStateObject(raw json.RawMessage) bool {
	return gjson.ValidBytes(raw) && gjson.ParseBytes(raw).IsObject()
}

// escapePathKey makes k a literal single-component sjson path
func escapePathKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
