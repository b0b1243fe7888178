// Package realtime carries row change notifications and presence rosters
// between the backend and partner devices. The wire protocol follows the
// Phoenix channel envelope used by Supabase Realtime.
package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Channel events
const (
	EventJoin            = "phx_join"
	EventLeave           = "phx_leave"
	EventReply           = "phx_reply"
	EventError           = "phx_error"
	EventHeartbeat       = "heartbeat"
	EventPostgresChanges = "postgres_changes"
	EventPresence        = "presence"
	EventPresenceState   = "presence_state"

	TopicPhoenix = "phoenix"

	ReplyOK    = "ok"
	ReplyError = "error"
)

// Message is the envelope of every frame in both directions
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// ChangeType is the kind of row change
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	ChangeAll    ChangeType = "*"
)

// Change is a row-level change notification
type Change struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Type            ChangeType      `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// ChangeFilter selects changes by table and an optional `column=eq.value` filter
type ChangeFilter struct {
	Event  ChangeType `json:"event"`
	Schema string     `json:"schema"`
	Table  string     `json:"table"`
	Filter string     `json:"filter,omitempty"`
}

// EqFilter builds the `column=eq.value` filter string
func EqFilter(column, value string) string {
	return column + "=eq." + value
}

// ParseEqFilter splits `column=eq.value`
func ParseEqFilter(filter string) (column, value string, ok bool) {
	column, rest, found := strings.Cut(filter, "=")
	if !found || column == "" {
		return "", "", false
	}
	value, found = strings.CutPrefix(rest, "eq.")
	if !found {
		return "", "", false
	}
	return column, value, true
}

func (f ChangeFilter) normalized() ChangeFilter {
	if f.Schema == "" {
		f.Schema = "public"
	}
	if f.Event == "" {
		f.Event = ChangeAll
	}
	return f
}

// Matches reports whether c passes the filter. Unparseable filters match nothing.
func (f ChangeFilter) Matches(c Change) bool {
	f = f.normalized()
	schema := c.Schema
	if schema == "" {
		schema = "public"
	}
	if f.Schema != schema || f.Table != c.Table {
		return false
	}
	if f.Event != ChangeAll && f.Event != c.Type {
		return false
	}
	if f.Filter == "" {
		return true
	}
	column, value, ok := ParseEqFilter(f.Filter)
	if !ok {
		return false
	}
	record := c.Record
	if c.Type == ChangeDelete || len(record) == 0 {
		record = c.OldRecord
	}
	return gjson.GetBytes(record, column).String() == value
}

// PresenceConfig sets the key a member's presence is tracked under
type PresenceConfig struct {
	Key string `json:"key"`
}

// JoinConfig is what a channel subscribes to
type JoinConfig struct {
	PostgresChanges []ChangeFilter `json:"postgres_changes"`
	Presence        PresenceConfig `json:"presence"`
}

// JoinPayload is the payload of phx_join
type JoinPayload struct {
	Config      JoinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

// ReplyPayload is the payload of phx_reply
type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// ChangePayload wraps a change in a postgres_changes frame
type ChangePayload struct {
	Data Change `json:"data"`
}

// PresencePayload is the client presence frame: track or untrack
type PresencePayload struct {
	Type    string         `json:"type"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// PresenceState maps a presence key to the metas tracked under it
type PresenceState map[string][]map[string]any

// Flatten returns every meta, ordered by key
func (s PresenceState) Flatten() []map[string]any {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []map[string]any
	for _, k := range keys {
		out = append(out, s[k]...)
	}
	return out
}

// Channel is one subscription topic on a realtime transport
type Channel interface {
	// OnPostgresChanges registers fn for changes matching filter. Must be called before Subscribe.
	OnPostgresChanges(filter ChangeFilter, fn func(Change))
	// OnPresenceSync registers fn for every roster update
	OnPresenceSync(fn func(PresenceState))
	Subscribe(ctx context.Context) error
	Track(ctx context.Context, meta map[string]any) error
	Unsubscribe(ctx context.Context) error
}

// Transport opens channels
type Transport interface {
	Channel(topic string) Channel
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
