package models

import (
	"encoding/json"
	"time"
)

// User represents a user profile. Presence columns live on the same row.
type User struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Token      string    `json:"token"`
	PushToken  *string   `json:"push_token,omitempty"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Presence is the advisory online state of a user
type Presence struct {
	UserID     string    `json:"id"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Couple represents two paired users
type Couple struct {
	ID        string    `json:"id"`
	UserAID   string    `json:"user_a_id"`
	UserBID   string    `json:"user_b_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PartnerOf returns the other member of the couple, or "" if userID is not a member.
func (c *Couple) PartnerOf(userID string) string {
	switch userID {
	case c.UserAID:
		return c.UserBID
	case c.UserBID:
		return c.UserAID
	}
	return ""
}

// HasMember reports whether userID belongs to the couple
func (c *Couple) HasMember(userID string) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// PairingStatus is what the identity service tells a client about its pairing
type PairingStatus struct {
	IsPaired  bool   `json:"is_paired"`
	CoupleID  string `json:"couple_id,omitempty"`
	PartnerID string `json:"partner_id,omitempty"`
}

// ActivityType is the kind of two-party activity a session belongs to
type ActivityType string

const (
	ActivityJourney ActivityType = "journey"
	ActivityGame    ActivityType = "game"
	ActivityWhisper ActivityType = "whisper"
)

// Valid reports whether a is a known activity type
func (a ActivityType) Valid() bool {
	switch a {
	case ActivityJourney, ActivityGame, ActivityWhisper:
		return true
	}
	return false
}

// SyncMode selects whether activity state is shared across devices
type SyncMode string

const (
	ModeRemote SyncMode = "remote"
	ModeLocal  SyncMode = "local"
)

// SessionKey identifies at most one session row
type SessionKey struct {
	CoupleID     string       `json:"couple_id"`
	ActivityType ActivityType `json:"activity_type"`
	ActivityID   string       `json:"activity_id"`
}

// Session is the shared synchronization unit for one activity instance
type Session struct {
	ID           string          `json:"id"`
	CoupleID     string          `json:"couple_id"`
	ActivityType ActivityType    `json:"activity_type"`
	ActivityID   string          `json:"activity_id"`
	Mode         SyncMode        `json:"mode"`
	State        json.RawMessage `json:"state"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IdleCursor is a position in idle-session order, (updated_at, id) ascending.
// The zero value is before every row.
type IdleCursor struct {
	UpdatedAt time.Time
	ID        string
}

// Precedes reports whether s sorts after the cursor
func (c IdleCursor) Precedes(s *Session) bool {
	if !s.UpdatedAt.Equal(c.UpdatedAt) {
		return s.UpdatedAt.After(c.UpdatedAt)
	}
	return s.ID > c.ID
}

// Cursor returns the idle-order position of the session
func (s *Session) Cursor() IdleCursor {
	return IdleCursor{UpdatedAt: s.UpdatedAt, ID: s.ID}
}

// Key returns the composite identity of the session
func (s *Session) Key() SessionKey {
	return SessionKey{
		CoupleID:     s.CoupleID,
		ActivityType: s.ActivityType,
		ActivityID:   s.ActivityID,
	}
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.State = append(json.RawMessage(nil), s.State...)
	return &c
}
