package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wesal-sync-backend/internal/models"
	"wesal-sync-backend/internal/realtime"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Reader fetches a user's presence
type Reader interface {
	GetPresence(ctx context.Context, userID string) (*models.Presence, error)
}

// PartnerStatus is the last known presence of the partner
type PartnerStatus struct {
	UserID     string
	IsOnline   bool
	LastSeenAt time.Time
}

// PartnerWatch follows the partner's presence row
type PartnerWatch struct {
	channel realtime.Channel

	mu     sync.RWMutex
	status PartnerStatus
}

// WatchPartner fetches the partner's presence and then follows changes to it.
// onChange, if set, is called with the initial status and after every change.
func WatchPartner(ctx context.Context, reader Reader, transport realtime.Transport, partnerID string, onChange func(PartnerStatus)) (*PartnerWatch, error) {
	w := &PartnerWatch{status: PartnerStatus{UserID: partnerID}}

	initial, err := reader.GetPresence(ctx, partnerID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", partnerID).Msg("Failed to fetch partner presence")
	} else {
		w.status.IsOnline = initial.IsOnline
		w.status.LastSeenAt = initial.LastSeenAt
	}

	w.channel = transport.Channel("presence:" + partnerID)
	w.channel.OnPostgresChanges(realtime.ChangeFilter{
		Event:  realtime.ChangeAll,
		Table:  "users",
		Filter: realtime.EqFilter("id", partnerID),
	}, func(c realtime.Change) {
		status := w.apply(c.Record)
		if onChange != nil {
			onChange(status)
		}
	})

	if err := w.channel.Subscribe(ctx); err != nil {
		w.channel.Unsubscribe(ctx)
		return nil, fmt.Errorf("failed to subscribe to partner presence: %w", err)
	}

	if onChange != nil {
		onChange(w.Status())
	}
	return w, nil
}

func (w *PartnerWatch) apply(record []byte) PartnerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	if v := gjson.GetBytes(record, "is_online"); v.Exists() {
		w.status.IsOnline = v.Bool()
	}
	if v := gjson.GetBytes(record, "last_seen_at"); v.Exists() {
		if t, err := time.Parse(time.RFC3339Nano, v.String()); err == nil {
			w.status.LastSeenAt = t
		}
	}
	return w.status
}

// Status returns the last known partner presence
func (w *PartnerWatch) Status() PartnerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Close stops following the partner
func (w *PartnerWatch) Close(ctx context.Context) error {
	return w.channel.Unsubscribe(ctx)
}
