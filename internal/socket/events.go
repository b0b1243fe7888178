package socket

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Namespaces
const (
	NamespacePairing  = "pairing"
	NamespaceGame     = "game"
	NamespaceConflict = "conflict"
)

// Events
const (
	EventError = "error"

	EventPairingSuccess       = "pairing:success"
	EventPairingUnpairRequest = "pairing:unpair-request"
	EventPairingUnpaired      = "pairing:unpaired"

	EventGameReady        = "game:ready"
	EventGameRequestState = "game:request-state"

	EventConflictJoin         = "conflict:join"
	EventConflictAdvancePhase = "conflict:advance-phase"
	EventConflictStartTimer   = "conflict:start-timer"
	EventConflictReady        = "conflict:ready"
)

// PairingCallbacks are invoked from the read loop and must not block
type PairingCallbacks struct {
	OnPaired        func(pairID, partnerID string)
	OnUnpairRequest func(from string)
	OnUnpaired      func(by string)
}

// Pairing follows pairing events on a pairing namespace client
type Pairing struct {
	client *Client
	subs   []Subscription

	mu        sync.RWMutex
	paired    bool
	pairID    string
	partnerID string
}

// NewPairing registers the pairing handlers on c
func NewPairing(c *Client, cb PairingCallbacks) *Pairing {
	p := &Pairing{client: c}

	p.subs = append(p.subs, c.On(EventPairingSuccess, func(f Frame) {
		pairID := gjson.GetBytes(f.Payload, "pair_id").String()
		partnerID := gjson.GetBytes(f.Payload, "partner_id").String()

		p.mu.Lock()
		p.paired = true
		p.pairID = pairID
		p.partnerID = partnerID
		p.mu.Unlock()

		log.Info().Str("pair_id", pairID).Str("partner_id", partnerID).Msg("Paired")
		if cb.OnPaired != nil {
			cb.OnPaired(pairID, partnerID)
		}
	}))

	p.subs = append(p.subs, c.On(EventPairingUnpairRequest, func(f Frame) {
		if cb.OnUnpairRequest != nil {
			cb.OnUnpairRequest(f.From)
		}
	}))

	p.subs = append(p.subs, c.On(EventPairingUnpaired, func(f Frame) {
		p.mu.Lock()
		p.paired = false
		p.pairID = ""
		p.partnerID = ""
		p.mu.Unlock()

		by := gjson.GetBytes(f.Payload, "by").String()
		log.Info().Str("by", by).Msg("Unpaired")
		if cb.OnUnpaired != nil {
			cb.OnUnpaired(by)
		}
	}))

	return p
}

// Status returns the last pairing state seen on the socket
func (p *Pairing) Status() (paired bool, pairID, partnerID string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paired, p.pairID, p.partnerID
}

// RequestUnpair asks the partner to confirm unpairing
func (p *Pairing) RequestUnpair() error {
	return p.client.Emit(EventPairingUnpairRequest, nil)
}

// Close removes the pairing handlers. The client stays open.
func (p *Pairing) Close() {
	for _, s := range p.subs {
		p.client.Off(s.event, s)
	}
	p.subs = nil
}

// Game emits game namespace events
type Game struct {
	client *Client
}

func NewGame(c *Client) *Game {
	return &Game{client: c}
}

// SignalReady tells the partner this side is ready for round
func (g *Game) SignalReady(round int) error {
	return g.client.Emit(EventGameReady, map[string]any{"round": round, "ready": true})
}

// RequestState asks the partner to resend its game state
func (g *Game) RequestState() error {
	return g.client.Emit(EventGameRequestState, nil)
}

// OnReady registers h for partner ready signals
func (g *Game) OnReady(h Handler) Subscription {
	return g.client.On(EventGameReady, h)
}

// Conflict emits conflict-resolution events
type Conflict struct {
	client *Client
}

func NewConflict(c *Client) *Conflict {
	return &Conflict{client: c}
}

// Join announces entry into a conflict session
func (c *Conflict) Join(sessionID string) error {
	return c.client.Emit(EventConflictJoin, map[string]any{"session_id": sessionID})
}

func (c *Conflict) AdvancePhase(phase string) error {
	return c.client.Emit(EventConflictAdvancePhase, map[string]any{"phase": phase})
}

// StartTimer starts a shared countdown. The server stamps the end time and
// sends it to both partners, this side included.
func (c *Conflict) StartTimer(phase string, d time.Duration) error {
	return c.client.Emit(EventConflictStartTimer, map[string]any{
		"phase":    phase,
		"duration": int64(d / time.Second),
	})
}

func (c *Conflict) SignalReady(phase string) error {
	return c.client.Emit(EventConflictReady, map[string]any{"phase": phase, "ready": true})
}

// OnTimer registers h for timer starts. endsAt is the server deadline.
func (c *Conflict) OnTimer(h func(phase string, endsAt time.Time)) Subscription {
	return c.client.On(EventConflictStartTimer, func(f Frame) {
		endsAt := time.UnixMilli(gjson.GetBytes(f.Payload, "ends_at").Int())
		h(gjson.GetBytes(f.Payload, "phase").String(), endsAt)
	})
}

// DialNamespace is Dial with the namespace set
func DialNamespace(ctx context.Context, cfg Config, namespace string) (*Client, error) {
	cfg.Namespace = namespace
	return Dial(ctx, cfg)
}
