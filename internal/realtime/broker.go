package realtime

import (
	"strconv"
	"sync"

	"wesal-sync-backend/internal/metrics"
)

// Broker fans row changes and presence rosters out to channel members.
// Deliver callbacks run outside the broker lock and must not block.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*Membership
	nextID uint64
}

// Membership is one joined subscriber on a topic
type Membership struct {
	broker  *Broker
	id      uint64
	topic   string
	joinRef string
	filters []ChangeFilter
	key     string
	meta    map[string]any
	deliver func(Message)
}

type delivery struct {
	deliver func(Message)
	msg     Message
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]map[uint64]*Membership),
	}
}

// Join adds a member to topic. The member immediately receives the current roster.
func (b *Broker) Join(topic, joinRef string, cfg JoinConfig, deliver func(Message)) *Membership {
	filters := make([]ChangeFilter, len(cfg.PostgresChanges))
	for i, f := range cfg.PostgresChanges {
		filters[i] = f.normalized()
	}

	b.mu.Lock()
	b.nextID++
	m := &Membership{
		broker:  b,
		id:      b.nextID,
		topic:   topic,
		joinRef: joinRef,
		filters: filters,
		key:     cfg.Presence.Key,
		deliver: deliver,
	}
	members := b.topics[topic]
	if members == nil {
		members = make(map[uint64]*Membership)
		b.topics[topic] = members
	}
	members[m.id] = m
	state := b.presenceLocked(topic)
	b.mu.Unlock()

	metrics.RealtimeMembers.Inc()
	deliver(presenceMessage(topic, joinRef, state))
	return m
}

// Publish delivers c to every member with a matching filter and returns the
// number of deliveries.
func (b *Broker) Publish(c Change) int {
	metrics.RealtimeChanges.WithLabelValues(c.Table).Inc()
	payload := mustMarshal(ChangePayload{Data: c})

	var out []delivery
	b.mu.RLock()
	for topic, members := range b.topics {
		for _, m := range members {
			for _, f := range m.filters {
				if f.Matches(c) {
					out = append(out, delivery{
						deliver: m.deliver,
						msg: Message{
							Topic:   topic,
							Event:   EventPostgresChanges,
							Payload: payload,
							JoinRef: m.joinRef,
						},
					})
					break
				}
			}
		}
	}
	b.mu.RUnlock()

	for _, d := range out {
		d.deliver(d.msg)
	}
	return len(out)
}

// Presence returns the roster of topic
func (b *Broker) Presence(topic string) PresenceState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.presenceLocked(topic)
}

func (b *Broker) presenceLocked(topic string) PresenceState {
	state := PresenceState{}
	for _, m := range b.topics[topic] {
		if m.meta == nil {
			continue
		}
		meta := make(map[string]any, len(m.meta)+1)
		for k, v := range m.meta {
			meta[k] = v
		}
		meta["phx_ref"] = strconv.FormatUint(m.id, 10)
		state[m.key] = append(state[m.key], meta)
	}
	return state
}

// broadcastPresence must be called without b.mu held
func (b *Broker) broadcastPresence(topic string) {
	var out []delivery
	b.mu.RLock()
	state := b.presenceLocked(topic)
	for _, m := range b.topics[topic] {
		out = append(out, delivery{deliver: m.deliver, msg: presenceMessage(topic, m.joinRef, state)})
	}
	b.mu.RUnlock()

	for _, d := range out {
		d.deliver(d.msg)
	}
}

func presenceMessage(topic, joinRef string, state PresenceState) Message {
	return Message{
		Topic:   topic,
		Event:   EventPresenceState,
		Payload: mustMarshal(state),
		JoinRef: joinRef,
	}
}

// Track sets this member's presence meta and broadcasts the roster
func (m *Membership) Track(meta map[string]any) {
	copied := make(map[string]any, len(meta))
	for k, v := range meta {
		copied[k] = v
	}
	m.broker.mu.Lock()
	m.meta = copied
	m.broker.mu.Unlock()
	m.broker.broadcastPresence(m.topic)
}

// Untrack clears this member's presence
func (m *Membership) Untrack() {
	m.broker.mu.Lock()
	had := m.meta != nil
	m.meta = nil
	m.broker.mu.Unlock()
	if had {
		m.broker.broadcastPresence(m.topic)
	}
}

// Leave removes the member from its topic. Safe to call more than once.
func (m *Membership) Leave() {
	b := m.broker
	b.mu.Lock()
	members := b.topics[m.topic]
	if _, ok := members[m.id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(members, m.id)
	if len(members) == 0 {
		delete(b.topics, m.topic)
	}
	tracked := m.meta != nil
	b.mu.Unlock()

	metrics.RealtimeMembers.Dec()
	if tracked {
		b.broadcastPresence(m.topic)
	}
}

// Topic returns the topic the member joined
func (m *Membership) Topic() string {
	return m.topic
}
