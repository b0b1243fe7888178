package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const relayPrefix = "wesal:socket:"

// RedisRelay fans socket frames out across instances over Redis pub/sub.
// Every instance subscribes to all socket channels and delivers frames for
// the users it holds connections for.
type RedisRelay struct {
	client *redis.Client
}

// NewRedisRelay creates a relay on client
func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{client: client}
}

// RelayChannel returns the Redis channel of a user in a namespace
func RelayChannel(namespace, userID string) string {
	return relayPrefix + namespace + ":" + userID
}

// ParseRelayChannel splits a relay channel into namespace and user
func ParseRelayChannel(channel string) (namespace, userID string, ok bool) {
	rest, found := strings.CutPrefix(channel, relayPrefix)
	if !found {
		return "", "", false
	}
	namespace, userID, found = strings.Cut(rest, ":")
	if !found || namespace == "" || userID == "" {
		return "", "", false
	}
	return namespace, userID, true
}

func (r *RedisRelay) Publish(ctx context.Context, namespace, userID string, data []byte) error {
	if err := r.client.Publish(ctx, RelayChannel(namespace, userID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	return nil
}

// Run delivers relayed frames to hub until ctx is done
func (r *RedisRelay) Run(ctx context.Context, hub *WSHub) error {
	sub := r.client.PSubscribe(ctx, relayPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to socket relay: %w", err)
	}
	log.Info().Msg("Socket relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("socket relay subscription closed")
			}
			namespace, userID, ok := ParseRelayChannel(msg.Channel)
			if !ok {
				continue
			}
			err := hub.DeliverLocal(namespace, userID, []byte(msg.Payload))
			if err != nil && !errors.Is(err, ErrNotConnected) {
				log.Error().Err(err).Str("namespace", namespace).Str("user_id", userID).Msg("Failed to deliver relayed frame")
			}
		}
	}
}
