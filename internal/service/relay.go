package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Relay topics.
const (
	relayTopicRealtime      = "realtime"
	relayTopicNotifications = "notifications"
)

// Relay fans events out to the other API nodes. Handlers never see events
// published by their own node.
type Relay interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error
}

type relayEnvelope struct {
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

type relayNode struct {
	nodeID string
	logger zerolog.Logger
}

func (n relayNode) wrap(payload []byte) ([]byte, error) {
	return json.Marshal(relayEnvelope{
		Source:  n.nodeID,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	})
}

func (n relayNode) unwrap(data []byte, handler func([]byte)) {
	var envelope relayEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		n.logger.Warn().Err(err).Msg("invalid relay envelope")
		return
	}
	if envelope.Source == n.nodeID {
		return
	}
	handler(envelope.Payload)
}

// RedisRelay relays events over Redis pub/sub.
type RedisRelay struct {
	relayNode
	client *redis.Client
	prefix string
}

// NewRedisRelay publishes on "<channelBase>:<topic>".
func NewRedisRelay(client *redis.Client, channelBase string, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		relayNode: relayNode{
			nodeID: uuid.NewString(),
			logger: logger.With().Str("component", "redis_relay").Logger(),
		},
		client: client,
		prefix: channelBase,
	}
}

func (r *RedisRelay) channel(topic string) string {
	if r.prefix == "" {
		return topic
	}
	return r.prefix + ":" + topic
}

func (r *RedisRelay) Publish(ctx context.Context, topic string, payload []byte) error {
	data, err := r.wrap(payload)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel(topic), data).Err()
}

// Subscribe confirms the subscription before returning and consumes until ctx ends.
func (r *RedisRelay) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	channel := r.channel(topic)
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go func() {
		<-ctx.Done()
		_ = pubsub.Close()
	}()

	go func() {
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
					return
				}
				r.logger.Error().Err(err).Str("channel", channel).Msg("relay redis subscription closed")
				return
			}
			r.unwrap([]byte(msg.Payload), handler)
		}
	}()

	return nil
}

// NATSRelay relays events over NATS. Every node subscribes without a queue
// group because each node may hold the target connection.
type NATSRelay struct {
	relayNode
	conn   *nats.Conn
	prefix string
}

// NewNATSRelay publishes on "<channelBase>.<topic>" with ':' mapped to '.'.
func NewNATSRelay(conn *nats.Conn, channelBase string, logger zerolog.Logger) *NATSRelay {
	return &NATSRelay{
		relayNode: relayNode{
			nodeID: uuid.NewString(),
			logger: logger.With().Str("component", "nats_relay").Logger(),
		},
		conn:   conn,
		prefix: strings.ReplaceAll(channelBase, ":", "."),
	}
}

func (r *NATSRelay) subject(topic string) string {
	if r.prefix == "" {
		return topic
	}
	return r.prefix + "." + topic
}

func (r *NATSRelay) Publish(_ context.Context, topic string, payload []byte) error {
	data, err := r.wrap(payload)
	if err != nil {
		return err
	}
	return r.conn.Publish(r.subject(topic), data)
}

func (r *NATSRelay) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	subject := r.subject(topic)
	sub, err := r.conn.Subscribe(subject, func(msg *nats.Msg) {
		r.unwrap(msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			r.logger.Warn().Err(err).Str("subject", subject).Msg("failed to drain relay subscription")
		}
	}()

	return nil
}
