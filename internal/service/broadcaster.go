package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/smiletrip-api/internal/dto"
	"github.com/noah-isme/smiletrip-api/internal/observability"
)

// EventTypeNewMessage is the realtime event emitted for a created message.
const EventTypeNewMessage = "new_message"

const (
	defaultSendBuffer   = 32
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
)

// PushOutcome records what happened to a best-effort push.
type PushOutcome string

const (
	PushDelivered PushOutcome = "delivered"
	PushMissed    PushOutcome = "missed"
	PushDropped   PushOutcome = "dropped"
	PushRelayed   PushOutcome = "relayed"
)

// Pusher is the narrow view of the broadcaster used by message creation.
type Pusher interface {
	Push(ctx context.Context, recipient uint, event dto.RealtimeEvent) PushOutcome
}

// Channel is one live push session of a user.
type Channel struct {
	UserID  uint
	Session string

	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

// Messages yields encoded events queued for the session.
func (c *Channel) Messages() <-chan []byte {
	return c.send
}

// Done is closed once the session ends.
func (c *Channel) Done() <-chan struct{} {
	return c.closed
}

// Close ends the session. Safe to call more than once.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// BroadcasterOptions tunes the live channel registry.
type BroadcasterOptions struct {
	SendBuffer   int
	PingInterval time.Duration
	Relay        Relay
}

// Broadcaster owns the registry of live push channels, at most one per user.
type Broadcaster struct {
	mu       sync.RWMutex
	channels map[uint]*Channel

	buffer int
	ping   time.Duration
	relay  Relay
	logger zerolog.Logger
}

type relayedPush struct {
	Target uint            `json:"target"`
	Event  json.RawMessage `json:"event"`
}

// NewBroadcaster constructs an empty registry.
func NewBroadcaster(opts BroadcasterOptions, logger zerolog.Logger) *Broadcaster {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	return &Broadcaster{
		channels: make(map[uint]*Channel),
		buffer:   opts.SendBuffer,
		ping:     opts.PingInterval,
		relay:    opts.Relay,
		logger:   logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Start consumes pushes relayed by other nodes.
func (b *Broadcaster) Start(ctx context.Context) error {
	if b.relay == nil {
		return nil
	}
	return b.relay.Subscribe(ctx, relayTopicRealtime, b.handleRelayed)
}

// NewChannel allocates a session for the user without registering it.
func (b *Broadcaster) NewChannel(userID uint) *Channel {
	return &Channel{
		UserID:  userID,
		Session: uuid.NewString(),
		send:    make(chan []byte, b.buffer),
		closed:  make(chan struct{}),
	}
}

// Register makes ch the user's live channel. A previous channel is closed.
func (b *Broadcaster) Register(ch *Channel) func() {
	b.mu.Lock()
	previous, replaced := b.channels[ch.UserID]
	b.channels[ch.UserID] = ch
	b.mu.Unlock()

	if replaced {
		previous.Close()
		b.logger.Debug().Uint("user_id", ch.UserID).Str("session", previous.Session).Msg("live channel replaced by newer session")
	} else {
		observability.RealtimeConnectionsActive().Inc()
	}
	b.logger.Debug().Uint("user_id", ch.UserID).Str("session", ch.Session).Msg("live channel registered")

	return func() { b.Deregister(ch) }
}

// Deregister closes ch and removes it only if it is still the user's current session.
func (b *Broadcaster) Deregister(ch *Channel) bool {
	b.mu.Lock()
	current, ok := b.channels[ch.UserID]
	removed := ok && current == ch
	if removed {
		delete(b.channels, ch.UserID)
	}
	b.mu.Unlock()

	ch.Close()
	if removed {
		observability.RealtimeConnectionsActive().Dec()
		b.logger.Debug().Uint("user_id", ch.UserID).Str("session", ch.Session).Msg("live channel deregistered")
	}
	return removed
}

// IsConnected reports whether the user has a live channel on this node.
func (b *Broadcaster) IsConnected(userID uint) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.channels[userID]
	return ok
}

// Push attempts immediate delivery and never blocks on the recipient.
func (b *Broadcaster) Push(ctx context.Context, recipient uint, event dto.RealtimeEvent) PushOutcome {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to encode realtime event")
		return b.record(PushMissed)
	}

	outcome := b.deliverLocal(recipient, payload)
	if outcome != PushMissed || b.relay == nil {
		return b.record(outcome)
	}

	relayed, err := json.Marshal(relayedPush{Target: recipient, Event: payload})
	if err == nil {
		err = b.relay.Publish(ctx, relayTopicRealtime, relayed)
	}
	if err != nil {
		b.logger.Warn().Err(err).Uint("user_id", recipient).Msg("failed to relay realtime event")
		return b.record(PushMissed)
	}
	return b.record(PushRelayed)
}

func (b *Broadcaster) record(outcome PushOutcome) PushOutcome {
	observability.PushDeliveries().WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (b *Broadcaster) deliverLocal(recipient uint, payload []byte) PushOutcome {
	b.mu.RLock()
	ch, ok := b.channels[recipient]
	b.mu.RUnlock()

	if !ok || ch.isClosed() {
		b.logger.Debug().Uint("user_id", recipient).Msg("no live channel, recipient will poll")
		return PushMissed
	}

	select {
	case ch.send <- payload:
		return PushDelivered
	default:
		b.logger.Warn().Uint("user_id", recipient).Str("session", ch.Session).Msg("live channel buffer full, closing slow session")
		b.Deregister(ch)
		return PushDropped
	}
}

func (b *Broadcaster) handleRelayed(payload []byte) {
	var push relayedPush
	if err := json.Unmarshal(payload, &push); err != nil {
		b.logger.Warn().Err(err).Msg("invalid relayed push")
		return
	}
	if outcome := b.deliverLocal(push.Target, push.Event); outcome != PushMissed {
		b.record(outcome)
	}
}

// Close ends every live session, used on shutdown.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	channels := b.channels
	b.channels = make(map[uint]*Channel)
	b.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
		observability.RealtimeConnectionsActive().Dec()
	}
}

// ServeConnection binds a websocket to the user's live channel until either side closes.
func (b *Broadcaster) ServeConnection(conn *websocket.Conn, userID uint) {
	ch := b.NewChannel(userID)
	b.Register(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.writeLoop(conn, ch)
	}()
	b.readLoop(conn, ch)

	// The writer owns conn until it returns; conn is released once the handler returns.
	b.Deregister(ch)
	<-done
}

// readLoop drains client frames; inbound payloads carry no commands.
func (b *Broadcaster) readLoop(conn *websocket.Conn, ch *Channel) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			b.logger.Debug().Err(err).Uint("user_id", ch.UserID).Msg("realtime read loop ended")
			return
		}
		if ch.isClosed() {
			return
		}
	}
}

func (b *Broadcaster) writeLoop(conn *websocket.Conn, ch *Channel) {
	ticker := time.NewTicker(b.ping)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case payload := <-ch.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				b.logger.Debug().Err(err).Uint("user_id", ch.UserID).Msg("realtime write loop terminated")
				ch.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				b.logger.Debug().Err(err).Uint("user_id", ch.UserID).Msg("realtime ping failed")
				ch.Close()
				return
			}
		case <-ch.closed:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(writeWait))
			return
		}
	}
}
