package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/valvoice/backend/internal/events"
	"github.com/valvoice/backend/internal/narration"
	"github.com/valvoice/backend/internal/session"
)

var ErrTooManyConnections = errors.New("too many websocket connections")

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			// Drain until RemoveClient closes the channel.
			for range c.send {
			}
			return
		}
	}
}

// Broadcaster relays pipeline notifications to WebSocket clients. It is an
// events.Observer, an events.FatalObserver, a presence.Consumer and a
// narration.Sink, and remembers the latest state of each so new clients
// start from a snapshot.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	logger   *zap.Logger

	stateMu   sync.Mutex
	statuses  map[string]ComponentStatus
	identity  string
	stats     StatsPayload
	gameState session.GameState
	fatal     *FatalPayload

	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once
}

// NewBroadcaster starts the periodic snapshot loop. maxConns <= 0 means no
// connection limit.
func NewBroadcaster(snapshotInterval time.Duration, maxConns int, logger *zap.Logger) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		logger:   logger,
		statuses: make(map[string]ComponentStatus),
		stop:     make(chan struct{}),
	}
	if snapshotInterval > 0 {
		b.snapshotTicker = time.NewTicker(snapshotInterval)
		go b.snapshotLoop()
	}
	return b
}

func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		if b.snapshotTicker != nil {
			b.snapshotTicker.Stop()
		}
		close(b.stop)

		b.mu.Lock()
		defer b.mu.Unlock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
	})
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, sendBuffer),
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	data, err := json.Marshal(WSMessage{Type: MsgSnapshot, Payload: b.Snapshot()})
	if err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Snapshot returns the latest known state.
func (b *Broadcaster) Snapshot() SnapshotPayload {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	statuses := make([]ComponentStatus, 0, len(b.statuses))
	for _, s := range b.statuses {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Component < statuses[j].Component
	})

	snap := SnapshotPayload{
		Statuses:  statuses,
		Identity:  b.identity,
		Stats:     b.stats,
		GameState: b.gameState,
	}
	if b.fatal != nil {
		f := *b.fatal
		snap.Fatal = &f
	}
	return snap
}

func (b *Broadcaster) StatusChanged(component, status string, healthy bool) {
	cs := ComponentStatus{Component: component, Status: status, Healthy: healthy, UpdatedAt: time.Now()}
	b.stateMu.Lock()
	b.statuses[component] = cs
	b.stateMu.Unlock()
	b.broadcast(WSMessage{Type: MsgStatus, Payload: cs})
}

func (b *Broadcaster) IdentityCaptured(id string) {
	b.stateMu.Lock()
	b.identity = id
	b.stateMu.Unlock()
	b.broadcast(WSMessage{Type: MsgIdentity, Payload: IdentityPayload{ID: id}})
}

func (b *Broadcaster) StatsUpdated(messages, characters int64) {
	p := StatsPayload{Messages: messages, Characters: characters}
	b.stateMu.Lock()
	b.stats = p
	b.stateMu.Unlock()
	b.broadcast(WSMessage{Type: MsgStats, Payload: p})
}

func (b *Broadcaster) Fatal(cause events.FatalCause, reason string) {
	p := FatalPayload{Cause: cause, Reason: reason, Message: cause.Message()}
	b.stateMu.Lock()
	b.fatal = &p
	b.stateMu.Unlock()
	b.broadcast(WSMessage{Type: MsgFatal, Payload: p})
}

func (b *Broadcaster) GameStateChanged(state session.GameState) {
	b.stateMu.Lock()
	b.gameState = state
	b.stateMu.Unlock()
	b.broadcast(WSMessage{Type: MsgGameState, Payload: GameStatePayload{State: state}})
}

// Narrate relays a narrated message to every client. Clients do the
// speaking; the relay never blocks the pipeline.
func (b *Broadcaster) Narrate(_ context.Context, m narration.Message) error {
	b.broadcast(WSMessage{Type: MsgNarration, Payload: m})
	return nil
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.snapshotTicker.C:
			if b.ClientCount() > 0 {
				b.broadcast(WSMessage{Type: MsgSnapshot, Payload: b.Snapshot()})
			}
		case <-b.stop:
			return
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("broadcast marshal error", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !b.trySend(c, data) {
			b.logger.Info("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

// trySend reports false when the client's buffer is full. A client removed
// concurrently is skipped.
func (b *Broadcaster) trySend(c *client, data []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
