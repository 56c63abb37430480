package stream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/browsercast/internal/logger"
)

// Conn is the subset of the websocket connection the gateway writes to.
// Tests substitute their own implementation.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Subscriber is one connected viewer
type Subscriber struct {
	ID   string
	conn Conn
	send chan Frame

	closeOnce sync.Once
	sent      uint64
	dropped   uint64
}

// Dropped returns how many frames were dropped for this subscriber
func (s *Subscriber) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Sent returns how many frames were queued for this subscriber
func (s *Subscriber) Sent() uint64 {
	return atomic.LoadUint64(&s.sent)
}

// Stats summarizes gateway activity for the stats endpoint
type Stats struct {
	Subscribers     int    `json:"subscribers"`
	FramesBroadcast uint64 `json:"frames_broadcast"`
	FramesDropped   uint64 `json:"frames_dropped"`
}

// Gateway fans frames out to subscribers. Delivery to one subscriber never
// blocks delivery to others or the capture tick: each subscriber has its own
// bounded queue and writer goroutine, and a full queue drops the frame for
// that subscriber only.
type Gateway struct {
	queueDepth int

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool

	onFirst func()
	onLast  func()

	broadcast uint64
	dropped   uint64
}

// NewGateway creates a gateway whose subscribers buffer up to queueDepth
// frames each.
func NewGateway(queueDepth int) *Gateway {
	return &Gateway{
		queueDepth:  queueDepth,
		subscribers: make(map[string]*Subscriber),
	}
}

// SetHooks registers callbacks fired when the subscriber count transitions
// from zero and back to zero. Push-mode capture uses these to start and
// release the backend screencast. Hooks run outside the gateway lock.
func (g *Gateway) SetHooks(onFirst, onLast func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onFirst = onFirst
	g.onLast = onLast
}

// Attach registers a connection as a subscriber and starts its writer
func (g *Gateway) Attach(conn Conn) *Subscriber {
	sub := &Subscriber{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan Frame, g.queueDepth),
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		sub.closeOnce.Do(func() {
			close(sub.send)
		})
		conn.Close()
		logger.WithComponent("stream").Debug().Msg("Attach refused, gateway closed")
		return sub
	}
	g.subscribers[sub.ID] = sub
	first := len(g.subscribers) == 1
	onFirst := g.onFirst
	g.mu.Unlock()

	go g.writeLoop(sub)

	logger.WithComponent("stream").Info().
		Str("subscriber_id", sub.ID).
		Bool("first", first).
		Msg("Subscriber attached")

	if first && onFirst != nil {
		onFirst()
	}
	return sub
}

// Detach removes a subscriber and closes its queue. Idempotent; safe to call
// from both the read loop and the writer on error.
func (g *Gateway) Detach(sub *Subscriber) {
	g.mu.Lock()
	_, present := g.subscribers[sub.ID]
	delete(g.subscribers, sub.ID)
	last := present && len(g.subscribers) == 0
	onLast := g.onLast
	g.mu.Unlock()

	sub.closeOnce.Do(func() {
		close(sub.send)
	})

	if !present {
		return
	}

	logger.WithComponent("stream").Info().
		Str("subscriber_id", sub.ID).
		Uint64("dropped", sub.Dropped()).
		Bool("last", last).
		Msg("Subscriber detached")

	if last && onLast != nil {
		onLast()
	}
}

// Broadcast queues the frame for every live subscriber without blocking.
// A saturated subscriber loses this frame; freshest frame wins.
func (g *Gateway) Broadcast(frame Frame) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return
	}

	atomic.AddUint64(&g.broadcast, 1)

	for _, sub := range g.subscribers {
		select {
		case sub.send <- frame:
			atomic.AddUint64(&sub.sent, 1)
		default:
			atomic.AddUint64(&sub.dropped, 1)
			atomic.AddUint64(&g.dropped, 1)
		}
	}
}

// Count returns the number of live subscribers
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subscribers)
}

// GetStats returns broadcast totals
func (g *Gateway) GetStats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		Subscribers:     len(g.subscribers),
		FramesBroadcast: atomic.LoadUint64(&g.broadcast),
		FramesDropped:   atomic.LoadUint64(&g.dropped),
	}
}

// Close detaches every subscriber and refuses further broadcasts
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	subs := make([]*Subscriber, 0, len(g.subscribers))
	for _, sub := range g.subscribers {
		subs = append(subs, sub)
	}
	g.subscribers = make(map[string]*Subscriber)
	g.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce.Do(func() {
			close(sub.send)
		})
	}
}

// writeLoop drains a subscriber's queue onto its connection. A write error
// detaches this subscriber only.
func (g *Gateway) writeLoop(sub *Subscriber) {
	defer sub.conn.Close()

	for frame := range sub.send {
		msg := envelope{
			Type:    "frame",
			Seq:     frame.Seq,
			Session: frame.SessionID,
			Data:    frame.Data,
		}
		if err := sub.conn.WriteJSON(msg); err != nil {
			logger.WithComponent("stream").Debug().
				Err(err).
				Str("subscriber_id", sub.ID).
				Msg("Write failed, detaching subscriber")
			g.Detach(sub)
			return
		}
	}
}
