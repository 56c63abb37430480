package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/browsercast/internal/codec"
	"github.com/bryanchriswhite/browsercast/internal/logger"
	"github.com/bryanchriswhite/browsercast/internal/session"
	"github.com/bryanchriswhite/browsercast/internal/stream"
)

// Poller captures screenshots on a fixed tick, suppresses frames the
// comparator judges unchanged, and broadcasts the rest. A failed tick is
// skipped, never fatal to the loop.
type Poller struct {
	sessions *session.Manager
	encoder  *codec.Encoder
	compare  codec.Comparator
	gateway  *stream.Gateway
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Tick-loop state, owned by the run goroutine
	seq           uint64
	prev          []byte
	prevSessionID string

	// Set by the navigation hook; forces the next capture to count as changed
	dirty atomic.Bool
}

// NewPoller creates a polling capturer. It registers a navigation hook with
// the session manager so navigation-class commands invalidate the cached
// previous frame.
func NewPoller(sessions *session.Manager, encoder *codec.Encoder, compare codec.Comparator,
	gateway *stream.Gateway, interval, timeout time.Duration) *Poller {
	p := &Poller{
		sessions: sessions,
		encoder:  encoder,
		compare:  compare,
		gateway:  gateway,
		interval: interval,
		timeout:  timeout,
	}
	sessions.OnNavigation(func() {
		p.dirty.Store(true)
	})
	return p
}

// Name returns the capture strategy name
func (p *Poller) Name() string {
	return "poll"
}

// Start begins the tick loop
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.run()

	logger.WithComponent("pipeline").Info().
		Dur("interval", p.interval).
		Msg("Poll capture started")
	return nil
}

// Stop halts the tick loop and waits for it to exit
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	<-done
	logger.WithComponent("pipeline").Info().Msg("Poll capture stopped")
	return nil
}

func (p *Poller) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick captures, encodes, and emits at most one frame. Errors skip the tick.
func (p *Poller) tick() {
	if p.gateway.Count() == 0 {
		return
	}

	log := logger.WithComponent("pipeline")

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	sess, err := p.sessions.EnsureReady(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Tick skipped: session not ready")
		return
	}

	if sess.ID != p.prevSessionID {
		// New session: sequence and suppression state start over.
		p.prevSessionID = sess.ID
		p.prev = nil
		p.seq = 0
	}
	if p.dirty.Swap(false) {
		p.prev = nil
	}

	raw, err := sess.Page.Screenshot(ctx)
	if err != nil {
		p.sessions.ReportFailure(sess, err)
		log.Debug().Err(err).Msg("Tick skipped: capture failed")
		return
	}

	encoded, err := p.encoder.Encode(raw)
	if err != nil {
		log.Debug().Err(err).Msg("Tick skipped: encode failed")
		return
	}

	if p.compare.Similar(p.prev, encoded) {
		return
	}

	if p.sessions.CurrentID() != sess.ID {
		// Session replaced while this tick was in flight; the frame belongs
		// to a superseded session and must not be delivered.
		return
	}

	p.seq++
	p.gateway.Broadcast(stream.Frame{
		Seq:        p.seq,
		SessionID:  sess.ID,
		Data:       encoded,
		CapturedAt: time.Now(),
	})
	p.prev = encoded
}
