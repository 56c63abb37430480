package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/browsercast/internal/browser"
	"github.com/bryanchriswhite/browsercast/internal/logger"
	"github.com/bryanchriswhite/browsercast/internal/session"
	"github.com/bryanchriswhite/browsercast/internal/stream"
)

// ScreencastCapturer uses the backend's native frame feed. The subscription
// follows the gateway's subscriber count: started when the first viewer
// attaches, released when the last one detaches. No similarity suppression;
// the backend already rate-limits its feed.
type ScreencastCapturer struct {
	sessions *session.Manager
	gateway  *stream.Gateway
	timeout  time.Duration

	mu      sync.Mutex
	running bool
	active  *session.Session
	seq     uint64
}

// NewScreencastCapturer creates a push-mode capturer. It registers a
// session-ready hook so the feed follows the session when it self-heals
// underneath connected viewers.
func NewScreencastCapturer(sessions *session.Manager, gateway *stream.Gateway, timeout time.Duration) *ScreencastCapturer {
	c := &ScreencastCapturer{
		sessions: sessions,
		gateway:  gateway,
		timeout:  timeout,
	}
	sessions.OnSessionReady(c.onSessionReady)
	return c
}

// Name returns the capture strategy name
func (c *ScreencastCapturer) Name() string {
	return "push"
}

// Start hooks the capturer into the gateway's subscriber lifecycle
func (c *ScreencastCapturer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("screencast capturer already running")
	}
	c.running = true
	c.gateway.SetHooks(c.onFirstSubscriber, c.onLastSubscriber)

	logger.WithComponent("pipeline").Info().Msg("Push capture started")
	return nil
}

// Stop releases any active screencast and detaches from the gateway
func (c *ScreencastCapturer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.gateway.SetHooks(nil, nil)
	c.stopScreencast()

	logger.WithComponent("pipeline").Info().Msg("Push capture stopped")
	return nil
}

// onFirstSubscriber establishes the backend feed
func (c *ScreencastCapturer) onFirstSubscriber() {
	c.establish()
}

// onSessionReady moves the feed onto a replacement session. Without this a
// backend crash would leave connected viewers dark: the subscriber count
// never crosses zero again, so onFirstSubscriber never refires.
func (c *ScreencastCapturer) onSessionReady() {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running || c.gateway.Count() == 0 {
		return
	}
	c.establish()
}

// establish starts the screencast against the current session. Idempotent:
// a feed already bound to that session is left alone.
func (c *ScreencastCapturer) establish() {
	log := logger.WithComponent("pipeline")

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	sess, err := c.sessions.EnsureReady(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Screencast not started: session not ready")
		return
	}

	c.mu.Lock()
	if !c.running || (c.active != nil && c.active.ID == sess.ID) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	handler := func(frame []byte) {
		c.handleFrame(sess, frame)
	}
	if err := sess.Page.StartScreencast(ctx, handler); err != nil {
		if errors.Is(err, browser.ErrScreencastActive) {
			// A concurrent establish won the race against this session.
			return
		}
		c.sessions.ReportFailure(sess, err)
		log.Warn().Err(err).Msg("Failed to start screencast")
		return
	}

	c.mu.Lock()
	if !c.running {
		// Stopped while the feed was being established; release it.
		c.mu.Unlock()
		if err := sess.Page.StopScreencast(ctx); err != nil {
			log.Debug().Err(err).Msg("Stop screencast failed")
		}
		return
	}
	c.active = sess
	c.seq = 0
	c.mu.Unlock()

	log.Info().Str("session_id", sess.ID).Msg("Screencast established")
}

// onLastSubscriber releases the backend feed
func (c *ScreencastCapturer) onLastSubscriber() {
	c.stopScreencast()
}

func (c *ScreencastCapturer) stopScreencast() {
	c.mu.Lock()
	sess := c.active
	c.active = nil
	c.mu.Unlock()

	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := sess.Page.StopScreencast(ctx); err != nil {
		logger.WithComponent("pipeline").Debug().Err(err).Msg("Stop screencast failed")
	} else {
		logger.WithComponent("pipeline").Info().
			Str("session_id", sess.ID).
			Msg("Screencast released")
	}
}

// handleFrame stamps and broadcasts one pushed frame
func (c *ScreencastCapturer) handleFrame(sess *session.Session, data []byte) {
	if c.sessions.CurrentID() != sess.ID {
		// Frame from a superseded session; discard.
		return
	}

	c.mu.Lock()
	if c.active == nil || c.active.ID != sess.ID {
		c.mu.Unlock()
		return
	}
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	c.gateway.Broadcast(stream.Frame{
		Seq:        seq,
		SessionID:  sess.ID,
		Data:       data,
		CapturedAt: time.Now(),
	})
}
