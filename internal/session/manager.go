package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/browsercast/internal/browser"
	"github.com/bryanchriswhite/browsercast/internal/config"
	"github.com/bryanchriswhite/browsercast/internal/logger"
)

// State is the session lifecycle state
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
	StateClosing       State = "closing"
)

// Session is the single live browsing context
type Session struct {
	ID        string
	Page      browser.Page
	CreatedAt time.Time
}

// initAttempt is the single-flight unit: one in-progress initialization whose
// result every concurrent EnsureReady caller observes.
type initAttempt struct {
	done chan struct{}
	sess *Session
	err  error
}

// Health reflects the manager's state for supervisors
type Health struct {
	State               State  `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	SessionID           string `json:"session_id,omitempty"`
	URL                 string `json:"url,omitempty"`
}

// Manager owns the session. All state transitions are serialized through its
// mutex; at most one initialization runs process-wide.
type Manager struct {
	launcher browser.Launcher
	cfg      config.BrowserConfig

	mu       sync.Mutex
	state    State
	sess     *Session
	attempt  *initAttempt
	failures int
	lastURL  string

	hooksMu    sync.RWMutex
	navHooks   []func()
	readyHooks []func()
}

// NewManager creates a session manager. The session itself is launched lazily
// by the first EnsureReady call.
func NewManager(launcher browser.Launcher, cfg config.BrowserConfig) *Manager {
	return &Manager{
		launcher: launcher,
		cfg:      cfg,
		state:    StateUninitialized,
	}
}

// OnNavigation registers a hook fired after every successful navigation-class
// command. The frame pipeline uses this to invalidate its previous-frame cache.
func (m *Manager) OnNavigation(hook func()) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.navHooks = append(m.navHooks, hook)
}

func (m *Manager) notifyNavigation() {
	m.hooksMu.RLock()
	defer m.hooksMu.RUnlock()
	for _, hook := range m.navHooks {
		hook()
	}
}

// OnSessionReady registers a hook fired after each successful initialization,
// including re-initialization after a backend crash. Push-mode capture uses
// this to move its feed onto the replacement session.
func (m *Manager) OnSessionReady(hook func()) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.readyHooks = append(m.readyHooks, hook)
}

func (m *Manager) notifySessionReady() {
	m.hooksMu.RLock()
	defer m.hooksMu.RUnlock()
	for _, hook := range m.readyHooks {
		hook()
	}
}

// EnsureReady returns a live session, initializing one if needed. Concurrent
// callers during initialization wait for the in-progress attempt and observe
// its result rather than launching a second backend.
func (m *Manager) EnsureReady(ctx context.Context) (*Session, error) {
	for {
		m.mu.Lock()

		if m.state == StateReady && m.sess != nil && m.sess.Page.Alive() {
			sess := m.sess
			m.mu.Unlock()
			return sess, nil
		}

		if m.attempt != nil {
			attempt := m.attempt
			m.mu.Unlock()
			select {
			case <-attempt.done:
				if attempt.err != nil {
					return nil, attempt.err
				}
				if attempt.sess.Page.Alive() {
					return attempt.sess, nil
				}
				// The freshly initialized session died already; retry.
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// This caller becomes the initializer.
		attempt := &initAttempt{done: make(chan struct{})}
		stale := m.sess
		m.sess = nil
		m.state = StateInitializing
		m.attempt = attempt
		m.mu.Unlock()

		sess, lastURL, err := m.initialize(stale)

		m.mu.Lock()
		attempt.sess, attempt.err = sess, err
		m.attempt = nil
		if err != nil {
			m.state = StateFailed
			m.sess = nil
			m.lastURL = ""
			m.failures++
		} else {
			m.state = StateReady
			m.sess = sess
			m.lastURL = lastURL
			m.failures = 0
		}
		m.mu.Unlock()
		close(attempt.done)

		if err != nil {
			return nil, err
		}
		m.notifySessionReady()
		return sess, nil
	}
}

// initialize runs the Initializing transition: close stale handle, launch,
// land on the default address. No manager lock is held here.
func (m *Manager) initialize(stale *Session) (*Session, string, error) {
	log := logger.WithComponent("session")

	if stale != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := stale.Page.Close(closeCtx); err != nil {
			log.Debug().Err(err).Str("session_id", stale.ID).Msg("Stale page close failed")
		}
		cancel()
	}

	// The attempt is shared by every waiter, so it must not die with the
	// initiating caller's context. Waiters that give up detach individually
	// in EnsureReady; the launch itself runs to completion or timeout.
	initCtx, cancel := context.WithTimeout(context.Background(), m.cfg.NavigationTimeout())
	defer cancel()

	page, err := m.launcher.Launch(initCtx)
	if err != nil {
		return nil, "", fmt.Errorf("session init: %w", err)
	}

	finalURL, err := page.Navigate(initCtx, m.cfg.LandingURL)
	if err != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = page.Close(closeCtx)
		closeCancel()
		return nil, "", fmt.Errorf("session init: landing navigation: %w", err)
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Page:      page,
		CreatedAt: time.Now(),
	}

	log.Info().
		Str("session_id", sess.ID).
		Str("url", finalURL).
		Msg("Session ready")

	return sess, finalURL, nil
}

// ReportFailure records a backend failure observed outside the command path
// (e.g. a capture error). A dead page drops the session so the next caller
// re-initializes.
func (m *Manager) ReportFailure(sess *Session, err error) {
	if sess == nil || sess.Page.Alive() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != sess {
		// Already replaced; nothing to drop.
		return
	}
	logger.WithComponent("session").Warn().
		Err(err).
		Str("session_id", sess.ID).
		Msg("Session dropped after backend failure")
	m.sess = nil
	m.lastURL = ""
	m.state = StateUninitialized
}

// CurrentID returns the live session's ID, or empty when none is live.
// The pipeline uses it to discard frames captured under a superseded session.
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.ID
}

// Health returns the manager's state for the health endpoint
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := Health{
		State:               m.state,
		ConsecutiveFailures: m.failures,
		URL:                 m.lastURL,
	}
	if m.sess != nil {
		h.SessionID = m.sess.ID
	}
	return h
}

// Degraded reports whether repeated launch failures passed the configured
// threshold. A supervisor should restart the process at this point.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures >= m.cfg.FailureThreshold
}

// Shutdown closes the backend session. Idempotent, best-effort.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.lastURL = ""
	m.state = StateClosing
	m.mu.Unlock()

	if sess != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sess.Page.Close(closeCtx); err != nil {
			logger.WithComponent("session").Debug().Err(err).Msg("Shutdown close failed")
		}
		cancel()
	}

	m.mu.Lock()
	m.state = StateUninitialized
	m.mu.Unlock()
}

// NormalizeURL defaults the scheme to https when none is given
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if !strings.Contains(raw, "://") {
		return "https://" + raw
	}
	return raw
}
