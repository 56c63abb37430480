package session

import (
	"context"
	"fmt"
)

// Op identifies a control operation
type Op string

const (
	OpNavigate Op = "navigate"
	OpClick    Op = "click"
	OpType     Op = "type"
	OpKey      Op = "key"
	OpScroll   Op = "scroll"
	OpBack     Op = "back"
	OpForward  Op = "forward"
	OpRefresh  Op = "refresh"
	OpURL      Op = "url"
)

// Command is one in-flight control request. Only the fields relevant to Op
// are read.
type Command struct {
	Op     Op
	URL    string
	X, Y   float64
	Text   string
	Key    string
	DeltaY float64
}

// Result carries the value-returning part of a command, if any
type Result struct {
	URL string `json:"url,omitempty"`
}

// navigatesHistory reports whether a successful Op invalidates the previously
// rendered frame. Click counts: it may trigger a navigation the backend does
// not report separately.
func navigatesHistory(op Op) bool {
	switch op {
	case OpNavigate, OpBack, OpForward, OpRefresh, OpClick:
		return true
	}
	return false
}

// Run executes one control command against a guaranteed-live session. If no
// session is live, one is initialized first. A failure against a dead page
// drops the session; the next call recovers it.
func (m *Manager) Run(ctx context.Context, cmd Command) (Result, error) {
	sess, err := m.EnsureReady(ctx)
	if err != nil {
		return Result{}, err
	}

	timeout := m.cfg.CommandTimeout()
	if navigatesHistory(cmd.Op) {
		timeout = m.cfg.NavigationTimeout()
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res Result
	switch cmd.Op {
	case OpNavigate:
		res.URL, err = sess.Page.Navigate(opCtx, NormalizeURL(cmd.URL))
	case OpClick:
		err = sess.Page.Click(opCtx, cmd.X, cmd.Y)
	case OpType:
		err = sess.Page.Type(opCtx, cmd.Text)
	case OpKey:
		err = sess.Page.Key(opCtx, cmd.Key)
	case OpScroll:
		err = sess.Page.Scroll(opCtx, cmd.DeltaY)
	case OpBack:
		err = sess.Page.Back(opCtx)
	case OpForward:
		err = sess.Page.Forward(opCtx)
	case OpRefresh:
		err = sess.Page.Reload(opCtx)
	case OpURL:
		res.URL, err = sess.Page.URL(opCtx)
	default:
		return Result{}, fmt.Errorf("unknown command %q", cmd.Op)
	}

	if err != nil {
		m.ReportFailure(sess, err)
		return Result{}, err
	}

	if cmd.Op == OpNavigate {
		m.mu.Lock()
		if m.sess == sess {
			m.lastURL = res.URL
		}
		m.mu.Unlock()
	}
	if navigatesHistory(cmd.Op) {
		m.notifyNavigation()
	}

	return res, nil
}
