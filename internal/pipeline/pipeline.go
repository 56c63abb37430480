package pipeline

import (
	"fmt"

	"github.com/bryanchriswhite/browsercast/internal/codec"
	"github.com/bryanchriswhite/browsercast/internal/config"
	"github.com/bryanchriswhite/browsercast/internal/session"
	"github.com/bryanchriswhite/browsercast/internal/stream"
)

// Capturer drives frame acquisition out of the browser and into the gateway.
// Exactly one implementation is active per deployment.
type Capturer interface {
	// Start begins frame acquisition
	Start() error

	// Stop halts acquisition and releases any backend subscription
	Stop() error

	// Name returns a human-readable name for this capture strategy
	Name() string
}

// New selects a capturer from the configured capture mode
func New(cfg config.Config, sessions *session.Manager, gateway *stream.Gateway) (Capturer, error) {
	switch cfg.Capture.Mode {
	case config.CaptureModePoll:
		encoder := codec.NewEncoder(
			cfg.Browser.ViewportWidth,
			cfg.Browser.ViewportHeight,
			cfg.Capture.Quality,
		)
		compare := codec.SizeComparator{Tolerance: cfg.Capture.SimilarityTolerance}
		return NewPoller(sessions, encoder, compare, gateway,
			cfg.Capture.TickInterval(), cfg.Browser.CommandTimeout()), nil
	case config.CaptureModePush:
		return NewScreencastCapturer(sessions, gateway, cfg.Browser.NavigationTimeout()), nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q", cfg.Capture.Mode)
	}
}
