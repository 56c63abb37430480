package browser

import (
	"context"
	"errors"
)

var (
	// ErrNoHistory is returned by Back/Forward when the history has no entry
	// in the requested direction.
	ErrNoHistory = errors.New("no history entry to navigate to")

	// ErrPageClosed is returned when an operation is attempted against a page
	// whose backend target is gone.
	ErrPageClosed = errors.New("page is closed")

	// ErrScreencastActive is returned when a screencast is started twice.
	ErrScreencastActive = errors.New("screencast already active")
)

// Launcher starts a rendering backend and returns a handle to its page.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}

// Page is the handle to one live browser page. Implementations wrap the
// backend's remote-control protocol. Tests can mock it.
type Page interface {
	// Navigate loads the given address and returns the final address after
	// redirects.
	Navigate(ctx context.Context, url string) (string, error)
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Reload(ctx context.Context) error

	Click(ctx context.Context, x, y float64) error
	Type(ctx context.Context, text string) error
	Key(ctx context.Context, key string) error
	Scroll(ctx context.Context, deltaY float64) error

	// URL returns the page's current address.
	URL(ctx context.Context) (string, error)

	// Screenshot captures one frame as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// StartScreencast subscribes to the backend's native frame feed. The
	// handler receives JPEG bytes per frame; each frame is acknowledged to
	// the backend before the next one is requested.
	StartScreencast(ctx context.Context, handler func(frame []byte)) error
	StopScreencast(ctx context.Context) error

	// Alive reports whether the backend target is still attached.
	Alive() bool

	// Close tears down the page and its backend process.
	Close(ctx context.Context) error
}
