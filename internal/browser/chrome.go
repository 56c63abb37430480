package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/bryanchriswhite/browsercast/internal/logger"
)

// Options configures the Chrome launcher. These map to a fixed set of
// allocator flags; everything else about the backend is opaque.
type Options struct {
	ExecPath string
	Width    int
	Height   int
	Quality  int
}

// ChromeLauncher launches headless Chrome via the DevTools protocol.
type ChromeLauncher struct {
	opts Options
}

// NewChromeLauncher creates a launcher with the given options.
func NewChromeLauncher(opts Options) *ChromeLauncher {
	return &ChromeLauncher{opts: opts}
}

// Launch starts a browser process and opens a single page. The page's
// lifetime is independent of ctx; ctx only bounds the startup itself.
func (l *ChromeLauncher) Launch(ctx context.Context) (Page, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.WindowSize(l.opts.Width, l.opts.Height),
	)
	if l.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	pageCtx, pageCancel := chromedp.NewContext(allocCtx)

	p := &chromePage{
		ctx:         pageCtx,
		cancelPage:  pageCancel,
		cancelAlloc: allocCancel,
		opts:        l.opts,
	}

	chromedp.ListenTarget(pageCtx, p.handleEvent)

	// An empty Run forces the browser process to start.
	if err := p.run(ctx); err != nil {
		pageCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	logger.WithComponent("browser").Info().
		Int("width", l.opts.Width).
		Int("height", l.opts.Height).
		Msg("Browser launched")

	return p, nil
}

// chromePage drives one Chrome page over CDP.
type chromePage struct {
	ctx         context.Context
	cancelPage  context.CancelFunc
	cancelAlloc context.CancelFunc
	opts        Options

	mu          sync.Mutex
	closed      bool
	castHandler func([]byte)
}

// run executes actions on the page's context while honoring the caller's
// deadline.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if !p.Alive() {
		return ErrPageClosed
	}
	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

// handleEvent receives CDP events for the page target.
func (p *chromePage) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventScreencastFrame:
		p.handleScreencastFrame(e)
	case *inspector.EventTargetCrashed:
		logger.WithComponent("browser").Warn().Msg("Browser target crashed")
		p.markClosed()
	case *inspector.EventDetached:
		logger.WithComponent("browser").Warn().
			Str("reason", string(e.Reason)).
			Msg("Browser target detached")
		p.markClosed()
	}
}

func (p *chromePage) handleScreencastFrame(ev *page.EventScreencastFrame) {
	p.mu.Lock()
	handler := p.castHandler
	p.mu.Unlock()

	// Ack regardless of whether a handler is attached; the backend stalls
	// the feed until the frame is acknowledged.
	sessionID := ev.SessionID
	go func() {
		if err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return page.ScreencastFrameAck(sessionID).Do(ctx)
		})); err != nil {
			logger.WithComponent("browser").Debug().Err(err).Msg("Screencast ack failed")
		}
	}()

	if handler == nil {
		return
	}

	data, err := base64.StdEncoding.DecodeString(ev.Data)
	if err != nil {
		logger.WithComponent("browser").Debug().Err(err).Msg("Bad screencast frame payload")
		return
	}
	handler(data)
}

func (p *chromePage) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *chromePage) Navigate(ctx context.Context, url string) (string, error) {
	var final string
	err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.Location(&final),
	)
	if err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	return final, nil
}

func (p *chromePage) Back(ctx context.Context) error {
	return p.historyStep(ctx, -1)
}

func (p *chromePage) Forward(ctx context.Context) error {
	return p.historyStep(ctx, +1)
}

func (p *chromePage) historyStep(ctx context.Context, delta int64) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cur, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return err
		}
		next := cur + delta
		if next < 0 || next >= int64(len(entries)) {
			return ErrNoHistory
		}
		return page.NavigateToHistoryEntry(entries[next].ID).Do(ctx)
	}))
}

func (p *chromePage) Reload(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload())
}

func (p *chromePage) Click(ctx context.Context, x, y float64) error {
	return p.run(ctx, chromedp.MouseClickXY(x, y))
}

func (p *chromePage) Type(ctx context.Context, text string) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.InsertText(text).Do(ctx)
	}))
}

func (p *chromePage) Key(ctx context.Context, key string) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := input.DispatchKeyEvent(input.KeyRawDown).WithKey(key).Do(ctx); err != nil {
			return err
		}
		return input.DispatchKeyEvent(input.KeyUp).WithKey(key).Do(ctx)
	}))
}

func (p *chromePage) Scroll(ctx context.Context, deltaY float64) error {
	// Wheel events are dispatched at the viewport center so they land on the
	// scrollable document rather than on window chrome.
	x := float64(p.opts.Width) / 2
	y := float64(p.opts.Height) / 2
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, x, y).
			WithDeltaX(0).
			WithDeltaY(deltaY).
			Do(ctx)
	}))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) StartScreencast(ctx context.Context, handler func(frame []byte)) error {
	p.mu.Lock()
	if p.castHandler != nil {
		p.mu.Unlock()
		return ErrScreencastActive
	}
	p.castHandler = handler
	p.mu.Unlock()

	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.StartScreencast().
			WithFormat(page.ScreencastFormatJpeg).
			WithQuality(int64(p.opts.Quality)).
			WithMaxWidth(int64(p.opts.Width)).
			WithMaxHeight(int64(p.opts.Height)).
			WithEveryNthFrame(1).
			Do(ctx)
	}))
	if err != nil {
		p.mu.Lock()
		p.castHandler = nil
		p.mu.Unlock()
		return fmt.Errorf("start screencast: %w", err)
	}
	return nil
}

func (p *chromePage) StopScreencast(ctx context.Context) error {
	p.mu.Lock()
	p.castHandler = nil
	p.mu.Unlock()

	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.StopScreencast().Do(ctx)
	}))
}

func (p *chromePage) Alive() bool {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	default:
		return true
	}
}

func (p *chromePage) Close(ctx context.Context) error {
	p.markClosed()
	p.cancelPage()
	p.cancelAlloc()
	return nil
}
