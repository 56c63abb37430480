// Package browsertest provides scriptable fakes for the browser interfaces.
package browsertest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/bryanchriswhite/browsercast/internal/browser"
)

// Launcher is a scriptable browser.Launcher
type Launcher struct {
	mu        sync.Mutex
	launches  int
	pages     []*Page
	launchErr error

	// LaunchDelay stretches Launch so tests can pile up concurrent callers
	LaunchDelay time.Duration

	// OnLaunch customizes each new page before it is returned
	OnLaunch func(p *Page)
}

// Launch implements browser.Launcher
func (l *Launcher) Launch(ctx context.Context) (browser.Page, error) {
	if l.LaunchDelay > 0 {
		select {
		case <-time.After(l.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	l.launches++
	err := l.launchErr
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p := NewPage()
	l.mu.Lock()
	l.pages = append(l.pages, p)
	onLaunch := l.OnLaunch
	l.mu.Unlock()
	if onLaunch != nil {
		onLaunch(p)
	}
	return p, nil
}

// SetLaunchErr makes subsequent launches fail with err (nil to recover)
func (l *Launcher) SetLaunchErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launchErr = err
}

// Launches returns how many times Launch was called
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// LastPage returns the most recently launched page, or nil
func (l *Launcher) LastPage() *Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pages) == 0 {
		return nil
	}
	return l.pages[len(l.pages)-1]
}

// Page is a scriptable browser.Page
type Page struct {
	mu         sync.Mutex
	alive      bool
	history    []string
	histIdx    int
	clicks     [][2]float64
	typed      []string
	keys       []string
	scrolls    []float64
	screenshot func() ([]byte, error)
	opErr      error

	castHandler func([]byte)
	castStarts  int
	castStops   int
}

// NewPage returns a live page with empty history
func NewPage() *Page {
	return &Page{
		alive:      true,
		histIdx:    -1,
		screenshot: func() ([]byte, error) { return SolidPNG(8, 8, color.White), nil },
	}
}

// SolidPNG encodes a single-color image, usable as a fake capture
func SolidPNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// SetErr makes every subsequent operation fail with err (nil to recover)
func (p *Page) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opErr = err
}

// SetScreenshot fixes the bytes returned by Screenshot
func (p *Page) SetScreenshot(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshot = func() ([]byte, error) { return data, nil }
}

// SetScreenshotFunc replaces the screenshot behavior entirely
func (p *Page) SetScreenshotFunc(fn func() ([]byte, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshot = fn
}

// Kill marks the page dead without going through Close
func (p *Page) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
}

func (p *Page) Navigate(ctx context.Context, url string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.opErr; err != nil {
		return "", err
	}
	p.history = append(p.history[:p.histIdx+1], url)
	p.histIdx = len(p.history) - 1
	return url, nil
}

func (p *Page) Back(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.opErr; err != nil {
		return err
	}
	if p.histIdx <= 0 {
		return browser.ErrNoHistory
	}
	p.histIdx--
	return nil
}

func (p *Page) Forward(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.opErr; err != nil {
		return err
	}
	if p.histIdx+1 >= len(p.history) {
		return browser.ErrNoHistory
	}
	p.histIdx++
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opErr
}

func (p *Page) Click(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.opErr; err != nil {
		return err
	}
	p.clicks = append(p.clicks, [2]float64{x, y})
	return nil
}

func (p *Page) Type(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.opErr; err != nil {
		return err
	}
	p.typed = append(p.typed, text)
	return nil
}

func (p *Page) Key(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.opErr; err != nil {
		return err
	}
	p.keys = append(p.keys, key)
	return nil
}

func (p *Page) Scroll(ctx context.Context, deltaY float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.opErr; err != nil {
		return err
	}
	p.scrolls = append(p.scrolls, deltaY)
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.opErr; err != nil {
		return "", err
	}
	if p.histIdx < 0 {
		return "about:blank", nil
	}
	return p.history[p.histIdx], nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	fn := p.screenshot
	err := p.opErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return fn()
}

func (p *Page) StartScreencast(ctx context.Context, handler func(frame []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.opErr; err != nil {
		return err
	}
	if p.castHandler != nil {
		return browser.ErrScreencastActive
	}
	p.castHandler = handler
	p.castStarts++
	return nil
}

func (p *Page) StopScreencast(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.castHandler = nil
	p.castStops++
	return p.opErr
}

// EmitFrame pushes a frame through the screencast handler, reporting whether
// one was attached
func (p *Page) EmitFrame(data []byte) bool {
	p.mu.Lock()
	handler := p.castHandler
	p.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(data)
	return true
}

func (p *Page) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
	p.castHandler = nil
	return nil
}

// Accessors for assertions

func (p *Page) Clicks() [][2]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]float64(nil), p.clicks...)
}

func (p *Page) Typed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.typed...)
}

func (p *Page) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func (p *Page) Scrolls() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.scrolls...)
}

func (p *Page) History() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.history...)
}

func (p *Page) CastStarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.castStarts
}

func (p *Page) CastStops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.castStops
}

var _ browser.Launcher = (*Launcher)(nil)
var _ browser.Page = (*Page)(nil)
