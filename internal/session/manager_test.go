package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/browsercast/internal/browser"
	"github.com/bryanchriswhite/browsercast/internal/browser/browsertest"
	"github.com/bryanchriswhite/browsercast/internal/config"
)

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		LandingURL:          "https://start.test",
		ViewportWidth:       320,
		ViewportHeight:      240,
		NavigationTimeoutMs: 2000,
		CommandTimeoutMs:    1000,
		FailureThreshold:    3,
	}
}

func TestEnsureReadySingleFlight(t *testing.T) {
	launcher := &browsertest.Launcher{LaunchDelay: 50 * time.Millisecond}
	mgr := NewManager(launcher, testBrowserConfig())

	const callers = 10
	sessions := make([]*Session, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = mgr.EnsureReady(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, launcher.Launches(), "concurrent callers must share one launch")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, sessions[0].ID, sessions[i].ID, "all callers observe the same session")
	}
	assert.Equal(t, StateReady, mgr.Health().State)
}

func TestEnsureReadyFailurePropagatesToAllWaiters(t *testing.T) {
	launcher := &browsertest.Launcher{LaunchDelay: 50 * time.Millisecond}
	launcher.SetLaunchErr(errors.New("no browser binary"))
	mgr := NewManager(launcher, testBrowserConfig())

	const callers = 5
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.EnsureReady(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, launcher.Launches())
	for i := 0; i < callers; i++ {
		assert.Error(t, errs[i])
	}
	assert.Equal(t, StateFailed, mgr.Health().State)

	// The next call retries cleanly.
	launcher.SetLaunchErr(nil)
	sess, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sess)
	assert.Equal(t, 2, launcher.Launches())
}

func TestEnsureReadyFastPathSkipsBackend(t *testing.T) {
	launcher := &browsertest.Launcher{}
	mgr := NewManager(launcher, testBrowserConfig())

	first, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err)

	second, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, launcher.Launches())
}

func TestRecoveryAfterDeadPage(t *testing.T) {
	launcher := &browsertest.Launcher{}
	mgr := NewManager(launcher, testBrowserConfig())

	first, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err)

	launcher.LastPage().Kill()

	second, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "dead session must be replaced")
	assert.Equal(t, 2, launcher.Launches())
}

func TestRunNavigateDefaultsScheme(t *testing.T) {
	launcher := &browsertest.Launcher{}
	mgr := NewManager(launcher, testBrowserConfig())

	res, err := mgr.Run(context.Background(), Command{Op: OpNavigate, URL: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.URL)

	res, err = mgr.Run(context.Background(), Command{Op: OpURL})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.URL)
}

func TestRunBackWithoutHistory(t *testing.T) {
	launcher := &browsertest.Launcher{}
	mgr := NewManager(launcher, testBrowserConfig())

	// Fresh session: only the landing entry, nothing to go back to.
	_, err := mgr.Run(context.Background(), Command{Op: OpBack})
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrNoHistory)

	// The failure is local; the session stays live.
	assert.Equal(t, StateReady, mgr.Health().State)
	_, err = mgr.Run(context.Background(), Command{Op: OpURL})
	assert.NoError(t, err)
}

func TestRunBackForwardRoundTrip(t *testing.T) {
	launcher := &browsertest.Launcher{}
	mgr := NewManager(launcher, testBrowserConfig())

	_, err := mgr.Run(context.Background(), Command{Op: OpNavigate, URL: "https://one.test"})
	require.NoError(t, err)
	_, err = mgr.Run(context.Background(), Command{Op: OpNavigate, URL: "https://two.test"})
	require.NoError(t, err)

	_, err = mgr.Run(context.Background(), Command{Op: OpBack})
	require.NoError(t, err)
	res, err := mgr.Run(context.Background(), Command{Op: OpURL})
	require.NoError(t, err)
	assert.Equal(t, "https://one.test", res.URL)

	_, err = mgr.Run(context.Background(), Command{Op: OpForward})
	require.NoError(t, err)
	res, err = mgr.Run(context.Background(), Command{Op: OpURL})
	require.NoError(t, err)
	assert.Equal(t, "https://two.test", res.URL)
}

func TestCommandOnDeadSessionSelfHeals(t *testing.T) {
	launcher := &browsertest.Launcher{}
	mgr := NewManager(launcher, testBrowserConfig())

	_, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err)
	launcher.LastPage().Kill()

	// A command finding a dead page replaces the session first, then runs
	// against the replacement.
	res, err := mgr.Run(context.Background(), Command{Op: OpURL})
	require.NoError(t, err)
	assert.Equal(t, "https://start.test", res.URL, "command ran on the fresh session")
	assert.Equal(t, 2, launcher.Launches())
	assert.Equal(t, StateReady, mgr.Health().State)
}

func TestCommandFailureKeepsLiveSession(t *testing.T) {
	launcher := &browsertest.Launcher{}
	mgr := NewManager(launcher, testBrowserConfig())

	_, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err)
	page := launcher.LastPage()

	page.SetErr(errors.New("input dispatch failed"))
	_, err = mgr.Run(context.Background(), Command{Op: OpType, Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, StateReady, mgr.Health().State, "a live page survives a command failure")

	page.SetErr(nil)
	_, err = mgr.Run(context.Background(), Command{Op: OpType, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, launcher.Launches(), "no relaunch for a transient command error")
}

func TestFailureOnDeadPageDropsSession(t *testing.T) {
	launcher := &browsertest.Launcher{}
	mgr := NewManager(launcher, testBrowserConfig())

	sess, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err)

	launcher.LastPage().Kill()
	mgr.ReportFailure(sess, errors.New("target crashed"))
	assert.Equal(t, StateUninitialized, mgr.Health().State)

	// Next caller self-heals through a fresh launch.
	_, err = mgr.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, launcher.Launches())
}

func TestInitializationSurvivesInitiatorCancel(t *testing.T) {
	launcher := &browsertest.Launcher{LaunchDelay: 50 * time.Millisecond}
	mgr := NewManager(launcher, testBrowserConfig())

	initCtx, cancel := context.WithCancel(context.Background())
	initiatorDone := make(chan struct{})
	go func() {
		defer close(initiatorDone)
		mgr.EnsureReady(initCtx)
	}()

	// Let the goroutine become the initializer, then abandon it mid-launch.
	time.Sleep(10 * time.Millisecond)
	cancel()

	sess, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err, "the shared attempt must outlive its initiator")
	assert.NotNil(t, sess)
	assert.Equal(t, 1, launcher.Launches())
	assert.Equal(t, StateReady, mgr.Health().State)
	<-initiatorDone
}

func TestNavigationHooksFire(t *testing.T) {
	launcher := &browsertest.Launcher{}
	mgr := NewManager(launcher, testBrowserConfig())

	var fired int
	var mu sync.Mutex
	mgr.OnNavigation(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	_, err := mgr.Run(context.Background(), Command{Op: OpNavigate, URL: "https://one.test"})
	require.NoError(t, err)
	_, err = mgr.Run(context.Background(), Command{Op: OpClick, X: 1, Y: 2})
	require.NoError(t, err)
	_, err = mgr.Run(context.Background(), Command{Op: OpRefresh})
	require.NoError(t, err)

	// Non-navigating commands stay silent.
	_, err = mgr.Run(context.Background(), Command{Op: OpType, Text: "hi"})
	require.NoError(t, err)
	_, err = mgr.Run(context.Background(), Command{Op: OpURL})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, fired)
}

func TestHealthDegradedAfterRepeatedFailures(t *testing.T) {
	launcher := &browsertest.Launcher{}
	launcher.SetLaunchErr(errors.New("launch keeps failing"))
	mgr := NewManager(launcher, testBrowserConfig())

	for i := 0; i < 3; i++ {
		_, err := mgr.EnsureReady(context.Background())
		require.Error(t, err)
	}

	assert.True(t, mgr.Degraded())
	assert.Equal(t, 3, mgr.Health().ConsecutiveFailures)

	// One success clears the streak.
	launcher.SetLaunchErr(nil)
	_, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.False(t, mgr.Degraded())
	assert.Equal(t, 0, mgr.Health().ConsecutiveFailures)
}

func TestShutdownIdempotent(t *testing.T) {
	launcher := &browsertest.Launcher{}
	mgr := NewManager(launcher, testBrowserConfig())

	_, err := mgr.EnsureReady(context.Background())
	require.NoError(t, err)
	page := launcher.LastPage()

	mgr.Shutdown()
	assert.False(t, page.Alive())
	assert.Equal(t, StateUninitialized, mgr.Health().State)

	mgr.Shutdown() // second call is a no-op

	// The manager is reusable after shutdown.
	_, err = mgr.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, launcher.Launches())
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"example.com", "https://example.com"},
		{" example.com ", "https://example.com"},
		{"http://example.com", "http://example.com"},
		{"https://example.com/a?b=c", "https://example.com/a?b=c"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeURL(tc.in), "input %q", tc.in)
	}
}
