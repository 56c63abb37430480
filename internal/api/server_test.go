package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/browsercast/internal/browser/browsertest"
	"github.com/bryanchriswhite/browsercast/internal/config"
	"github.com/bryanchriswhite/browsercast/internal/session"
	"github.com/bryanchriswhite/browsercast/internal/stream"
)

type apiFixture struct {
	launcher *browsertest.Launcher
	sessions *session.Manager
	gateway  *stream.Gateway
	ts       *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	launcher := &browsertest.Launcher{}
	sessions := session.NewManager(launcher, config.BrowserConfig{
		LandingURL:          "https://start.test",
		ViewportWidth:       8,
		ViewportHeight:      8,
		NavigationTimeoutMs: 2000,
		CommandTimeoutMs:    1000,
		FailureThreshold:    3,
	})
	gateway := stream.NewGateway(8)
	ts := httptest.NewServer(NewServer(sessions, gateway).Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(gateway.Close)
	return &apiFixture{launcher: launcher, sessions: sessions, gateway: gateway, ts: ts}
}

func (f *apiFixture) post(t *testing.T, path string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func (f *apiFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestNavigateRoundTrip(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/navigate", `{"url":"example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://example.com", decodeBody(t, resp)["url"])

	resp = f.get(t, "/api/url")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://example.com", decodeBody(t, resp)["url"])

	// One browser serves both requests.
	assert.Equal(t, 1, f.launcher.Launches())
}

func TestNavigateRejectsBadPayloads(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/navigate", `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/navigate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/key", `{"key":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Nothing reached the browser.
	assert.Equal(t, 0, f.launcher.Launches())
}

func TestInputCommandsReachThePage(t *testing.T) {
	f := newAPIFixture(t)

	for _, tc := range []struct {
		path string
		body string
	}{
		{"/api/click", `{"x":120,"y":80}`},
		{"/api/type", `{"text":"hello"}`},
		{"/api/key", `{"key":"Enter"}`},
		{"/api/scroll", `{"delta_y":240}`},
	} {
		resp := f.post(t, tc.path, tc.body)
		require.Equal(t, http.StatusOK, resp.StatusCode, tc.path)
		assert.Equal(t, "ok", decodeBody(t, resp)["status"], tc.path)
	}

	page := f.launcher.LastPage()
	require.NotNil(t, page)
	require.Len(t, page.Clicks(), 1)
	assert.Equal(t, [2]float64{120, 80}, page.Clicks()[0])
	assert.Equal(t, []string{"hello"}, page.Typed())
	assert.Equal(t, []string{"Enter"}, page.Keys())
	assert.Equal(t, []float64{240}, page.Scrolls())
}

func TestBackWithoutHistoryConflicts(t *testing.T) {
	f := newAPIFixture(t)

	// Only the landing page has been visited.
	resp := f.post(t, "/api/back", ``)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// The session survives the refused command.
	resp = f.get(t, "/api/url")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://start.test", decodeBody(t, resp)["url"])
}

func TestHistoryRoundTrip(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/navigate", `{"url":"https://second.test"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/back", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.get(t, "/api/url")
	assert.Equal(t, "https://start.test", decodeBody(t, resp)["url"])

	resp = f.post(t, "/api/forward", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.get(t, "/api/url")
	assert.Equal(t, "https://second.test", decodeBody(t, resp)["url"])
}

func TestLaunchFailureIsBadGateway(t *testing.T) {
	f := newAPIFixture(t)
	f.launcher.SetLaunchErr(assert.AnError)

	resp := f.post(t, "/api/navigate", `{"url":"https://example.com"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthReflectsDegradation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.get(t, "/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decodeBody(t, resp)["status"])

	// Repeated launch failures past the threshold flip the endpoint.
	f.launcher.SetLaunchErr(assert.AnError)
	for i := 0; i < 3; i++ {
		resp := f.post(t, "/api/navigate", `{"url":"https://example.com"}`)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}

	resp = f.get(t, "/api/health")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", decodeBody(t, resp)["status"])
}

func TestStreamDeliversFrames(t *testing.T) {
	f := newAPIFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return f.gateway.Count() == 1
	}, time.Second, 5*time.Millisecond)

	f.gateway.Broadcast(stream.Frame{
		Seq:        1,
		SessionID:  "sess-1",
		Data:       []byte("jpeg-bytes"),
		CapturedAt: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg struct {
		Type    string `json:"type"`
		Seq     uint64 `json:"seq"`
		Session string `json:"session"`
		Data    []byte `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "frame", msg.Type)
	assert.Equal(t, uint64(1), msg.Seq)
	assert.Equal(t, "sess-1", msg.Session)
	assert.Equal(t, []byte("jpeg-bytes"), msg.Data)

	// Closing the socket detaches the subscriber.
	conn.Close()
	require.Eventually(t, func() bool {
		return f.gateway.Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStatsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.gateway.Broadcast(stream.Frame{Seq: 1, Data: []byte("x")})

	resp := f.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats stream.Stats
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 0, stats.Subscribers)
}

func TestViewerPageServed(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	resp.Body.Close()
}
