package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/voicelog/internal/capture"
	"github.com/ent0n29/voicelog/internal/config"
	"github.com/ent0n29/voicelog/internal/history"
	"github.com/ent0n29/voicelog/internal/notify"
	"github.com/ent0n29/voicelog/internal/observability"
	"github.com/ent0n29/voicelog/internal/session"
)

type fakeController struct {
	mu        sync.Mutex
	connected bool
	recording bool
	toggleErr error
	submitted []string
	notices   []notify.Notice
	entries   []history.Entry
	lastLimit int
}

func (f *fakeController) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "closed"
	if f.connected {
		state = "open"
	}
	return session.Status{SessionID: "s-1", State: state, Connected: f.connected, Recording: f.recording, Device: "fake", History: "memory"}
}

func (f *fakeController) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeController) ToggleRecording(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return false, f.toggleErr
	}
	f.recording = !f.recording
	return f.recording, nil
}

func (f *fakeController) SubmitTranscript(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return session.ErrEmptyTranscript
	}
	if !f.connected {
		return capture.ErrNotConnected
	}
	f.submitted = append(f.submitted, text)
	return nil
}

func (f *fakeController) Notifications() []notify.Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notices
}

func (f *fakeController) History(_ context.Context, limit int) ([]history.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.entries, nil
}

func newTestServer(t *testing.T, ctrl *fakeController) *httptest.Server {
	t.Helper()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	cfg := config.Config{
		ServerURL:         "ws://127.0.0.1:1/connect",
		PlaybackMode:      "discard",
		NotifyMinDuration: 2 * time.Second,
		NotifyPerWord:     400 * time.Millisecond,
		PlaybackQueueSize: 32,
		PlaybackOverflow:  "block",
	}
	ts := httptest.NewServer(New(cfg, ctrl, metrics).Router())
	t.Cleanup(ts.Close)
	return ts
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestReadyzReflectsConnection(t *testing.T) {
	ctrl := &fakeController{}
	ts := newTestServer(t, ctrl)

	res, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}

	ctrl.setConnected(true)
	res, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestToggleRecording(t *testing.T) {
	ctrl := &fakeController{connected: true}
	ts := newTestServer(t, ctrl)

	res, err := http.Post(ts.URL+"/v1/recording/toggle", "application/json", nil)
	if err != nil {
		t.Fatalf("POST toggle error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if payload := decodeBody(t, res); payload["recording"] != true {
		t.Fatalf("recording = %v, want true", payload["recording"])
	}
}

func TestToggleRecordingErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{capture.ErrNotConnected, http.StatusConflict, "not_connected"},
		{fmt.Errorf("%w: mic busy", capture.ErrDeviceUnavailable), http.StatusServiceUnavailable, "device_unavailable"},
	}
	for _, tc := range cases {
		ts := newTestServer(t, &fakeController{connected: true, toggleErr: tc.err})
		res, err := http.Post(ts.URL+"/v1/recording/toggle", "application/json", nil)
		if err != nil {
			t.Fatalf("POST toggle error = %v", err)
		}
		if res.StatusCode != tc.status {
			t.Fatalf("toggle status = %d, want %d", res.StatusCode, tc.status)
		}
		if payload := decodeBody(t, res); payload["code"] != tc.code {
			t.Fatalf("code = %v, want %s", payload["code"], tc.code)
		}
	}
}

func TestSubmitTranscript(t *testing.T) {
	ctrl := &fakeController{connected: true}
	ts := newTestServer(t, ctrl)

	body, _ := json.Marshal(map[string]string{"text": "I swam 1 km"})
	res, err := http.Post(ts.URL+"/v1/transcription", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST transcription error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	ctrl.mu.Lock()
	submitted := append([]string(nil), ctrl.submitted...)
	ctrl.mu.Unlock()
	if len(submitted) != 1 || submitted[0] != "I swam 1 km" {
		t.Fatalf("submitted = %v", submitted)
	}

	res, err = http.Post(ts.URL+"/v1/transcription", "application/json", strings.NewReader(`{"text":""}`))
	if err != nil {
		t.Fatalf("POST transcription error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty transcript status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	ctrl.setConnected(false)
	res, err = http.Post(ts.URL+"/v1/transcription", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST transcription error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("disconnected status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestNotificationsAndHistory(t *testing.T) {
	now := time.Now().UTC()
	ctrl := &fakeController{
		connected: true,
		notices:   []notify.Notice{{ID: "n1", Text: "hello world", Duration: 2 * time.Second, ShownAt: now, ExpiresAt: now.Add(2 * time.Second)}},
		entries:   []history.Entry{{ID: "h1", SessionID: "s-1", Transcript: "hello world"}},
	}
	ts := newTestServer(t, ctrl)

	res, err := http.Get(ts.URL + "/v1/notifications")
	if err != nil {
		t.Fatalf("GET notifications error = %v", err)
	}
	payload := decodeBody(t, res)
	items, _ := payload["notifications"].([]any)
	if len(items) != 1 {
		t.Fatalf("notifications = %v, want one", payload["notifications"])
	}
	if first := items[0].(map[string]any); first["duration_ms"] != float64(2000) || first["text"] != "hello world" {
		t.Fatalf("notice = %v, want hello world for 2000ms", first)
	}

	res, err = http.Get(ts.URL + "/v1/history?limit=5")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	payload = decodeBody(t, res)
	if entries, _ := payload["entries"].([]any); len(entries) != 1 {
		t.Fatalf("entries = %v, want one", payload["entries"])
	}
	ctrl.mu.Lock()
	lastLimit := ctrl.lastLimit
	ctrl.mu.Unlock()
	if lastLimit != 5 {
		t.Fatalf("history limit = %d, want 5", lastLimit)
	}

	res, err = http.Get(ts.URL + "/v1/history?limit=zero")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestStatusAndOnboarding(t *testing.T) {
	ts := newTestServer(t, &fakeController{})

	res, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("GET status error = %v", err)
	}
	payload := decodeBody(t, res)
	if payload["session_id"] != "s-1" || payload["connected"] != false {
		t.Fatalf("status = %v", payload)
	}

	res, err = http.Get(ts.URL + "/v1/onboarding/status")
	if err != nil {
		t.Fatalf("GET onboarding error = %v", err)
	}
	payload = decodeBody(t, res)
	checks, _ := payload["checks"].([]any)
	if len(checks) == 0 {
		t.Fatalf("missing checks in response: %+v", payload)
	}
	first := checks[0].(map[string]any)
	if first["id"] != "log_server" || first["status"] != "error" {
		t.Fatalf("first check = %v, want log_server error", first)
	}
}

func TestUIRoutes(t *testing.T) {
	ts := newTestServer(t, &fakeController{})
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rootRes, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer rootRes.Body.Close()
	if rootRes.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("GET / status = %d, want %d", rootRes.StatusCode, http.StatusTemporaryRedirect)
	}

	uiRes, err := http.Get(ts.URL + "/ui/")
	if err != nil {
		t.Fatalf("GET /ui/ error = %v", err)
	}
	defer uiRes.Body.Close()
	var body bytes.Buffer
	if _, err := body.ReadFrom(uiRes.Body); err != nil {
		t.Fatalf("reading /ui/ body failed: %v", err)
	}
	if !strings.Contains(body.String(), "id=\"pulse\"") {
		t.Fatalf("GET /ui/ body missing expected content")
	}
	if got := uiRes.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("GET /ui/ Cache-Control = %q, want no-store", got)
	}
}

func TestPerfLatencyAndMetrics(t *testing.T) {
	ts := newTestServer(t, &fakeController{})
	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET perf error = %v", err)
	}
	payload := decodeBody(t, res)
	if _, ok := payload["stages"]; !ok {
		t.Fatalf("perf payload missing stages: %v", payload)
	}

	res, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", res.StatusCode)
	}
}
