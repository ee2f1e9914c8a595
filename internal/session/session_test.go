package session

import (
	"context"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ent0n29/voicelog/internal/capture"
	"github.com/ent0n29/voicelog/internal/observability"
	"github.com/ent0n29/voicelog/internal/playback"
	"github.com/ent0n29/voicelog/internal/policy"
	"github.com/ent0n29/voicelog/internal/protocol"
	"github.com/ent0n29/voicelog/internal/socket"
)

type logBackend struct {
	t        *testing.T
	upgrader websocket.Upgrader
	server   *httptest.Server
	conns    chan *websocket.Conn

	mu       sync.Mutex
	frames   int
	controls []protocol.ClientControl
}

func newLogBackend(t *testing.T) *logBackend {
	t.Helper()
	b := &logBackend{t: t, conns: make(chan *websocket.Conn, 1)}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.mu.Lock()
			if kind == websocket.BinaryMessage {
				b.frames++
			} else {
				var c protocol.ClientControl
				if json.Unmarshal(data, &c) == nil {
					b.controls = append(b.controls, c)
				}
			}
			b.mu.Unlock()
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *logBackend) url() string { return "ws" + strings.TrimPrefix(b.server.URL, "http") }

func (b *logBackend) serverConn() *websocket.Conn {
	select {
	case c := <-b.conns:
		return c
	case <-time.After(2 * time.Second):
		b.t.Fatalf("timed out waiting for server connection")
		return nil
	}
}

func (b *logBackend) frameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

func (b *logBackend) actions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.controls))
	for _, c := range b.controls {
		out = append(out, c.Action)
	}
	return out
}

type fakeDevice struct {
	frames chan []byte
	mu     sync.Mutex
	held   bool
}

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Open(context.Context) (capture.Stream, error) {
	d.mu.Lock()
	d.held = true
	d.mu.Unlock()
	return &fakeStream{dev: d}, nil
}

func (d *fakeDevice) isHeld() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

type fakeStream struct{ dev *fakeDevice }

func (s *fakeStream) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f, ok := <-s.dev.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	}
}

func (s *fakeStream) Close() error {
	s.dev.mu.Lock()
	s.dev.held = false
	s.dev.mu.Unlock()
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

// itemPlayer keeps every played item.
type itemPlayer struct {
	mu    sync.Mutex
	items []playback.Item
}

func (p *itemPlayer) Play(_ context.Context, item playback.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
	return nil
}

func (p *itemPlayer) Played() []playback.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]playback.Item(nil), p.items...)
}

type harness struct {
	backend *logBackend
	server  *websocket.Conn
	device  *fakeDevice
	player  *itemPlayer
	session *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithMetrics(t, nil)
}

func newHarnessWithMetrics(t *testing.T, metrics *observability.Metrics) *harness {
	t.Helper()
	backend := newLogBackend(t)
	h := &harness{
		backend: backend,
		device:  &fakeDevice{frames: make(chan []byte)},
		player:  &itemPlayer{},
	}
	h.session = New(Deps{
		Conn:     socket.New(socket.Config{URL: backend.url(), HandshakeTimeout: time.Second}, metrics),
		Device:   h.device,
		Player:   h.player,
		Redactor: policy.NewRedactor(true),
		Metrics:  metrics,
		Options:  Options{SendControl: true, Queue: playback.Options{Capacity: 8}},
	})
	t.Cleanup(h.session.Teardown)
	if err := h.session.Mount(context.Background()); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	h.server = backend.serverConn()
	return h
}

func (h *harness) push(t *testing.T, frame []byte) {
	t.Helper()
	select {
	case h.device.frames <- frame:
	case <-time.After(2 * time.Second):
		t.Fatalf("recorder did not read frame")
	}
}

func TestRecordThenReceiveReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	recording, err := h.session.ToggleRecording(ctx)
	if err != nil || !recording {
		t.Fatalf("ToggleRecording() = %v, %v, want true, nil", recording, err)
	}
	for i := 0; i < 3; i++ {
		h.push(t, []byte{byte(i), 0})
	}
	waitFor(t, func() bool { return h.backend.frameCount() == 3 })

	recording, err = h.session.ToggleRecording(ctx)
	if err != nil || recording {
		t.Fatalf("second ToggleRecording() = %v, %v, want false, nil", recording, err)
	}
	if h.device.isHeld() {
		t.Fatalf("device still held after toggling off")
	}
	select {
	case h.device.frames <- []byte{9}:
		t.Fatalf("frame read after toggling off")
	case <-time.After(50 * time.Millisecond):
	}
	waitFor(t, func() bool { return len(h.backend.actions()) == 2 })
	if got := h.backend.actions(); got[0] != protocol.ActionStartRecording || got[1] != protocol.ActionStopRecording {
		t.Fatalf("control actions = %v, want start then stop", got)
	}

	reply := `{"type":"audio","audio":"AQIDBA==","transcription":"hello world"}`
	if err := h.server.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, func() bool { return len(h.player.Played()) == 1 })
	if got := h.player.Played()[0].Audio; !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("played audio = %v, want [1 2 3 4]", got)
	}

	notices := h.session.Notifications()
	if len(notices) != 1 {
		t.Fatalf("len(Notifications()) = %d, want 1", len(notices))
	}
	if notices[0].Text != "hello world" || notices[0].Duration != 2000*time.Millisecond {
		t.Fatalf("notice = %+v, want hello world for 2s", notices[0])
	}
	if h.backend.frameCount() != 3 {
		t.Fatalf("frames = %d, want 3", h.backend.frameCount())
	}
}

func TestUnknownMessageIsIgnored(t *testing.T) {
	h := newHarness(t)

	for _, raw := range []string{`{"type":"unknown"}`, `not json`, `{"type":"audio","audio":"%%%","transcription":"bad"}`} {
		if err := h.server.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}
	// Messages are handled in order, so once this one lands the earlier
	// ones have been dropped.
	ok := `{"type":"audio","audio":"AQID","transcription":"one two three"}`
	if err := h.server.WriteMessage(websocket.TextMessage, []byte(ok)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, func() bool { return len(h.player.Played()) == 1 })

	if got := len(h.session.Notifications()); got != 1 {
		t.Fatalf("len(Notifications()) = %d, want 1", got)
	}
	if !h.session.Connected() {
		t.Fatalf("Connected() = false after unknown message")
	}
}

func TestInboundLabelsStayBounded(t *testing.T) {
	metrics := observability.NewMetrics(fmt.Sprintf("voicelog_test_session_%d", time.Now().UnixNano()))
	h := newHarnessWithMetrics(t, metrics)

	for i := 0; i < 200; i++ {
		raw := fmt.Sprintf(`{"type":"junk-%d"}`, i)
		if err := h.server.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}
	for _, raw := range []string{`{}`, `not json`, `{"type":"audio","transcription":"no payload"}`} {
		if err := h.server.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}
	ok := `{"type":"audio","audio":"AQID","transcription":"done"}`
	if err := h.server.WriteMessage(websocket.TextMessage, []byte(ok)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, func() bool { return len(h.player.Played()) == 1 })

	// inbound: audio, unsupported, unknown, malformed, invalid.
	// outbound frames are not sent in this test.
	if got := testutil.CollectAndCount(metrics.WSMessages); got != 5 {
		t.Fatalf("ws_messages_total series = %d, want 5", got)
	}
	if got := testutil.ToFloat64(metrics.WSMessages.WithLabelValues("inbound", "unsupported")); got != 200 {
		t.Fatalf("unsupported count = %v, want 200", got)
	}
}

func TestAudioReplyIsRecordedInHistory(t *testing.T) {
	h := newHarness(t)
	reply := `{"type":"audio","audio":"AQIDBA==","transcription":"mail me at sam@example.com",
		"new_activities":[{"id":"a1","title":"run","measure":"km"}],
		"new_activities_notification":"Logged 5 km of running."}`
	if err := h.server.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, func() bool {
		entries, _ := h.session.History(context.Background(), 10)
		return len(entries) == 1
	})
	entries, _ := h.session.History(context.Background(), 10)
	e := entries[0]
	if strings.Contains(e.Transcript, "sam@example.com") || !e.PIIRedacted {
		t.Fatalf("entry = %+v, want redacted transcript", e)
	}
	if e.AudioBytes != 4 || len(e.Activities) != 1 {
		t.Fatalf("entry = %+v, want 4 audio bytes and one activity", e)
	}
	if got := len(h.session.Notifications()); got != 2 {
		t.Fatalf("len(Notifications()) = %d, want transcript and activity notices", got)
	}
}

func TestTeardownReleasesEverything(t *testing.T) {
	h := newHarness(t)
	if _, err := h.session.ToggleRecording(context.Background()); err != nil {
		t.Fatalf("ToggleRecording() error = %v", err)
	}
	if !h.device.isHeld() {
		t.Fatalf("device not held while recording")
	}

	h.session.Teardown()
	h.session.Teardown()

	if h.device.isHeld() {
		t.Fatalf("device held after Teardown")
	}
	st := h.session.Status()
	if st.Connected || st.Recording || st.State != socket.StateClosed.String() {
		t.Fatalf("Status() = %+v, want closed and idle", st)
	}
	if len(h.session.Notifications()) != 0 {
		t.Fatalf("notices left after Teardown")
	}
	if _, err := h.session.AddToQueue(context.Background(), []byte{1}); !errors.Is(err, playback.ErrQueueClosed) {
		t.Fatalf("AddToQueue() after Teardown error = %v, want ErrQueueClosed", err)
	}
}

func TestMountFailureKeepsSessionUsable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	s := New(Deps{
		Conn:   socket.New(socket.Config{URL: url, HandshakeTimeout: time.Second}, nil),
		Device: &fakeDevice{frames: make(chan []byte)},
	})
	defer s.Teardown()
	if err := s.Mount(context.Background()); err == nil {
		t.Fatalf("Mount() error = nil, want dial failure")
	}
	if s.Connected() {
		t.Fatalf("Connected() = true after failed mount")
	}
	if _, err := s.ToggleRecording(context.Background()); !errors.Is(err, capture.ErrNotConnected) {
		t.Fatalf("ToggleRecording() error = %v, want ErrNotConnected", err)
	}
	if err := s.SubmitTranscript(context.Background(), "hi"); !errors.Is(err, capture.ErrNotConnected) {
		t.Fatalf("SubmitTranscript() error = %v, want ErrNotConnected", err)
	}
	if st := s.Status(); st.State != "closed" || st.Device != "fake" {
		t.Fatalf("Status() = %+v", st)
	}
}

func TestSubmitTranscript(t *testing.T) {
	h := newHarness(t)
	if err := h.session.SubmitTranscript(context.Background(), "  "); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("SubmitTranscript(blank) error = %v, want ErrEmptyTranscript", err)
	}
	if err := h.session.SubmitTranscript(context.Background(), "I read for 30 minutes"); err != nil {
		t.Fatalf("SubmitTranscript() error = %v", err)
	}
	waitFor(t, func() bool { return len(h.backend.actions()) == 1 })
	if got := h.backend.actions()[0]; got != protocol.ActionUpdateTranscription {
		t.Fatalf("action = %q, want update_transcription", got)
	}
}
