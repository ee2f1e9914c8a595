// Package session runs one mounted voice logging session: the socket, the
// recorder feeding it, and the playback and notification paths fed by it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voicelog/internal/capture"
	"github.com/ent0n29/voicelog/internal/history"
	"github.com/ent0n29/voicelog/internal/notify"
	"github.com/ent0n29/voicelog/internal/observability"
	"github.com/ent0n29/voicelog/internal/playback"
	"github.com/ent0n29/voicelog/internal/policy"
	"github.com/ent0n29/voicelog/internal/protocol"
	"github.com/ent0n29/voicelog/internal/socket"
)

var ErrEmptyTranscript = errors.New("transcript is empty")

type Options struct {
	// SendControl emits start_recording/stop_recording text frames around
	// each recording.
	SendControl bool
	Queue       playback.Options
	Notify      notify.Options
}

type Deps struct {
	Conn     *socket.Conn
	Device   capture.Device
	Player   playback.Player
	Sink     notify.Sink
	History  history.Store
	Redactor *policy.Redactor
	Metrics  *observability.Metrics
	Options  Options
}

type Session struct {
	id        string
	startedAt time.Time
	opts      Options

	conn     *socket.Conn
	recorder *capture.Recorder
	queue    *playback.Queue
	relay    *notify.Relay
	history  history.Store
	redactor *policy.Redactor
	metrics  *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	// stoppedAt marks the last stop_recording awaiting its first audio reply.
	stoppedAt time.Time

	mountOnce    sync.Once
	teardownOnce sync.Once
}

func New(deps Deps) *Session {
	if deps.Player == nil {
		deps.Player = &playback.DiscardPlayer{}
	}
	if deps.History == nil {
		deps.History = history.NewInMemoryStore(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        uuid.NewString(),
		startedAt: time.Now().UTC(),
		opts:      deps.Options,
		conn:      deps.Conn,
		recorder:  capture.NewRecorder(deps.Device, deps.Conn, deps.Metrics),
		queue:     playback.NewQueue(deps.Player, deps.Options.Queue, deps.Metrics),
		relay:     notify.NewRelay(deps.Sink, deps.Options.Notify, deps.Metrics),
		history:   deps.History,
		redactor:  deps.Redactor,
		metrics:   deps.Metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Session) ID() string { return s.id }

// Mount starts playback and opens the connection. A failed open is returned
// but leaves the session usable for status and Teardown.
func (s *Session) Mount(ctx context.Context) error {
	var err error
	s.mountOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.queue.Run(s.ctx)
		}()

		err = s.conn.Open(ctx)

		// Messages is closed on a failed open, so the consumer exits at once.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.consume()
		}()
		if err != nil {
			err = fmt.Errorf("open logging socket: %w", err)
			return
		}
		log.Printf("session: %s mounted against %s", s.id, s.conn.URL())
	})
	return err
}

func (s *Session) consume() {
	for raw := range s.conn.Messages() {
		s.handle(raw)
	}
	if cause := s.conn.Err(); cause != nil {
		log.Printf("session: channel closed: %v", cause)
	}
}

func (s *Session) handle(raw []byte) {
	msg, err := protocol.ParseServerMessage(raw)
	if err != nil {
		reason := inboundDropReason(raw, err)
		s.metrics.ObserveMessage("inbound", reason)
		s.metrics.ObserveInboundDropped(reason)
		log.Printf("session: dropping %q message: %v", protocol.TypeOf(raw), err)
		return
	}

	switch m := msg.(type) {
	case protocol.AudioMessage:
		s.metrics.ObserveMessage("inbound", string(protocol.TypeAudio))
		s.handleAudio(m)
	}
}

// inboundDropReason maps a rejected frame to a fixed label. The peer's type
// string never becomes a label.
func inboundDropReason(raw []byte, err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return "malformed"
	case errors.Is(err, protocol.ErrUnsupportedType):
		if protocol.TypeOf(raw) == "unknown" {
			return "unknown"
		}
		return "unsupported"
	default:
		return "invalid"
	}
}

func (s *Session) handleAudio(m protocol.AudioMessage) {
	data, err := m.Decode()
	if err != nil {
		s.metrics.ObserveInboundDropped("decode_failed")
		log.Printf("session: dropping audio message: %v", err)
		return
	}

	s.mu.Lock()
	stoppedAt := s.stoppedAt
	s.stoppedAt = time.Time{}
	s.mu.Unlock()
	if !stoppedAt.IsZero() {
		s.metrics.ObserveResponseLatency(time.Since(stoppedAt))
	}

	if _, err := s.AddToQueue(s.ctx, data); err != nil {
		log.Printf("session: audio not queued: %v", err)
	}
	s.relay.Notify(m.Transcription)
	if strings.TrimSpace(m.Notification) != "" {
		s.relay.Notify(m.Notification)
	}
	s.record(m, len(data))
}

func (s *Session) record(m protocol.AudioMessage, audioBytes int) {
	transcript, redactedT := s.redactor.Redact(m.Transcription)
	notification, redactedN := s.redactor.Redact(m.Notification)
	entry := history.Entry{
		ID:           uuid.NewString(),
		SessionID:    s.id,
		Transcript:   transcript,
		Notification: notification,
		Activities:   m.Activities,
		Entries:      m.Entries,
		AudioBytes:   audioBytes,
		PIIRedacted:  redactedT || redactedN,
		CreatedAt:    time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.history.Save(ctx, entry); err != nil {
		s.metrics.ObserveHistoryError("save")
		log.Printf("session: save history: %v", err)
	}
}

// AddToQueue appends audio for sequential playback.
func (s *Session) AddToQueue(ctx context.Context, audio []byte) (playback.Item, error) {
	return s.queue.Enqueue(ctx, audio)
}

// ToggleRecording flips capture on or off and reports the new state.
func (s *Session) ToggleRecording(ctx context.Context) (bool, error) {
	if s.recorder.Recording() {
		recording, err := s.recorder.Toggle(ctx)
		if err != nil {
			return recording, err
		}
		s.mu.Lock()
		s.stoppedAt = time.Now()
		s.mu.Unlock()
		s.sendControl(protocol.ActionStopRecording)
		return recording, nil
	}

	if !s.conn.Connected() {
		return false, capture.ErrNotConnected
	}
	s.sendControl(protocol.ActionStartRecording)
	recording, err := s.recorder.Toggle(ctx)
	if err != nil {
		s.sendControl(protocol.ActionStopRecording)
		return recording, err
	}
	return recording, nil
}

func (s *Session) sendControl(action string) {
	if !s.opts.SendControl {
		return
	}
	if err := s.conn.SendJSON(protocol.ClientControl{Action: action}); err != nil {
		log.Printf("session: send %s: %v", action, err)
	}
}

// SubmitTranscript sends a corrected transcript to the backend.
func (s *Session) SubmitTranscript(_ context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyTranscript
	}
	if !s.conn.Connected() {
		return capture.ErrNotConnected
	}
	if err := s.conn.SendJSON(protocol.ClientControl{Action: protocol.ActionUpdateTranscription, Text: text}); err != nil {
		return fmt.Errorf("send transcription: %w", err)
	}
	return nil
}

func (s *Session) Connected() bool { return s.conn.Connected() }

func (s *Session) Recording() bool { return s.recorder.Recording() }

// Notifications lists visible notices.
func (s *Session) Notifications() []notify.Notice { return s.relay.Active() }

func (s *Session) History(ctx context.Context, limit int) ([]history.Entry, error) {
	entries, err := s.history.Recent(ctx, s.id, limit)
	if err != nil {
		s.metrics.ObserveHistoryError("recent")
		return nil, err
	}
	return entries, nil
}

func (s *Session) Status() Status {
	return Status{
		SessionID:  s.id,
		State:      s.conn.State().String(),
		Connected:  s.conn.Connected(),
		Recording:  s.recorder.Recording(),
		QueueDepth: s.queue.Len(),
		Playing:    s.queue.Playing(),
		Device:     s.recorder.DeviceName(),
		History:    history.Backend(s.history),
		StartedAt:  s.startedAt,
	}
}

// Teardown releases the device, the connection, the queue and visible
// notices, then waits for background work. Safe to call more than once.
func (s *Session) Teardown() {
	s.teardownOnce.Do(func() {
		_ = s.recorder.Close()
		_ = s.conn.Close()
		s.queue.Close()
		s.cancel()
		s.relay.Close()
		s.wg.Wait()
		log.Printf("session: %s torn down", s.id)
	})
}
