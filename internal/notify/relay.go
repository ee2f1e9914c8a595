// Package notify shows transient transcript notices whose lifetime grows with
// the length of the text.
package notify

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voicelog/internal/observability"
)

const (
	DefaultMinDuration = 2000 * time.Millisecond
	DefaultPerWord     = 400 * time.Millisecond
)

// Duration is max(min, perWord × words), where words are whitespace-separated
// tokens of text.
func Duration(text string, min, perWord time.Duration) time.Duration {
	d := perWord * time.Duration(len(strings.Fields(text)))
	if d < min {
		return min
	}
	return d
}

type Notice struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Duration  time.Duration `json:"-"`
	ShownAt   time.Time     `json:"shown_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// DurationMS is Duration in milliseconds, for JSON views.
func (n Notice) DurationMS() int64 { return n.Duration.Milliseconds() }

// Sink renders notices. Show and Dismiss are called once each per notice.
type Sink interface {
	Show(n Notice)
	Dismiss(n Notice)
}

type LogSink struct{}

func (LogSink) Show(n Notice) {
	log.Printf("notify: %q (%s)", n.Text, n.Duration)
}

func (LogSink) Dismiss(Notice) {}

type Options struct {
	MinDuration time.Duration
	PerWord     time.Duration
}

// Relay shows notices on a Sink and dismisses each one after its Duration.
// Several notices may be visible at once.
type Relay struct {
	sink    Sink
	opts    Options
	metrics *observability.Metrics
	now     func() time.Time
	// afterFunc schedules dismissal; replaced in tests.
	afterFunc func(time.Duration, func()) stopper

	mu     sync.Mutex
	active map[string]activeNotice
	closed bool
}

type stopper interface{ Stop() bool }

type activeNotice struct {
	notice Notice
	timer  stopper
}

func NewRelay(sink Sink, opts Options, metrics *observability.Metrics) *Relay {
	if sink == nil {
		sink = LogSink{}
	}
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.PerWord <= 0 {
		opts.PerWord = DefaultPerWord
	}
	return &Relay{
		sink:    sink,
		opts:    opts,
		metrics: metrics,
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		active: make(map[string]activeNotice),
	}
}

// Notify shows text. Blank text shows nothing and reports false.
func (r *Relay) Notify(text string) (Notice, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Notice{}, false
	}

	now := r.now().UTC()
	d := Duration(text, r.opts.MinDuration, r.opts.PerWord)
	n := Notice{
		ID:        uuid.NewString(),
		Text:      text,
		Duration:  d,
		ShownAt:   now,
		ExpiresAt: now.Add(d),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Notice{}, false
	}
	r.sink.Show(n)
	r.active[n.ID] = activeNotice{
		notice: n,
		timer:  r.afterFunc(d, func() { r.dismiss(n.ID) }),
	}
	r.mu.Unlock()

	r.metrics.ObserveNotification()
	return n, true
}

func (r *Relay) dismiss(id string) {
	r.mu.Lock()
	a, ok := r.active[id]
	if ok {
		delete(r.active, id)
	}
	r.mu.Unlock()
	if ok {
		r.sink.Dismiss(a.notice)
	}
}

// Active lists visible notices, oldest first.
func (r *Relay) Active() []Notice {
	r.mu.Lock()
	out := make([]Notice, 0, len(r.active))
	for _, a := range r.active {
		out = append(out, a.notice)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ShownAt.Before(out[j].ShownAt) })
	return out
}

// Close dismisses every visible notice and ignores later Notify calls.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.active
	r.active = make(map[string]activeNotice)
	r.mu.Unlock()

	for _, a := range pending {
		a.timer.Stop()
		r.sink.Dismiss(a.notice)
	}
}
