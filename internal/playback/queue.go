// Package playback plays synthesized replies strictly in arrival order.
//
// A Queue is a bounded FIFO drained by a single Run loop; an item is not
// started until the previous one has finished, so playbacks never overlap.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/voicelog/internal/observability"
	"github.com/ent0n29/voicelog/internal/protocol"
)

var (
	ErrQueueFull   = errors.New("playback queue full")
	ErrQueueClosed = errors.New("playback queue closed")
	ErrDecode      = errors.New("audio decode failed")
	ErrEmptyAudio  = errors.New("audio is empty")
)

// OverflowPolicy decides what Enqueue does when the queue is at capacity.
type OverflowPolicy string

const (
	// OverflowBlock waits for room. Nothing is ever dropped.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropOldest evicts the oldest waiting item.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	// OverflowDropNewest rejects the incoming item with ErrQueueFull.
	OverflowDropNewest OverflowPolicy = "drop_newest"
)

func ParseOverflowPolicy(raw string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return OverflowBlock, nil
	case OverflowBlock, OverflowDropOldest, OverflowDropNewest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", raw)
	}
}

type Item struct {
	Seq        uint64
	Audio      []byte
	EnqueuedAt time.Time
}

// Player renders one item and returns when playback has completed.
type Player interface {
	Play(ctx context.Context, item Item) error
}

type Options struct {
	Capacity int
	Overflow OverflowPolicy
	// ItemTimeout bounds a single Play call. Zero means no bound.
	ItemTimeout time.Duration
}

type Queue struct {
	player  Player
	opts    Options
	metrics *observability.Metrics

	items chan Item

	// enqMu admits one producer at a time, held across a blocking send, so
	// channel order matches Seq order. seq is guarded by enqMu.
	enqMu sync.Mutex
	seq   uint64

	// mu orders Enqueue against Close and makes drop_oldest eviction atomic
	// with the insert that follows it.
	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once

	playing atomic.Bool
}

func NewQueue(player Player, opts Options, metrics *observability.Metrics) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 32
	}
	if opts.Overflow == "" {
		opts.Overflow = OverflowBlock
	}
	return &Queue{
		player:  player,
		opts:    opts,
		metrics: metrics,
		items:   make(chan Item, opts.Capacity),
		done:    make(chan struct{}),
	}
}

// EnqueueBase64 decodes a wire payload and enqueues it. Undecodable or empty
// payloads are rejected and nothing is enqueued.
func (q *Queue) EnqueueBase64(ctx context.Context, payload string) (Item, error) {
	data, err := protocol.DecodeAudio(payload)
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyAudio) {
			q.metrics.ObservePlaybackDrop("empty")
			return Item{}, ErrEmptyAudio
		}
		q.metrics.ObservePlaybackDrop("decode_failed")
		return Item{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return q.Enqueue(ctx, data)
}

// Enqueue appends audio to the tail of the queue. Seq is assigned only once
// the item is in the queue.
func (q *Queue) Enqueue(ctx context.Context, audio []byte) (Item, error) {
	if len(audio) == 0 {
		q.metrics.ObservePlaybackDrop("empty")
		return Item{}, ErrEmptyAudio
	}

	q.enqMu.Lock()
	defer q.enqMu.Unlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Item{}, ErrQueueClosed
	}
	item := Item{Seq: q.seq + 1, Audio: audio, EnqueuedAt: time.Now()}

	select {
	case q.items <- item:
		q.seq = item.Seq
		q.mu.Unlock()
		q.metrics.SetQueueDepth(q.Len())
		return item, nil
	default:
	}

	switch q.opts.Overflow {
	case OverflowDropNewest:
		q.mu.Unlock()
		q.metrics.ObservePlaybackDrop("dropped_newest")
		log.Printf("playback: queue full, dropping incoming item")
		return Item{}, ErrQueueFull
	case OverflowDropOldest:
		select {
		case old := <-q.items:
			q.metrics.ObservePlaybackDrop("dropped_oldest")
			log.Printf("playback: queue full, evicting item %d", old.Seq)
		default:
		}
		// Producers are serialized and Close waits on mu, so there is room now.
		q.items <- item
		q.seq = item.Seq
		q.mu.Unlock()
		q.metrics.SetQueueDepth(q.Len())
		return item, nil
	}
	q.mu.Unlock()

	select {
	case q.items <- item:
	case <-ctx.Done():
		return Item{}, ctx.Err()
	case <-q.done:
		return Item{}, ErrQueueClosed
	}

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		// The send may have landed after Close drained; Run will never see it.
		q.discardWaiting()
		return Item{}, ErrQueueClosed
	}
	q.seq = item.Seq
	q.metrics.SetQueueDepth(q.Len())
	return item, nil
}

// Len reports items waiting, excluding the one playing.
func (q *Queue) Len() int { return len(q.items) }

// Playing reports whether an item is currently being played.
func (q *Queue) Playing() bool { return q.playing.Load() }

// Run drains the queue until ctx is done or the queue is closed. It must be
// the only caller draining q.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case item := <-q.items:
			q.metrics.SetQueueDepth(q.Len())
			q.play(ctx, item)
		}
	}
}

func (q *Queue) play(ctx context.Context, item Item) {
	playCtx := ctx
	if q.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		playCtx, cancel = context.WithTimeout(ctx, q.opts.ItemTimeout)
		defer cancel()
	}

	q.playing.Store(true)
	defer q.playing.Store(false)

	waited := time.Since(item.EnqueuedAt)
	started := time.Now()
	err := q.player.Play(playCtx, item)
	switch {
	case err == nil:
		q.metrics.ObservePlayback("played", waited, time.Since(started))
	case ctx.Err() != nil:
		q.metrics.ObservePlayback("canceled", waited, 0)
	case errors.Is(playCtx.Err(), context.DeadlineExceeded):
		q.metrics.ObservePlayback("timeout", waited, 0)
		log.Printf("playback: item %d timed out after %s", item.Seq, q.opts.ItemTimeout)
	default:
		q.metrics.ObservePlayback("failed", waited, 0)
		log.Printf("playback: item %d failed: %v", item.Seq, err)
	}
}

// Close stops accepting items and releases Run. Waiting items are discarded.
// Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.done)
		q.mu.Unlock()
		if dropped := q.discardWaiting(); dropped > 0 {
			log.Printf("playback: discarded %d queued items on close", dropped)
		}
	})
}

func (q *Queue) discardWaiting() int {
	dropped := 0
	for {
		select {
		case <-q.items:
			dropped++
		default:
			q.metrics.SetQueueDepth(0)
			return dropped
		}
	}
}
