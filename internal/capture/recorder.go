// Package capture turns an audio input device into binary frames on the
// logging socket.
//
// A Recorder holds at most one open Stream. The stream is owned by a single
// pump goroutine that checks the socket state before every send, so frames
// produced while the socket is not open are dropped rather than written.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ent0n29/voicelog/internal/observability"
	"github.com/ent0n29/voicelog/internal/socket"
)

var (
	ErrNotConnected      = errors.New("logging socket not connected")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrClosed            = errors.New("recorder closed")
)

// Device opens audio input streams.
type Device interface {
	Name() string
	Open(ctx context.Context) (Stream, error)
}

// Stream yields encoded audio frames until it ends or is closed. ReadFrame
// must return promptly once ctx is done.
type Stream interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// Sender is the outbound half of the logging socket.
type Sender interface {
	Connected() bool
	SendFrame(data []byte) error
}

type Recorder struct {
	device  Device
	sender  Sender
	metrics *observability.Metrics

	// toggleMu serializes Start, Stop and Close so a new stream is never
	// opened before the previous one is released.
	toggleMu sync.Mutex

	mu        sync.Mutex
	recording bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRecorder(device Device, sender Sender, metrics *observability.Metrics) *Recorder {
	return &Recorder{device: device, sender: sender, metrics: metrics}
}

// DeviceName reports the configured device, or "none".
func (r *Recorder) DeviceName() string {
	if r.device == nil {
		return "none"
	}
	return r.device.Name()
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Toggle flips the recording state and reports the new value. Starting
// requires an open socket and an available device.
func (r *Recorder) Toggle(ctx context.Context) (bool, error) {
	r.toggleMu.Lock()
	defer r.toggleMu.Unlock()

	if r.Recording() {
		r.stopLocked()
		return false, nil
	}
	if err := r.startLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Recorder) Start(ctx context.Context) error {
	r.toggleMu.Lock()
	defer r.toggleMu.Unlock()
	if r.Recording() {
		return nil
	}
	return r.startLocked(ctx)
}

// Stop releases the device and returns once the stream is closed.
func (r *Recorder) Stop() {
	r.toggleMu.Lock()
	defer r.toggleMu.Unlock()
	r.stopLocked()
}

// Close stops any recording and refuses later starts. Safe to call more than
// once.
func (r *Recorder) Close() error {
	r.toggleMu.Lock()
	defer r.toggleMu.Unlock()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stopLocked()
	return nil
}

func (r *Recorder) startLocked(ctx context.Context) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if r.sender == nil || !r.sender.Connected() {
		return ErrNotConnected
	}
	if r.device == nil {
		return fmt.Errorf("%w: no device configured", ErrDeviceUnavailable)
	}

	stream, err := r.device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, r.device.Name(), err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.mu.Lock()
	r.recording = true
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()
	r.metrics.SetRecording(true)
	log.Printf("capture: recording from %s", r.device.Name())

	go r.pump(pumpCtx, stream, done)
	return nil
}

func (r *Recorder) stopLocked() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.recording = false
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("capture: recording stopped")
}

func (r *Recorder) pump(ctx context.Context, stream Stream, done chan struct{}) {
	defer close(done)

	err := r.forward(ctx, stream)
	if cerr := stream.Close(); cerr != nil {
		log.Printf("capture: close %s: %v", r.device.Name(), cerr)
	}
	r.metrics.SetRecording(false)
	if ctx.Err() != nil {
		return
	}

	// The device ended on its own; clear the flag unless a Stop already did.
	if errors.Is(err, io.EOF) {
		log.Printf("capture: %s ended", r.device.Name())
	} else {
		log.Printf("capture: %s failed: %v", r.device.Name(), err)
	}
	r.mu.Lock()
	if r.done == done {
		r.recording = false
		r.cancel()
		r.cancel = nil
		r.done = nil
	}
	r.mu.Unlock()
}

func (r *Recorder) forward(ctx context.Context, stream Stream) error {
	for {
		frame, err := stream.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(frame) == 0 {
			continue
		}
		if !r.sender.Connected() {
			r.metrics.ObserveFrameDropped("not_open")
			continue
		}
		if err := r.sender.SendFrame(frame); err != nil {
			if errors.Is(err, socket.ErrNotOpen) {
				r.metrics.ObserveFrameDropped("not_open")
			} else {
				r.metrics.ObserveFrameDropped("send_failed")
			}
			continue
		}
		r.metrics.ObserveFrameSent()
	}
}
