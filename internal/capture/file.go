package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ent0n29/voicelog/internal/audio"
)

// FileDevice replays a WAV file (or raw PCM16LE mono) as real-time frames.
// Useful for demos and for driving the backend without a microphone.
type FileDevice struct {
	Path       string
	SampleRate int
	FrameMS    int
}

func (d FileDevice) Name() string { return "file:" + filepath.Base(d.Path) }

func (d FileDevice) Open(_ context.Context) (Stream, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	sampleRate := d.SampleRate
	pcm := data
	if audio.IsWAV(data) {
		pcm, sampleRate, err = audio.DecodeWAVPCM16(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, d.Path, err)
		}
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	frameMS := d.FrameMS
	if frameMS <= 0 {
		frameMS = 40
	}
	frames := audio.SplitFrames(pcm, audio.FrameBytes(sampleRate, frameMS))
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: %s has no audio", ErrDeviceUnavailable, d.Path)
	}
	return &fileStream{
		frames: frames,
		ticker: time.NewTicker(time.Duration(frameMS) * time.Millisecond),
	}, nil
}

type fileStream struct {
	frames [][]byte
	next   int
	ticker *time.Ticker
	closed bool
}

var errStreamClosed = errors.New("stream closed")

// ReadFrame is called from the pump goroutine only.
func (s *fileStream) ReadFrame(ctx context.Context) ([]byte, error) {
	if s.closed {
		return nil, errStreamClosed
	}
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C:
	}
	frame := s.frames[s.next]
	s.next++
	return frame, nil
}

func (s *fileStream) Close() error {
	s.ticker.Stop()
	s.closed = true
	return nil
}
