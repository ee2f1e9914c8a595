//go:build linux

package capture

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
)

// MicDevice captures the default microphone through pion/mediadevices and
// emits Opus packets.
type MicDevice struct{}

func (MicDevice) Name() string { return "mic" }

// MicAvailable reports whether any audio input device is visible.
func MicAvailable() bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.AudioInput {
			return true
		}
	}
	return false
}

func (MicDevice) Open(_ context.Context) (Stream, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("%w: opus params: %w", ErrDeviceUnavailable, err)
	}
	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	media, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: codecSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get user media: %w", ErrDeviceUnavailable, err)
	}
	tracks := media.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no audio track", ErrDeviceUnavailable)
	}
	track := tracks[0]
	track.OnEnded(func(err error) {
		if err != nil {
			log.Printf("capture: mic track ended: %v", err)
		}
	})

	reader, err := track.NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		for _, t := range media.GetTracks() {
			_ = t.Close()
		}
		return nil, fmt.Errorf("%w: opus reader: %w", ErrDeviceUnavailable, err)
	}
	return &micStream{reader: reader, tracks: media.GetTracks()}, nil
}

type micStream struct {
	reader mediadevices.EncodedReadCloser
	tracks []mediadevices.Track

	closeOnce sync.Once
}

func (s *micStream) ReadFrame(ctx context.Context) ([]byte, error) {
	// Read blocks until the next packet; closing the stream unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	buf, release, err := s.reader.Read()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	release()
	return data, nil
}

func (s *micStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.reader.Close()
		for _, t := range s.tracks {
			_ = t.Close()
		}
	})
	return nil
}
