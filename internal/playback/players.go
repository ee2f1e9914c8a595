package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voicelog/internal/audio"
)

// CommandPlayer pipes each item into an external player (ffplay, aplay,
// mpv ...) on stdin and waits for it to exit.
type CommandPlayer struct {
	Command string
}

// Available reports whether the player binary is on PATH.
func (p CommandPlayer) Available() bool {
	fields := strings.Fields(p.Command)
	if len(fields) == 0 {
		return false
	}
	_, err := exec.LookPath(fields[0])
	return err == nil
}

func (p CommandPlayer) Play(ctx context.Context, item Item) error {
	fields := strings.Fields(p.Command)
	if len(fields) == 0 {
		return fmt.Errorf("playback command is empty")
	}
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Stdin = bytes.NewReader(item.Audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 2<<10 {
			detail = detail[len(detail)-(2<<10):]
		}
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("%s failed: %s", fields[0], detail)
	}
	return nil
}

// DirPlayer writes every item to Dir, one file per item. Raw PCM16 items are
// wrapped in a WAV header when WrapPCM is set.
type DirPlayer struct {
	Dir        string
	WrapPCM    bool
	SampleRate int
	// Pace sleeps for the PCM duration of each item to simulate a speaker.
	Pace bool
}

func (p DirPlayer) Play(ctx context.Context, item Item) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}
	data := item.Audio
	ext := extensionFor(data)
	if ext == ".pcm" && p.WrapPCM {
		wav, err := audio.EncodeWAVPCM16LE(data, p.SampleRate)
		if err != nil {
			return err
		}
		data, ext = wav, ".wav"
	}
	name := fmt.Sprintf("%s-%06d%s", item.EnqueuedAt.UTC().Format("20060102T150405"), item.Seq, ext)
	if err := os.WriteFile(filepath.Join(p.Dir, name), data, 0o644); err != nil {
		return err
	}
	if !p.Pace || ext == ".mp3" {
		return nil
	}
	rate := p.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	d := time.Duration(len(item.Audio)/2) * time.Second / time.Duration(rate)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func extensionFor(data []byte) string {
	switch {
	case audio.IsWAV(data):
		return ".wav"
	case bytes.HasPrefix(data, []byte("ID3")) || (len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0):
		return ".mp3"
	case bytes.HasPrefix(data, []byte("OggS")):
		return ".ogg"
	default:
		return ".pcm"
	}
}

// DiscardPlayer drops audio. It records what it was given for inspection.
type DiscardPlayer struct {
	mu     sync.Mutex
	played []uint64
}

func (p *DiscardPlayer) Play(ctx context.Context, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.played = append(p.played, item.Seq)
	p.mu.Unlock()
	return nil
}

// Played returns the sequence numbers of items handed to the player.
func (p *DiscardPlayer) Played() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.played...)
}

var errNoPlayer = errors.New("no audio player available")

// ResolveCommand returns the first available player command among
// candidates, in order.
func ResolveCommand(candidates ...string) (CommandPlayer, error) {
	for _, c := range candidates {
		p := CommandPlayer{Command: c}
		if p.Available() {
			return p, nil
		}
	}
	return CommandPlayer{}, errNoPlayer
}
