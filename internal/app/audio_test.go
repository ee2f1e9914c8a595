package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ent0n29/voicelog/internal/capture"
	"github.com/ent0n29/voicelog/internal/config"
	"github.com/ent0n29/voicelog/internal/playback"
)

func TestResolveCaptureDevice(t *testing.T) {
	cfg := config.Config{CaptureDevice: "file", CaptureFile: "/tmp/clip.wav", CaptureSampleRate: 16000, CaptureFrameMS: 40}
	setup, err := resolveCaptureDevice(cfg)
	if err != nil {
		t.Fatalf("resolveCaptureDevice(file) error = %v", err)
	}
	if _, ok := setup.device.(capture.FileDevice); !ok || setup.resolved != "file" {
		t.Fatalf("setup = %+v, want file device", setup)
	}

	cfg.CaptureDevice = "command"
	cfg.CaptureCommand = "arecord -q -f S16_LE -r 16000 -c 1 -t raw"
	setup, err = resolveCaptureDevice(cfg)
	if err != nil {
		t.Fatalf("resolveCaptureDevice(command) error = %v", err)
	}
	cmd, ok := setup.device.(capture.CommandDevice)
	if !ok || cmd.FrameBytes != 1280 {
		t.Fatalf("device = %+v, want command device with 1280-byte frames", setup.device)
	}

	cfg.CaptureDevice = "none"
	if setup, _ := resolveCaptureDevice(cfg); setup.device != nil {
		t.Fatalf("none resolved to %+v", setup.device)
	}

	cfg.CaptureDevice = "bluetooth"
	if _, err := resolveCaptureDevice(cfg); err == nil {
		t.Fatalf("resolveCaptureDevice(bluetooth) error = nil")
	}
}

func TestResolvePlayer(t *testing.T) {
	setup, err := resolvePlayer(config.Config{PlaybackMode: "discard"})
	if err != nil {
		t.Fatalf("resolvePlayer(discard) error = %v", err)
	}
	if _, ok := setup.player.(*playback.DiscardPlayer); !ok {
		t.Fatalf("player = %T, want *DiscardPlayer", setup.player)
	}

	setup, err = resolvePlayer(config.Config{PlaybackMode: "auto", PlaybackCommand: "no-such-player-binary -", PlaybackDir: t.TempDir()})
	if err != nil {
		t.Fatalf("resolvePlayer(auto) error = %v", err)
	}
	if setup.resolved == "" {
		t.Fatalf("auto resolved to nothing")
	}

	if _, err := resolvePlayer(config.Config{PlaybackMode: "speaker"}); err == nil {
		t.Fatalf("resolvePlayer(speaker) error = nil")
	}
}

func TestBuildWiresSession(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:  fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		ServerURL:         "ws://127.0.0.1:1/connect",
		HandshakeTimeout:  time.Second,
		CaptureDevice:     "none",
		PlaybackMode:      "discard",
		PlaybackQueueSize: 4,
		PlaybackOverflow:  "drop_oldest",
		NotifyMinDuration: 2 * time.Second,
		NotifyPerWord:     400 * time.Millisecond,
	}
	res, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		res.Session.Teardown()
		_ = res.Cleanup()
	}()

	st := res.Session.Status()
	if st.Device != "none" || st.History != "memory" || st.State != "connecting" {
		t.Fatalf("Status() = %+v, want an unmounted session with no device", st)
	}
	if res.API == nil || res.Audio.Playback != "discard" {
		t.Fatalf("BuildResult = %+v", res)
	}
}
