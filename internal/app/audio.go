package app

import (
	"fmt"

	"github.com/ent0n29/voicelog/internal/audio"
	"github.com/ent0n29/voicelog/internal/capture"
	"github.com/ent0n29/voicelog/internal/config"
	"github.com/ent0n29/voicelog/internal/playback"
)

type captureSetup struct {
	device   capture.Device
	resolved string
	detail   string
}

func resolveCaptureDevice(cfg config.Config) (captureSetup, error) {
	command := capture.CommandDevice{
		Command:    cfg.CaptureCommand,
		FrameBytes: audio.FrameBytes(cfg.CaptureSampleRate, cfg.CaptureFrameMS),
	}

	switch cfg.CaptureDevice {
	case "mic":
		return captureSetup{device: capture.MicDevice{}, resolved: "mic", detail: "microphone (opus)"}, nil
	case "command":
		return captureSetup{device: command, resolved: "command", detail: "command: " + cfg.CaptureCommand}, nil
	case "file":
		return captureSetup{
			device: capture.FileDevice{
				Path:       cfg.CaptureFile,
				SampleRate: cfg.CaptureSampleRate,
				FrameMS:    cfg.CaptureFrameMS,
			},
			resolved: "file",
			detail:   "file: " + cfg.CaptureFile,
		}, nil
	case "none":
		return captureSetup{resolved: "none", detail: "none"}, nil
	case "auto", "":
		if capture.MicAvailable() {
			return captureSetup{device: capture.MicDevice{}, resolved: "mic", detail: "microphone (opus)"}, nil
		}
		if command.Available() {
			return captureSetup{device: command, resolved: "command", detail: "command: " + cfg.CaptureCommand + " (no microphone driver)"}, nil
		}
		// Toggling will report device_unavailable.
		return captureSetup{resolved: "none", detail: "none (no microphone and capture command unavailable)"}, nil
	default:
		return captureSetup{}, fmt.Errorf("invalid CAPTURE_DEVICE: %q (expected auto|mic|command|file|none)", cfg.CaptureDevice)
	}
}

type playbackSetup struct {
	player   playback.Player
	resolved string
	detail   string
}

func resolvePlayer(cfg config.Config) (playbackSetup, error) {
	dir := playback.DirPlayer{Dir: cfg.PlaybackDir, WrapPCM: true, SampleRate: cfg.CaptureSampleRate}

	switch cfg.PlaybackMode {
	case "command":
		return playbackSetup{player: playback.CommandPlayer{Command: cfg.PlaybackCommand}, resolved: "command", detail: "command: " + cfg.PlaybackCommand}, nil
	case "dir":
		return playbackSetup{player: dir, resolved: "dir", detail: "dir: " + cfg.PlaybackDir}, nil
	case "discard":
		return playbackSetup{player: &playback.DiscardPlayer{}, resolved: "discard", detail: "discard"}, nil
	case "auto", "":
		if p, err := playback.ResolveCommand(cfg.PlaybackCommand, "ffplay -nodisp -autoexit -loglevel quiet -", "mpv --no-video --really-quiet -"); err == nil {
			return playbackSetup{player: p, resolved: "command", detail: "command: " + p.Command}, nil
		}
		if cfg.PlaybackDir != "" {
			return playbackSetup{player: dir, resolved: "dir", detail: "dir: " + cfg.PlaybackDir + " (no player on PATH)"}, nil
		}
		return playbackSetup{player: &playback.DiscardPlayer{}, resolved: "discard", detail: "discard (no player on PATH)"}, nil
	default:
		return playbackSetup{}, fmt.Errorf("invalid PLAYBACK_MODE: %q (expected auto|command|dir|discard)", cfg.PlaybackMode)
	}
}
