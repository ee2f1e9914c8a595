package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ent0n29/voicelog/internal/audio"
	"github.com/ent0n29/voicelog/internal/observability"
	"github.com/ent0n29/voicelog/internal/protocol"
	"github.com/ent0n29/voicelog/internal/socket"
)

type options struct {
	serverURL      string
	wavPaths       []string
	turns          int
	frameMS        int
	realtime       float64
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	verbose        bool
}

type clip struct {
	Name       string
	PCM16LE    []byte
	SampleRate int
}

type turnResult struct {
	Clip          string
	Frames        int
	Latency       time.Duration
	Transcription string
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perflog: %v\n", err)
		os.Exit(2)
	}
	metrics := observability.NewMetrics("perflog")
	if _, err := run(context.Background(), cfg, metrics); err != nil {
		fmt.Fprintf(os.Stderr, "perflog: %v\n", err)
		os.Exit(1)
	}
	snap := metrics.SnapshotLatency()
	for _, s := range snap.Stages {
		fmt.Printf("perflog: %s samples=%d p50=%.0fms p95=%.0fms avg=%.0fms target_p95=%.0fms\n",
			s.Stage, s.Samples, s.P50MS, s.P95MS, s.AvgMS, s.TargetP95MS)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var wavRaw string
	var interTurnMS int
	var turnTimeoutMS int

	fs := flag.NewFlagSet("perflog", flag.ContinueOnError)
	fs.StringVar(&cfg.serverURL, "server-url", "ws://localhost:8000/connect", "logging backend websocket URL")
	fs.StringVar(&wavRaw, "wav", "", "comma separated WAV files to replay (default: a synthetic tone)")
	fs.IntVar(&cfg.turns, "turns", 5, "number of recordings to replay")
	fs.IntVar(&cfg.frameMS, "frame-ms", 40, "audio frame size in milliseconds")
	fs.Float64Var(&cfg.realtime, "realtime", 1.0, "frame pacing multiplier (1.0=realtime, 2.0=2x)")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 500, "delay between recordings in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 20000, "timeout waiting for the audio reply in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.serverURL = strings.TrimSpace(cfg.serverURL)
	if !strings.HasPrefix(cfg.serverURL, "ws://") && !strings.HasPrefix(cfg.serverURL, "wss://") {
		return options{}, fmt.Errorf("server-url must be a ws:// or wss:// URL")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.frameMS < 10 || cfg.frameMS > 2000 {
		return options{}, fmt.Errorf("frame-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	for _, part := range strings.Split(wavRaw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			cfg.wavPaths = append(cfg.wavPaths, p)
		}
	}
	return cfg, nil
}

func loadClips(paths []string) ([]clip, error) {
	if len(paths) == 0 {
		return []clip{toneClip(16000, 1500*time.Millisecond)}, nil
	}
	out := make([]clip, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		pcm, sampleRate, err := audio.DecodeWAVPCM16(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		out = append(out, clip{Name: p, PCM16LE: pcm, SampleRate: sampleRate})
	}
	return out, nil
}

// toneClip is a 440Hz sine at a quarter of full scale.
func toneClip(sampleRate int, d time.Duration) clip {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8192 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return clip{Name: "tone", PCM16LE: pcm, SampleRate: sampleRate}
}

func run(ctx context.Context, cfg options, metrics *observability.Metrics) ([]turnResult, error) {
	clips, err := loadClips(cfg.wavPaths)
	if err != nil {
		return nil, fmt.Errorf("prepare audio: %w", err)
	}

	conn := socket.New(socket.Config{
		URL:              cfg.serverURL,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}, metrics)
	if err := conn.Open(ctx); err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		c := clips[i%len(clips)]
		if cfg.verbose {
			fmt.Printf("perflog: turn %d/%d clip=%s sample_rate=%dHz bytes=%d\n", i+1, cfg.turns, c.Name, c.SampleRate, len(c.PCM16LE))
		}

		frames, err := sendRecording(conn, c, cfg.frameMS, cfg.realtime)
		if err != nil {
			return results, fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		stoppedAt := time.Now()
		reply, err := awaitAudio(conn, cfg.turnTimeout)
		if err != nil {
			return results, fmt.Errorf("turn %d await audio: %w", i+1, err)
		}
		latency := time.Since(stoppedAt)
		metrics.ObserveResponseLatency(latency)
		results = append(results, turnResult{Clip: c.Name, Frames: frames, Latency: latency, Transcription: reply.Transcription})
		if cfg.verbose {
			fmt.Printf("perflog: turn %d reply in %s: %q\n", i+1, latency.Round(time.Millisecond), reply.Transcription)
		}

		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	return results, nil
}

func sendRecording(conn *socket.Conn, c clip, frameMS int, realtime float64) (int, error) {
	if err := conn.SendJSON(protocol.ClientControl{Action: protocol.ActionStartRecording}); err != nil {
		return 0, err
	}
	frames := audio.SplitFrames(c.PCM16LE, audio.FrameBytes(c.SampleRate, frameMS))
	for _, f := range frames {
		if err := conn.SendFrame(f); err != nil {
			return 0, err
		}
		pause := time.Duration(float64(time.Duration(len(f))*time.Second/time.Duration(c.SampleRate*2)) / realtime)
		if pause <= 0 {
			pause = time.Millisecond
		}
		time.Sleep(pause)
	}
	if err := conn.SendJSON(protocol.ClientControl{Action: protocol.ActionStopRecording}); err != nil {
		return 0, err
	}
	return len(frames), nil
}

func awaitAudio(conn *socket.Conn, timeout time.Duration) (protocol.AudioMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case raw, ok := <-conn.Messages():
			if !ok {
				if err := conn.Err(); err != nil {
					return protocol.AudioMessage{}, err
				}
				return protocol.AudioMessage{}, socket.ErrNotOpen
			}
			msg, err := protocol.ParseServerMessage(raw)
			if errors.Is(err, protocol.ErrUnsupportedType) {
				continue
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "perflog: ignoring %s frame: %v\n", protocol.TypeOf(raw), err)
				continue
			}
			return msg.(protocol.AudioMessage), nil
		case <-timer.C:
			return protocol.AudioMessage{}, fmt.Errorf("timeout after %s", timeout)
		}
	}
}
