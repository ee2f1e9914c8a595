package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/voicelog/internal/config"
	"github.com/ent0n29/voicelog/internal/history"
	"github.com/ent0n29/voicelog/internal/httpapi"
	"github.com/ent0n29/voicelog/internal/notify"
	"github.com/ent0n29/voicelog/internal/observability"
	"github.com/ent0n29/voicelog/internal/playback"
	"github.com/ent0n29/voicelog/internal/policy"
	"github.com/ent0n29/voicelog/internal/session"
	"github.com/ent0n29/voicelog/internal/socket"
)

type AudioInfo struct {
	Capture  string
	Playback string
}

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Session *session.Session
	History history.Store
	Metrics *observability.Metrics
	Audio   AudioInfo

	// Cleanup should be called on shutdown, after Session.Teardown, to release
	// external resources (DB, redis).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := history.NewStore(ctx, history.Options{
		DatabaseURL:   cfg.DatabaseURL,
		RedisURL:      cfg.RedisURL,
		RedisPassword: cfg.RedisPassword,
		MaxPerSession: 500,
		RedisTTL:      7 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	captureSetup, err := resolveCaptureDevice(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	playbackSetup, err := resolvePlayer(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	overflow, err := playback.ParseOverflowPolicy(cfg.PlaybackOverflow)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	conn := socket.New(socket.Config{
		URL:              cfg.ServerURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		KeepAlivePeriod:  cfg.KeepAlivePeriod,
		WriteTimeout:     cfg.WriteTimeout,
		ReadLimit:        int64(cfg.ReadLimitBytes),
	}, metrics)

	sess := session.New(session.Deps{
		Conn:     conn,
		Device:   captureSetup.device,
		Player:   playbackSetup.player,
		Sink:     notify.LogSink{},
		History:  store,
		Redactor: policy.NewRedactor(cfg.HistoryRedactPII),
		Metrics:  metrics,
		Options: session.Options{
			SendControl: cfg.SendControl,
			Queue: playback.Options{
				Capacity:    cfg.PlaybackQueueSize,
				Overflow:    overflow,
				ItemTimeout: cfg.PlaybackItemTimeout,
			},
			Notify: notify.Options{
				MinDuration: cfg.NotifyMinDuration,
				PerWord:     cfg.NotifyPerWord,
			},
		},
	})

	// Ensure API handlers report the mode actually in use.
	cfg.CaptureDevice = captureSetup.resolved
	cfg.PlaybackMode = playbackSetup.resolved

	api := httpapi.New(cfg, sess, metrics)

	cleanup := func() error {
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Session: sess,
		History: store,
		Metrics: metrics,
		Audio: AudioInfo{
			Capture:  captureSetup.detail,
			Playback: playbackSetup.detail,
		},
		Cleanup: cleanup,
	}, nil
}
