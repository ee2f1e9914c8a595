package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	ServerURL     string            `json:"server_url"`
	CaptureDevice string            `json:"capture_device"`
	PlaybackMode  string            `json:"playback_mode"`
	HistoryStore  string            `json:"history_store"`
	Checks        []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.session.Status()
	checks := make([]onboardingCheck, 0, 6)
	checks = append(checks, s.backendCheck())
	checks = append(checks, captureCheck(st.Device))
	checks = append(checks, s.playbackCheck())

	if st.History == "memory" {
		checks = append(checks, onboardingCheck{
			ID:     "history_store",
			Status: "warn",
			Label:  "History persistence",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL or REDIS_URL to keep history across restarts.",
		})
	} else {
		checks = append(checks, onboardingCheck{
			ID:     "history_store",
			Status: "ok",
			Label:  "History persistence",
			Detail: st.History,
		})
	}
	if s.cfg.HistoryRedactPII {
		checks = append(checks, onboardingCheck{ID: "pii_redaction", Status: "ok", Label: "PII redaction", Detail: "enabled"})
	} else {
		checks = append(checks, onboardingCheck{
			ID:     "pii_redaction",
			Status: "warn",
			Label:  "PII redaction",
			Detail: "disabled",
			Fix:    "Set HISTORY_REDACT_PII=true to mask emails, phones and cards in stored transcripts.",
		})
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		ServerURL:     s.cfg.ServerURL,
		CaptureDevice: st.Device,
		PlaybackMode:  s.cfg.PlaybackMode,
		HistoryStore:  st.History,
		Checks:        checks,
	})
}

func (s *Server) backendCheck() onboardingCheck {
	if s.session.Connected() {
		return onboardingCheck{ID: "log_server", Status: "ok", Label: "Logging backend", Detail: "connected"}
	}
	check := onboardingCheck{
		ID:     "log_server",
		Status: "error",
		Label:  "Logging backend",
		Detail: "not connected",
		Fix:    "Start the logging backend at LOG_SERVER_URL and restart voicelog.",
	}
	if err := probeTCP(s.cfg.ServerURL); err != nil {
		check.Detail = fmt.Sprintf("unreachable: %v", err)
	} else {
		check.Detail = "reachable but the session socket is closed"
		check.Fix = "The connection is not retried; restart voicelog to reconnect."
	}
	return check
}

func captureCheck(device string) onboardingCheck {
	if device == "" || device == "none" {
		return onboardingCheck{
			ID:     "capture_device",
			Status: "warn",
			Label:  "Capture device",
			Detail: "none",
			Fix:    "Set CAPTURE_DEVICE=mic, or CAPTURE_DEVICE=command with an arecord/sox CAPTURE_COMMAND.",
		}
	}
	return onboardingCheck{ID: "capture_device", Status: "ok", Label: "Capture device", Detail: device}
}

func (s *Server) playbackCheck() onboardingCheck {
	switch s.cfg.PlaybackMode {
	case "discard":
		return onboardingCheck{
			ID:     "playback",
			Status: "warn",
			Label:  "Playback",
			Detail: "discarding audio replies",
			Fix:    "Set PLAYBACK_MODE=command with an ffplay/aplay PLAYBACK_COMMAND.",
		}
	case "dir":
		return onboardingCheck{ID: "playback", Status: "ok", Label: "Playback", Detail: "writing replies to " + s.cfg.PlaybackDir}
	}
	fields := strings.Fields(s.cfg.PlaybackCommand)
	if len(fields) == 0 {
		return onboardingCheck{ID: "playback", Status: "error", Label: "Playback", Detail: "PLAYBACK_COMMAND is empty"}
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		return onboardingCheck{
			ID:     "playback",
			Status: "error",
			Label:  "Playback",
			Detail: fields[0] + " not found on PATH",
			Fix:    "Install ffmpeg (ffplay) or point PLAYBACK_COMMAND at an installed player.",
		}
	}
	return onboardingCheck{ID: "playback", Status: "ok", Label: "Playback", Detail: fields[0]}
}

func probeTCP(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	host := strings.TrimSpace(u.Host)
	if host == "" {
		return fmt.Errorf("host missing")
	}
	addr := host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "wss" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	c, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
	if err != nil {
		return err
	}
	_ = c.Close()
	return nil
}
