package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/voicelog/internal/capture"
	"github.com/ent0n29/voicelog/internal/config"
	"github.com/ent0n29/voicelog/internal/history"
	"github.com/ent0n29/voicelog/internal/notify"
	"github.com/ent0n29/voicelog/internal/observability"
	"github.com/ent0n29/voicelog/internal/session"
)

// Controller is the mounted session the API drives.
type Controller interface {
	Status() session.Status
	Connected() bool
	ToggleRecording(ctx context.Context) (bool, error)
	SubmitTranscript(ctx context.Context, text string) error
	Notifications() []notify.Notice
	History(ctx context.Context, limit int) ([]history.Entry, error)
}

type Server struct {
	cfg     config.Config
	session Controller
	metrics *observability.Metrics
	static  http.Handler
}

func New(cfg config.Config, ctrl Controller, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		session: ctrl,
		metrics: metrics,
		static:  newStaticHandler(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/status", s.handleStatus)
	r.Post("/v1/recording/toggle", s.handleToggleRecording)
	r.Post("/v1/transcription", s.handleSubmitTranscript)
	r.Get("/v1/notifications", s.handleNotifications)
	r.Get("/v1/history", s.handleHistory)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/ui/settings", s.handleUISettings)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.session.Connected() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"state":  s.session.Status().State,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleToggleRecording(w http.ResponseWriter, r *http.Request) {
	recording, err := s.session.ToggleRecording(r.Context())
	switch {
	case errors.Is(err, capture.ErrNotConnected):
		respondError(w, http.StatusConflict, "not_connected", err.Error())
		return
	case errors.Is(err, capture.ErrDeviceUnavailable):
		respondError(w, http.StatusServiceUnavailable, "device_unavailable", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "toggle_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"recording": recording})
}

type transcriptRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmitTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	err := s.session.SubmitTranscript(r.Context(), req.Text)
	switch {
	case errors.Is(err, session.ErrEmptyTranscript):
		respondError(w, http.StatusBadRequest, "empty_transcript", err.Error())
		return
	case errors.Is(err, capture.ErrNotConnected):
		respondError(w, http.StatusConflict, "not_connected", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, "send_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

type noticeView struct {
	notify.Notice
	DurationMS int64 `json:"duration_ms"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	active := s.session.Notifications()
	out := make([]noticeView, 0, len(active))
	for _, n := range active {
		out = append(out, noticeView{Notice: n, DurationMS: n.DurationMS()})
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries, err := s.session.History(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
