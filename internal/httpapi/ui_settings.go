package httpapi

import "net/http"

type uiSettingsResponse struct {
	NotifyMinDurationMS int64  `json:"notify_min_duration_ms"`
	NotifyPerWordMS     int64  `json:"notify_per_word_ms"`
	PlaybackQueueSize   int    `json:"playback_queue_size"`
	PlaybackOverflow    string `json:"playback_overflow"`
	CaptureDevice       string `json:"capture_device"`
	SendControl         bool   `json:"send_control"`
}

func (s *Server) handleUISettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, uiSettingsResponse{
		NotifyMinDurationMS: s.cfg.NotifyMinDuration.Milliseconds(),
		NotifyPerWordMS:     s.cfg.NotifyPerWord.Milliseconds(),
		PlaybackQueueSize:   s.cfg.PlaybackQueueSize,
		PlaybackOverflow:    s.cfg.PlaybackOverflow,
		CaptureDevice:       s.session.Status().Device,
		SendControl:         s.cfg.SendControl,
	})
}
