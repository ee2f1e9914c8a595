package session

import "time"

// Status is a point-in-time view of a session.
type Status struct {
	SessionID  string    `json:"session_id"`
	State      string    `json:"state"`
	Connected  bool      `json:"connected"`
	Recording  bool      `json:"recording"`
	QueueDepth int       `json:"queue_depth"`
	Playing    bool      `json:"playing"`
	Device     string    `json:"device"`
	History    string    `json:"history"`
	StartedAt  time.Time `json:"started_at"`
}
