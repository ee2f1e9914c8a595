package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeAudio MessageType = "audio"
)

// Control actions understood by the logging backend.
const (
	ActionStartRecording      = "start_recording"
	ActionStopRecording       = "stop_recording"
	ActionUpdateTranscription = "update_transcription"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrMalformed       = errors.New("malformed message")
	ErrEmptyAudio      = errors.New("audio payload is empty")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// Activity is a trackable activity created by the backend from the conversation.
type Activity struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id,omitempty"`
	Title   string `json:"title"`
	Measure string `json:"measure"`
}

// ActivityEntry is one logged completion of an Activity.
type ActivityEntry struct {
	ID         string `json:"id"`
	ActivityID string `json:"activity_id"`
	Quantity   int    `json:"quantity"`
	Date       string `json:"date"`
}

// AudioMessage is a synthesized reply: base64 audio plus the text it speaks.
type AudioMessage struct {
	Type          MessageType     `json:"type"`
	Audio         string          `json:"audio"`
	Transcription string          `json:"transcription"`
	Activities    []Activity      `json:"new_activities,omitempty"`
	Entries       []ActivityEntry `json:"new_activity_entries,omitempty"`
	Notification  string          `json:"new_activities_notification,omitempty"`
}

// Decode returns the raw audio bytes carried by the message.
func (m AudioMessage) Decode() ([]byte, error) {
	return DecodeAudio(m.Audio)
}

// DecodeAudio base64-decodes an audio payload, accepting padded and unpadded
// standard encodings. An empty result is an error.
func DecodeAudio(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyAudio
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var rawErr error
		out, rawErr = base64.RawStdEncoding.DecodeString(s)
		if rawErr != nil {
			return nil, fmt.Errorf("decode audio: %w", err)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyAudio
	}
	return out, nil
}

// ClientControl is a text frame sent alongside the binary audio frames.
type ClientControl struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
}

// ParseServerMessage parses one inbound text frame. Only audio messages are
// recognized; everything else yields ErrUnsupportedType or ErrMalformed.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeAudio:
		var msg AudioMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, fmt.Errorf("invalid audio message: %w", ErrEmptyAudio)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the envelope type of a raw frame for logging and metrics.
// Frames that are not JSON objects report "malformed"; a missing type "unknown".
func TypeOf(raw []byte) string {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "malformed"
	}
	if env.Type == "" {
		return "unknown"
	}
	return string(env.Type)
}
