package models

import "time"

// SessionMode selects how browsers are assigned to lookup sessions
type SessionMode string

const (
	ModePerSession SessionMode = "per-session"
	ModeShared     SessionMode = "shared"
)

// Session is the metadata kept for an open lookup. The browser itself is
// owned by the session manager and never serialized.
type Session struct {
	ID        string      `json:"id"`
	IMEI      string      `json:"imei"` // masked
	Mode      SessionMode `json:"mode"`
	StartedAt time.Time   `json:"startedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// StartResponse is returned by GET /start/{imei}
type StartResponse struct {
	SessionID    string `json:"session_id"`
	CaptchaImage string `json:"captcha_image"`
}

// SolveRequest is the payload for POST /solve
type SolveRequest struct {
	SessionID   string `json:"session_id"`
	CaptchaText string `json:"captcha_text"`
}

// ErrorResponse mirrors the error body the web front-end reads
type ErrorResponse struct {
	Detail string `json:"detail"`
}
