package domain

import "time"

// EventType identifies what a card scan resolved to.
type EventType string

const (
	EventCardDetected        EventType = "rfid_detected"
	EventChargingStarted     EventType = "charging_started"
	EventChargingStopped     EventType = "charging_stopped"
	EventInsufficientBalance EventType = "insufficient_balance"
)

// CardEvent is published once per accepted card detection or session
// transition. It is transient and never persisted.
type CardEvent struct {
	Type      EventType `json:"type"`
	CardID    string    `json:"cardId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	User      *User     `json:"user,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// ChargingStatus is the session snapshot served to status queries.
type ChargingStatus struct {
	Active         bool       `json:"active"`
	User           *User      `json:"user,omitempty"`
	CurrentBalance float64    `json:"currentBalance"`
	StartTime      *time.Time `json:"startTime,omitempty"`
}

// CacheInfo reports directory cache staleness.
type CacheInfo struct {
	Cached     bool    `json:"cached"`
	AgeSeconds float64 `json:"ageSeconds"`
	TTLSeconds float64 `json:"ttlSeconds"`
	Valid      bool    `json:"valid"`
	Size       int     `json:"size"`
}
