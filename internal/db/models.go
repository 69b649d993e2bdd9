package db

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Reminder is a user-owned schedule. It is edited elsewhere; this service only reads it.
type Reminder struct {
	ID         string   `json:"id"`
	OwnerID    string   `json:"owner_id"`
	Time       string   `json:"time"`         // "HH:MM", 24h, evaluated in the service timezone
	DaysOfWeek []int    `json:"days_of_week"` // ISO weekdays, 1=Monday..7=Sunday
	Types      []string `json:"types"`
	IsEnabled  bool     `json:"is_enabled"`
}

// NotificationJob records one dispatch attempt and its outcome.
type NotificationJob struct {
	ID                 uuid.UUID  `json:"id"`
	OwnerID            string     `json:"owner_id"`
	ReminderID         string     `json:"reminder_id"`
	Type               string     `json:"type"`
	Title              string     `json:"title"`
	Body               string     `json:"body"`
	IdempotencyKey     string     `json:"idempotency_key"`
	Status             string     `json:"status"`
	ScheduledTime      time.Time  `json:"scheduled_time"`
	CreatedAt          time.Time  `json:"created_at"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
	TransportMessageID *string    `json:"transport_message_id,omitempty"`
	Error              *string    `json:"error,omitempty"`
}

// Status constants
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrJobNotPending is returned when a job has already reached a terminal status.
	ErrJobNotPending = errors.New("job is not pending")
)
