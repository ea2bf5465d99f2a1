// Package audit keeps a queryable trail of security-relevant events. Writing
// an event never fails the request that produced it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	UserRegistered   = "user.registered"
	UserLoginFailed  = "user.login_failed"
	UserLoggedOut    = "user.logged_out"
	ResetIssued      = "reset.issued"
	ResetConsumed    = "reset.consumed"
	ShareIssued      = "share.issued"
	ShareAccessed    = "share.accessed"
	FileUploaded     = "file.uploaded"
	FileDeleted      = "file.deleted"
	defaultRecentMax = 50
)

type Event struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Type       string    `json:"event"`
	UserID     uuid.UUID `json:"user_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

type Recorder interface {
	Record(ctx context.Context, e Event)
	Recent(ctx context.Context, userID uuid.UUID, limit int) ([]Event, error)
	Close() error
}

// Noop discards events. It is used when no audit database is configured.
type Noop struct{}

func (Noop) Record(ctx context.Context, e Event) {}

func (Noop) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]Event, error) {
	return []Event{}, nil
}

func (Noop) Close() error { return nil }
