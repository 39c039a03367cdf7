package transcript

import (
	"context"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one stored line of a widget conversation.
type Entry struct {
	ID          string    `json:"id"`
	MerchantID  string    `json:"merchant_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists per-merchant, per-session widget transcripts.
type Store interface {
	SaveEntry(ctx context.Context, entry Entry) error
	// Recent returns up to limit entries of a session in chronological order.
	Recent(ctx context.Context, merchantID, sessionID string, limit int) ([]Entry, error)
	Close() error
}
