package chat

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when a message id does not exist.
var ErrNotFound = errors.New("chat: message not found")

// MessagePatch lists the fields an update changes. Nil fields are left alone.
type MessagePatch struct {
	Body      *string
	Edited    *bool
	Read      *bool
	Reactions []Reaction
}

// Store persists messages. Implementations must be safe for concurrent use;
// the hub calls them from worker goroutines.
type Store interface {
	// Insert persists m and returns it with the store-assigned id and
	// timestamps.
	Insert(ctx context.Context, m Message) (Message, error)
	// Recent returns up to limit messages of room created strictly before
	// before (zero means now), oldest first.
	Recent(ctx context.Context, room string, before time.Time, limit int) ([]Message, error)
	Get(ctx context.Context, id string) (Message, error)
	// Update applies p and returns the message as stored afterwards.
	Update(ctx context.Context, id string, p MessagePatch) (Message, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// StringPtr and BoolPtr build MessagePatch fields.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
