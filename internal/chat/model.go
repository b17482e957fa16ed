// Package chat coordinates presence, room membership, typing indicators and
// the message lifecycle for connected chat participants.
//
// All mutable state is owned by the Hub goroutine. Transports submit decoded
// events to the hub and receive encoded frames through a Sink.
package chat

import "time"

// Reaction is a single emoji reaction left on a message by one user.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is a persisted chat message, public or private.
type Message struct {
	ID          string     `json:"id"`
	Sender      string     `json:"sender"`
	SenderID    string     `json:"senderId"`
	Body        string     `json:"message"`
	Room        string     `json:"room"`
	IsPrivate   bool       `json:"isPrivate"`
	RecipientID string     `json:"recipientId,omitempty"`
	Delivered   bool       `json:"delivered"`
	Read        bool       `json:"read"`
	Reactions   []Reaction `json:"reactions"`
	Edited      bool       `json:"edited"`
	Image       string     `json:"image,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// UpsertReaction sets the emoji for userID, replacing an earlier reaction by
// the same user. A message never holds two reactions from one user.
func (m *Message) UpsertReaction(userID, emoji string) {
	for i := range m.Reactions {
		if m.Reactions[i].UserID == userID {
			m.Reactions[i].Emoji = emoji
			return
		}
	}
	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji})
}

// Connection is one joined client session.
type Connection struct {
	ID          string
	DisplayName string
	CurrentRoom string
	Online      bool
	JoinedAt    time.Time

	sink Sink
}

// RosterEntry is the public projection of an online connection.
type RosterEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Room        string `json:"room"`
	Online      bool   `json:"online"`
}

// Notification types.
const (
	NotifyJoin    = "join"
	NotifyLeave   = "leave"
	NotifyPrivate = "private"
)

// Notification is a human readable room or private notice.
type Notification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Room    string `json:"room"`
}
