package chat

import (
	"context"

	"go.uber.org/zap"
)

const privateRoomPrefix = "private_"

// PrivateRoomID derives the room of a private conversation. The ids are
// ordered so both participants derive the same value.
func PrivateRoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return privateRoomPrefix + a + "_" + b
}

// sendPrivate persists a private message and delivers it to both parties'
// connections directly. Private rooms never go through joinRoom.
func (h *Hub) sendPrivate(senderID string, ev PrivateMessage) {
	sender, ok := h.registry.Get(senderID)
	if !ok {
		return
	}
	if _, ok := h.registry.Get(ev.ToUserID); !ok {
		h.log.Debug("private message to unknown connection", zap.String("to", ev.ToUserID))
		return
	}

	msg := Message{
		Sender:      sender.DisplayName,
		SenderID:    sender.ID,
		Body:        ev.Message,
		Room:        PrivateRoomID(sender.ID, ev.ToUserID),
		IsPrivate:   true,
		RecipientID: ev.ToUserID,
		Delivered:   true,
		Reactions:   []Reaction{},
	}
	recipientID := ev.ToUserID
	senderName := sender.DisplayName

	var saved Message
	h.await("send_private", func(ctx context.Context) (err error) {
		saved, err = h.store.Insert(ctx, msg)
		return err
	}, func() {
		h.fanout.ToConnection(senderID, EventReceiveMessage, saved)
		if recipientID != senderID {
			h.fanout.ToConnection(recipientID, EventReceiveMessage, saved)
		}
		h.fanout.ToConnection(recipientID, EventNotification, Notification{
			Type:    NotifyPrivate,
			Message: "New private message from " + senderName,
			Room:    saved.Room,
		})
		h.relayEvent(saved.Room, EventReceiveMessage, saved)
	})
}
