package chat

import (
	"context"

	"go.uber.org/zap"
)

// send persists a message from connection id and broadcasts it to the target
// room once stored. A failed write is reported and nothing is broadcast.
func (h *Hub) send(id string, ev SendMessage) {
	c, ok := h.registry.Get(id)
	if !ok {
		return
	}
	if ev.Message == "" && ev.Image == "" {
		return
	}
	room := c.CurrentRoom
	if ev.Room != "" {
		if !h.IsPublicRoom(ev.Room) {
			h.log.Debug("send to unknown room ignored", zap.String("conn", id), zap.String("room", ev.Room))
			return
		}
		room = ev.Room
	}

	msg := Message{
		Sender:    c.DisplayName,
		SenderID:  c.ID,
		Body:      ev.Message,
		Room:      room,
		Delivered: true,
		Read:      false,
		Reactions: []Reaction{},
		Image:     ev.Image,
	}

	var saved Message
	h.await("send_message", func(ctx context.Context) (err error) {
		saved, err = h.store.Insert(ctx, msg)
		return err
	}, func() {
		h.fanout.ToRoom(saved.Room, EventReceiveMessage, saved)
		h.relayEvent(saved.Room, EventReceiveMessage, saved)
	})
}

// edit replaces a message body and broadcasts the stored result to the
// message's room.
func (h *Hub) edit(id, messageID, body string) {
	h.update(id, "edit_message", messageID, MessagePatch{
		Body:   StringPtr(body),
		Edited: BoolPtr(true),
	})
}

// markRead flags a single message as read.
func (h *Hub) markRead(id, messageID string) {
	h.update(id, "message_read", messageID, MessagePatch{Read: BoolPtr(true)})
}

// update applies p on behalf of connection id. Events from connections that
// never joined are ignored.
func (h *Hub) update(id, op, messageID string, p MessagePatch) {
	if _, ok := h.registry.Get(id); !ok {
		return
	}
	var updated Message
	h.awaitMessage(messageID, op, func(ctx context.Context) (err error) {
		updated, err = h.store.Update(ctx, messageID, p)
		return err
	}, func() {
		h.toAudience(updated, EventMessageUpdated, updated)
	})
}

// deleteMessage removes a message. The room is read before deleting because it is
// gone afterwards.
func (h *Hub) deleteMessage(id, messageID string) {
	if _, ok := h.registry.Get(id); !ok {
		return
	}
	var deleted Message
	h.awaitMessage(messageID, "delete_message", func(ctx context.Context) (err error) {
		deleted, err = h.store.Get(ctx, messageID)
		if err != nil {
			return err
		}
		return h.store.Delete(ctx, messageID)
	}, func() {
		h.toAudience(deleted, EventMessageDeleted, map[string]string{"id": messageID})
	})
}

// react upserts the acting connection's reaction on a message and persists
// the full reaction list.
func (h *Hub) react(id string, ev AddReaction) {
	if _, ok := h.registry.Get(id); !ok {
		return
	}
	var updated Message
	h.awaitMessage(ev.MessageID, "add_reaction", func(ctx context.Context) error {
		m, err := h.store.Get(ctx, ev.MessageID)
		if err != nil {
			return err
		}
		m.UpsertReaction(id, ev.Emoji)
		updated, err = h.store.Update(ctx, ev.MessageID, MessagePatch{Reactions: m.Reactions})
		return err
	}, func() {
		h.toAudience(updated, EventMessageUpdated, updated)
	})
}

// toAudience sends an event about m to everyone who can see m: its room, or
// for a private message the two participants, since nobody joins a private
// room.
func (h *Hub) toAudience(m Message, event string, payload any) {
	if m.IsPrivate {
		h.fanout.ToConnection(m.SenderID, event, payload)
		if m.RecipientID != m.SenderID {
			h.fanout.ToConnection(m.RecipientID, event, payload)
		}
	} else {
		h.fanout.ToRoom(m.Room, event, payload)
	}
	h.relayEvent(m.Room, event, payload)
}
