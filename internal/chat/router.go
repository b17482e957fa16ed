package chat

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// join registers an attached transport connection under displayName and runs
// the initial room side effects. It never validates the default room.
func (h *Hub) join(id, displayName string) {
	sink, ok := h.peers[id]
	if !ok {
		h.log.Debug("user_join from unknown or already joined transport", zap.String("conn", id))
		return
	}
	c, err := h.registry.Join(id, displayName, sink)
	if err != nil {
		h.log.Warn("user_join rejected", zap.String("conn", id), zap.Error(err))
		return
	}
	delete(h.peers, id)

	h.fanout.ToConnection(id, EventAvailableRooms, h.Rooms())
	h.fanout.ToRoom(c.CurrentRoom, EventNotification, Notification{
		Type:    NotifyJoin,
		Message: displayName + " joined the room",
		Room:    c.CurrentRoom,
	}, id)
	h.fanout.ToAll(EventUserList, h.registry.Roster())
	h.mirrorOnline(c)
	h.replayHistory(id, c.CurrentRoom)

	h.log.Info("connection joined", zap.String("conn", id), zap.String("name", displayName),
		zap.String("room", c.CurrentRoom), zap.Int("online", h.registry.OnlineCount()))
}

// joinRoom moves a connection to another public room. Unknown rooms and the
// current room are ignored without any broadcast.
func (h *Hub) joinRoom(id, target string) {
	c, ok := h.registry.Get(id)
	if !ok || !h.IsPublicRoom(target) || target == c.CurrentRoom {
		return
	}

	from := c.CurrentRoom
	c.CurrentRoom = target

	if h.typing.Stop(id) {
		h.fanout.ToRoom(from, EventTypingUsers, h.typing.InRoom(h.registry, from))
	}
	h.fanout.ToRoom(from, EventNotification, Notification{
		Type:    NotifyLeave,
		Message: c.DisplayName + " left the room",
		Room:    from,
	})
	h.fanout.ToRoom(target, EventNotification, Notification{
		Type:    NotifyJoin,
		Message: c.DisplayName + " joined the room",
		Room:    target,
	}, id)
	h.fanout.ToConnection(id, EventRoomJoined, target)
	h.fanout.ToAll(EventUserList, h.registry.Roster())
	h.mirrorOnline(c)
	h.replayHistory(id, target)

	h.log.Debug("room switch", zap.String("conn", id), zap.String("from", from), zap.String("to", target))
}

// replayHistory sends the most recent messages of room to id once the store
// read completes, provided id is still connected and still in room.
func (h *Hub) replayHistory(id, room string) {
	limit := h.opts.HistoryLimit
	var history []Message
	h.await("history", func(ctx context.Context) (err error) {
		history, err = h.store.Recent(ctx, room, time.Time{}, limit)
		return err
	}, func() {
		c, ok := h.registry.Get(id)
		if !ok || c.CurrentRoom != room {
			h.log.Debug("dropping stale history replay", zap.String("conn", id), zap.String("room", room))
			return
		}
		if history == nil {
			history = []Message{}
		}
		h.fanout.ToConnection(id, EventMessageHistory, history)
	})
}
