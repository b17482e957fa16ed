package chat

import (
	"context"

	"go.uber.org/zap"
)

// ErrorReporter receives failures the hub swallows, such as a rejected store
// write. Implementations must be safe for concurrent use.
type ErrorReporter interface {
	Report(op string, err error)
}

// LogReporter reports errors to a zap logger.
type LogReporter struct {
	log *zap.Logger
}

// NewLogReporter returns a reporter writing to log.
func NewLogReporter(log *zap.Logger) *LogReporter {
	return &LogReporter{log: log}
}

// Report implements ErrorReporter.
func (r *LogReporter) Report(op string, err error) {
	r.log.Error("operation failed", zap.String("op", op), zap.Error(err))
}

// Presence mirrors the roster to an external system.
type Presence interface {
	Online(ctx context.Context, e RosterEntry) error
	Offline(ctx context.Context, id string) error
}

// Relay publishes persisted message events outside the process.
type Relay interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

func (h *Hub) mirrorOnline(c *Connection) {
	if h.presence == nil {
		return
	}
	entry := RosterEntry{ID: c.ID, DisplayName: c.DisplayName, Room: c.CurrentRoom, Online: c.Online}
	h.enqueueMirror("presence_online", func(ctx context.Context) error {
		return h.presence.Online(ctx, entry)
	})
}

func (h *Hub) mirrorOffline(id string) {
	if h.presence == nil {
		return
	}
	h.enqueueMirror("presence_offline", func(ctx context.Context) error {
		return h.presence.Offline(ctx, id)
	})
}

func (h *Hub) relayEvent(room, event string, payload any) {
	if h.relay == nil {
		return
	}
	h.background("relay_"+event, func(ctx context.Context) error {
		return h.relay.Publish(ctx, room, event, payload)
	})
}

type mirrorCall struct {
	op   string
	call func(ctx context.Context) error
}

// enqueueMirror queues a presence update. Updates run one at a time in
// submission order so an offline never overtakes the matching online.
func (h *Hub) enqueueMirror(op string, call func(ctx context.Context) error) {
	select {
	case h.mirror <- mirrorCall{op: op, call: call}:
	default:
		h.log.Warn("presence queue full; dropping update", zap.String("op", op))
	}
}

func (h *Hub) runMirror() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case m := <-h.mirror:
			if err := m.call(h.ctx); err != nil {
				h.reporter.Report(m.op, err)
			}
		}
	}
}
