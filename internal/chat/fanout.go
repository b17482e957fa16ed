package chat

import (
	"slices"

	"go.uber.org/zap"
)

// Sink receives encoded frames for one connection. Send must not block; it
// returns false when the frame could not be queued.
type Sink interface {
	Send(frame []byte) bool
	Close()
}

// Fanout addresses frames to one connection, a room, or everyone. Sinks that
// refuse a frame are queued for eviction.
type Fanout struct {
	registry *Registry
	log      *zap.Logger
	evicted  []string
}

// NewFanout creates a Fanout over reg.
func NewFanout(reg *Registry, log *zap.Logger) *Fanout {
	return &Fanout{registry: reg, log: log}
}

// ToConnection delivers to a single registered connection.
func (f *Fanout) ToConnection(id, event string, payload any) {
	c, ok := f.registry.Get(id)
	if !ok || !c.Online {
		return
	}
	frame, ok := f.encode(event, payload)
	if !ok {
		return
	}
	f.deliver(c, frame)
}

// ToRoom delivers to every online connection currently in room, skipping the
// excluded ids.
func (f *Fanout) ToRoom(room, event string, payload any, excluding ...string) {
	members := f.registry.Members(room)
	if len(members) == 0 {
		return
	}
	frame, ok := f.encode(event, payload)
	if !ok {
		return
	}
	for _, c := range members {
		if slices.Contains(excluding, c.ID) {
			continue
		}
		f.deliver(c, frame)
	}
}

// ToAll delivers to every online connection.
func (f *Fanout) ToAll(event string, payload any) {
	conns := f.registry.All()
	if len(conns) == 0 {
		return
	}
	frame, ok := f.encode(event, payload)
	if !ok {
		return
	}
	for _, c := range conns {
		f.deliver(c, frame)
	}
}

// TakeEvicted returns and clears the connections whose sinks refused a frame.
func (f *Fanout) TakeEvicted() []string {
	out := f.evicted
	f.evicted = nil
	return out
}

func (f *Fanout) encode(event string, payload any) ([]byte, bool) {
	frame, err := Encode(event, payload)
	if err != nil {
		f.log.Error("encode outbound frame", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return frame, true
}

func (f *Fanout) deliver(c *Connection, frame []byte) {
	if c.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("recovered from panic in sink", zap.String("conn", c.ID), zap.Any("panic", r))
			f.evict(c.ID)
		}
	}()
	if c.sink.Send(frame) {
		return
	}
	f.log.Warn("send buffer full; evicting connection", zap.String("conn", c.ID))
	f.evict(c.ID)
}

func (f *Fanout) evict(id string) {
	if !slices.Contains(f.evicted, id) {
		f.evicted = append(f.evicted, id)
	}
}
