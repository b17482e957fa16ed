package chat

import (
	"errors"
	"time"
)

// ErrDuplicateConnection is returned by Registry.Join for an id that is
// already registered.
var ErrDuplicateConnection = errors.New("chat: duplicate connection")

// Registry tracks joined connections. It is not safe for concurrent use; the
// hub goroutine is its only caller.
type Registry struct {
	conns       map[string]*Connection
	order       []string
	defaultRoom string
	now         func() time.Time
}

// NewRegistry creates a Registry that places new connections in defaultRoom.
func NewRegistry(defaultRoom string) *Registry {
	return &Registry{
		conns:       make(map[string]*Connection),
		defaultRoom: defaultRoom,
		now:         time.Now,
	}
}

// Join registers a connection in the default room. The registry does not
// broadcast anything; the caller runs the join side effects.
func (r *Registry) Join(id, displayName string, sink Sink) (*Connection, error) {
	if _, exists := r.conns[id]; exists {
		return nil, ErrDuplicateConnection
	}
	c := &Connection{
		ID:          id,
		DisplayName: displayName,
		CurrentRoom: r.defaultRoom,
		Online:      true,
		JoinedAt:    r.now(),
		sink:        sink,
	}
	r.conns[id] = c
	r.order = append(r.order, id)
	return c, nil
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// MarkOffline flags the connection offline without removing it.
func (r *Registry) MarkOffline(id string) {
	if c, ok := r.conns[id]; ok {
		c.Online = false
	}
}

// Remove deletes the connection. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	if _, ok := r.conns[id]; !ok {
		return
	}
	delete(r.conns, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Roster returns the online connections.
func (r *Registry) Roster() []RosterEntry {
	out := make([]RosterEntry, 0, len(r.order))
	for _, id := range r.order {
		c := r.conns[id]
		if !c.Online {
			continue
		}
		out = append(out, RosterEntry{
			ID:          c.ID,
			DisplayName: c.DisplayName,
			Room:        c.CurrentRoom,
			Online:      c.Online,
		})
	}
	return out
}

// Members returns the online connections whose current room is room.
func (r *Registry) Members(room string) []*Connection {
	var out []*Connection
	for _, id := range r.order {
		c := r.conns[id]
		if c.Online && c.CurrentRoom == room {
			out = append(out, c)
		}
	}
	return out
}

// All returns every online connection.
func (r *Registry) All() []*Connection {
	out := make([]*Connection, 0, len(r.order))
	for _, id := range r.order {
		if c := r.conns[id]; c.Online {
			out = append(out, c)
		}
	}
	return out
}

// OnlineCount reports how many connections are online.
func (r *Registry) OnlineCount() int {
	n := 0
	for _, c := range r.conns {
		if c.Online {
			n++
		}
	}
	return n
}
