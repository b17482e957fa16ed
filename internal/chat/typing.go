package chat

// TypingSet holds the connections currently typing, keyed by connection id.
// Absence means not typing.
type TypingSet struct {
	names map[string]string
	order []string
}

// NewTypingSet returns an empty TypingSet.
func NewTypingSet() *TypingSet {
	return &TypingSet{names: make(map[string]string)}
}

// Start marks id as typing under name.
func (t *TypingSet) Start(id, name string) {
	if _, ok := t.names[id]; !ok {
		t.order = append(t.order, id)
	}
	t.names[id] = name
}

// Stop clears the typing mark and reports whether one was set.
func (t *TypingSet) Stop(id string) bool {
	if _, ok := t.names[id]; !ok {
		return false
	}
	delete(t.names, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// IsTyping reports whether id is typing.
func (t *TypingSet) IsTyping(id string) bool {
	_, ok := t.names[id]
	return ok
}

// InRoom lists the display names of typing connections whose current room is
// room, in the order they started typing.
func (t *TypingSet) InRoom(reg *Registry, room string) []string {
	out := make([]string, 0)
	for _, id := range t.order {
		c, ok := reg.Get(id)
		if !ok || !c.Online || c.CurrentRoom != room {
			continue
		}
		out = append(out, t.names[id])
	}
	return out
}

// startTyping marks id as typing and sends the room's full typing list to
// everyone else in the room. The actor already knows it is typing and gets
// no frame.
func (h *Hub) startTyping(id string) {
	c, ok := h.registry.Get(id)
	if !ok {
		return
	}
	h.typing.Start(id, c.DisplayName)
	h.fanout.ToRoom(c.CurrentRoom, EventTypingUsers, h.typing.InRoom(h.registry, c.CurrentRoom), id)
}

// stopTyping clears the mark and sends the remaining list to the whole room,
// actor included.
func (h *Hub) stopTyping(id string) {
	c, ok := h.registry.Get(id)
	if !ok {
		return
	}
	h.typing.Stop(id)
	h.fanout.ToRoom(c.CurrentRoom, EventTypingUsers, h.typing.InRoom(h.registry, c.CurrentRoom))
}
