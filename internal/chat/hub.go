package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Options configures the rooms a Hub serves.
type Options struct {
	Rooms        []string
	DefaultRoom  string
	HistoryLimit int
}

// DefaultOptions returns the stock room set.
func DefaultOptions() Options {
	return Options{
		Rooms:        []string{"general", "random", "tech", "gaming"},
		DefaultRoom:  "general",
		HistoryLimit: 100,
	}
}

func (o Options) sanitize() Options {
	if len(o.Rooms) == 0 {
		o.Rooms = DefaultOptions().Rooms
	}
	if o.DefaultRoom == "" {
		o.DefaultRoom = o.Rooms[0]
	}
	found := false
	for _, r := range o.Rooms {
		if r == o.DefaultRoom {
			found = true
			break
		}
	}
	if !found {
		o.Rooms = append([]string{o.DefaultRoom}, o.Rooms...)
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 100
	}
	return o
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(log *zap.Logger) HubOption {
	return func(h *Hub) { h.log = log }
}

// WithReporter sets the collaborator that receives persistence failures.
func WithReporter(r ErrorReporter) HubOption {
	return func(h *Hub) { h.reporter = r }
}

// WithPresence mirrors roster changes to p.
func WithPresence(p Presence) HubOption {
	return func(h *Hub) { h.presence = p }
}

// WithRelay publishes persisted message events to r.
func WithRelay(r Relay) HubOption {
	return func(h *Hub) { h.relay = r }
}

type attachment struct {
	id    string
	sink  Sink
	pumps []func()
}

type inboundEvent struct {
	connID string
	event  Inbound
	query  func()
}

// Hub owns the registry, the typing set and fan-out. Every mutation happens
// on the goroutine running Run; store calls run on worker goroutines and
// resume on the hub goroutine.
type Hub struct {
	opts     Options
	rooms    map[string]struct{}
	store    Store
	reporter ErrorReporter
	presence Presence
	relay    Relay
	log      *zap.Logger

	registry *Registry
	typing   *TypingSet
	fanout   *Fanout
	peers    map[string]Sink

	perMessage *keyedQueue

	attach  chan attachment
	detach  chan string
	inbound chan inboundEvent
	resume  chan func()
	mirror  chan mirrorCall

	online   atomic.Int64
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHub creates a Hub backed by store.
func NewHub(store Store, opts Options, options ...HubOption) *Hub {
	opts = opts.sanitize()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:    opts,
		rooms:   make(map[string]struct{}, len(opts.Rooms)),
		store:   store,
		log:     zap.NewNop(),
		peers:   make(map[string]Sink),
		attach:  make(chan attachment),
		detach:  make(chan string),
		inbound: make(chan inboundEvent, 256),
		resume:  make(chan func()),
		mirror:  make(chan mirrorCall, 1024),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, o := range options {
		o(h)
	}
	if h.reporter == nil {
		h.reporter = NewLogReporter(h.log)
	}
	for _, r := range opts.Rooms {
		h.rooms[r] = struct{}{}
	}
	h.registry = NewRegistry(opts.DefaultRoom)
	h.typing = NewTypingSet()
	h.fanout = NewFanout(h.registry, h.log)
	h.perMessage = newKeyedQueue()
	return h
}

// Rooms returns the public rooms.
func (h *Hub) Rooms() []string {
	return append([]string(nil), h.opts.Rooms...)
}

// IsPublicRoom reports whether room is one of the configured public rooms.
func (h *Hub) IsPublicRoom(room string) bool {
	_, ok := h.rooms[room]
	return ok
}

// OnlineCount reports the number of joined, online connections.
func (h *Hub) OnlineCount() int {
	return int(h.online.Load())
}

// Attach hands a freshly accepted transport connection to the hub. The
// connection is not part of the registry until it sends user_join. The hub
// starts pumps on its own goroutine once the connection is accepted, and
// Shutdown waits for them. Attach returns false once the hub is stopping, in
// which case no pump is started.
func (h *Hub) Attach(id string, sink Sink, pumps ...func()) bool {
	select {
	case h.attach <- attachment{id: id, sink: sink, pumps: pumps}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Detach reports that the transport connection id is gone.
func (h *Hub) Detach(id string) {
	select {
	case h.detach <- id:
	case <-h.ctx.Done():
	}
}

// Submit queues an inbound event from connection id.
func (h *Hub) Submit(id string, ev Inbound) {
	select {
	case h.inbound <- inboundEvent{connID: id, event: ev}:
	case <-h.ctx.Done():
	}
}

// spawn runs fn on a goroutine that Shutdown waits for. Only the hub
// goroutine calls it, so every Add happens before Shutdown's Wait.
func (h *Hub) spawn(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

// Roster returns the current roster as seen by the hub goroutine.
func (h *Hub) Roster() []RosterEntry {
	out := []RosterEntry{}
	h.inspect(func() { out = h.registry.Roster() })
	return out
}

// inspect runs fn on the hub goroutine after every event submitted before it
// and waits for it to finish.
func (h *Hub) inspect(fn func()) bool {
	done := make(chan struct{})
	select {
	case h.inbound <- inboundEvent{query: func() { defer close(done); fn() }}:
	case <-h.ctx.Done():
		return false
	}
	select {
	case <-done:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run processes hub events until Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	if h.presence != nil {
		h.spawn(h.runMirror)
	}

	for {
		select {
		case <-h.ctx.Done():
			h.closeSinks()
			return

		case a := <-h.attach:
			h.safely("attach", func() { h.handleAttach(a) })

		case id := <-h.detach:
			h.safely("disconnect", func() { h.disconnect(id) })

		case in := <-h.inbound:
			if in.query != nil {
				h.safely("query", in.query)
				continue
			}
			h.safely(in.event.EventName(), func() { h.dispatch(in) })

		case fn := <-h.resume:
			h.safely("resume", fn)
		}

		h.evictSlowConnections()
		h.online.Store(int64(h.registry.OnlineCount()))
	}
}

func (h *Hub) dispatch(in inboundEvent) {
	switch ev := in.event.(type) {
	case UserJoin:
		h.join(in.connID, ev.Username)
	case JoinRoom:
		h.joinRoom(in.connID, ev.Room)
	case TypingStart:
		h.startTyping(in.connID)
	case TypingStop:
		h.stopTyping(in.connID)
	case SendMessage:
		h.send(in.connID, ev)
	case EditMessage:
		h.edit(in.connID, ev.ID, ev.Content)
	case DeleteMessage:
		h.deleteMessage(in.connID, ev.ID)
	case AddReaction:
		h.react(in.connID, ev)
	case MessageRead:
		h.markRead(in.connID, ev.MessageID)
	case PrivateMessage:
		h.sendPrivate(in.connID, ev)
	default:
		h.log.Warn("unhandled event", zap.String("event", in.event.EventName()))
	}
}

func (h *Hub) handleAttach(a attachment) {
	if a.sink == nil {
		h.log.Warn("nil sink attached; skipping", zap.String("conn", a.id))
		return
	}
	if _, ok := h.peers[a.id]; ok {
		h.log.Warn("duplicate transport id", zap.String("conn", a.id))
		a.sink.Close()
		return
	}
	h.peers[a.id] = a.sink
	for _, pump := range a.pumps {
		h.spawn(pump)
	}
	if frame, err := Encode(EventConnected, map[string]string{"id": a.id}); err == nil {
		a.sink.Send(frame)
	}
	h.log.Debug("transport attached", zap.String("conn", a.id), zap.Int("peers", len(h.peers)))
}

// disconnect runs the cleanup for a departing connection: typing state,
// leave notice, registry removal and a fresh roster.
func (h *Hub) disconnect(id string) {
	sink, attached := h.peers[id]
	delete(h.peers, id)

	c, ok := h.registry.Get(id)
	if !ok {
		if attached {
			sink.Close()
		}
		return
	}

	room := c.CurrentRoom
	h.registry.MarkOffline(id)
	if h.typing.Stop(id) {
		h.fanout.ToRoom(room, EventTypingUsers, h.typing.InRoom(h.registry, room))
	}
	h.fanout.ToRoom(room, EventNotification, Notification{
		Type:    NotifyLeave,
		Message: c.DisplayName + " left the chat",
		Room:    room,
	})
	h.registry.Remove(id)
	h.fanout.ToAll(EventUserList, h.registry.Roster())
	h.mirrorOffline(id)

	if c.sink != nil {
		c.sink.Close()
	}
	h.log.Info("connection left", zap.String("conn", id), zap.String("name", c.DisplayName),
		zap.Int("online", h.registry.OnlineCount()))
}

func (h *Hub) evictSlowConnections() {
	for {
		ids := h.fanout.TakeEvicted()
		if len(ids) == 0 {
			return
		}
		for _, id := range ids {
			h.safely("evict", func() { h.disconnect(id) })
		}
	}
}

func (h *Hub) closeSinks() {
	n := 0
	for _, c := range h.registry.All() {
		if c.sink != nil {
			c.sink.Close()
			n++
		}
	}
	for _, sink := range h.peers {
		sink.Close()
		n++
	}
	h.log.Info("closed connections", zap.Int("count", n))
}

// await runs call on a worker goroutine and, when it succeeds, posts resume
// back to the hub goroutine. Other events are handled in between, so resume
// must re-check registry state it depends on. Failures are reported and
// nothing is broadcast; ErrNotFound is treated as a silent no-op.
func (h *Hub) await(op string, call func(ctx context.Context) error, resume func()) {
	h.inflight.Add(1)
	go h.complete(op, call, resume)
}

// awaitMessage is await for operations on an existing message. Calls for the
// same message id run one after another in the order they were issued, so a
// read-modify-write such as a reaction upsert never loses an earlier write.
func (h *Hub) awaitMessage(messageID, op string, call func(ctx context.Context) error, resume func()) {
	h.inflight.Add(1)
	h.perMessage.Do(messageID, func() { h.complete(op, call, resume) })
}

func (h *Hub) complete(op string, call func(ctx context.Context) error, resume func()) {
	defer h.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			h.reporter.Report(op, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := call(context.WithoutCancel(h.ctx)); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.log.Debug("message not found", zap.String("op", op))
			return
		}
		h.reporter.Report(op, err)
		return
	}

	select {
	case h.resume <- resume:
	case <-h.ctx.Done():
	}
}

// background runs a fire-and-forget side call whose failure is only reported.
func (h *Hub) background(op string, call func(ctx context.Context) error) {
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		if err := call(context.WithoutCancel(h.ctx)); err != nil {
			h.reporter.Report(op, err)
		}
	}()
}

func (h *Hub) safely(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("recovered from panic in handler", zap.String("op", op), zap.Any("panic", r))
			h.reporter.Report(op, fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

// Shutdown stops the hub, closes every connection and waits for pump
// goroutines and in-flight store calls, or until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		h.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
