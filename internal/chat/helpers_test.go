package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// recordSink captures every frame delivered to one connection.
type recordSink struct {
	mu     sync.Mutex
	frames []frame
	closed bool
	full   bool
	panics bool
}

func newRecordSink() *recordSink { return &recordSink{} }

func (s *recordSink) Send(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		panic("sink exploded")
	}
	if s.full || s.closed {
		return false
	}
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return false
	}
	s.frames = append(s.frames, f)
	return true
}

func (s *recordSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordSink) setFull(full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = full
}

func (s *recordSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

func (s *recordSink) data(event string) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []json.RawMessage
	for _, f := range s.frames {
		if f.Event == event {
			out = append(out, f.Data)
		}
	}
	return out
}

func (s *recordSink) count(event string) int {
	return len(s.data(event))
}

func (s *recordSink) messages(event string) []Message {
	var out []Message
	for _, raw := range s.data(event) {
		var m Message
		if json.Unmarshal(raw, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordSink) notifications(kind string) []Notification {
	var out []Notification
	for _, raw := range s.data(EventNotification) {
		var n Notification
		if json.Unmarshal(raw, &n) == nil && n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

func (s *recordSink) lastStrings(event string) []string {
	all := s.data(event)
	if len(all) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(all[len(all)-1], &out)
	return out
}

func (s *recordSink) lastRoster() []RosterEntry {
	all := s.data(EventUserList)
	if len(all) == 0 {
		return nil
	}
	var out []RosterEntry
	_ = json.Unmarshal(all[len(all)-1], &out)
	return out
}

// recordingReporter keeps every reported failure.
type recordingReporter struct {
	mu      sync.Mutex
	reports []string
}

func (r *recordingReporter) Report(op string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, op)
}

func (r *recordingReporter) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reports...)
}

// hookStore wraps a MemoryStore with optional failure and blocking hooks.
type hookStore struct {
	*MemoryStore
	insertErr    error
	beforeInsert func()
	beforeRecent func(room string)
}

func newHookStore() *hookStore {
	return &hookStore{MemoryStore: NewMemoryStore()}
}

func (s *hookStore) Insert(ctx context.Context, m Message) (Message, error) {
	if s.beforeInsert != nil {
		s.beforeInsert()
	}
	if s.insertErr != nil {
		return Message{}, s.insertErr
	}
	return s.MemoryStore.Insert(ctx, m)
}

func (s *hookStore) Recent(ctx context.Context, room string, before time.Time, limit int) ([]Message, error) {
	if s.beforeRecent != nil {
		s.beforeRecent(room)
	}
	return s.MemoryStore.Recent(ctx, room, before, limit)
}

var errStoreDown = errors.New("store unavailable")

func startHub(t *testing.T, store Store, options ...HubOption) *Hub {
	t.Helper()
	options = append([]HubOption{WithLogger(zaptest.NewLogger(t))}, options...)
	h := NewHub(store, DefaultOptions(), options...)
	go h.Run()
	t.Cleanup(func() {
		require.NoError(t, h.Shutdown(time.Second))
	})
	return h
}

// connect attaches a sink, joins under name and waits for the history replay
// that ends the join sequence.
func connect(t *testing.T, h *Hub, id, name string) *recordSink {
	t.Helper()
	sink := newRecordSink()
	require.True(t, h.Attach(id, sink))
	h.Submit(id, UserJoin{Username: name})
	require.Eventually(t, func() bool {
		return sink.count(EventMessageHistory) == 1
	}, waitFor, tick, "%s never received message_history", name)
	return sink
}

func switchRoom(t *testing.T, h *Hub, id string, sink *recordSink, room string) {
	t.Helper()
	before := sink.count(EventMessageHistory)
	h.Submit(id, JoinRoom{Room: room})
	require.Eventually(t, func() bool {
		return sink.count(EventMessageHistory) == before+1
	}, waitFor, tick)
}

// settle waits until every submitted event has been handled, their store
// calls have finished and the hub has run the continuations they posted.
func settle(t *testing.T, h *Hub) {
	t.Helper()
	require.True(t, h.inspect(func() {}))
	h.inflight.Wait()
	require.True(t, h.inspect(func() {}))
}

func sendAndCapture(t *testing.T, h *Hub, id, body string, watcher *recordSink) Message {
	t.Helper()
	before := watcher.count(EventReceiveMessage)
	h.Submit(id, SendMessage{Message: body})
	require.Eventually(t, func() bool {
		return watcher.count(EventReceiveMessage) == before+1
	}, waitFor, tick)
	msgs := watcher.messages(EventReceiveMessage)
	return msgs[len(msgs)-1]
}
