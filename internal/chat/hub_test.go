package chat

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJoinSequence verifies that a joining connection receives the room list,
// its history and the roster, and that existing members of the default room
// are told about the arrival.
func TestJoinSequence(t *testing.T) {
	h := startHub(t, NewMemoryStore())

	alice := connect(t, h, "a", "alice")
	assert.Equal(t, DefaultOptions().Rooms, alice.lastStrings(EventAvailableRooms))
	assert.Empty(t, alice.notifications(NotifyJoin), "joiner must not be notified of itself")

	bob := connect(t, h, "b", "bob")
	require.Eventually(t, func() bool {
		return len(alice.notifications(NotifyJoin)) == 1
	}, waitFor, tick)
	n := alice.notifications(NotifyJoin)[0]
	assert.Equal(t, "general", n.Room)
	assert.Contains(t, n.Message, "bob")
	assert.Empty(t, bob.notifications(NotifyJoin))

	roster := bob.lastRoster()
	require.Len(t, roster, 2)
	assert.Equal(t, RosterEntry{ID: "a", DisplayName: "alice", Room: "general", Online: true}, roster[0])
	assert.Equal(t, "b", roster[1].ID)
}

// TestSecondUserJoinIgnored verifies a connection cannot register twice.
func TestSecondUserJoinIgnored(t *testing.T) {
	h := startHub(t, NewMemoryStore())
	alice := connect(t, h, "a", "alice")

	h.Submit("a", UserJoin{Username: "mallory"})
	settle(t, h)

	roster := h.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, "alice", roster[0].DisplayName)
	assert.Equal(t, 1, alice.count(EventAvailableRooms))
}

// TestEndToEndPublicAndPrivate covers a public send seen by the room and a
// private send seen only by its two participants.
func TestEndToEndPublicAndPrivate(t *testing.T) {
	h := startHub(t, NewMemoryStore())
	alice := connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")
	carol := connect(t, h, "c", "carol")

	h.Submit("a", SendMessage{Message: "hi"})
	for _, s := range []*recordSink{alice, bob, carol} {
		s := s
		require.Eventually(t, func() bool { return s.count(EventReceiveMessage) == 1 }, waitFor, tick)
		m := s.messages(EventReceiveMessage)[0]
		assert.Equal(t, "alice", m.Sender)
		assert.Equal(t, "a", m.SenderID)
		assert.Equal(t, "general", m.Room)
		assert.Equal(t, "hi", m.Body)
		assert.True(t, m.Delivered)
		assert.False(t, m.Read)
		assert.NotEmpty(t, m.ID)
	}

	h.Submit("a", PrivateMessage{ToUserID: "b", Message: "psst"})
	room := PrivateRoomID("a", "b")
	for _, s := range []*recordSink{alice, bob} {
		s := s
		require.Eventually(t, func() bool { return s.count(EventReceiveMessage) == 2 }, waitFor, tick)
		m := s.messages(EventReceiveMessage)[1]
		assert.True(t, m.IsPrivate)
		assert.Equal(t, room, m.Room)
		assert.Equal(t, "b", m.RecipientID)
		assert.Equal(t, "psst", m.Body)
	}
	require.Eventually(t, func() bool { return len(bob.notifications(NotifyPrivate)) == 1 }, waitFor, tick)
	assert.Equal(t, room, bob.notifications(NotifyPrivate)[0].Room)

	assert.Empty(t, alice.notifications(NotifyPrivate))
	assert.Equal(t, 1, carol.count(EventReceiveMessage))
	assert.Empty(t, carol.notifications(NotifyPrivate))
}

// TestPrivateMessageToUnknownConnection verifies nothing is stored or
// delivered when the recipient is not registered.
func TestPrivateMessageToUnknownConnection(t *testing.T) {
	store := NewMemoryStore()
	h := startHub(t, store)
	alice := connect(t, h, "a", "alice")

	h.Submit("a", PrivateMessage{ToUserID: "ghost", Message: "anyone?"})
	settle(t, h)

	assert.Zero(t, store.Len())
	assert.Zero(t, alice.count(EventReceiveMessage))
}

// TestRoomSwitch verifies the notices, ack and history replay of a room
// transition.
func TestRoomSwitch(t *testing.T) {
	store := NewMemoryStore()
	h := startHub(t, store)

	alice := connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")
	carol := connect(t, h, "c", "carol")
	switchRoom(t, h, "c", carol, "random")

	_, err := store.Insert(t.Context(), Message{Sender: "carol", SenderID: "c", Body: "in random", Room: "random"})
	require.NoError(t, err)

	alice.reset()
	bob.reset()
	carol.reset()
	switchRoom(t, h, "a", alice, "random")

	assert.Equal(t, []string{"random"}, stringsOf(t, alice.data(EventRoomJoined)))
	require.Len(t, alice.data(EventMessageHistory), 1)
	var replay []Message
	require.NoError(t, json.Unmarshal(alice.data(EventMessageHistory)[0], &replay))
	require.Len(t, replay, 1)
	assert.Equal(t, "in random", replay[0].Body)

	require.Eventually(t, func() bool { return len(bob.notifications(NotifyLeave)) == 1 }, waitFor, tick)
	assert.Equal(t, "general", bob.notifications(NotifyLeave)[0].Room)
	require.Eventually(t, func() bool { return len(carol.notifications(NotifyJoin)) == 1 }, waitFor, tick)
	assert.Equal(t, "random", carol.notifications(NotifyJoin)[0].Room)

	assert.Empty(t, alice.notifications(NotifyJoin))
	assert.Empty(t, carol.notifications(NotifyLeave))

	for _, e := range alice.lastRoster() {
		if e.ID == "a" {
			assert.Equal(t, "random", e.Room)
		}
	}
}

// TestJoinRoomIgnoresInvalidTargets verifies unknown rooms, the current room
// and private room ids do not move the connection or broadcast.
func TestJoinRoomIgnoresInvalidTargets(t *testing.T) {
	h := startHub(t, NewMemoryStore())
	alice := connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")
	alice.reset()
	bob.reset()

	for _, target := range []string{"general", "nowhere", PrivateRoomID("a", "b")} {
		h.Submit("a", JoinRoom{Room: target})
	}
	settle(t, h)

	assert.Zero(t, alice.count(EventRoomJoined))
	assert.Zero(t, alice.count(EventMessageHistory))
	assert.Zero(t, bob.count(EventNotification))
	assert.Zero(t, bob.count(EventUserList))
}

// TestTypingIndicators verifies the start/stop asymmetry: start sends the
// full list to the room without the actor, stop goes to the whole room.
func TestTypingIndicators(t *testing.T) {
	h := startHub(t, NewMemoryStore())
	alice := connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")
	carol := connect(t, h, "c", "carol")
	dave := connect(t, h, "d", "dave")
	switchRoom(t, h, "d", dave, "random")

	h.Submit("a", TypingStart{})
	require.Eventually(t, func() bool {
		return bob.count(EventTypingUsers) == 1 && carol.count(EventTypingUsers) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"alice"}, bob.lastStrings(EventTypingUsers))
	assert.Equal(t, []string{"alice"}, carol.lastStrings(EventTypingUsers))

	h.Submit("b", TypingStart{})
	require.Eventually(t, func() bool { return alice.count(EventTypingUsers) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"alice", "bob"}, alice.lastStrings(EventTypingUsers))
	require.Eventually(t, func() bool { return carol.count(EventTypingUsers) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"alice", "bob"}, carol.lastStrings(EventTypingUsers))
	assert.Equal(t, 1, bob.count(EventTypingUsers), "the typist gets no frame for its own start")

	h.Submit("a", TypingStop{})
	require.Eventually(t, func() bool { return alice.count(EventTypingUsers) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"bob"}, alice.lastStrings(EventTypingUsers))
	require.Eventually(t, func() bool { return bob.count(EventTypingUsers) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"bob"}, bob.lastStrings(EventTypingUsers))

	settle(t, h)
	assert.Zero(t, dave.count(EventTypingUsers))
}

// TestDisconnectCleanup verifies a departing connection leaves the roster and
// the typing set and its room is told.
func TestDisconnectCleanup(t *testing.T) {
	h := startHub(t, NewMemoryStore())
	alice := connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")

	h.Submit("a", TypingStart{})
	require.Eventually(t, func() bool { return bob.count(EventTypingUsers) == 1 }, waitFor, tick)

	h.Detach("a")
	require.Eventually(t, func() bool { return len(bob.lastRoster()) == 1 }, waitFor, tick)
	require.Len(t, bob.notifications(NotifyLeave), 1)
	assert.Equal(t, "b", bob.lastRoster()[0].ID)
	assert.Equal(t, []string{}, bob.lastStrings(EventTypingUsers))
	require.Eventually(t, alice.isClosed, waitFor, tick)

	var typing bool
	require.True(t, h.inspect(func() { typing = h.typing.IsTyping("a") }))
	assert.False(t, typing)

	h.Submit("b", TypingStart{})
	h.Submit("b", TypingStop{})
	require.Eventually(t, func() bool { return bob.count(EventTypingUsers) == 3 }, waitFor, tick)
	assert.Equal(t, []string{}, bob.lastStrings(EventTypingUsers))

	carol := connect(t, h, "c", "carol")
	for _, e := range carol.lastRoster() {
		assert.NotEqual(t, "a", e.ID)
	}
	assert.Equal(t, 2, h.OnlineCount())
}

// TestDisconnectDuringPendingSend simulates a disconnect while the sender's
// message is still being persisted.
func TestDisconnectDuringPendingSend(t *testing.T) {
	store := newHookStore()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	store.beforeInsert = func() {
		entered <- struct{}{}
		<-release
	}
	h := startHub(t, store)
	alice := connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")

	h.Submit("a", SendMessage{Message: "last words"})
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("send never reached the store")
	}

	h.Detach("a")
	require.Eventually(t, func() bool { return len(bob.notifications(NotifyLeave)) == 1 }, waitFor, tick)
	close(release)

	require.Eventually(t, func() bool { return bob.count(EventReceiveMessage) == 1 }, waitFor, tick)
	m := bob.messages(EventReceiveMessage)[0]
	assert.Equal(t, "alice", m.Sender)
	assert.Equal(t, "a", m.SenderID)
	assert.Zero(t, alice.count(EventReceiveMessage))

	roster := h.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, "b", roster[0].ID)
	assert.Equal(t, 1, store.Len())
}

// TestPersistenceFailure verifies a rejected write is reported once and
// nothing is broadcast.
func TestPersistenceFailure(t *testing.T) {
	store := newHookStore()
	store.insertErr = errStoreDown
	reporter := &recordingReporter{}
	h := startHub(t, store, WithReporter(reporter))
	alice := connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")

	h.Submit("a", SendMessage{Message: "lost"})
	require.Eventually(t, func() bool { return len(reporter.ops()) == 1 }, waitFor, tick)
	settle(t, h)

	assert.Equal(t, []string{"send_message"}, reporter.ops())
	assert.Zero(t, alice.count(EventReceiveMessage))
	assert.Zero(t, bob.count(EventReceiveMessage))
}

// TestSendValidation verifies the silent no-op cases of send.
func TestSendValidation(t *testing.T) {
	store := NewMemoryStore()
	h := startHub(t, store)
	alice := connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")
	switchRoom(t, h, "b", bob, "random")

	stranger := newRecordSink()
	require.True(t, h.Attach("x", stranger))
	h.Submit("x", SendMessage{Message: "not joined"})
	h.Submit("a", SendMessage{})
	h.Submit("a", SendMessage{Message: "elsewhere", Room: "nowhere"})
	settle(t, h)
	assert.Zero(t, store.Len())

	h.Submit("a", SendMessage{Message: "over there", Room: "random"})
	require.Eventually(t, func() bool { return bob.count(EventReceiveMessage) == 1 }, waitFor, tick)
	assert.Equal(t, "random", bob.messages(EventReceiveMessage)[0].Room)
	assert.Zero(t, alice.count(EventReceiveMessage))

	h.Submit("a", SendMessage{Image: "https://img.example/cat.png"})
	require.Eventually(t, func() bool { return alice.count(EventReceiveMessage) == 1 }, waitFor, tick)
	assert.Equal(t, "https://img.example/cat.png", alice.messages(EventReceiveMessage)[0].Image)
}

// TestEditReadDelete verifies the update broadcasts and the delete notice.
func TestEditReadDelete(t *testing.T) {
	store := newHookStore()
	reporter := &recordingReporter{}
	h := startHub(t, store, WithReporter(reporter))
	connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")

	m := sendAndCapture(t, h, "a", "tpyo", bob)

	stranger := newRecordSink()
	require.True(t, h.Attach("x", stranger))
	h.Submit("x", EditMessage{ID: m.ID, Content: "defaced"})
	h.Submit("x", MessageRead{MessageID: m.ID})
	h.Submit("x", DeleteMessage{ID: m.ID})
	settle(t, h)
	assert.Zero(t, bob.count(EventMessageUpdated), "connections that never joined cannot change messages")
	assert.Zero(t, bob.count(EventMessageDeleted))
	unchanged, err := store.Get(t.Context(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "tpyo", unchanged.Body)
	assert.False(t, unchanged.Edited)
	assert.False(t, unchanged.Read)

	h.Submit("a", EditMessage{ID: m.ID, Content: "typo"})
	require.Eventually(t, func() bool { return bob.count(EventMessageUpdated) == 1 }, waitFor, tick)
	edited := bob.messages(EventMessageUpdated)[0]
	assert.Equal(t, "typo", edited.Body)
	assert.True(t, edited.Edited)
	assert.Equal(t, "general", edited.Room)

	h.Submit("b", MessageRead{MessageID: m.ID})
	require.Eventually(t, func() bool { return bob.count(EventMessageUpdated) == 2 }, waitFor, tick)
	assert.True(t, bob.messages(EventMessageUpdated)[1].Read)

	h.Submit("a", DeleteMessage{ID: m.ID})
	require.Eventually(t, func() bool { return bob.count(EventMessageDeleted) == 1 }, waitFor, tick)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(bob.data(EventMessageDeleted)[0], &payload))
	assert.Equal(t, map[string]string{"id": m.ID}, payload)

	_, err = store.Get(t.Context(), m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	h.Submit("a", EditMessage{ID: m.ID, Content: "too late"})
	h.Submit("a", DeleteMessage{ID: m.ID})
	h.Submit("a", MessageRead{MessageID: "missing"})
	h.Submit("a", AddReaction{MessageID: "missing", Emoji: "👍"})
	settle(t, h)
	assert.Equal(t, 2, bob.count(EventMessageUpdated))
	assert.Equal(t, 1, bob.count(EventMessageDeleted))
	assert.Empty(t, reporter.ops(), "unknown ids are no-ops, not failures")
}

// TestReactionUpsert verifies repeated reactions by one user replace each
// other and never add a second entry.
func TestReactionUpsert(t *testing.T) {
	store := NewMemoryStore()
	h := startHub(t, store)
	alice := connect(t, h, "a", "alice")
	connect(t, h, "b", "bob")

	m := sendAndCapture(t, h, "a", "react to me", alice)

	h.Submit("a", AddReaction{MessageID: m.ID, Emoji: "👍"})
	h.Submit("a", AddReaction{MessageID: m.ID, Emoji: "🎉"})
	h.Submit("b", AddReaction{MessageID: m.ID, Emoji: "👍"})
	h.Submit("a", AddReaction{MessageID: m.ID, Emoji: "🔥"})
	require.Eventually(t, func() bool { return alice.count(EventMessageUpdated) == 4 }, waitFor, tick)

	stored, err := store.Get(t.Context(), m.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Reaction{
		{UserID: "a", Emoji: "🔥"},
		{UserID: "b", Emoji: "👍"},
	}, stored.Reactions)

	last := alice.messages(EventMessageUpdated)[3]
	assert.Len(t, last.Reactions, 2)
}

// TestPrivateMessageUpdatesReachParticipantsOnly verifies edits of private
// messages are not broadcast to any public room.
func TestPrivateMessageUpdatesReachParticipantsOnly(t *testing.T) {
	h := startHub(t, NewMemoryStore())
	alice := connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")
	carol := connect(t, h, "c", "carol")

	h.Submit("a", PrivateMessage{ToUserID: "b", Message: "secret"})
	require.Eventually(t, func() bool { return bob.count(EventReceiveMessage) == 1 }, waitFor, tick)
	m := bob.messages(EventReceiveMessage)[0]

	h.Submit("b", AddReaction{MessageID: m.ID, Emoji: "🤫"})
	require.Eventually(t, func() bool {
		return alice.count(EventMessageUpdated) == 1 && bob.count(EventMessageUpdated) == 1
	}, waitFor, tick)
	settle(t, h)
	assert.Zero(t, carol.count(EventMessageUpdated))
}

// TestStaleHistoryReplayDropped verifies a history read that resumes after
// the mover already left that room is not delivered.
func TestStaleHistoryReplayDropped(t *testing.T) {
	store := newHookStore()
	release := make(chan struct{})
	var blocked atomic.Bool
	store.beforeRecent = func(room string) {
		if room == "random" {
			blocked.Store(true)
			<-release
		}
	}
	h := startHub(t, store)
	alice := connect(t, h, "a", "alice")

	h.Submit("a", JoinRoom{Room: "random"})
	require.Eventually(t, blocked.Load, waitFor, tick)
	switchRoom(t, h, "a", alice, "tech")

	close(release)
	settle(t, h)

	assert.Equal(t, 2, alice.count(EventMessageHistory), "general and tech only")
	assert.Equal(t, []string{"random", "tech"}, stringsOf(t, alice.data(EventRoomJoined)))
}

// TestSlowConsumerEvicted verifies a connection whose buffer is full is run
// through the normal disconnect path.
func TestSlowConsumerEvicted(t *testing.T) {
	h := startHub(t, NewMemoryStore())
	alice := connect(t, h, "a", "alice")
	bob := connect(t, h, "b", "bob")

	bob.setFull(true)
	h.Submit("a", SendMessage{Message: "anyone there?"})

	require.Eventually(t, func() bool { return len(alice.notifications(NotifyLeave)) == 1 }, waitFor, tick)
	require.Eventually(t, bob.isClosed, waitFor, tick)
	roster := h.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, "a", roster[0].ID)
}

// TestHandlerPanicIsolated verifies a panicking handler is reported and the
// hub keeps serving other connections.
func TestHandlerPanicIsolated(t *testing.T) {
	reporter := &recordingReporter{}
	h := startHub(t, NewMemoryStore(), WithReporter(reporter))
	alice := connect(t, h, "a", "alice")

	bad := newRecordSink()
	bad.panics = true
	require.True(t, h.Attach("z", bad))
	h.Submit("z", UserJoin{Username: "zed"})
	require.Eventually(t, func() bool { return len(reporter.ops()) > 0 }, waitFor, tick)

	h.Submit("a", SendMessage{Message: "still alive"})
	require.Eventually(t, func() bool { return alice.count(EventReceiveMessage) == 1 }, waitFor, tick)
}

// TestShutdownClosesSinks verifies shutdown closes joined and pending
// connections.
func TestShutdownClosesSinks(t *testing.T) {
	h := NewHub(NewMemoryStore(), DefaultOptions())
	go h.Run()

	joined := newRecordSink()
	require.True(t, h.Attach("a", joined))
	h.Submit("a", UserJoin{Username: "alice"})
	require.Eventually(t, func() bool { return joined.count(EventMessageHistory) == 1 }, waitFor, tick)
	pending := newRecordSink()
	require.True(t, h.Attach("p", pending))

	require.NoError(t, h.Shutdown(time.Second))
	assert.True(t, joined.isClosed())
	assert.True(t, pending.isClosed())
	assert.False(t, h.Attach("late", newRecordSink()))

	roster := h.Roster()
	assert.NotNil(t, roster, "a stopped hub reports an empty roster, not nil")
	assert.Empty(t, roster)
}

// TestShutdownWaitsForPumps verifies that pumps handed to Attach run under the
// hub and that Shutdown waits for them to return.
func TestShutdownWaitsForPumps(t *testing.T) {
	h := NewHub(NewMemoryStore(), DefaultOptions())
	go h.Run()

	sink := newRecordSink()
	started := make(chan struct{})
	var finished atomic.Bool
	pump := func() {
		close(started)
		for !sink.isClosed() {
			time.Sleep(tick)
		}
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	}
	require.True(t, h.Attach("a", sink, pump))
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("pump never started")
	}

	require.NoError(t, h.Shutdown(time.Second))
	assert.True(t, finished.Load(), "Shutdown returned before the pump finished")

	var lateRan atomic.Bool
	assert.False(t, h.Attach("late", newRecordSink(), func() { lateRan.Store(true) }))
	assert.False(t, lateRan.Load())
}

func stringsOf(t *testing.T, raws []json.RawMessage) []string {
	t.Helper()
	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		var s string
		require.NoError(t, json.Unmarshal(raw, &s))
		out = append(out, s)
	}
	return out
}
