package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryJoin(t *testing.T) {
	r := NewRegistry("general")

	c, err := r.Join("a", "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "general", c.CurrentRoom)
	assert.True(t, c.Online)
	assert.False(t, c.JoinedAt.IsZero())

	_, err = r.Join("a", "again", nil)
	assert.ErrorIs(t, err, ErrDuplicateConnection)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alice", got.DisplayName)
}

func TestRegistryRosterOrderAndOffline(t *testing.T) {
	r := NewRegistry("general")
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Join(id, "user-"+id, nil)
		require.NoError(t, err)
	}
	b, _ := r.Get("b")
	b.CurrentRoom = "random"

	roster := r.Roster()
	require.Len(t, roster, 3)
	assert.Equal(t, "c", roster[0].ID)
	assert.Equal(t, "a", roster[1].ID)
	assert.Equal(t, RosterEntry{ID: "b", DisplayName: "user-b", Room: "random", Online: true}, roster[2])

	r.MarkOffline("a")
	assert.Equal(t, 2, r.OnlineCount())
	assert.Len(t, r.Roster(), 2)
	assert.Len(t, r.All(), 2)

	members := r.Members("general")
	require.Len(t, members, 1)
	assert.Equal(t, "c", members[0].ID)
	assert.Empty(t, r.Members("nowhere"))
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry("general")
	_, _ = r.Join("a", "alice", nil)
	_, _ = r.Join("b", "bob", nil)

	r.Remove("a")
	r.Remove("a")
	r.Remove("ghost")

	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, r.OnlineCount())

	_, err := r.Join("a", "alice", nil)
	require.NoError(t, err, "a removed id can join again")
	roster := r.Roster()
	require.Len(t, roster, 2)
	assert.Equal(t, "a", roster[1].ID)
}
