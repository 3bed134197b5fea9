package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_ConnectAuthenticateDisconnect(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil)

	// Given two connections, one authenticated
	a := r.Connect("10.0.0.1:5000")
	b := r.Connect("10.0.0.2:5000")
	req.NotEqual(a, b)
	req.Equal(2, r.Len())
	req.NoError(r.Authenticate(a, " alice "))

	conn, ok := r.Get(a)
	req.True(ok)
	req.True(conn.Authenticated())
	req.Equal("alice", conn.Identity())

	other, ok := r.Get(b)
	req.True(ok)
	req.False(other.Authenticated())
	req.Equal(string(b), other.Identity())

	// When a disconnects
	removed, ok := r.Disconnect(a, "client closed")

	// Then it is gone from every index
	req.True(ok)
	req.Equal("alice", removed.UserID)
	req.Empty(r.FindConnectionsByIdentity("alice"))
	req.Equal([]ConnectionID{b}, r.IDs())

	_, ok = r.Disconnect(a, "again")
	req.False(ok)
}

func TestRegistry_AuthenticateErrors(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil)

	req.ErrorIs(r.Authenticate("missing", "alice"), ErrUnknownConnection)

	id := r.Connect("")
	req.ErrorIs(r.Authenticate(id, "   "), ErrInvalidIdentity)
}

func TestRegistry_RebindReplacesIdentity(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil)
	id := r.Connect("")

	req.NoError(r.Authenticate(id, "alice"))
	req.NoError(r.Authenticate(id, "bob"))

	req.Empty(r.FindConnectionsByIdentity("alice"))
	req.Equal([]ConnectionID{id}, r.FindConnectionsByIdentity("bob"))
}

func TestRegistry_FindConnectionsByIdentity_MultipleSessions(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil)

	a1 := r.Connect("")
	a2 := r.Connect("")
	b := r.Connect("")
	req.NoError(r.Authenticate(a1, "alice"))
	req.NoError(r.Authenticate(a2, "alice"))
	req.NoError(r.Authenticate(b, "bob"))

	req.ElementsMatch([]ConnectionID{a1, a2}, r.FindConnectionsByIdentity("alice"))
	req.Empty(r.FindConnectionsByIdentity("carol"))
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil)
	id := r.Connect("")
	req.True(r.trackRoom(id, "c1", RoomKindChat))

	conn, _ := r.Get(id)
	conn.Rooms["c2"] = RoomKindChat

	again, _ := r.Get(id)
	req.Equal([]RoomID{"c1"}, again.RoomIDs())
	req.False(r.trackRoom("gone", "c1", RoomKindChat))
}
