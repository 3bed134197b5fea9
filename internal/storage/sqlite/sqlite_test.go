package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func seedUsers(t *testing.T, store *Store, names ...string) []*storage.User {
	t.Helper()
	users := make([]*storage.User, 0, len(names))
	for _, name := range names {
		user := &storage.User{Username: name, Password: "hash"}
		require.NoError(t, store.CreateUser(context.Background(), user))
		users = append(users, user)
	}
	return users
}

func TestStore_Users(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)

	users := seedUsers(t, store, "ann")
	req.NotEmpty(users[0].ID)

	byName, err := store.GetUserByUsername(ctx, "ann")
	req.NoError(err)
	req.Equal(users[0].ID, byName.ID)

	byID, err := store.GetUserByID(ctx, users[0].ID)
	req.NoError(err)
	req.Equal("ann", byID.Username)

	_, err = store.GetUserByUsername(ctx, "nobody")
	req.ErrorIs(err, storage.ErrNotFound)

	err = store.CreateUser(ctx, &storage.User{Username: "ann", Password: "x"})
	req.ErrorIs(err, storage.ErrConflict)
}

func TestStore_ChatSnapshot(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	users := seedUsers(t, store, "ann", "bob")

	// Given a chat between ann and bob with two messages
	chat := &storage.Chat{Name: "pair"}
	req.NoError(store.CreateChat(ctx, chat, []string{users[0].ID, users[1].ID, users[0].ID, ""}))

	exists, err := store.ChatExists(ctx, chat.ID)
	req.NoError(err)
	req.True(exists)

	base := time.Now().Add(-time.Minute)
	first := &storage.Message{ChatID: chat.ID, SenderID: users[0].ID, Content: "hello", CreatedAt: base}
	second := &storage.Message{ChatID: chat.ID, SenderID: users[1].ID, Content: "hi", CreatedAt: base.Add(time.Second)}
	req.NoError(store.CreateMessage(ctx, first))
	req.NoError(store.CreateMessage(ctx, second))
	req.NotNil(second.Sender)
	req.Equal("bob", second.Sender.Username)
	req.Equal(storage.MessageTypeUser, second.Type)

	// When the snapshot is loaded
	snapshot, err := store.GetChatSnapshot(ctx, chat.ID)
	req.NoError(err)

	// Then it carries distinct participants with users and only the newest message
	req.Equal(chat.ID, snapshot.ID)
	req.ElementsMatch([]string{users[0].ID, users[1].ID}, snapshot.ParticipantIDs())
	for _, p := range snapshot.Participants {
		req.NotNil(p.User)
	}
	req.Len(snapshot.Messages, 1)
	req.Equal(second.ID, snapshot.Messages[0].ID)
	req.Equal("bob", snapshot.Messages[0].Sender.Username)

	history, err := store.ListMessages(ctx, chat.ID, 10)
	req.NoError(err)
	req.Len(history, 2)
	req.Equal(first.ID, history[0].ID)

	chats, err := store.ListChatsForUser(ctx, users[1].ID)
	req.NoError(err)
	req.Len(chats, 1)
}

func TestStore_CreateMessage_RequiresChat(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateMessage(context.Background(), &storage.Message{
		ChatID:  "missing",
		Content: "gone left the chat",
		Type:    storage.MessageTypeSystem,
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_MissingChat(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)

	exists, err := store.ChatExists(ctx, "missing")
	req.NoError(err)
	req.False(exists)

	_, err = store.GetChatSnapshot(ctx, "missing")
	req.ErrorIs(err, storage.ErrNotFound)
}

func TestStore_DeleteAndLeave(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	users := seedUsers(t, store, "ann", "bob")

	chat := &storage.Chat{}
	req.NoError(store.CreateChat(ctx, chat, []string{users[0].ID, users[1].ID}))
	msg := &storage.Message{ChatID: chat.ID, SenderID: users[0].ID, Content: "oops"}
	req.NoError(store.CreateMessage(ctx, msg))

	got, err := store.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.Equal("oops", got.Content)

	req.NoError(store.DeleteMessage(ctx, msg.ID))
	req.ErrorIs(store.DeleteMessage(ctx, msg.ID), storage.ErrNotFound)

	member, err := store.IsParticipant(ctx, chat.ID, users[1].ID)
	req.NoError(err)
	req.True(member)

	req.NoError(store.RemoveParticipant(ctx, chat.ID, users[1].ID))
	req.ErrorIs(store.RemoveParticipant(ctx, chat.ID, users[1].ID), storage.ErrNotFound)

	member, err = store.IsParticipant(ctx, chat.ID, users[1].ID)
	req.NoError(err)
	req.False(member)
}
