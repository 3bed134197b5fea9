package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a unique constraint would be violated.
var ErrConflict = errors.New("record already exists")

// MessageType distinguishes user-authored from server-authored messages.
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// User represents a persisted account record.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Chat is a conversation between participants.
type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	IsGroup   bool      `json:"isGroup"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Participant links a user to a chat.
type Participant struct {
	ChatID   string    `json:"chatId"`
	UserID   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
	User     *User     `json:"user,omitempty"`
}

// Message is a single chat message.
type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chatId"`
	SenderID  string      `json:"senderId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
	Sender    *User       `json:"sender,omitempty"`
}

// ChatSnapshot is a chat with its participants and at most its newest message.
type ChatSnapshot struct {
	Chat
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
}

// ParticipantIDs returns the user ids of every participant in order.
func (s ChatSnapshot) ParticipantIDs() []string {
	ids := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// ChatReader is the read side the realtime core depends on.
type ChatReader interface {
	ChatExists(ctx context.Context, chatID string) (bool, error)
	GetChatSnapshot(ctx context.Context, chatID string) (*ChatSnapshot, error)
}

// MessageWriter persists messages.
type MessageWriter interface {
	CreateMessage(ctx context.Context, msg *Message) error
}

// Store defines persistence operations used by the server.
type Store interface {
	ChatReader
	MessageWriter

	Close() error
	Migrate(ctx context.Context) error

	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)

	CreateChat(ctx context.Context, chat *Chat, participantIDs []string) error
	ListChatsForUser(ctx context.Context, userID string) ([]ChatSnapshot, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	RemoveParticipant(ctx context.Context, chatID, userID string) error

	ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error
}
