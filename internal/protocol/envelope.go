package protocol

import (
	"encoding/json"
	"strings"
)

// EventName identifies a socket event in either direction.
type EventName string

// Client-originated events.
const (
	EventAuthenticate    EventName = "authenticate"
	EventJoinChat        EventName = "join-chat"
	EventLeaveChat       EventName = "leave-chat"
	EventJoinRoom        EventName = "join-room"
	EventLeaveRoom       EventName = "leave-room"
	EventMessage         EventName = "message"
	EventMessageDeleted  EventName = "message-deleted"
	EventParticipantLeft EventName = "participant-left"
	EventChatCreated     EventName = "chat-created"
)

// Server-originated events that have no client counterpart.
const (
	EventUserJoined  EventName = "user-joined"
	EventUserLeft    EventName = "user-left"
	EventChatUpdated EventName = "chat-updated"
)

// Envelope wraps every payload sent over the wire.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload once so it can be delivered to many connections.
func NewEnvelope(event EventName, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Data = data
	return env, nil
}

// AuthenticateRequest binds an identity to the sending connection. The
// payload is either a bare user id string or an object.
type AuthenticateRequest struct {
	UserID string `json:"userId" validate:"required,max=256"`
	Token  string `json:"token,omitempty"`
}

func (r *AuthenticateRequest) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		r.UserID = strings.TrimSpace(bare)
		return nil
	}
	type plain AuthenticateRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	p.UserID = strings.TrimSpace(p.UserID)
	*r = AuthenticateRequest(p)
	return nil
}

// ChatRef names a chat room for join-chat and leave-chat.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

func (r *ChatRef) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		r.ChatID = bare
		return nil
	}
	type plain ChatRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = ChatRef(p)
	return nil
}

// RoomRef names a video room for join-room and leave-room.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

func (r *RoomRef) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		r.RoomID = bare
		return nil
	}
	type plain RoomRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RoomRef(p)
	return nil
}

// Presence is the body of user-joined and user-left.
type Presence struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// ParticipantLeft is both the inbound request and the outbound notice.
type ParticipantLeft struct {
	ChatID   string `json:"chatId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
	Username string `json:"username"`
}

// ChatMessage carries a client-supplied message record. Only chatId is
// interpreted; the record is rebroadcast byte for byte.
type ChatMessage struct {
	ChatID string          `json:"chatId" validate:"required"`
	Raw    json.RawMessage `json:"-"`
}

func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var head struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	m.ChatID = head.ChatID
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	if len(m.Raw) == 0 {
		return []byte("null"), nil
	}
	return m.Raw, nil
}

// MessageDeleted carries the client's deletion payload. Fields holds every
// top-level key so the notice can be rebroadcast with an extra field.
type MessageDeleted struct {
	ChatID     string `validate:"required"`
	SenderName string
	Fields     map[string]json.RawMessage
}

func (m *MessageDeleted) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var head struct {
		ChatID string `json:"chatId"`
		Sender *struct {
			Username string `json:"username"`
		} `json:"sender"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	m.ChatID = head.ChatID
	if head.Sender != nil {
		m.SenderName = head.Sender.Username
	}
	m.Fields = fields
	return nil
}

// NotificationText renders the human readable deletion notice.
func (m MessageDeleted) NotificationText() string {
	name := strings.TrimSpace(m.SenderName)
	if name == "" {
		name = "Someone"
	}
	return name + " deleted a message"
}

// WithNotification returns the original fields plus notificationMessage.
func (m MessageDeleted) WithNotification() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m.Fields)+1)
	for k, v := range m.Fields {
		out[k] = v
	}
	text, _ := json.Marshal(m.NotificationText())
	out["notificationMessage"] = text
	return out
}

// ChatCreated announces a new chat. Clients send either chatId or the full
// created chat with its id.
type ChatCreated struct {
	ChatID string `json:"chatId"`
	ID     string `json:"id"`
}

// Ref returns the referenced chat id.
func (c ChatCreated) Ref() string {
	if c.ChatID != "" {
		return c.ChatID
	}
	return c.ID
}
