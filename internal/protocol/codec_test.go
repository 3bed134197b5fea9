package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	req := require.New(t)

	env, err := Decode([]byte(`{"event":" join-chat ","data":"chat-1"}`))
	req.NoError(err)
	req.Equal(EventJoinChat, env.Event)
	req.JSONEq(`"chat-1"`, string(env.Data))

	_, err = Decode(nil)
	req.ErrorIs(err, ErrEmptyFrame)

	_, err = Decode([]byte(`{"data":1}`))
	req.ErrorIs(err, ErrMissingEvent)

	_, err = Decode([]byte(`not json`))
	req.Error(err)
}

func TestEncode_RoundTripsEnvelope(t *testing.T) {
	req := require.New(t)

	env, err := NewEnvelope(EventUserJoined, Presence{UserID: "u1", RoomID: "r1"})
	req.NoError(err)

	frame, err := Encode(env)
	req.NoError(err)
	req.JSONEq(`{"event":"user-joined","data":{"userId":"u1","roomId":"r1"}}`, string(frame))
}

func TestDecodeData_BareAndObjectForms(t *testing.T) {
	req := require.New(t)

	auth, err := DecodeData[AuthenticateRequest](Envelope{Event: EventAuthenticate, Data: json.RawMessage(`" user-1 "`)})
	req.NoError(err)
	req.Equal("user-1", auth.UserID)

	auth, err = DecodeData[AuthenticateRequest](Envelope{Event: EventAuthenticate, Data: json.RawMessage(`{"userId":"user-2","token":"t"}`)})
	req.NoError(err)
	req.Equal("user-2", auth.UserID)
	req.Equal("t", auth.Token)

	chat, err := DecodeData[ChatRef](Envelope{Event: EventJoinChat, Data: json.RawMessage(`{"chatId":"c1"}`)})
	req.NoError(err)
	req.Equal("c1", chat.ChatID)

	room, err := DecodeData[RoomRef](Envelope{Event: EventJoinRoom, Data: json.RawMessage(`"r1"`)})
	req.NoError(err)
	req.Equal("r1", room.RoomID)
}

func TestDecodeData_Rejects(t *testing.T) {
	req := require.New(t)

	_, err := DecodeData[AuthenticateRequest](Envelope{Event: EventAuthenticate})
	req.ErrorIs(err, ErrMissingPayload)

	_, err = DecodeData[AuthenticateRequest](Envelope{Event: EventAuthenticate, Data: json.RawMessage(`"   "`)})
	req.Error(err)

	_, err = DecodeData[RoomRef](Envelope{Event: EventJoinRoom, Data: json.RawMessage(`42`)})
	req.Error(err)

	_, err = DecodeData[ParticipantLeft](Envelope{Event: EventParticipantLeft, Data: json.RawMessage(`{"chatId":"c1"}`)})
	req.Error(err)

	_, err = DecodeData[ChatMessage](Envelope{Event: EventMessage, Data: json.RawMessage(`{"content":"hi"}`)})
	req.Error(err)
}

func TestChatMessage_PreservesRecord(t *testing.T) {
	req := require.New(t)
	raw := `{"id":"m1","chatId":"c1","content":"hi","sender":{"username":"ann"}}`

	msg, err := DecodeData[ChatMessage](Envelope{Event: EventMessage, Data: json.RawMessage(raw)})
	req.NoError(err)
	req.Equal("c1", msg.ChatID)

	out, err := json.Marshal(msg)
	req.NoError(err)
	req.JSONEq(raw, string(out))
}

func TestMessageDeleted_WithNotification(t *testing.T) {
	req := require.New(t)

	deleted, err := DecodeData[MessageDeleted](Envelope{
		Event: EventMessageDeleted,
		Data:  json.RawMessage(`{"chatId":"c1","messageId":"m1","sender":{"username":"ann"}}`),
	})
	req.NoError(err)
	req.Equal("ann deleted a message", deleted.NotificationText())

	out, err := json.Marshal(deleted.WithNotification())
	req.NoError(err)
	req.JSONEq(`{"chatId":"c1","messageId":"m1","sender":{"username":"ann"},"notificationMessage":"ann deleted a message"}`, string(out))

	anonymous, err := DecodeData[MessageDeleted](Envelope{
		Event: EventMessageDeleted,
		Data:  json.RawMessage(`{"chatId":"c1","messageId":"m1"}`),
	})
	req.NoError(err)
	req.Equal("Someone deleted a message", anonymous.NotificationText())
}

func TestChatCreated_Ref(t *testing.T) {
	req := require.New(t)
	req.Equal("c1", ChatCreated{ChatID: "c1", ID: "c2"}.Ref())
	req.Equal("c2", ChatCreated{ID: "c2"}.Ref())
	req.Empty(ChatCreated{}.Ref())
}
