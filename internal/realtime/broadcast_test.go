package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/chatrelay/internal/protocol"
)

func newFanoutFixture() (*Registry, *RoomManager, *recordingSink, *Fanout) {
	reg := NewRegistry(nil)
	sink := newRecordingSink()
	fan := NewFanout(reg, sink, nil)
	rooms := NewRoomManager(reg, fan, nil)
	fan.rooms = rooms
	return reg, rooms, sink, fan
}

func TestFanout_ToAll(t *testing.T) {
	req := require.New(t)
	reg, _, sink, fan := newFanoutFixture()
	a := reg.Connect("")
	b := reg.Connect("")
	sink.close(b)

	d := fan.ToAll(protocol.EventChatUpdated, map[string]string{"id": "c1"})

	req.Equal(Delivery{Targets: 2, Delivered: 1}, d)
	req.Equal(1, d.Dropped())
	got := sink.to(a)
	req.Len(got, 1)
	req.JSONEq(`{"id":"c1"}`, string(got[0].Data))
}

func TestFanout_ToRoomExcludesSender(t *testing.T) {
	req := require.New(t)
	reg, rooms, sink, fan := newFanoutFixture()
	a := reg.Connect("")
	b := reg.Connect("")
	outsider := reg.Connect("")
	rooms.Join(a, "c1", RoomKindChat)
	rooms.Join(b, "c1", RoomKindChat)

	d := fan.ToRoom("c1", protocol.EventMessageDeleted, nil, a)

	req.Equal(Delivery{Targets: 1, Delivered: 1}, d)
	req.Empty(sink.to(a))
	req.Empty(sink.to(outsider))
	req.Equal([]protocol.EventName{protocol.EventMessageDeleted}, sink.events(b))
}

func TestFanout_ToConnectionsDeduplicates(t *testing.T) {
	req := require.New(t)
	reg, _, sink, fan := newFanoutFixture()
	a := reg.Connect("")

	d := fan.ToConnections([]ConnectionID{a, a}, protocol.EventChatCreated, nil)

	req.Equal(1, d.Targets)
	req.Len(sink.to(a), 1)
}

func TestFanout_EmitResolvesScopes(t *testing.T) {
	req := require.New(t)
	reg, rooms, sink, fan := newFanoutFixture()
	a := reg.Connect("")
	b := reg.Connect("")
	req.NoError(reg.Authenticate(a, "alice"))
	rooms.Join(b, "v1", RoomKindChat)

	req.Equal(2, fan.Emit(BroadcastEvent{Name: protocol.EventChatUpdated, Scope: Global()}).Targets)
	req.Equal(1, fan.Emit(BroadcastEvent{Name: protocol.EventUserJoined, Scope: InRoom("v1", "")}).Targets)
	req.Equal(1, fan.Emit(BroadcastEvent{Name: protocol.EventChatCreated, Scope: ToIdentities("alice", "nobody")}).Targets)
	req.Zero(fan.Emit(BroadcastEvent{Name: protocol.EventChatCreated, Scope: Scope{Kind: "bogus"}}).Targets)

	req.Equal([]protocol.EventName{protocol.EventChatUpdated, protocol.EventChatCreated}, sink.events(a))
	req.Equal([]protocol.EventName{protocol.EventChatUpdated, protocol.EventUserJoined}, sink.events(b))
}

func TestFanout_UnencodablePayloadDropped(t *testing.T) {
	req := require.New(t)
	reg, _, sink, fan := newFanoutFixture()
	reg.Connect("")

	d := fan.ToAll(protocol.EventMessage, func() {})

	req.Zero(d.Targets)
	req.Empty(sink.all())
}
