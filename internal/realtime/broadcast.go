package realtime

import (
	"go.uber.org/zap"

	"github.com/fenggwsx/chatrelay/internal/protocol"
)

// Broadcaster addresses an event to all connections, to one room, or to
// specific connections.
type Broadcaster interface {
	ToAll(event protocol.EventName, payload any) Delivery
	ToRoom(roomID RoomID, event protocol.EventName, payload any, exclude ConnectionID) Delivery
	ToConnections(ids []ConnectionID, event protocol.EventName, payload any) Delivery
}

// Sink hands an encoded envelope to the transport of one connection. It
// reports false when the connection is gone or its buffer is full.
type Sink interface {
	Deliver(id ConnectionID, env protocol.Envelope) bool
}

// Delivery counts the outcome of one broadcast.
type Delivery struct {
	Targets   int
	Delivered int
}

// Dropped returns how many targets did not accept the event.
func (d Delivery) Dropped() int {
	return d.Targets - d.Delivered
}

// ScopeKind is the addressing mode of a broadcast.
type ScopeKind string

const (
	ScopeGlobal     ScopeKind = "global"
	ScopeRoom       ScopeKind = "room"
	ScopeIdentities ScopeKind = "identities"
)

// Scope describes who receives a BroadcastEvent.
type Scope struct {
	Kind    ScopeKind
	RoomID  RoomID
	Exclude ConnectionID
	UserIDs []string
}

// Global addresses every live connection.
func Global() Scope { return Scope{Kind: ScopeGlobal} }

// InRoom addresses a room's members, optionally excluding one connection.
func InRoom(id RoomID, exclude ConnectionID) Scope {
	return Scope{Kind: ScopeRoom, RoomID: id, Exclude: exclude}
}

// ToIdentities addresses every live connection of the given users.
func ToIdentities(userIDs ...string) Scope {
	return Scope{Kind: ScopeIdentities, UserIDs: userIDs}
}

// BroadcastEvent is a named payload together with its scope.
type BroadcastEvent struct {
	Name    protocol.EventName
	Payload any
	Scope   Scope
}

type roomDirectory interface {
	Members(roomID RoomID) []ConnectionID
}

// Fanout implements Broadcaster over a Sink. Delivery is best-effort: no
// retries, no acknowledgements and no backpressure.
type Fanout struct {
	registry *Registry
	rooms    roomDirectory
	sink     Sink
	log      *zap.Logger
}

// NewFanout returns a Fanout resolving global and identity scopes through
// registry. Room scope resolves once a room directory is attached.
func NewFanout(registry *Registry, sink Sink, log *zap.Logger) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{registry: registry, sink: sink, log: log}
}

// ToAll delivers to every live connection.
func (f *Fanout) ToAll(event protocol.EventName, payload any) Delivery {
	return f.deliver(event, payload, f.registry.IDs(), "")
}

// ToRoom delivers to the room's members except exclude.
func (f *Fanout) ToRoom(roomID RoomID, event protocol.EventName, payload any, exclude ConnectionID) Delivery {
	var members []ConnectionID
	if f.rooms != nil {
		members = f.rooms.Members(roomID)
	}
	return f.deliver(event, payload, members, exclude)
}

// ToConnections delivers to each listed connection once.
func (f *Fanout) ToConnections(ids []ConnectionID, event protocol.EventName, payload any) Delivery {
	return f.deliver(event, payload, ids, "")
}

// Emit resolves the event's scope and delivers it.
func (f *Fanout) Emit(ev BroadcastEvent) Delivery {
	switch ev.Scope.Kind {
	case ScopeGlobal:
		return f.ToAll(ev.Name, ev.Payload)
	case ScopeRoom:
		return f.ToRoom(ev.Scope.RoomID, ev.Name, ev.Payload, ev.Scope.Exclude)
	case ScopeIdentities:
		var ids []ConnectionID
		for _, userID := range ev.Scope.UserIDs {
			ids = append(ids, f.registry.FindConnectionsByIdentity(userID)...)
		}
		return f.ToConnections(ids, ev.Name, ev.Payload)
	default:
		f.log.Warn("broadcast with unknown scope dropped", zap.String("event", string(ev.Name)), zap.String("scope", string(ev.Scope.Kind)))
		return Delivery{}
	}
}

func (f *Fanout) deliver(event protocol.EventName, payload any, ids []ConnectionID, exclude ConnectionID) Delivery {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		f.log.Error("broadcast payload encode failed", zap.String("event", string(event)), zap.Error(err))
		return Delivery{}
	}

	var d Delivery
	seen := make(map[ConnectionID]struct{}, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		d.Targets++
		if f.sink.Deliver(id, env) {
			d.Delivered++
		} else {
			f.log.Debug("delivery dropped", zap.String("event", string(event)), zap.String("conn", string(id)))
		}
	}
	return d
}
