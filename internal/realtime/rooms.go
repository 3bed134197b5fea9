package realtime

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fenggwsx/chatrelay/internal/protocol"
)

const maxRoomIDBytes = 256

// ErrInvalidRoom is returned for malformed room identifiers or kinds.
var ErrInvalidRoom = errors.New("invalid room")

// RoomID names a chat room (the chat id) or a video room.
type RoomID string

// RoomKind tags a room as a chat room or a video signaling room.
type RoomKind string

const (
	RoomKindChat  RoomKind = "chat"
	RoomKindVideo RoomKind = "video"
)

// Outcome is the explicit result of a membership change. Callers never
// surface it to the client.
type Outcome int

const (
	OutcomeJoined Outcome = iota + 1
	OutcomeAlreadyMember
	OutcomeLeft
	OutcomeNotMember
	OutcomeRejected
	OutcomeUnknownConnection
)

func (o Outcome) String() string {
	switch o {
	case OutcomeJoined:
		return "joined"
	case OutcomeAlreadyMember:
		return "already_member"
	case OutcomeLeft:
		return "left"
	case OutcomeNotMember:
		return "not_member"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnknownConnection:
		return "unknown_connection"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Room is a snapshot of a room and its members.
type Room struct {
	ID        RoomID
	Kind      RoomKind
	Members   []ConnectionID
	CreatedAt time.Time
}

type room struct {
	kind      RoomKind
	members   map[ConnectionID]struct{}
	createdAt time.Time
}

// RoomManager owns chat and video room membership. Rooms are created on
// first join and never removed; empty rooms are harmless.
type RoomManager struct {
	mu          sync.RWMutex
	rooms       map[RoomID]*room
	registry    *Registry
	broadcaster Broadcaster
	log         *zap.Logger
}

// NewRoomManager returns a RoomManager announcing video presence through b.
func NewRoomManager(registry *Registry, b Broadcaster, log *zap.Logger) *RoomManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomManager{
		rooms:       make(map[RoomID]*room),
		registry:    registry,
		broadcaster: b,
		log:         log,
	}
}

// ValidateRoomID reports whether id is a usable room identifier.
func ValidateRoomID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRoom)
	case len(id) > maxRoomIDBytes:
		return fmt.Errorf("%w: id longer than %d bytes", ErrInvalidRoom, maxRoomIDBytes)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: id is not valid utf-8", ErrInvalidRoom)
	case lo.ContainsBy([]rune(id), unicode.IsControl):
		return fmt.Errorf("%w: id contains control characters", ErrInvalidRoom)
	}
	return nil
}

func validKind(kind RoomKind) bool {
	return kind == RoomKindChat || kind == RoomKindVideo
}

// Join adds the connection to the room. Joining twice is a no-op. Video
// joins announce user-joined to the other members.
func (m *RoomManager) Join(id ConnectionID, roomID string, kind RoomKind) Outcome {
	if err := ValidateRoomID(roomID); err != nil || !validKind(kind) {
		m.log.Warn("join dropped", zap.String("conn", string(id)), zap.String("room", roomID), zap.String("kind", string(kind)), zap.Error(err))
		return OutcomeRejected
	}
	rid := RoomID(roomID)

	outcome := m.join(id, rid, kind)
	switch outcome {
	case OutcomeJoined:
		m.log.Info("room joined", zap.String("conn", string(id)), zap.String("room", roomID), zap.String("kind", string(kind)))
	case OutcomeUnknownConnection:
		m.log.Warn("join from unknown connection", zap.String("conn", string(id)), zap.String("room", roomID))
		return outcome
	default:
		return outcome
	}

	if kind == RoomKindVideo {
		m.announce(id, rid, protocol.EventUserJoined)
	}
	return outcome
}

func (m *RoomManager) join(id ConnectionID, rid RoomID, kind RoomKind) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[rid]
	if ok {
		if _, member := r.members[id]; member {
			return OutcomeAlreadyMember
		}
	}
	if !m.registry.trackRoom(id, rid, kind) {
		return OutcomeUnknownConnection
	}
	if !ok {
		r = &room{kind: kind, members: make(map[ConnectionID]struct{}), createdAt: time.Now()}
		m.rooms[rid] = r
	}
	r.members[id] = struct{}{}
	return OutcomeJoined
}

// Leave removes the connection from the room. Video leaves announce
// user-left to the remaining members; chat leaves are silent.
func (m *RoomManager) Leave(id ConnectionID, roomID string, kind RoomKind) Outcome {
	if err := ValidateRoomID(roomID); err != nil || !validKind(kind) {
		m.log.Warn("leave dropped", zap.String("conn", string(id)), zap.String("room", roomID), zap.String("kind", string(kind)), zap.Error(err))
		return OutcomeRejected
	}
	rid := RoomID(roomID)

	m.mu.Lock()
	r, ok := m.rooms[rid]
	if ok {
		_, ok = r.members[id]
	}
	if ok {
		delete(r.members, id)
	}
	m.mu.Unlock()

	if !ok {
		return OutcomeNotMember
	}
	m.registry.untrackRoom(id, rid)
	m.log.Info("room left", zap.String("conn", string(id)), zap.String("room", roomID), zap.String("kind", string(kind)))

	if kind == RoomKindVideo {
		m.announce(id, rid, protocol.EventUserLeft)
	}
	return OutcomeLeft
}

// Evict silently removes a closed connection from the given rooms.
func (m *RoomManager) Evict(id ConnectionID, rooms []RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rid := range rooms {
		if r, ok := m.rooms[rid]; ok {
			delete(r.members, id)
		}
	}
}

// Members returns the connections currently in the room.
func (m *RoomManager) Members(roomID RoomID) []ConnectionID {
	m.mu.RLock()
	var ids []ConnectionID
	if r, ok := m.rooms[roomID]; ok {
		ids = lo.Keys(r.members)
	}
	m.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Room returns a snapshot of the room.
func (m *RoomManager) Room(roomID RoomID) (Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	members := lo.Keys(r.members)
	slices.Sort(members)
	return Room{ID: roomID, Kind: r.kind, Members: members, CreatedAt: r.createdAt}, true
}

// announce names the connection, not its user.
func (m *RoomManager) announce(id ConnectionID, rid RoomID, event protocol.EventName) {
	m.broadcaster.ToRoom(rid, event, protocol.Presence{UserID: string(id), RoomID: string(rid)}, id)
}
