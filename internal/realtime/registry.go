package realtime

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	// ErrUnknownConnection is returned for operations on a connection that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrInvalidIdentity is returned when an empty user id is bound.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// ConnectionID identifies one live client session.
type ConnectionID string

// Connection is the registry's record of a live session.
type Connection struct {
	ID              ConnectionID
	UserID          string
	Rooms           map[RoomID]RoomKind
	RemoteAddr      string
	ConnectedAt     time.Time
	AuthenticatedAt time.Time
}

// Authenticated reports whether an identity is bound.
func (c Connection) Authenticated() bool {
	return c.UserID != ""
}

// Identity returns the bound user id, or the connection id when none is bound.
func (c Connection) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return string(c.ID)
}

// RoomIDs returns the rooms the connection belongs to, sorted.
func (c Connection) RoomIDs() []RoomID {
	ids := lo.Keys(c.Rooms)
	slices.Sort(ids)
	return ids
}

func (c *Connection) clone() Connection {
	out := *c
	out.Rooms = maps.Clone(c.Rooms)
	if out.Rooms == nil {
		out.Rooms = make(map[RoomID]RoomKind)
	}
	return out
}

// Registry owns the live connection set and the identity bound to each
// connection.
type Registry struct {
	mu     sync.RWMutex
	conns  map[ConnectionID]*Connection
	byUser map[string]map[ConnectionID]struct{}
	log    *zap.Logger
	now    func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		conns:  make(map[ConnectionID]*Connection),
		byUser: make(map[string]map[ConnectionID]struct{}),
		log:    log,
		now:    time.Now,
	}
}

// Connect allocates a fresh unauthenticated connection. A reconnecting
// transport always receives a new id.
func (r *Registry) Connect(remoteAddr string) ConnectionID {
	id := ConnectionID(uuid.NewString())

	r.mu.Lock()
	r.conns[id] = &Connection{
		ID:          id,
		Rooms:       make(map[RoomID]RoomKind),
		RemoteAddr:  remoteAddr,
		ConnectedAt: r.now(),
	}
	total := len(r.conns)
	r.mu.Unlock()

	r.log.Info("connection opened", zap.String("conn", string(id)), zap.String("remote", remoteAddr), zap.Int("total", total))
	return id
}

// Authenticate binds userID to the connection. Rebinding replaces the
// previous identity.
func (r *Registry) Authenticate(id ConnectionID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidIdentity
	}

	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	previous := conn.UserID
	if previous != "" && previous != userID {
		r.unindex(previous, id)
	}
	conn.UserID = userID
	conn.AuthenticatedAt = r.now()
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[ConnectionID]struct{})
	}
	r.byUser[userID][id] = struct{}{}
	r.mu.Unlock()

	r.log.Info("connection authenticated", zap.String("conn", string(id)), zap.String("user", userID), zap.String("previous", previous))
	return nil
}

// Disconnect removes the connection and returns its final record, including
// the rooms it belonged to. Nothing is announced to other clients.
func (r *Registry) Disconnect(id ConnectionID, reason string) (Connection, bool) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return Connection{}, false
	}
	delete(r.conns, id)
	if conn.UserID != "" {
		r.unindex(conn.UserID, id)
	}
	removed := conn.clone()
	total := len(r.conns)
	r.mu.Unlock()

	r.log.Info("connection closed",
		zap.String("conn", string(id)),
		zap.String("user", removed.UserID),
		zap.String("reason", reason),
		zap.Int("rooms", len(removed.Rooms)),
		zap.Int("total", total),
	)
	return removed, true
}

// FindConnectionsByIdentity returns every live connection bound to userID.
func (r *Registry) FindConnectionsByIdentity(userID string) []ConnectionID {
	r.mu.RLock()
	ids := lo.Keys(r.byUser[userID])
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Get returns a copy of the connection record.
func (r *Registry) Get(id ConnectionID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return conn.clone(), true
}

// IDs returns every live connection id.
func (r *Registry) IDs() []ConnectionID {
	r.mu.RLock()
	ids := lo.Keys(r.conns)
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// trackRoom records room membership on the connection. It reports false if
// the connection is gone.
func (r *Registry) trackRoom(id ConnectionID, room RoomID, kind RoomKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	conn.Rooms[room] = kind
	return true
}

func (r *Registry) untrackRoom(id ConnectionID, room RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[id]; ok {
		delete(conn.Rooms, room)
	}
}

// unindex must be called with mu held.
func (r *Registry) unindex(userID string, id ConnectionID) {
	set := r.byUser[userID]
	delete(set, id)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}
