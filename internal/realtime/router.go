package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fenggwsx/chatrelay/internal/protocol"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

// ErrInvalidPayload marks an inbound event whose payload failed decoding or validation.
var ErrInvalidPayload = errors.New("invalid payload")

// ChatStore is the part of the persisted store the router uses.
type ChatStore interface {
	storage.ChatReader
	storage.MessageWriter
}

// Emission records one broadcast made while handling an event.
type Emission struct {
	Event    protocol.EventName
	Scope    ScopeKind
	Delivery Delivery
}

// Report is the explicit outcome of a router handler. Clients never see it.
type Report struct {
	Event   protocol.EventName
	Emitted []Emission
	Err     error
}

// Names returns the emitted event names in order.
func (r Report) Names() []protocol.EventName {
	return lo.Map(r.Emitted, func(e Emission, _ int) protocol.EventName { return e.Event })
}

// Router decides the fan-out for chat state changes. It keeps no state
// between events and never caches store data beyond one handler call.
type Router struct {
	store       ChatStore
	registry    *Registry
	broadcaster Broadcaster
	log         *zap.Logger
}

// NewRouter returns a Router that reads from store and emits through b.
func NewRouter(store ChatStore, registry *Registry, b Broadcaster, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{store: store, registry: registry, broadcaster: b, log: log}
}

// ParticipantLeft narrates a participant leaving. When the chat still exists
// a system message is stored and broadcast, followed by the refreshed chat.
// The participant-left notice is broadcast in every case, including store
// failures.
func (r *Router) ParticipantLeft(ctx context.Context, from ConnectionID, req protocol.ParticipantLeft) (report Report) {
	report.Event = protocol.EventParticipantLeft
	log := r.log.With(zap.String("conn", string(from)), zap.String("chat", req.ChatID), zap.String("user", req.UserID))
	log.Info("participant leaving chat", zap.String("username", req.Username))

	defer func() {
		d := r.broadcaster.ToAll(protocol.EventParticipantLeft, protocol.ParticipantLeft{
			ChatID:   req.ChatID,
			UserID:   req.UserID,
			Username: req.Username,
		})
		report.record(protocol.EventParticipantLeft, ScopeGlobal, d)
	}()

	exists, err := r.store.ChatExists(ctx, req.ChatID)
	if err != nil {
		report.Err = fmt.Errorf("check chat: %w", err)
		log.Error("participant-left chat lookup failed", zap.Error(err))
		return report
	}
	if !exists {
		log.Info("participant-left for missing chat")
		return report
	}

	name := req.Username
	if name == "" {
		name = req.UserID
	}
	msg := &storage.Message{
		ChatID:   req.ChatID,
		SenderID: req.UserID,
		Content:  name + " left the chat",
		Type:     storage.MessageTypeSystem,
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		report.Err = fmt.Errorf("create system message: %w", err)
		log.Error("participant-left system message failed", zap.Error(err))
		return report
	}
	report.record(protocol.EventMessage, ScopeGlobal, r.broadcaster.ToAll(protocol.EventMessage, msg))

	snapshot, err := r.store.GetChatSnapshot(ctx, req.ChatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Info("chat removed before refresh")
	case err != nil:
		report.Err = fmt.Errorf("refresh chat: %w", err)
		log.Error("participant-left chat refresh failed", zap.Error(err))
	default:
		report.record(protocol.EventChatUpdated, ScopeGlobal, r.broadcaster.ToAll(protocol.EventChatUpdated, snapshot))
	}
	return report
}

// Message rebroadcasts a client message immediately, then publishes the
// chat's latest snapshot. The message itself was stored by the HTTP layer.
func (r *Router) Message(ctx context.Context, from ConnectionID, msg protocol.ChatMessage) Report {
	report := r.EchoMessage(from, msg)
	refresh := r.RefreshChat(ctx, from, msg.ChatID)
	report.Emitted = append(report.Emitted, refresh.Emitted...)
	report.Err = refresh.Err
	return report
}

// EchoMessage rebroadcasts msg to every connection without touching the
// store. Callers on a connection's read loop keep that connection's messages
// in arrival order.
func (r *Router) EchoMessage(from ConnectionID, msg protocol.ChatMessage) Report {
	report := Report{Event: protocol.EventMessage}
	report.record(protocol.EventMessage, ScopeGlobal, r.broadcaster.ToAll(protocol.EventMessage, msg))
	return report
}

// RefreshChat fetches the chat and broadcasts chat-updated. Concurrent
// refreshes of one chat are not serialised: the last fetch to complete wins.
func (r *Router) RefreshChat(ctx context.Context, from ConnectionID, chatID string) Report {
	report := Report{Event: protocol.EventMessage}
	r.publishSnapshot(ctx, &report, from, chatID)
	return report
}

// MessageDeleted tells the chat room, except the deleting connection, that
// a message was removed, then publishes the refreshed chat when it loads.
func (r *Router) MessageDeleted(ctx context.Context, from ConnectionID, req protocol.MessageDeleted) Report {
	report := Report{Event: protocol.EventMessageDeleted}

	snapshot, err := r.store.GetChatSnapshot(ctx, req.ChatID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		report.Err = fmt.Errorf("load chat: %w", err)
		r.log.Error("message-deleted chat lookup failed", zap.String("conn", string(from)), zap.String("chat", req.ChatID), zap.Error(err))
	}

	d := r.broadcaster.ToRoom(RoomID(req.ChatID), protocol.EventMessageDeleted, req.WithNotification(), from)
	report.record(protocol.EventMessageDeleted, ScopeRoom, d)

	if err == nil && snapshot != nil {
		report.record(protocol.EventChatUpdated, ScopeGlobal, r.broadcaster.ToAll(protocol.EventChatUpdated, snapshot))
	}
	return report
}

// ChatCreated delivers the new chat to every live connection of each of its
// participants, and to no one else.
func (r *Router) ChatCreated(ctx context.Context, from ConnectionID, req protocol.ChatCreated) Report {
	report := Report{Event: protocol.EventChatCreated}
	chatID := req.Ref()
	if chatID == "" {
		report.Err = fmt.Errorf("%w: chat id required", ErrInvalidPayload)
		return report
	}

	snapshot, err := r.store.GetChatSnapshot(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		r.log.Info("chat-created for missing chat", zap.String("conn", string(from)), zap.String("chat", chatID))
		return report
	}
	if err != nil {
		report.Err = fmt.Errorf("load chat: %w", err)
		r.log.Error("chat-created chat lookup failed", zap.String("conn", string(from)), zap.String("chat", chatID), zap.Error(err))
		return report
	}

	var targets []ConnectionID
	for _, userID := range lo.Uniq(snapshot.ParticipantIDs()) {
		targets = append(targets, r.registry.FindConnectionsByIdentity(userID)...)
	}
	d := r.broadcaster.ToConnections(lo.Uniq(targets), protocol.EventChatCreated, snapshot)
	report.record(protocol.EventChatCreated, ScopeIdentities, d)
	return report
}

func (r *Router) publishSnapshot(ctx context.Context, report *Report, from ConnectionID, chatID string) {
	snapshot, err := r.store.GetChatSnapshot(ctx, chatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return
	case err != nil:
		report.Err = fmt.Errorf("load chat: %w", err)
		r.log.Error("chat refresh failed", zap.String("conn", string(from)), zap.String("chat", chatID), zap.Error(err))
		return
	case snapshot == nil:
		return
	}
	report.record(protocol.EventChatUpdated, ScopeGlobal, r.broadcaster.ToAll(protocol.EventChatUpdated, snapshot))
}

func (r *Report) record(event protocol.EventName, scope ScopeKind, d Delivery) {
	r.Emitted = append(r.Emitted, Emission{Event: event, Scope: scope, Delivery: d})
}
