package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fenggwsx/chatrelay/internal/protocol"
)

var (
	// ErrUnknownEvent is returned for event names the engine does not handle.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrHandlerPanic wraps a panic recovered from an event handler.
	ErrHandlerPanic = errors.New("handler panic")
	// ErrUnverifiedIdentity is returned when token verification is required and fails.
	ErrUnverifiedIdentity = errors.New("identity not verified")
)

// TokenVerifier resolves a signed token to the user id it was issued for.
type TokenVerifier interface {
	VerifyIdentity(token, claimedUserID string) (string, error)
}

// Result is the synchronous outcome of Dispatch. Router events run on their
// own goroutine and report Async; their outcome is logged when they finish.
type Result struct {
	Event   protocol.EventName
	Outcome Outcome
	Async   bool
	Err     error
}

// Option configures an Engine.
type Option func(*Engine)

// WithTokenVerifier requires authenticate requests to carry a valid token.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithBroadcaster replaces the Fanout as the broadcaster handed to the room
// manager and router.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) { e.broadcaster = b }
}

// Engine wires the registry, room manager, router and fan-out together and
// dispatches inbound events to them.
type Engine struct {
	registry    *Registry
	rooms       *RoomManager
	router      *Router
	fanout      *Fanout
	broadcaster Broadcaster
	verifier    TokenVerifier
	log         *zap.Logger
	wg          sync.WaitGroup
}

// New builds an Engine delivering through sink.
func New(store ChatStore, sink Sink, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{log: log}
	e.registry = NewRegistry(log.Named("registry"))
	e.fanout = NewFanout(e.registry, sink, log.Named("fanout"))
	e.broadcaster = e.fanout
	for _, opt := range opts {
		opt(e)
	}
	e.rooms = NewRoomManager(e.registry, e.broadcaster, log.Named("rooms"))
	e.fanout.rooms = e.rooms
	e.router = NewRouter(store, e.registry, e.broadcaster, log.Named("router"))
	return e
}

// Registry exposes the connection registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Rooms exposes the room manager.
func (e *Engine) Rooms() *RoomManager { return e.rooms }

// Router exposes the chat event router.
func (e *Engine) Router() *Router { return e.router }

// Fanout exposes the scope-resolving broadcaster.
func (e *Engine) Fanout() *Fanout { return e.fanout }

// Connect registers a new connection.
func (e *Engine) Connect(remoteAddr string) ConnectionID {
	return e.registry.Connect(remoteAddr)
}

// Disconnect drops the connection and all of its room memberships. No one is
// notified; peers learn of departures only through participant-left.
func (e *Engine) Disconnect(id ConnectionID, reason string) {
	conn, ok := e.registry.Disconnect(id, reason)
	if !ok {
		return
	}
	e.rooms.Evict(id, conn.RoomIDs())
}

// Wait blocks until every in-flight asynchronous handler has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Dispatch handles one inbound event from connection id. Membership and
// identity events, and the rebroadcast of a chat message, are applied before
// Dispatch returns so a connection's own events stay ordered. Work that reads
// the store runs asynchronously. Failures are logged and returned but never
// sent to the client.
func (e *Engine) Dispatch(ctx context.Context, id ConnectionID, env protocol.Envelope) Result {
	res := Result{Event: env.Event}
	res.Err = e.guard(id, env.Event, func() error {
		return e.dispatch(ctx, id, env, &res)
	})
	if res.Err != nil {
		e.log.Warn("event dropped", zap.String("conn", string(id)), zap.String("event", string(env.Event)), zap.Stringer("outcome", res.Outcome), zap.Error(res.Err))
	}
	return res
}

func (e *Engine) dispatch(ctx context.Context, id ConnectionID, env protocol.Envelope, res *Result) error {
	switch env.Event {
	case protocol.EventAuthenticate:
		req, err := protocol.DecodeData[protocol.AuthenticateRequest](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return e.authenticate(id, req)

	case protocol.EventJoinChat, protocol.EventLeaveChat:
		ref, err := protocol.DecodeData[protocol.ChatRef](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return e.membership(id, env.Event, ref.ChatID, RoomKindChat, res)

	case protocol.EventJoinRoom, protocol.EventLeaveRoom:
		ref, err := protocol.DecodeData[protocol.RoomRef](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return e.membership(id, env.Event, ref.RoomID, RoomKindVideo, res)

	case protocol.EventParticipantLeft:
		req, err := protocol.DecodeData[protocol.ParticipantLeft](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		e.spawn(ctx, id, env.Event, func(ctx context.Context) Report { return e.router.ParticipantLeft(ctx, id, req) })

	case protocol.EventMessage:
		msg, err := protocol.DecodeData[protocol.ChatMessage](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		e.router.EchoMessage(id, msg)
		e.spawn(ctx, id, env.Event, func(ctx context.Context) Report { return e.router.RefreshChat(ctx, id, msg.ChatID) })

	case protocol.EventMessageDeleted:
		req, err := protocol.DecodeData[protocol.MessageDeleted](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		e.spawn(ctx, id, env.Event, func(ctx context.Context) Report { return e.router.MessageDeleted(ctx, id, req) })

	case protocol.EventChatCreated:
		req, err := protocol.DecodeData[protocol.ChatCreated](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		e.spawn(ctx, id, env.Event, func(ctx context.Context) Report { return e.router.ChatCreated(ctx, id, req) })

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	res.Async = true
	return nil
}

func (e *Engine) authenticate(id ConnectionID, req protocol.AuthenticateRequest) error {
	userID := req.UserID
	if e.verifier != nil {
		verified, err := e.verifier.VerifyIdentity(req.Token, req.UserID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnverifiedIdentity, err)
		}
		userID = verified
	}
	return e.registry.Authenticate(id, userID)
}

func (e *Engine) membership(id ConnectionID, event protocol.EventName, roomID string, kind RoomKind, res *Result) error {
	switch event {
	case protocol.EventJoinChat, protocol.EventJoinRoom:
		res.Outcome = e.rooms.Join(id, roomID, kind)
	default:
		res.Outcome = e.rooms.Leave(id, roomID, kind)
	}

	switch res.Outcome {
	case OutcomeRejected:
		return fmt.Errorf("%w: %q", ErrInvalidRoom, roomID)
	case OutcomeUnknownConnection:
		return ErrUnknownConnection
	}
	return nil
}

// spawn runs a router handler on its own goroutine. The handler outlives the
// connection that sent the event: there is no cancellation once it starts.
func (e *Engine) spawn(ctx context.Context, id ConnectionID, event protocol.EventName, handle func(context.Context) Report) {
	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		var report Report
		err := e.guard(id, event, func() error {
			report = handle(ctx)
			return report.Err
		})

		fields := []zap.Field{
			zap.String("conn", string(id)),
			zap.String("event", string(event)),
			zap.Int("emitted", len(report.Emitted)),
		}
		if err != nil {
			e.log.Warn("event handled with errors", append(fields, zap.Error(err))...)
			return
		}
		e.log.Debug("event handled", fields...)
	}()
}

// guard keeps a panicking handler from taking down the dispatcher or other
// connections.
func (e *Engine) guard(id ConnectionID, event protocol.EventName, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("recovered from handler panic",
				zap.String("conn", string(id)),
				zap.String("event", string(event)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return fn()
}
