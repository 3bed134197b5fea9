// Package realtime keeps connected clients consistent with the persisted chat
// store.
//
// The Registry tracks live connections and the identity bound to each one.
// The RoomManager owns chat and video room membership and announces video
// presence. The Router reacts to chat events by consulting the store and
// deciding who is told what. Every component addresses clients through an
// injected Broadcaster; in production that is a Fanout writing to a Sink
// supplied by the transport.
//
// Delivery is best-effort. Nothing is retried, acknowledged or replayed, and
// a connection that drops without sending participant-left leaves its peers
// unaware until they next resynchronise.
package realtime
