package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fenggwsx/chatrelay/internal/protocol"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

type delivered struct {
	To    ConnectionID
	Event protocol.EventName
	Data  json.RawMessage
}

// recordingSink captures every envelope handed to the transport.
type recordingSink struct {
	mu     sync.Mutex
	got    []delivered
	closed map[ConnectionID]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{closed: make(map[ConnectionID]bool)}
}

func (s *recordingSink) Deliver(id ConnectionID, env protocol.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed[id] {
		return false
	}
	s.got = append(s.got, delivered{To: id, Event: env.Event, Data: env.Data})
	return true
}

func (s *recordingSink) close(id ConnectionID) {
	s.mu.Lock()
	s.closed[id] = true
	s.mu.Unlock()
}

func (s *recordingSink) all() []delivered {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivered(nil), s.got...)
}

func (s *recordingSink) to(id ConnectionID) []delivered {
	var out []delivered
	for _, d := range s.all() {
		if d.To == id {
			out = append(out, d)
		}
	}
	return out
}

func (s *recordingSink) events(id ConnectionID) []protocol.EventName {
	var out []protocol.EventName
	for _, d := range s.to(id) {
		out = append(out, d.Event)
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.got = nil
	s.mu.Unlock()
}

type broadcastCall struct {
	Scope   ScopeKind
	Event   protocol.EventName
	Payload any
	RoomID  RoomID
	Exclude ConnectionID
	IDs     []ConnectionID
}

// recordingBroadcaster captures broadcast intent without resolving scopes.
type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordingBroadcaster) ToAll(event protocol.EventName, payload any) Delivery {
	b.record(broadcastCall{Scope: ScopeGlobal, Event: event, Payload: payload})
	return Delivery{}
}

func (b *recordingBroadcaster) ToRoom(roomID RoomID, event protocol.EventName, payload any, exclude ConnectionID) Delivery {
	b.record(broadcastCall{Scope: ScopeRoom, Event: event, Payload: payload, RoomID: roomID, Exclude: exclude})
	return Delivery{}
}

func (b *recordingBroadcaster) ToConnections(ids []ConnectionID, event protocol.EventName, payload any) Delivery {
	b.record(broadcastCall{Scope: ScopeIdentities, Event: event, Payload: payload, IDs: ids})
	return Delivery{Targets: len(ids), Delivered: len(ids)}
}

func (b *recordingBroadcaster) record(c broadcastCall) {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) all() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastCall(nil), b.calls...)
}

// fakeStore is an in-memory ChatStore with injectable failures.
type fakeStore struct {
	mu        sync.Mutex
	chats     map[string]*storage.ChatSnapshot
	messages  []storage.Message
	existsErr error
	createErr error
	getErr    error
	panicOn   string
	delay     time.Duration
	fetches   int

	// delays[i] applies to the i-th snapshot fetch to start.
	delays  []time.Duration
	started int
	served  []servedSnapshot
}

type servedSnapshot struct {
	startIndex int
	snapshot   *storage.ChatSnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{chats: make(map[string]*storage.ChatSnapshot)}
}

func (s *fakeStore) addChat(id string, participants ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &storage.ChatSnapshot{Chat: storage.Chat{ID: id, Name: "chat " + id, IsGroup: len(participants) > 2}}
	for _, userID := range participants {
		snap.Participants = append(snap.Participants, storage.Participant{ChatID: id, UserID: userID})
	}
	s.chats[id] = snap
}

func (s *fakeStore) ChatExists(_ context.Context, chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.chats[chatID]
	return ok, nil
}

func (s *fakeStore) GetChatSnapshot(_ context.Context, chatID string) (*storage.ChatSnapshot, error) {
	s.mu.Lock()
	startIndex, delay := s.started, s.delay
	if startIndex < len(s.delays) {
		delay = s.delays[startIndex]
	}
	s.started++
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.panicOn == chatID {
		panic("store exploded")
	}
	if s.getErr != nil {
		return nil, s.getErr
	}
	snap, ok := s.chats[chatID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *snap
	out.Chat.Name = fmt.Sprintf("%s rev %d", snap.Chat.Name, s.fetches)
	if n := len(s.messages); n > 0 {
		out.Messages = []storage.Message{s.messages[n-1]}
	}
	s.served = append(s.served, servedSnapshot{startIndex: startIndex, snapshot: &out})
	return &out, nil
}

func (s *fakeStore) startedFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// lastServed returns the snapshot from the fetch that completed last.
func (s *fakeStore) lastServed() servedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.served) == 0 {
		return servedSnapshot{}
	}
	return s.served[len(s.served)-1]
}

func (s *fakeStore) CreateMessage(_ context.Context, msg *storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.chats[msg.ChatID]; !ok {
		return storage.ErrNotFound
	}
	msg.ID = fmt.Sprintf("m%d", len(s.messages)+1)
	msg.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, *msg)
	return nil
}
