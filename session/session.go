// Package session manages per-conversation history for the gateway. Sessions
// are keyed by channel kind plus an opaque chat identifier, created lazily on
// first message, and never persisted across process restarts.
package session

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/gateway/core/protocol"
)

// Key identifies one session: the surface kind (terminal, web, chat-bot
// channel) plus that surface's opaque conversation identifier.
type Key struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
}

// String renders the key for logging and event attribution.
func (k Key) String() string {
	return k.Channel + ":" + k.ChatID
}

// Session holds an ordered sequence of conversation messages for one key.
// Safe for concurrent use. Mutated only through the owning Manager's
// accessors; state is volatile by design.
type Session struct {
	id  string
	key Key

	mu        sync.RWMutex
	messages  []protocol.Message
	createdAt time.Time
	updatedAt time.Time
}

func newSession(key Key) *Session {
	now := time.Now()
	return &Session{
		id:        uuid.Must(uuid.NewV7()).String(),
		key:       key,
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Key returns the session's channel key.
func (s *Session) Key() Key { return s.key }

// AddMessage appends a message to the conversation history.
func (s *Session) AddMessage(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.updatedAt = time.Now()
}

// Messages returns a defensive copy of the conversation history.
func (s *Session) Messages() []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]protocol.Message, len(s.messages))
	for i, msg := range s.messages {
		copied[i] = msg
		copied[i].ToolCalls = slices.Clone(msg.ToolCalls)
		copied[i].Attachments = slices.Clone(msg.Attachments)
	}
	return copied
}

// Len returns the number of messages without copying.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// UpdatedAt returns the time of the last mutation.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
