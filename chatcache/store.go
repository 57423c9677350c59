package chatcache

import (
	"context"

	"github.com/parlachat/parla/cache"
	"github.com/parlachat/parla/chat"
)

const keyConversations = "conversations"

func messagesKey(conversationID string) string {
	return "messages:" + conversationID
}

// API is the read surface of the chat service the store caches.
type API interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
}

// Store is the cached read view of conversations and their messages. Writers
// (the dispatcher) invalidate; readers get the last fetched value until they
// do.
type Store struct {
	api           API
	conversations *cache.Cache[[]chat.Conversation]
	messages      *cache.Cache[[]chat.Message]
}

// New creates a store over the given API.
func New(api API) *Store {
	return &Store{
		api:           api,
		conversations: cache.New[[]chat.Conversation](),
		messages:      cache.New[[]chat.Message](),
	}
}

// Conversations returns the conversation list, refetching if stale.
func (s *Store) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	return s.conversations.Get(ctx, keyConversations, s.api.ListConversations)
}

// Messages returns one conversation's message history, refetching if stale.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return s.messages.Get(ctx, messagesKey(conversationID), func(ctx context.Context) ([]chat.Message, error) {
		return s.api.ListMessages(ctx, conversationID)
	})
}

// InvalidateConversations marks the conversation list stale.
func (s *Store) InvalidateConversations() {
	s.conversations.Invalidate(keyConversations)
}

// InvalidateMessages marks one conversation's message list stale.
func (s *Store) InvalidateMessages(conversationID string) {
	s.messages.Invalidate(messagesKey(conversationID))
}

// DropMessages discards one conversation's message cache entirely, for use
// when the conversation itself is deleted.
func (s *Store) DropMessages(conversationID string) {
	s.messages.Drop(messagesKey(conversationID))
}
