package chatcache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlachat/parla/chat"
)

type fakeAPI struct {
	mu                sync.Mutex
	conversationCalls int
	messageCalls      map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{messageCalls: make(map[string]int)}
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversationCalls++
	return []chat.Conversation{{ID: "1", Title: "Trip"}}, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls[conversationID]++
	return []chat.Message{{ID: "m1", ConversationID: conversationID, Text: "hi"}}, nil
}

func TestConversationsAreCachedUntilInvalidated(t *testing.T) {
	api := newFakeAPI()
	store := New(api)

	for i := 0; i < 3; i++ {
		conversations, err := store.Conversations(context.Background())
		require.NoError(t, err)
		require.Len(t, conversations, 1)
	}
	assert.Equal(t, 1, api.conversationCalls)

	store.InvalidateConversations()
	_, err := store.Conversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, api.conversationCalls)
}

func TestMessageInvalidationIsPerConversation(t *testing.T) {
	api := newFakeAPI()
	store := New(api)

	_, err := store.Messages(context.Background(), "1")
	require.NoError(t, err)
	_, err = store.Messages(context.Background(), "2")
	require.NoError(t, err)

	store.InvalidateMessages("1")

	_, err = store.Messages(context.Background(), "1")
	require.NoError(t, err)
	_, err = store.Messages(context.Background(), "2")
	require.NoError(t, err)

	assert.Equal(t, 2, api.messageCalls["1"])
	assert.Equal(t, 1, api.messageCalls["2"])
}

func TestDropMessagesDiscardsConversationCache(t *testing.T) {
	api := newFakeAPI()
	store := New(api)

	_, err := store.Messages(context.Background(), "1")
	require.NoError(t, err)

	store.DropMessages("1")

	_, err = store.Messages(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 2, api.messageCalls["1"])
}
