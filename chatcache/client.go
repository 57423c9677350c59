package chatcache

import (
	"context"

	"github.com/parlachat/parla/chat"
	"github.com/parlachat/parla/chatapi"
)

// ClientAPI adapts the chat API client to the store's read surface.
type ClientAPI struct {
	Client *chatapi.Client
}

func (a ClientAPI) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	resp, err := a.Client.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (a ClientAPI) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	resp, err := a.Client.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}
