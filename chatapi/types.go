package chatapi

import (
	"fmt"

	"github.com/parlachat/parla/chat"
)

// SendMessageResponse is returned by POST /api/chat/send once the server has
// transcribed and stored the voice message.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	AudioURL  string `json:"audioUrl"`
	Timestamp string `json:"timestamp"`
}

// ListConversationsResponse is returned by GET /api/conversations.
type ListConversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
}

// ListMessagesResponse is returned by GET /api/conversations/{id}/messages.
type ListMessagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

// CreateConversationRequest is the body of POST /api/conversations/new.
type CreateConversationRequest struct {
	Title    string `json:"title,omitempty"`
	Language string `json:"language"`
}

// CreateConversationResponse is returned by POST /api/conversations/new.
type CreateConversationResponse struct {
	ConversationID string `json:"conversationId"`
	Title          string `json:"title"`
	CreatedAt      string `json:"createdAt"`
}

// StatusError is a non-2xx response from the chat service, carrying the
// server-supplied message when the body had one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat service returned status %d", e.Code)
	}
	return fmt.Sprintf("chat service returned status %d: %s", e.Code, e.Message)
}
