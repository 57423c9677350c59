package chat

import "time"

// MessageSender identifies which side of the conversation produced a message.
type MessageSender string

const (
	SenderUser MessageSender = "user"
	SenderBot  MessageSender = "bot"
)

// MessageStatus tracks delivery of an outbound message. Transitions are
// one-way: sending moves to sent or error and never back.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusError   MessageStatus = "error"
)

// Message is a single chat message. Outbound messages carry a locally
// generated ID until the server confirms them with its own.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Sender         MessageSender `json:"sender"`
	Text           string        `json:"text"`
	AudioURL       string        `json:"audioUrl,omitempty"`
	Language       string        `json:"language"`
	Timestamp      time.Time     `json:"timestamp"`
	Status         MessageStatus `json:"status,omitempty"`
}

// Conversation is a thread of messages. LastMessage and UpdatedAt are
// denormalized previews of the most recently settled message.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Language    string    `json:"language"`
	LastMessage string    `json:"lastMessage,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
