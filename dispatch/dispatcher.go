package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlachat/parla/chat"
	"github.com/parlachat/parla/chatapi"
)

var (
	// ErrUnsupportedLanguage means the language code is outside the closed
	// supported set. Caller bug; no network call is made.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrUnknownMessage means no tracked message has the given id.
	ErrUnknownMessage = errors.New("unknown message")
)

// Text shown for an outbound message until the server returns the
// transcription.
const placeholderText = "Voice message"

// AudioSource is a captured recording the dispatcher can upload. Open may be
// called more than once (manual retry re-reads the capture).
type AudioSource interface {
	Open() (io.ReadCloser, error)
	Name() string
}

// API is the write surface of the chat service.
type API interface {
	SendMessage(ctx context.Context, audio io.Reader, filename, language, conversationID string) (*chatapi.SendMessageResponse, error)
	CreateConversation(ctx context.Context, title, language string) (*chatapi.CreateConversationResponse, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Invalidator receives staleness notifications after writes settle.
type Invalidator interface {
	InvalidateConversations()
	InvalidateMessages(conversationID string)
	DropMessages(conversationID string)
}

// Preview is the denormalized conversation metadata maintained from settled
// messages.
type Preview struct {
	LastMessage string
	UpdatedAt   time.Time
}

// Config contains dispatcher configuration.
type Config struct {
	// Clock override for tests.
	Clock func() time.Time

	// NewID overrides local id generation for tests.
	NewID func() string
}

type pendingSource struct {
	source         AudioSource
	conversationID string
	language       string
}

// Dispatcher turns captured recordings into confirmed remote messages with
// optimistic local visibility. It exclusively owns message status
// transitions; everything readers get is a snapshot.
type Dispatcher struct {
	api   API
	view  Invalidator
	clock func() time.Time
	newID func() string

	mu       sync.Mutex
	messages map[string]*chat.Message // keyed by current (local or server) id
	sources  map[string]pendingSource // retained until confirmed or discarded
	previews map[string]Preview       // conversation id -> settled preview
}

// New creates a dispatcher over the given API and cache view.
func New(api API, view Invalidator, config Config) *Dispatcher {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.NewID == nil {
		config.NewID = func() string { return uuid.NewString() }
	}
	return &Dispatcher{
		api:      api,
		view:     view,
		clock:    config.Clock,
		newID:    config.NewID,
		messages: make(map[string]*chat.Message),
		sources:  make(map[string]pendingSource),
		previews: make(map[string]Preview),
	}
}

// Dispatch submits a recording as a new message in the conversation. A
// pending message with status "sending" becomes visible to readers before
// any network activity; the call then blocks for the upload round trip and
// settles the message to "sent" or "error". A failed dispatch returns the
// errored message alongside the error so the caller can offer a manual
// retry. There is no automatic retry and no way to cancel an in-flight
// upload.
func (d *Dispatcher) Dispatch(ctx context.Context, source AudioSource, conversationID, language string) (chat.Message, error) {
	if !chat.SupportedLanguage(language) {
		return chat.Message{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	localID := d.newID()
	msg := &chat.Message{
		ID:             localID,
		ConversationID: conversationID,
		Sender:         chat.SenderUser,
		Text:           placeholderText,
		Language:       language,
		Timestamp:      d.clock(),
		Status:         chat.StatusSending,
	}

	d.mu.Lock()
	d.messages[localID] = msg
	d.sources[localID] = pendingSource{source: source, conversationID: conversationID, language: language}
	d.mu.Unlock()

	slog.Debug("Pending message created",
		"localID", localID,
		"conversationID", conversationID,
		"language", language)

	return d.submit(ctx, localID)
}

// Retry re-dispatches a failed message. The errored record is replaced by a
// fresh pending one; settled records are never flipped back to sending.
func (d *Dispatcher) Retry(ctx context.Context, messageID string) (chat.Message, error) {
	d.mu.Lock()
	msg, ok := d.messages[messageID]
	if !ok {
		d.mu.Unlock()
		return chat.Message{}, ErrUnknownMessage
	}
	if msg.Status != chat.StatusError {
		d.mu.Unlock()
		return chat.Message{}, fmt.Errorf("message %s is not in a failed state", messageID)
	}
	src, ok := d.sources[messageID]
	if !ok {
		d.mu.Unlock()
		return chat.Message{}, fmt.Errorf("message %s has no retained audio to retry", messageID)
	}
	delete(d.messages, messageID)
	delete(d.sources, messageID)
	d.mu.Unlock()

	slog.Info("Retrying failed message", "messageID", messageID, "conversationID", src.conversationID)
	return d.Dispatch(ctx, src.source, src.conversationID, src.language)
}

// Discard drops a failed message from the local view.
func (d *Dispatcher) Discard(messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	msg, ok := d.messages[messageID]
	if !ok {
		return ErrUnknownMessage
	}
	if msg.Status == chat.StatusSending {
		return fmt.Errorf("message %s is still in flight", messageID)
	}
	delete(d.messages, messageID)
	delete(d.sources, messageID)
	return nil
}

// Messages returns a snapshot of the locally tracked messages for a
// conversation, oldest first. Pending and errored records are retained until
// they settle or are discarded; sent records are retained until PruneSettled
// drops them, once the cached server view covers them.
func (d *Dispatcher) Messages(conversationID string) []chat.Message {
	d.mu.Lock()
	out := make([]chat.Message, 0)
	for _, msg := range d.messages {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Message returns a snapshot of one tracked message.
func (d *Dispatcher) Message(messageID string) (chat.Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg, ok := d.messages[messageID]
	if !ok {
		return chat.Message{}, false
	}
	return *msg, true
}

// PruneSettled drops the sent records of a conversation from the local view
// and returns how many were dropped. Call it after refreshing the
// conversation from the cache, which by then includes the server's copies.
// Pending and errored records are kept.
func (d *Dispatcher) PruneSettled(conversationID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	pruned := 0
	for id, msg := range d.messages {
		if msg.ConversationID == conversationID && msg.Status == chat.StatusSent {
			delete(d.messages, id)
			delete(d.sources, id)
			pruned++
		}
	}
	return pruned
}

// Preview returns the settled conversation preview, if any message has
// settled for it.
func (d *Dispatcher) Preview(conversationID string) (Preview, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.previews[conversationID]
	return p, ok
}

// CreateConversation creates a conversation and marks the conversation list
// stale.
func (d *Dispatcher) CreateConversation(ctx context.Context, title, language string) (*chatapi.CreateConversationResponse, error) {
	if !chat.SupportedLanguage(language) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	resp, err := d.api.CreateConversation(ctx, title, language)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	d.view.InvalidateConversations()
	slog.Info("Conversation created", "conversationID", resp.ConversationID, "language", language)
	return resp, nil
}

// DeleteConversation deletes a conversation and cascades over its locally
// tracked messages and cache entries.
func (d *Dispatcher) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := d.api.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	d.mu.Lock()
	for id, msg := range d.messages {
		if msg.ConversationID == conversationID {
			delete(d.messages, id)
			delete(d.sources, id)
		}
	}
	delete(d.previews, conversationID)
	d.mu.Unlock()

	d.view.DropMessages(conversationID)
	d.view.InvalidateConversations()
	slog.Info("Conversation deleted", "conversationID", conversationID)
	return nil
}

func (d *Dispatcher) submit(ctx context.Context, localID string) (chat.Message, error) {
	d.mu.Lock()
	src := d.sources[localID]
	d.mu.Unlock()

	reader, err := src.source.Open()
	if err != nil {
		return d.fail(localID, fmt.Errorf("failed to open audio source: %w", err))
	}

	resp, err := d.api.SendMessage(ctx, reader, src.source.Name(), src.language, src.conversationID)
	if closeErr := reader.Close(); closeErr != nil {
		slog.Error("Failed to close audio source", "error", closeErr, "localID", localID)
	}
	if err != nil {
		return d.fail(localID, err)
	}

	return d.confirm(localID, resp)
}

// fail settles a pending message to "error". The conversation preview is
// left untouched.
func (d *Dispatcher) fail(localID string, cause error) (chat.Message, error) {
	d.mu.Lock()
	msg, ok := d.messages[localID]
	if ok && msg.Status == chat.StatusSending {
		msg.Status = chat.StatusError
	}
	var snapshot chat.Message
	if ok {
		snapshot = *msg
	}
	d.mu.Unlock()

	slog.Error("Message dispatch failed", "error", cause, "localID", localID)
	return snapshot, fmt.Errorf("dispatch failed: %w", cause)
}

// confirm settles a pending message to "sent", atomically remapping its
// local id to the server-issued one, and advances the conversation preview
// if this message's timestamp is the newest settled one.
func (d *Dispatcher) confirm(localID string, resp *chatapi.SendMessageResponse) (chat.Message, error) {
	timestamp, err := time.Parse(time.RFC3339, resp.Timestamp)
	if err != nil {
		slog.Warn("Server returned unparseable timestamp, using local clock",
			"timestamp", resp.Timestamp, "localID", localID)
		timestamp = d.clock()
	}

	d.mu.Lock()
	msg, ok := d.messages[localID]
	if !ok || msg.Status != chat.StatusSending {
		// Already settled or discarded; never regress.
		var snapshot chat.Message
		if ok {
			snapshot = *msg
		}
		d.mu.Unlock()
		return snapshot, nil
	}

	delete(d.messages, localID)
	delete(d.sources, localID)

	msg.ID = resp.MessageID
	msg.Text = resp.Text
	msg.AudioURL = resp.AudioURL
	msg.Timestamp = timestamp
	msg.Status = chat.StatusSent
	d.messages[msg.ID] = msg

	conversationID := msg.ConversationID
	if prev, ok := d.previews[conversationID]; !ok || !timestamp.Before(prev.UpdatedAt) {
		d.previews[conversationID] = Preview{LastMessage: msg.Text, UpdatedAt: timestamp}
	}
	snapshot := *msg
	d.mu.Unlock()

	d.view.InvalidateMessages(conversationID)
	d.view.InvalidateConversations()

	slog.Info("Message confirmed",
		"localID", localID,
		"messageID", snapshot.ID,
		"conversationID", conversationID)
	return snapshot, nil
}
