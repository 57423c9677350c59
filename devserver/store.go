package devserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlachat/parla/chat"
)

// memStore is the in-memory conversation store behind the dev server. It
// stands in for the real backend's database.
type memStore struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation
	messages      map[string][]chat.Message
	audio         map[string][]byte // message id -> uploaded WAV bytes
	clock         func() time.Time
}

func newMemStore(seed bool) *memStore {
	s := &memStore{
		conversations: make(map[string]*chat.Conversation),
		messages:      make(map[string][]chat.Message),
		audio:         make(map[string][]byte),
		clock:         time.Now,
	}
	if seed {
		s.seed()
	}
	return s
}

// seed loads the mock conversations the app ships with.
func (s *memStore) seed() {
	now := s.clock()
	seeds := []struct {
		title    string
		language string
		greeting string
	}{
		{"Travel Planning", "en", "Hi! Where would you like to go?"},
		{"Food & Dining", "es", "¡Hola! ¿Qué te gustaría comer hoy?"},
		{"Daily Practice", "fr", "Bonjour ! Prêt à pratiquer ?"},
	}

	for i, seed := range seeds {
		id := uuid.NewString()
		created := now.Add(-time.Duration(len(seeds)-i) * time.Hour)
		s.conversations[id] = &chat.Conversation{
			ID:          id,
			Title:       seed.title,
			Language:    seed.language,
			LastMessage: seed.greeting,
			CreatedAt:   created,
			UpdatedAt:   created,
		}
		s.messages[id] = []chat.Message{{
			ID:             uuid.NewString(),
			ConversationID: id,
			Sender:         chat.SenderBot,
			Text:           seed.greeting,
			Language:       seed.language,
			Timestamp:      created,
		}}
	}
}

func (s *memStore) listConversations() []chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *memStore) getConversation(id string) (chat.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, false
	}
	return *conv, true
}

func (s *memStore) createConversation(title, language string) chat.Conversation {
	now := s.clock()
	conv := &chat.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if conv.Title == "" {
		conv.Title = "New Conversation"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = nil
	return *conv
}

// deleteConversation removes the conversation and cascades over its
// messages and stored audio.
func (s *memStore) deleteConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return false
	}
	for _, msg := range s.messages[id] {
		delete(s.audio, msg.ID)
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return true
}

func (s *memStore) listMessages(conversationID string) ([]chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, false
	}
	msgs := s.messages[conversationID]
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, true
}

// appendMessage stores a message and bumps the owning conversation's
// preview.
func (s *memStore) appendMessage(msg chat.Message, audioData []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	if audioData != nil {
		s.audio[msg.ID] = audioData
	}
	if conv, ok := s.conversations[msg.ConversationID]; ok && !msg.Timestamp.Before(conv.UpdatedAt) {
		conv.LastMessage = msg.Text
		conv.UpdatedAt = msg.Timestamp
	}
}

func (s *memStore) getAudio(messageID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.audio[messageID]
	return data, ok
}
