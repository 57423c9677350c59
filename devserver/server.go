package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/parlachat/parla/chat"
	"github.com/parlachat/parla/chatapi"
)

// Configuration for the dev server
type Config struct {
	// HTTP server address
	Addr string

	// Seed the store with the app's mock conversations
	Seed bool
}

// Server is an in-process stand-in for the remote chat service. It
// implements the same HTTP surface the client consumes, backed by an
// in-memory store, and pushes message events to WebSocket subscribers.
type Server struct {
	config Config
	store  *memStore

	subscribers sync.Map // map[string][]*wsConnection, keyed by conversation id

	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates a dev server instance.
func New(config Config) *Server {
	if config.Addr == "" {
		config.Addr = ":3000"
	}

	s := &Server{
		config: config,
		store:  newMemStore(config.Seed),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local development only
			},
		},
	}
	s.server = &http.Server{
		Addr:    config.Addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the server's route table, usable directly in tests.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/chat/send", s.handleSend).Methods("POST")
	router.HandleFunc("/api/conversations", s.handleListConversations).Methods("GET")
	router.HandleFunc("/api/conversations/new", s.handleCreateConversation).Methods("POST")
	router.HandleFunc("/api/conversations/{conversationID}/messages", s.handleListMessages).Methods("GET")
	router.HandleFunc("/api/conversations/{conversationID}", s.handleDeleteConversation).Methods("DELETE")
	router.HandleFunc("/audio/{messageID}", s.handleAudio).Methods("GET")
	router.HandleFunc("/ws/{conversationID}", s.handleWebSocket)

	return router
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		slog.Info("Dev chat server listening", "addr", s.config.Addr)
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("Dev server error", "error", err)
		}
	}()

	<-ctx.Done()
	return s.server.Shutdown(context.Background())
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop dev server: %w", err)
	}
	return nil
}

// handleSend accepts a multipart voice upload, fabricates a transcription
// and a bot echo reply, and bumps the conversation.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	language := r.FormValue("language")
	conversationID := r.FormValue("conversationId")
	if !chat.SupportedLanguage(language) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported language %q", language))
		return
	}
	if _, ok := s.store.getConversation(conversationID); !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read audio")
		return
	}

	now := time.Now().UTC().Truncate(time.Second)
	userMsg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         chat.SenderUser,
		Text:           fmt.Sprintf("Voice note (%.1f KB)", float64(len(audioData))/1024),
		Language:       language,
		Timestamp:      now,
	}
	userMsg.AudioURL = audioURL(r, userMsg.ID)

	botMsg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         chat.SenderBot,
		Text:           fmt.Sprintf("You said: %s", userMsg.Text),
		Language:       language,
		Timestamp:      now.Add(time.Second),
	}

	s.store.appendMessage(userMsg, audioData)
	s.store.appendMessage(botMsg, nil)
	s.notifySubscribers(userMsg)
	s.notifySubscribers(botMsg)

	slog.Info("Dev server accepted voice message",
		"conversationID", conversationID,
		"messageID", userMsg.ID,
		"bytes", len(audioData))

	writeJSON(w, http.StatusOK, chatapi.SendMessageResponse{
		MessageID: userMsg.ID,
		Text:      userMsg.Text,
		AudioURL:  userMsg.AudioURL,
		Timestamp: userMsg.Timestamp.Format(time.RFC3339),
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chatapi.ListConversationsResponse{
		Conversations: s.store.listConversations(),
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationID"]

	messages, ok := s.store.listMessages(conversationID)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, chatapi.ListMessagesResponse{Messages: messages})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req chatapi.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !chat.SupportedLanguage(req.Language) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported language %q", req.Language))
		return
	}

	conv := s.store.createConversation(req.Title, req.Language)
	slog.Info("Dev server created conversation", "conversationID", conv.ID, "title", conv.Title)

	writeJSON(w, http.StatusOK, chatapi.CreateConversationResponse{
		ConversationID: conv.ID,
		Title:          conv.Title,
		CreatedAt:      conv.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationID"]

	if !s.store.deleteConversation(conversationID) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	slog.Info("Dev server deleted conversation", "conversationID", conversationID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	messageID := mux.Vars(r)["messageID"]

	data, ok := s.store.getAudio(messageID)
	if !ok {
		writeError(w, http.StatusNotFound, "audio not found")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Write(data)
}

func audioURL(r *http.Request, messageID string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/audio/%s", scheme, r.Host, messageID)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
