package chatapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, config Config) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config.BaseURL = server.URL
	client, err := New(config)
	require.NoError(t, err)
	return client
}

func TestSendMessageMultipart(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat/send", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "en", r.FormValue("language"))
		assert.Equal(t, "1", r.FormValue("conversationId"))

		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "a.wav", header.Filename)

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "wav-bytes", string(data))

		json.NewEncoder(w).Encode(SendMessageResponse{
			MessageID: "42",
			Text:      "hello",
			AudioURL:  "https://x/a.mp3",
			Timestamp: "2025-06-01T12:00:00Z",
		})
	})

	client := newTestClient(t, handler, Config{})

	resp, err := client.SendMessage(context.Background(), strings.NewReader("wav-bytes"), "a.wav", "en", "1")
	require.NoError(t, err)
	assert.Equal(t, "42", resp.MessageID)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "https://x/a.mp3", resp.AudioURL)
}

func TestBearerTokenInjection(t *testing.T) {
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(ListConversationsResponse{})
	})

	client := newTestClient(t, handler, Config{
		Token: func() string { return "tok-123" },
	})

	_, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestNoAuthHeaderWithoutTokenSource(t *testing.T) {
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(ListConversationsResponse{})
	})

	client := newTestClient(t, handler, Config{})

	_, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestStatusErrorCarriesServerMessage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "database on fire"})
	})

	client := newTestClient(t, handler, Config{})

	_, err := client.ListConversations(context.Background())
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, "database on fire", statusErr.Message)
}

func TestUnauthorizedInvokesHook(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	hookCalls := 0
	client := newTestClient(t, handler, Config{
		OnUnauthorized: func() { hookCalls++ },
	})

	_, err := client.ListConversations(context.Background())
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Equal(t, 1, hookCalls)
}

func TestRequestTimeout(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	client := newTestClient(t, handler, Config{Timeout: 20 * time.Millisecond})

	_, err := client.ListConversations(context.Background())
	require.Error(t, err)
}

func TestDeleteConversation(t *testing.T) {
	var gotPath, gotMethod string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	})

	client := newTestClient(t, handler, Config{})

	require.NoError(t, client.DeleteConversation(context.Background(), "abc"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/conversations/abc", gotPath)
}

func TestCreateConversation(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/conversations/new", r.URL.Path)

		var req CreateConversationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Trip", req.Title)
		assert.Equal(t, "en", req.Language)

		json.NewEncoder(w).Encode(CreateConversationResponse{
			ConversationID: "c1",
			Title:          req.Title,
			CreatedAt:      "2025-06-01T12:00:00Z",
		})
	})

	client := newTestClient(t, handler, Config{})

	resp, err := client.CreateConversation(context.Background(), "Trip", "en")
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.ConversationID)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
