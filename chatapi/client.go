package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource supplies a bearer token for outgoing requests. Returning an
// empty token means the request goes out unauthenticated.
type TokenSource func() string

// Config contains chat API client configuration.
type Config struct {
	// Base URL of the chat service, e.g. "http://localhost:3000".
	BaseURL string

	// Per-request timeout. Defaults to 30 seconds.
	Timeout time.Duration

	// Optional bearer token provider. Left nil, no Authorization header is
	// sent. This is the auth extension point; nothing in the client itself
	// manages credentials.
	Token TokenSource

	// OnUnauthorized is invoked once per 401 response before the error is
	// returned, so the owner of the session can log the user out.
	OnUnauthorized func()
}

// Client is a thin HTTP client over the chat service endpoints.
type Client struct {
	config     Config
	httpClient *http.Client
}

// New creates a chat API client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// SendMessage uploads a captured voice note as a multipart request and
// returns the server's transcription and message record.
func (c *Client) SendMessage(ctx context.Context, audio io.Reader, filename, language, conversationID string) (*SendMessageResponse, error) {
	body, contentType, err := buildSendForm(audio, filename, language, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart request: %w", err)
	}

	var resp SendMessageResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat/send", contentType, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListConversations fetches every conversation for the current user.
func (c *Client) ListConversations(ctx context.Context) (*ListConversationsResponse, error) {
	var resp ListConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListMessages fetches the message history of one conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) (*ListMessagesResponse, error) {
	var resp ListMessagesResponse
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateConversation creates a new conversation thread.
func (c *Client) CreateConversation(ctx context.Context, title, language string) (*CreateConversationResponse, error) {
	payload, err := json.Marshal(CreateConversationRequest{Title: title, Language: language})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var resp CreateConversationResponse
	if err := c.do(ctx, http.MethodPost, "/api/conversations/new", "application/json", bytes.NewReader(payload), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteConversation removes a conversation and all of its messages.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID)
	return c.do(ctx, http.MethodDelete, path, "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != nil {
		if token := c.config.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && c.config.OnUnauthorized != nil {
		slog.Warn("Chat service rejected credentials", "path", path)
		c.config.OnUnauthorized()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: serverMessage(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

func buildSendForm(audio io.Reader, filename, language, conversationID string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fileWriter, audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"language":       language,
		"conversationId": conversationID,
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// serverMessage pulls a human-readable message out of an error body. Bodies
// are either JSON with an "error" or "message" field, or plain text.
func serverMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}
