package appstate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/parlachat/parla/chat"
)

// Preferences are the user's cross-screen settings.
type Preferences struct {
	DefaultLanguage      string `json:"defaultLanguage"`
	Theme                string `json:"theme"`
	AudioAutoplay        bool   `json:"audioAutoplay"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

// Auth is the persisted authentication state.
type Auth struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	Token         string `json:"token,omitempty"`
}

// persisted is the subset of state that survives restarts. Current
// conversation and playback state are session-only.
type persisted struct {
	Onboarded   bool        `json:"onboarded"`
	Preferences Preferences `json:"preferences"`
	Auth        Auth        `json:"auth"`
}

// Store is the process-wide application state container. It is hydrated
// once with Load and saved on every mutation; there is no implicit
// teardown. All access goes through methods so the invariants (the
// onboarding flag only ever moves to true, preferences stay valid) are
// enforced in one place.
type Store struct {
	mu   sync.Mutex
	path string
	s    persisted

	currentConversationID string
	playingMessageID      string
}

func defaults() persisted {
	return persisted{
		Preferences: Preferences{
			DefaultLanguage:      chat.DefaultLanguage,
			Theme:                "dark",
			AudioAutoplay:        false,
			NotificationsEnabled: true,
		},
	}
}

// Load hydrates the store from its JSON file. A missing file yields default
// state; any other read failure is an error.
func Load(path string) (*Store, error) {
	st := &Store{path: path, s: defaults()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Debug("No persisted state found, starting fresh", "path", path)
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &st.s); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if st.s.Preferences.DefaultLanguage == "" || !chat.SupportedLanguage(st.s.Preferences.DefaultLanguage) {
		st.s.Preferences.DefaultLanguage = chat.DefaultLanguage
	}
	return st, nil
}

// Onboarded reports whether onboarding has been completed.
func (st *Store) Onboarded() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Onboarded
}

// CompleteOnboarding marks onboarding done. The flag is monotonic; there is
// no way to unset it.
func (st *Store) CompleteOnboarding() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.Onboarded {
		return nil
	}
	st.s.Onboarded = true
	return st.saveLocked()
}

// Preferences returns a copy of the current preferences.
func (st *Store) Preferences() Preferences {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Preferences
}

// UpdatePreferences applies mutate to the preferences and persists the
// result. An unsupported default language is rejected.
func (st *Store) UpdatePreferences(mutate func(*Preferences)) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	updated := st.s.Preferences
	mutate(&updated)
	if !chat.SupportedLanguage(updated.DefaultLanguage) {
		return fmt.Errorf("unsupported default language %q", updated.DefaultLanguage)
	}

	st.s.Preferences = updated
	return st.saveLocked()
}

// Auth returns a copy of the current auth state.
func (st *Store) Auth() Auth {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Auth
}

// SetAuth replaces the auth state and persists it.
func (st *Store) SetAuth(auth Auth) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Auth = auth
	return st.saveLocked()
}

// Token returns the current bearer token, empty when logged out. Suitable as
// the chat API client's token source.
func (st *Store) Token() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Auth.Token
}

// Logout clears the auth state and the current conversation.
func (st *Store) Logout() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Auth = Auth{}
	st.currentConversationID = ""
	return st.saveLocked()
}

// HandleUnauthorized is wired as the chat API client's 401 hook. Failures
// saving the cleared state are logged, not surfaced; the session is gone
// either way.
func (st *Store) HandleUnauthorized() {
	slog.Warn("Session invalidated by server, logging out")
	if err := st.Logout(); err != nil {
		slog.Error("Failed to persist logout", "error", err)
	}
}

// SetCurrentConversation records which conversation is open.
func (st *Store) SetCurrentConversation(conversationID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.currentConversationID = conversationID
}

// CurrentConversation returns the open conversation id, empty when none.
func (st *Store) CurrentConversation() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.currentConversationID
}

// SetPlaying records which message's audio is playing. Empty id means
// nothing is playing.
func (st *Store) SetPlaying(messageID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.playingMessageID = messageID
}

// NowPlaying returns the id of the message whose audio is playing.
func (st *Store) NowPlaying() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.playingMessageID
}

// saveLocked writes the persisted subset atomically (write then rename).
func (st *Store) saveLocked() error {
	data, err := json.MarshalIndent(st.s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
