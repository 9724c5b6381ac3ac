package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const conversationFile = "conversation.json"

// ErrNoTarget is returned when there is no .oryx/ directory to write into.
var ErrNoTarget = errors.New("no .oryx directory found (run \"oryx init\" first)")

// Conversation is the persisted pointer to the last chat, so the next
// "oryx chat --resume" continues it on the agent side.
type Conversation struct {
	// ConversationID is the backend conversation the next turn continues.
	ConversationID string `json:"conversation_id"`

	// AgentID is the agent the conversation belongs to.
	AgentID string `json:"agent_id,omitempty"`

	// Transcript is the local view of the exchange, oldest first.
	Transcript []TranscriptEntry `json:"transcript,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// TranscriptEntry is one message of a saved conversation.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LoadConversation loads .oryx/conversation.json.
// Returns nil, nil if nothing has been saved yet.
func (m *Manager) LoadConversation(overrideDir string) (*Conversation, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, conversationFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading conversation: %w", err)
	}

	conv := &Conversation{}
	if err := json.Unmarshal(data, conv); err != nil {
		return nil, fmt.Errorf("parsing conversation: %w", err)
	}

	return conv, nil
}

// SaveConversation persists conv to .oryx/conversation.json.
func (m *Manager) SaveConversation(conv *Conversation, overrideDir string) error {
	if conv == nil {
		return errors.New("cannot save nil conversation")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}
	if dir == "" {
		return ErrNoTarget
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling conversation: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, conversationFile), data, 0o600); err != nil {
		return fmt.Errorf("writing conversation: %w", err)
	}

	return nil
}

// ClearConversation removes the saved conversation so the next chat starts
// fresh. Returns nil if nothing was saved.
func (m *Manager) ClearConversation(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}
	if dir == "" {
		return nil
	}

	if err := os.Remove(filepath.Join(dir, conversationFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing conversation: %w", err)
	}

	return nil
}
