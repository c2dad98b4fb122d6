// Package chat holds the per-session conversation state of the interactive
// front end and the service that streams an assistant turn into it.
package chat

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/modelrelay/modelrelay/internal/conversation"
)

// ErrGenerationActive is returned when the conversation is changed while an
// assistant turn is still pending.
var ErrGenerationActive = errors.New("chat: a response is still being generated")

// State is one chat session. It is owned by a single front end but may be read
// while a response is streaming into it.
type State struct {
	mu sync.Mutex

	SessionID    string
	ModelName    string
	SystemPrompt string
	Messages     []conversation.Message
	SkipNext     bool
}

// NewState starts a session for model.
func NewState(model, systemPrompt string) *State {
	return &State{
		SessionID:    newSessionID(),
		ModelName:    model,
		SystemPrompt: systemPrompt,
	}
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AddText appends a user turn followed by a pending assistant turn. Blank input
// only sets SkipNext so the following Respond does nothing. Input longer than
// limit runes is truncated.
func (s *State) AddText(text string, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingLocked() {
		return ErrGenerationActive
	}
	if strings.TrimSpace(text) == "" {
		s.SkipNext = true
		return nil
	}
	if limit > 0 {
		if runes := []rune(text); len(runes) > limit {
			text = string(runes[:limit])
		}
	}
	s.Messages = append(s.Messages,
		conversation.Message{Role: conversation.RoleUser, Content: text},
		conversation.Message{Role: conversation.RoleAssistant, Pending: true},
	)
	s.SkipNext = false
	return nil
}

// Regenerate resets the last assistant turn to pending. It reports false when
// there is no assistant turn to redo.
func (s *State) Regenerate() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingLocked() {
		return false, ErrGenerationActive
	}
	n := len(s.Messages)
	if n == 0 || s.Messages[n-1].Role != conversation.RoleAssistant {
		return false, nil
	}
	s.Messages[n-1] = conversation.Message{Role: conversation.RoleAssistant, Pending: true}
	s.SkipNext = false
	return true, nil
}

// Clear drops the history and starts a new session id.
func (s *State) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingLocked() {
		return ErrGenerationActive
	}
	s.SessionID = newSessionID()
	s.Messages = nil
	s.SkipNext = false
	return nil
}

// Turns returns a copy of the messages.
func (s *State) Turns() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]conversation.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Session returns the current session id.
func (s *State) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SessionID
}

// Pending reports whether the last turn is an assistant turn awaiting text.
func (s *State) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *State) pendingLocked() bool {
	n := len(s.Messages)
	return n > 0 && s.Messages[n-1].Pending
}

// takeSkip returns and clears SkipNext.
func (s *State) takeSkip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	skip := s.SkipNext
	s.SkipNext = false
	return skip
}

// finalize writes text into the pending assistant turn.
func (s *State) finalize(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.Messages); n > 0 && s.Messages[n-1].Pending {
		s.Messages[n-1] = conversation.Message{Role: conversation.RoleAssistant, Content: text}
	}
}

func (s *State) prompt(tpl conversation.Template) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tpl.Prompt(s.SystemPrompt, s.Messages)
}
