// Package chat holds the conversation types shared by the relay, the stream
// client, the turn state machine and the transcript store.
package chat

import (
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn of a transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Failed marks a user message whose turn got no reply. It is kept on
	// screen but never sent upstream or saved.
	Failed bool `json:"-"`
}

// Transcript is an ordered sequence of turns.
type Transcript []Message

// Clone returns a deep copy so callers never share backing arrays.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Settled returns the transcript without failed turns.
func (t Transcript) Settled() Transcript {
	out := make(Transcript, 0, len(t))
	for _, m := range t {
		if !m.Failed {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the final message, if any.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// ValidateRequest checks that a transcript can be sent for completion: it must
// be non-empty, hold only known roles, and end with a user message.
func ValidateRequest(t Transcript) error {
	if len(t) == 0 {
		return fmt.Errorf("%w: transcript is empty", ErrValidation)
	}
	for i, m := range t {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("%w: message %d has unknown role %q", ErrValidation, i, m.Role)
		}
	}
	if last, _ := t.Last(); last.Role != RoleUser {
		return fmt.Errorf("%w: transcript must end with a user message", ErrValidation)
	}
	return nil
}

// IsBlank reports whether text carries no submittable content.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
