package validation

import (
	"errors"
	"fmt"
)

// DefaultMaxChatTurns bounds the history a client may send in one chat request
const DefaultMaxChatTurns = 50

// ChatTurn is the part of a chat request message the validator inspects
type ChatTurn struct {
	Role    string
	Content string
}

// ChatRequestValidator validates chat-related requests
type ChatRequestValidator struct {
	messages *MessageValidator
	maxTurns int
}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator(messages *MessageValidator) *ChatRequestValidator {
	if messages == nil {
		messages = NewMessageValidator()
	}
	return &ChatRequestValidator{
		messages: messages,
		maxTurns: DefaultMaxChatTurns,
	}
}

// WithMaxTurns overrides the history limit; non-positive values keep the default
func (v *ChatRequestValidator) WithMaxTurns(n int) *ChatRequestValidator {
	if n > 0 {
		v.maxTurns = n
	}
	return v
}

// ValidateRole validates a message role
func (v *ChatRequestValidator) ValidateRole(role string) error {
	switch role {
	case "user", "assistant":
		return nil
	case "":
		return errors.New("role cannot be empty")
	default:
		return fmt.Errorf("role must be one of: user, assistant; got %s", role)
	}
}

// ValidateMessage validates the text of a user message
func (v *ChatRequestValidator) ValidateMessage(message string) error {
	if reason := v.messages.Explain(message); reason != "" {
		return errors.New(reason)
	}
	return nil
}

// ValidateChatRequest validates a complete chat request.
// Assistant turns are history and are only checked for a known role.
func (v *ChatRequestValidator) ValidateChatRequest(turns []ChatTurn) error {
	if len(turns) == 0 {
		return errors.New("messages cannot be empty")
	}

	if len(turns) > v.maxTurns {
		return fmt.Errorf("messages must contain at most %d entries, got %d", v.maxTurns, len(turns))
	}

	for i, turn := range turns {
		if err := v.ValidateRole(turn.Role); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}

	last := turns[len(turns)-1]
	if last.Role != "user" {
		return errors.New("last message must be from the user")
	}

	return v.ValidateMessage(last.Content)
}
