package chaterr

import (
	"fmt"
	"net/http"
)

// Action is a follow-up the UI can offer next to a notice
type Action string

const (
	ActionRetry     Action = "retry"
	ActionEdit      Action = "edit"
	ActionWait      Action = "wait"
	ActionReconnect Action = "reconnect"
	ActionSignIn    Action = "sign_in"
	ActionNewChat   Action = "new_chat"
	ActionDismiss   Action = "dismiss"
)

// Notice is the structured, user-facing form of an error
type Notice struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Retryable   bool     `json:"retryable"`
	Actions     []Action `json:"actions"`
	Neutral     bool     `json:"neutral,omitempty"`
}

// QueuedNotice is shown when a message is held for delivery after reconnecting
func QueuedNotice() *Notice {
	return &Notice{
		Title:       "Message queued",
		Description: "You're offline. Your message will be sent when you reconnect.",
		Retryable:   false,
		Actions:     []Action{ActionDismiss},
		Neutral:     true,
	}
}

// StorageWarning is the dismissible notice for a degraded storage backend
func StorageWarning(warning string) *Notice {
	return &Notice{
		Title:       "Storage warning",
		Description: warning,
		Actions:     []Action{ActionDismiss},
		Neutral:     true,
	}
}

// ToNotice converts err into a Notice
func ToNotice(err error) *Notice {
	ce := Classify(err)
	if ce == nil {
		return nil
	}

	switch ce.Kind {
	case KindNetwork:
		return &Notice{
			Title:       "Connection problem",
			Description: "We couldn't reach the chat service. Check your connection and try again.",
			Retryable:   true,
			Actions:     []Action{ActionRetry, ActionReconnect},
		}
	case KindTimeout:
		return &Notice{
			Title:       "Request timed out",
			Description: "The assistant took too long to answer. Please try again.",
			Retryable:   true,
			Actions:     []Action{ActionRetry},
		}
	case KindValidation:
		desc := ce.Message
		if desc == "" {
			desc = "Please check your message and try again."
		}
		return &Notice{
			Title:       "Message not sent",
			Description: desc,
			Retryable:   false,
			Actions:     []Action{ActionEdit},
		}
	case KindAuth:
		return &Notice{
			Title:       "Sign-in required",
			Description: "Your LINE session has expired. Please sign in again.",
			Retryable:   false,
			Actions:     []Action{ActionSignIn},
		}
	case KindStorage:
		return StorageWarning("Chat history could not be saved on this device.")
	}

	if ce.Status == http.StatusTooManyRequests {
		desc := "Too many messages in a short time. Please wait a moment."
		if ce.RetryAfter > 0 {
			desc = fmt.Sprintf("Too many messages in a short time. Please wait %d seconds.", int(ce.RetryAfter.Seconds()))
		}
		return &Notice{
			Title:       "Slow down",
			Description: desc,
			Retryable:   true,
			Actions:     []Action{ActionWait, ActionRetry},
		}
	}

	if ce.Retryable {
		return &Notice{
			Title:       "Assistant unavailable",
			Description: "The assistant is temporarily unavailable. Please try again shortly.",
			Retryable:   true,
			Actions:     []Action{ActionRetry},
		}
	}

	return &Notice{
		Title:       "Something went wrong",
		Description: "Your message could not be answered. You can try again or start a new chat.",
		Retryable:   false,
		Actions:     []Action{ActionRetry, ActionNewChat},
	}
}
