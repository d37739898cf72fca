package chatclient

import (
	"strings"
	"sync"
	"time"

	"loyalty-app/internal/convstore"
)

// Accumulator collects streamed deltas for one in-flight reply.
// Every Append yields the full text so far; Finalize turns it into an immutable message.
type Accumulator struct {
	mu    sync.Mutex
	text  strings.Builder
	parts int
}

// NewAccumulator creates an empty Accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append adds delta and returns the snapshot
func (a *Accumulator) Append(delta string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.text.WriteString(delta)
	a.parts++
	return a.text.String()
}

// Snapshot returns the text accumulated so far
func (a *Accumulator) Snapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

// Parts returns how many deltas were appended
func (a *Accumulator) Parts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.parts
}

// Reset discards partial output, e.g. before a retry
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.text.Reset()
	a.parts = 0
}

// Finalize builds the assistant message from everything appended
func (a *Accumulator) Finalize(metadata *convstore.MessageMetadata) convstore.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg := convstore.Message{
		ID:        convstore.NewID(),
		Role:      convstore.RoleAssistant,
		Content:   a.text.String(),
		CreatedAt: convstore.Timestamp(time.Now()),
	}
	if metadata != nil {
		md := *metadata
		msg.Metadata = &md
	}
	return msg
}
