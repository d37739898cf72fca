// Package offlinequeue holds chat messages that could not be sent while offline.
package offlinequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"loyalty-app/internal/convstore"
	"loyalty-app/internal/logger"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxRetries is how many failed drains a message survives before it is dropped
	DefaultMaxRetries = 3
	// PersistKey is the key the queue is stored under
	PersistKey = "liff-chat-queue"
)

// QueuedMessage is a message waiting for connectivity
type QueuedMessage struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	RetryCount int       `json:"retryCount"`

	// ConversationID is the conversation the message was typed in, if known
	ConversationID string `json:"conversationId,omitempty"`
}

// Outcome of one message in a drain
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeRequeued Outcome = "requeued"
	OutcomeDropped  Outcome = "dropped"
)

// Result is the settled result for one drained message
type Result struct {
	Message QueuedMessage
	Outcome Outcome
	Err     error
}

// SendFunc delivers one queued message
type SendFunc func(ctx context.Context, msg QueuedMessage) error

// Persister stores the queue between runs. *convstore.Store satisfies it.
type Persister interface {
	Value(ctx context.Context, key string) ([]byte, error)
	SetValue(ctx context.Context, key string, value []byte) error
}

// Queue is a FIFO of messages held while offline. Safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	items      []QueuedMessage
	inflight   map[string]QueuedMessage
	maxRetries int
	now        func() time.Time
	persister  Persister
}

// New creates a Queue that drops a message once its retry count reaches maxRetries
func New(maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{maxRetries: maxRetries, now: time.Now, inflight: make(map[string]QueuedMessage)}
}

// WithPersister saves the queue through p after every change
func (q *Queue) WithPersister(p Persister) *Queue {
	q.persister = p
	return q
}

// Restore loads messages saved by a previous run, keeping enqueue order.
// Messages already queued are not duplicated.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.persister == nil {
		return 0, nil
	}

	raw, err := q.persister.Value(ctx, PersistKey)
	if errors.Is(err, convstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error reading offline queue: %w", err)
	}

	var saved []QueuedMessage
	if err := json.Unmarshal(raw, &saved); err != nil {
		return 0, fmt.Errorf("error decoding offline queue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	known := make(map[string]bool, len(q.items))
	for _, m := range q.items {
		known[m.ID] = true
	}
	restored := 0
	for _, m := range saved {
		if m.ID == "" || known[m.ID] {
			continue
		}
		known[m.ID] = true
		q.items = append(q.items, m)
		restored++
	}
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].EnqueuedAt.Before(q.items[j].EnqueuedAt)
	})

	if restored > 0 {
		logger.Log.WithField("count", restored).Info("Restored offline queue")
	}
	return restored, nil
}

// persistLocked saves queued and in-flight messages, so a crash mid-drain loses nothing
func (q *Queue) persistLocked() {
	if q.persister == nil {
		return
	}

	pending := make([]QueuedMessage, 0, len(q.items)+len(q.inflight))
	pending = append(pending, q.items...)
	for _, m := range q.inflight {
		pending = append(pending, m)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].EnqueuedAt.Before(pending[j].EnqueuedAt)
	})

	payload, err := json.Marshal(pending)
	if err == nil {
		err = q.persister.SetValue(context.Background(), PersistKey, payload)
	}
	if err != nil {
		logger.Log.WithError(err).WithField("queue_size", len(pending)).Warn("Failed to save offline queue")
	}
}

// Enqueue adds content and returns its id
func (q *Queue) Enqueue(content string) string {
	return q.Add(QueuedMessage{Content: content})
}

// Add queues msg, filling in the id and enqueue time when missing, and returns its id
func (q *Queue) Add(msg QueuedMessage) string {
	if msg.ID == "" {
		msg.ID = convstore.NewID()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = convstore.Timestamp(q.now())
	}
	msg.RetryCount = 0

	q.mu.Lock()
	q.items = append(q.items, msg)
	size := len(q.items)
	q.persistLocked()
	q.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{"queue_id": msg.ID, "queue_size": size}).Info("Message queued for later delivery")
	return msg.ID
}

// List returns the queued messages oldest first
func (q *Queue) List() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueuedMessage, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards every queued message and returns how many there were
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	q.persistLocked()
	return n
}

// requeueLocked puts msg back keeping enqueue order
func (q *Queue) requeueLocked(msg QueuedMessage) {
	i := len(q.items)
	for i > 0 && q.items[i-1].EnqueuedAt.After(msg.EnqueuedAt) {
		i--
	}
	q.items = append(q.items, QueuedMessage{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = msg
}

// settle marks msg as no longer in flight, requeueing it when asked, and saves the queue
func (q *Queue) settle(msg QueuedMessage, requeue bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, msg.ID)
	if requeue {
		q.requeueLocked(msg)
	}
	q.persistLocked()
}

// Drain takes every queued message and sends them one at a time, oldest first.
// The queue is emptied before any send starts, so concurrent drains never send a message twice.
// A failed message is requeued with an incremented retry count, or dropped at the limit,
// and the remaining messages are still sent.
// Results are returned in enqueue order.
func (q *Queue) Drain(ctx context.Context, send SendFunc) []Result {
	q.mu.Lock()
	batch := q.items
	q.items = nil
	for _, m := range batch {
		q.inflight[m.ID] = m
	}
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	logger.Log.WithField("count", len(batch)).Info("Draining offline queue")

	results := make([]Result, 0, len(batch))
	for _, msg := range batch {
		results = append(results, q.deliver(ctx, send, msg))
	}
	return results
}

func (q *Queue) deliver(ctx context.Context, send SendFunc, msg QueuedMessage) Result {
	err := send(ctx, msg)
	if err == nil {
		q.settle(msg, false)
		return Result{Message: msg, Outcome: OutcomeSent}
	}

	msg.RetryCount++
	if msg.RetryCount >= q.maxRetries {
		q.settle(msg, false)
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"queue_id":    msg.ID,
			"retry_count": msg.RetryCount,
		}).Warn("Dropping queued message after repeated failures")
		return Result{Message: msg, Outcome: OutcomeDropped, Err: err}
	}

	q.settle(msg, true)
	logger.Log.WithError(err).WithFields(logrus.Fields{
		"queue_id":    msg.ID,
		"retry_count": msg.RetryCount,
	}).Info("Requeued message after failed send")
	return Result{Message: msg, Outcome: OutcomeRequeued, Err: err}
}
