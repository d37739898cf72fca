package chatclient

import (
	"context"
	"errors"
	"sync"

	"loyalty-app/internal/chaterr"
	"loyalty-app/internal/convstore"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/offlinequeue"
	"loyalty-app/internal/retry"
	"loyalty-app/pkg/validation"

	"github.com/sirupsen/logrus"
)

// DefaultHistoryLimit is how many stored messages are sent as context with each request
const DefaultHistoryLimit = 20

// Status of a submitted message
type Status string

const (
	StatusSent   Status = "sent"
	StatusQueued Status = "queued"
	StatusFailed Status = "failed"
)

// Outcome reports what happened to a submitted message
type Outcome struct {
	Status         Status
	ConversationID string
	UserMessage    *convstore.Message
	Reply          *convstore.Message
	// Notice is set for queued and failed sends
	Notice *chaterr.Notice
	// Warning is a non-blocking storage warning
	Warning string
	// Draft holds the original text of a failed send so it can be resent without retyping
	Draft string
	Err   error
}

// SnapshotFunc receives the partial reply after every streamed delta
type SnapshotFunc func(partial string)

// Connectivity is the part of the connectivity monitor the orchestrator uses
type Connectivity interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) func()
}

// Orchestrator composes validation, storage, connectivity, retry and the offline queue
type Orchestrator struct {
	store     *convstore.Store
	queue     *offlinequeue.Queue
	monitor   Connectivity
	streamer  Streamer
	executor  *retry.Executor
	validator *validation.MessageValidator
	model     string

	historyLimit int

	// sendMu keeps replies in submission order
	sendMu sync.Mutex
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Store     *convstore.Store
	Queue     *offlinequeue.Queue
	Monitor   Connectivity
	Streamer  Streamer
	Executor  *retry.Executor
	Validator *validation.MessageValidator
	// Model is recorded in reply metadata
	Model        string
	HistoryLimit int
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Validator == nil {
		deps.Validator = validation.NewMessageValidator()
	}
	if deps.Executor == nil {
		deps.Executor = retry.NewExecutor(retry.DefaultPolicy(), retry.WithOnlineChecker(deps.Monitor))
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = DefaultHistoryLimit
	}
	return &Orchestrator{
		store:        deps.Store,
		queue:        deps.Queue,
		monitor:      deps.Monitor,
		streamer:     deps.Streamer,
		executor:     deps.Executor,
		validator:    deps.Validator,
		model:        deps.Model,
		historyLimit: deps.HistoryLimit,
	}
}

// Start flushes the offline queue whenever connectivity returns. The returned func stops it.
func (o *Orchestrator) Start(ctx context.Context) func() {
	return o.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		go o.FlushQueue(ctx)
	})
}

// Submit validates text, records it and sends it.
// Invalid text never reaches the network. While offline the message is queued instead of sent.
func (o *Orchestrator) Submit(ctx context.Context, text string, onSnapshot SnapshotFunc) Outcome {
	if reason := o.validator.Explain(text); reason != "" {
		err := chaterr.Validation(reason)
		return Outcome{Status: StatusFailed, Notice: chaterr.ToNotice(err), Draft: text, Err: err}
	}

	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	conv, warning := o.store.GetOrCreateCurrent(ctx)
	out := Outcome{ConversationID: conv.ID, Warning: warning}

	userMsg, pending := unansweredUserMessage(conv, text)
	if !pending {
		userMsg = convstore.NewMessage(convstore.RoleUser, text)
		w, err := o.store.AppendMessage(ctx, conv.ID, userMsg)
		if err != nil {
			out.Status = StatusFailed
			out.Err = err
			out.Notice = chaterr.ToNotice(chaterr.Storage(err))
			out.Draft = text
			return out
		}
		out.Warning = firstNonEmpty(out.Warning, w)
	}
	out.UserMessage = &userMsg

	if !o.monitor.IsOnline() {
		o.enqueue(conv.ID, userMsg)
		out.Status = StatusQueued
		out.Notice = chaterr.QueuedNotice()
		return out
	}

	reply, w, err := o.deliver(ctx, conv.ID, userMsg.ID, onSnapshot)
	out.Warning = firstNonEmpty(out.Warning, w)
	if err != nil {
		if chaterr.IsOffline(err) || (chaterr.IsKind(err, chaterr.KindNetwork) && !o.monitor.IsOnline()) {
			o.enqueue(conv.ID, userMsg)
			out.Status = StatusQueued
			out.Notice = chaterr.QueuedNotice()
			return out
		}

		logger.Log.WithError(err).WithField("conversation_id", conv.ID).Warn("Message send failed")
		out.Status = StatusFailed
		out.Err = err
		out.Notice = chaterr.ToNotice(err)
		out.Draft = text
		return out
	}

	out.Status = StatusSent
	out.Reply = &reply
	return out
}

// FlushQueue sends every queued message. Messages already stored are not appended again.
func (o *Orchestrator) FlushQueue(ctx context.Context) []offlinequeue.Result {
	if o.queue.Len() == 0 {
		return nil
	}

	results := o.queue.Drain(ctx, func(ctx context.Context, qm offlinequeue.QueuedMessage) error {
		o.sendMu.Lock()
		defer o.sendMu.Unlock()

		convID := qm.ConversationID
		if _, err := o.store.Conversation(ctx, convID); err != nil {
			conv, _ := o.store.GetOrCreateCurrent(ctx)
			convID = conv.ID
		}

		if !o.store.HasMessage(ctx, convID, qm.ID) {
			msg := convstore.Message{
				ID:        qm.ID,
				Role:      convstore.RoleUser,
				Content:   qm.Content,
				CreatedAt: qm.EnqueuedAt,
			}
			if _, err := o.store.AppendMessage(ctx, convID, msg); err != nil {
				return err
			}
		}

		_, _, err := o.deliver(ctx, convID, qm.ID, nil)
		return err
	})

	sent := 0
	for _, r := range results {
		if r.Outcome == offlinequeue.OutcomeSent {
			sent++
		}
	}
	logger.Log.WithFields(logrus.Fields{"sent": sent, "total": len(results)}).Info("Offline queue flushed")
	return results
}

// ClearQueue drops messages waiting for connectivity
func (o *Orchestrator) ClearQueue() int {
	return o.queue.Clear()
}

// QueuedCount returns the number of messages waiting for connectivity
func (o *Orchestrator) QueuedCount() int {
	return o.queue.Len()
}

func (o *Orchestrator) enqueue(conversationID string, msg convstore.Message) {
	for _, qm := range o.queue.List() {
		if qm.ID == msg.ID {
			return
		}
	}
	o.queue.Add(offlinequeue.QueuedMessage{
		ID:             msg.ID,
		Content:        msg.Content,
		EnqueuedAt:     msg.CreatedAt,
		ConversationID: conversationID,
	})
}

// deliver streams a reply to the user message upToID and stores it.
// Partial output from a failed attempt is discarded before the next one.
func (o *Orchestrator) deliver(ctx context.Context, conversationID, upToID string, onSnapshot SnapshotFunc) (convstore.Message, string, error) {
	conv, err := o.store.Conversation(ctx, conversationID)
	if err != nil {
		return convstore.Message{}, "", err
	}
	history := o.history(conv, upToID)

	acc := NewAccumulator()
	err = o.executor.Run(ctx, func(ctx context.Context) error {
		acc.Reset()
		chunks, err := o.streamer.Stream(ctx, history)
		if err != nil {
			return err
		}
		for c := range chunks {
			if c.Err != nil {
				return c.Err
			}
			snapshot := acc.Append(c.Delta)
			if onSnapshot != nil {
				onSnapshot(snapshot)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if acc.Parts() == 0 {
			return &chaterr.Error{Kind: chaterr.KindService, Code: "empty_response", Message: "assistant returned an empty reply"}
		}
		return nil
	})
	if err != nil {
		return convstore.Message{}, "", err
	}

	var metadata *convstore.MessageMetadata
	if o.model != "" {
		metadata = &convstore.MessageMetadata{Model: o.model}
	}
	reply := acc.Finalize(metadata)

	warning, err := o.store.AppendMessage(ctx, conversationID, reply)
	if err != nil {
		if errors.Is(err, convstore.ErrConversationNotFound) {
			logger.Log.WithField("conversation_id", conversationID).Warn("Conversation deleted before reply arrived")
		}
		return reply, "", err
	}
	return reply, warning, nil
}

// history converts the conversation up to and including upToID into request messages
func (o *Orchestrator) history(conv convstore.Conversation, upToID string) []WireMessage {
	end := len(conv.Messages)
	for i, m := range conv.Messages {
		if m.ID == upToID {
			end = i + 1
			break
		}
	}
	start := 0
	if end-start > o.historyLimit {
		start = end - o.historyLimit
	}

	out := make([]WireMessage, 0, end-start)
	for _, m := range conv.Messages[start:end] {
		out = append(out, WireMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// unansweredUserMessage returns the trailing user message when it has the same text and no
// reply yet, so resending a failed draft does not duplicate it
func unansweredUserMessage(conv convstore.Conversation, text string) (convstore.Message, bool) {
	if len(conv.Messages) == 0 {
		return convstore.Message{}, false
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role == convstore.RoleUser && last.Content == text {
		return last, true
	}
	return convstore.Message{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
