// Package convstore persists the chat history on the client. State is written through a
// ranked list of backends; when one refuses a read or write the next is used instead.
package convstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"loyalty-app/internal/logger"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultKey is the key the history document is stored under in every backend
	DefaultKey = "liff-chat-store"
	// DefaultPruneKeep is how many conversations survive a quota prune
	DefaultPruneKeep = 10

	SourceDefault = "default"
)

// Warnings surfaced to the user when storage degrades
const (
	WarningTemporaryStorage = "Using temporary storage. Chat history may not be kept after you close the app."
	WarningLoadFailed       = "Unable to load chat history."
	WarningPruned           = "Older conversations were removed to free up space."
	WarningSaveFailed       = "Unable to save chat history on this device."
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrAllBackendsFailed    = errors.New("no storage backend accepted the write")
)

// Options configure a Store
type Options struct {
	Key       string
	PruneKeep int
	Now       func() time.Time
}

// LoadResult describes where the history came from
type LoadResult struct {
	Data    Data
	Source  string
	Warning string
}

// Store owns the persisted history. Callers only ever receive copies.
type Store struct {
	mu       sync.Mutex
	backends []Backend
	key      string
	keep     int
	now      func() time.Time

	data   Data
	loaded bool
	source string
}

// New creates a Store over backends, highest priority first
func New(backends []Backend, opts Options) *Store {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.PruneKeep <= 0 {
		opts.PruneKeep = DefaultPruneKeep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backends: backends,
		key:      opts.Key,
		keep:     opts.PruneKeep,
		now:      opts.Now,
	}
}

// Load reads the history from the first backend that has it.
// A backend without the key is skipped silently; a failing backend adds a warning.
func (s *Store) Load(ctx context.Context) LoadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.loadLocked(ctx)
	res.Data = s.data.clone()
	return res
}

func (s *Store) loadLocked(ctx context.Context) LoadResult {
	s.loaded = true
	s.data = Data{}
	s.source = SourceDefault

	failed := false
	for i, b := range s.backends {
		raw, err := b.Get(ctx, s.key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			failed = true
			logger.Log.WithError(err).WithField("backend", b.Name()).Warn("Failed to read chat history")
			continue
		}

		var data Data
		if err := json.Unmarshal(raw, &data); err != nil {
			failed = true
			logger.Log.WithError(err).WithField("backend", b.Name()).Warn("Stored chat history is corrupt")
			continue
		}

		s.data = data
		s.source = b.Name()
		s.repairLocked()

		logger.Log.WithFields(logrus.Fields{
			"backend":       b.Name(),
			"conversations": len(data.Conversations),
		}).Debug("Loaded chat history")

		res := LoadResult{Source: b.Name()}
		if i > 0 {
			res.Warning = WarningTemporaryStorage
		}
		return res
	}

	res := LoadResult{Source: SourceDefault}
	if failed {
		res.Warning = WarningLoadFailed
	}
	return res
}

// repairLocked drops a current reference that no longer resolves
func (s *Store) repairLocked() {
	if s.data.CurrentConversationID == "" {
		return
	}
	if s.data.indexOf(s.data.CurrentConversationID) < 0 {
		logger.Log.WithField("conversation_id", s.data.CurrentConversationID).Warn("Current conversation missing, clearing reference")
		s.data.CurrentConversationID = ""
	}
}

func (s *Store) ensureLoaded(ctx context.Context) {
	if !s.loaded {
		s.loadLocked(ctx)
	}
}

// Source returns the backend the history was loaded from
func (s *Store) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Save replaces the whole history and persists it
func (s *Store) Save(ctx context.Context, data Data) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loaded = true
	s.data = data.clone()
	s.repairLocked()
	return s.persistLocked(ctx)
}

// persistLocked writes the current state through the backend ranking.
// On a quota error the history is pruned and the same backend retried before moving on.
func (s *Store) persistLocked(ctx context.Context) (string, error) {
	payload, err := json.Marshal(s.data)
	if err != nil {
		return "", fmt.Errorf("error encoding chat history: %w", err)
	}

	var lastErr error
	for i, b := range s.backends {
		err := b.Set(ctx, s.key, payload)
		if err == nil {
			s.source = b.Name()
			if i > 0 {
				return WarningTemporaryStorage, nil
			}
			return "", nil
		}

		if errors.Is(err, ErrQuotaExceeded) {
			if pruned, ok := s.prunedLocked(); ok {
				prunedPayload, mErr := json.Marshal(pruned)
				if mErr == nil {
					retryErr := b.Set(ctx, s.key, prunedPayload)
					if retryErr == nil {
						logger.Log.WithFields(logrus.Fields{
							"backend": b.Name(),
							"before":  len(s.data.Conversations),
							"after":   len(pruned.Conversations),
						}).Info("Pruned chat history to fit storage quota")
						s.data = pruned
						s.source = b.Name()
						return WarningPruned, nil
					}
					err = retryErr
				}
			}
		}

		logger.Log.WithError(err).WithField("backend", b.Name()).Warn("Storage backend refused write")
		lastErr = err
	}

	if lastErr == nil {
		lastErr = ErrUnavailable
	}
	return "", fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// Value reads an auxiliary document stored next to the history, from the first backend holding key
func (s *Store) Value(ctx context.Context, key string) ([]byte, error) {
	for _, b := range s.backends {
		raw, err := b.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			logger.Log.WithError(err).WithFields(logrus.Fields{"backend": b.Name(), "key": key}).Warn("Failed to read stored value")
			continue
		}
		return raw, nil
	}
	return nil, ErrNotFound
}

// SetValue writes an auxiliary document to the highest ranked backend that accepts it.
// Copies in the other backends are removed so Value never returns a stale one.
func (s *Store) SetValue(ctx context.Context, key string, value []byte) error {
	var lastErr error
	for i, b := range s.backends {
		if err := b.Set(ctx, key, value); err != nil {
			lastErr = err
			continue
		}
		for j, other := range s.backends {
			if j != i {
				_ = other.Remove(ctx, key)
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = ErrUnavailable
	}
	return fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// prunedLocked keeps the most recently updated conversations and always the current one.
// It reports false when there is nothing to drop.
func (s *Store) prunedLocked() (Data, bool) {
	if len(s.data.Conversations) <= s.keep {
		return Data{}, false
	}

	ranked := make([]Conversation, len(s.data.Conversations))
	copy(ranked, s.data.Conversations)
	sortByRecency(ranked)

	keep := make(map[string]bool, s.keep)
	current := s.data.CurrentConversationID
	if current != "" {
		keep[current] = true
	}
	for _, c := range ranked {
		if len(keep) >= s.keep {
			break
		}
		keep[c.ID] = true
	}

	out := s.data.clone()
	out.Conversations = out.Conversations[:0]
	for _, c := range s.data.Conversations {
		if keep[c.ID] {
			out.Conversations = append(out.Conversations, c.clone())
		}
	}
	return out, true
}

// saveOrWarn persists and turns a total failure into a warning; the in-memory state stays usable
func (s *Store) saveOrWarn(ctx context.Context) string {
	warning, err := s.persistLocked(ctx)
	if err != nil {
		logger.Log.WithError(err).Error("Chat history not persisted")
		return WarningSaveFailed
	}
	return warning
}

func (s *Store) newConversationLocked() Conversation {
	now := Timestamp(s.now())
	conv := Conversation{
		ID:        NewID(),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.data.Conversations = append(s.data.Conversations, conv)
	s.data.CurrentConversationID = conv.ID
	return conv
}

// GetOrCreateCurrent returns the current conversation, creating and persisting one if needed
func (s *Store) GetOrCreateCurrent(ctx context.Context) (Conversation, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	if idx := s.data.indexOf(s.data.CurrentConversationID); idx >= 0 {
		return s.data.Conversations[idx].clone(), ""
	}

	conv := s.newConversationLocked()
	return conv.clone(), s.saveOrWarn(ctx)
}

// Current returns the current conversation without creating one
func (s *Store) Current(ctx context.Context) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	idx := s.data.indexOf(s.data.CurrentConversationID)
	if idx < 0 {
		return Conversation{}, false
	}
	return s.data.Conversations[idx].clone(), true
}

// Conversation returns a copy of the conversation with id
func (s *Store) Conversation(ctx context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	idx := s.data.indexOf(id)
	if idx < 0 {
		return Conversation{}, ErrConversationNotFound
	}
	return s.data.Conversations[idx].clone(), nil
}

// AppendMessage appends msg, bumps updatedAt and persists.
// Only an unknown conversation is an error; storage trouble comes back as a warning.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	idx := s.data.indexOf(conversationID)
	if idx < 0 {
		return "", ErrConversationNotFound
	}

	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = Timestamp(s.now())
	} else {
		msg.CreatedAt = Timestamp(msg.CreatedAt)
	}

	conv := &s.data.Conversations[idx]
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = Timestamp(s.now())

	return s.saveOrWarn(ctx), nil
}

// HasMessage reports whether a message with msgID exists in the conversation
func (s *Store) HasMessage(ctx context.Context, conversationID, msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	idx := s.data.indexOf(conversationID)
	if idx < 0 {
		return false
	}
	for _, m := range s.data.Conversations[idx].Messages {
		if m.ID == msgID {
			return true
		}
	}
	return false
}

// ListByRecency returns every conversation, most recently updated first
func (s *Store) ListByRecency(ctx context.Context) []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	out := make([]Conversation, len(s.data.Conversations))
	for i, c := range s.data.Conversations {
		out[i] = c.clone()
	}
	sortByRecency(out)
	return out
}

// SwitchTo makes id the current conversation
func (s *Store) SwitchTo(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	if s.data.indexOf(id) < 0 {
		return "", ErrConversationNotFound
	}
	s.data.CurrentConversationID = id
	return s.saveOrWarn(ctx), nil
}

// CreateNew starts a fresh conversation and makes it current
func (s *Store) CreateNew(ctx context.Context) (Conversation, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	conv := s.newConversationLocked()
	return conv.clone(), s.saveOrWarn(ctx)
}

// Delete removes a conversation. Deleting the current one selects the most recently
// updated remaining conversation, or a fresh one when none remain.
func (s *Store) Delete(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	idx := s.data.indexOf(id)
	if idx < 0 {
		return "", ErrConversationNotFound
	}

	s.data.Conversations = append(s.data.Conversations[:idx], s.data.Conversations[idx+1:]...)

	if s.data.CurrentConversationID == id {
		s.data.CurrentConversationID = ""
		if len(s.data.Conversations) == 0 {
			s.newConversationLocked()
		} else {
			ranked := make([]Conversation, len(s.data.Conversations))
			copy(ranked, s.data.Conversations)
			sortByRecency(ranked)
			s.data.CurrentConversationID = ranked[0].ID
		}
	}

	return s.saveOrWarn(ctx), nil
}

// ClearAll resets to an empty history and removes the key from every backend
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = Data{}
	s.loaded = true
	s.source = SourceDefault

	var errs []error
	for _, b := range s.backends {
		if err := b.Remove(ctx, s.key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Settings returns the stored preferences
func (s *Store) Settings(ctx context.Context) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)
	return s.data.Settings
}

// UpdateSettings replaces the stored preferences
func (s *Store) UpdateSettings(ctx context.Context, settings Settings) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	s.data.Settings = settings
	return s.saveOrWarn(ctx)
}

func sortByRecency(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}
