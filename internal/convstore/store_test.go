package convstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBackend wraps a MemoryBackend and injects failures
type flakyBackend struct {
	*MemoryBackend
	name     string
	getErr   error
	setErr   error
	maxBytes int
	// fullErr replaces ErrQuotaExceeded when a value exceeds maxBytes
	fullErr error

	mu   sync.Mutex
	sets int
}

func newFlaky(name string) *flakyBackend {
	return &flakyBackend{MemoryBackend: NewMemoryBackend(), name: name}
}

func (f *flakyBackend) Name() string { return f.name }

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.sets++
	f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	if f.maxBytes > 0 && len(value) > f.maxBytes {
		if f.fullErr != nil {
			return f.fullErr
		}
		return ErrQuotaExceeded
	}
	return f.MemoryBackend.Set(ctx, key, value)
}

// fakeClock advances one second per call so updatedAt values are distinct
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 123456789, time.UTC)}
}

func TestStore_AppendAndReload(t *testing.T) {
	ctx := context.Background()
	primary := newFlaky("primary")
	clock := newClock()

	store := New([]Backend{primary}, Options{Now: clock.Now})
	conv, warning := store.GetOrCreateCurrent(ctx)
	require.Empty(t, warning)

	contents := []string{"Hello", "Hi there", "How do I redeem?", "Enter your code on the rewards page."}
	for i, c := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := store.AppendMessage(ctx, conv.ID, NewMessage(role, c))
		require.NoError(t, err)
	}

	reloaded := New([]Backend{primary}, Options{})
	res := reloaded.Load(ctx)
	assert.Equal(t, "primary", res.Source)
	assert.Empty(t, res.Warning)
	require.Len(t, res.Data.Conversations, 1)
	assert.Equal(t, conv.ID, res.Data.CurrentConversationID)

	msgs := res.Data.Conversations[0].Messages
	require.Len(t, msgs, len(contents))
	for i, c := range contents {
		assert.Equal(t, c, msgs[i].Content)
	}
}

func TestStore_RoundTripPreservesStructure(t *testing.T) {
	ctx := context.Background()
	primary := newFlaky("primary")
	clock := newClock()

	store := New([]Backend{primary}, Options{Now: clock.Now})
	first, _ := store.CreateNew(ctx)
	msg := NewMessage(RoleAssistant, "ยินดีต้อนรับ")
	msg.Metadata = &MessageMetadata{Model: "gpt-4o-mini", TokenCount: 12}
	_, err := store.AppendMessage(ctx, first.ID, msg)
	require.NoError(t, err)
	store.CreateNew(ctx)
	store.UpdateSettings(ctx, Settings{Language: "th"})

	want := store.Load(ctx).Data

	got := New([]Backend{primary}, Options{}).Load(ctx).Data
	require.Len(t, got.Conversations, len(want.Conversations))
	assert.Equal(t, want.CurrentConversationID, got.CurrentConversationID)
	assert.Equal(t, want.Settings, got.Settings)
	for i := range want.Conversations {
		w, g := want.Conversations[i], got.Conversations[i]
		assert.Equal(t, w.ID, g.ID)
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt))
		assert.True(t, w.UpdatedAt.Equal(g.UpdatedAt))
		require.Len(t, g.Messages, len(w.Messages))
		for j := range w.Messages {
			assert.Equal(t, w.Messages[j].ID, g.Messages[j].ID)
			assert.Equal(t, w.Messages[j].Content, g.Messages[j].Content)
			assert.Equal(t, w.Messages[j].Metadata, g.Messages[j].Metadata)
			assert.True(t, w.Messages[j].CreatedAt.Equal(g.Messages[j].CreatedAt))
			assert.Equal(t, 0, g.Messages[j].CreatedAt.Nanosecond()%int(time.Millisecond))
		}
	}
}

func TestStore_LoadFallsBackToSecondary(t *testing.T) {
	ctx := context.Background()
	primary := newFlaky("primary")
	secondary := newFlaky("session")

	seed := New([]Backend{secondary}, Options{})
	conv, _ := seed.CreateNew(ctx)

	primary.getErr = errors.New("access denied")
	res := New([]Backend{primary, secondary}, Options{}).Load(ctx)

	assert.Equal(t, "session", res.Source)
	assert.Equal(t, WarningTemporaryStorage, res.Warning)
	require.Len(t, res.Data.Conversations, 1)
	assert.Equal(t, conv.ID, res.Data.Conversations[0].ID)
}

func TestStore_LoadDefaultsWhenAllFail(t *testing.T) {
	ctx := context.Background()
	primary := newFlaky("primary")
	primary.getErr = errors.New("denied")
	secondary := newFlaky("session")
	secondary.getErr = errors.New("denied")

	res := New([]Backend{primary, secondary}, Options{}).Load(ctx)
	assert.Equal(t, SourceDefault, res.Source)
	assert.Equal(t, WarningLoadFailed, res.Warning)
	assert.Empty(t, res.Data.Conversations)
}

func TestStore_LoadEmptyHasNoWarning(t *testing.T) {
	res := New([]Backend{newFlaky("primary")}, Options{}).Load(context.Background())
	assert.Equal(t, SourceDefault, res.Source)
	assert.Empty(t, res.Warning)
}

func TestStore_LoadRepairsDanglingCurrent(t *testing.T) {
	ctx := context.Background()
	primary := newFlaky("primary")

	store := New([]Backend{primary}, Options{})
	_, err := store.Save(ctx, Data{
		Conversations:         []Conversation{{ID: "a", Messages: []Message{}}},
		CurrentConversationID: "a",
	})
	require.NoError(t, err)
	require.NoError(t, primary.MemoryBackend.Set(ctx, DefaultKey, []byte(`{"conversations":[{"id":"a","messages":[]}],"currentConversationId":"missing"}`)))

	reloaded := New([]Backend{primary}, Options{})
	res := reloaded.Load(ctx)
	assert.Empty(t, res.Data.CurrentConversationID)

	conv, _ := reloaded.GetOrCreateCurrent(ctx)
	assert.NotEqual(t, "missing", conv.ID)
	assert.NotEqual(t, "a", conv.ID)
	assert.Len(t, reloaded.ListByRecency(ctx), 2)
}

func TestStore_SaveQuotaPrunesKeepingCurrent(t *testing.T) {
	ctx := context.Background()
	primary := newFlaky("primary")
	clock := newClock()

	store := New([]Backend{primary}, Options{Now: clock.Now, PruneKeep: 2})

	first, _ := store.CreateNew(ctx)
	for i := 0; i < 4; i++ {
		store.CreateNew(ctx)
	}
	_, err := store.SwitchTo(ctx, first.ID)
	require.NoError(t, err)

	// the oldest conversation is current, so it must survive the prune
	current, err := store.Conversation(ctx, first.ID)
	require.NoError(t, err)
	fullSize := len(mustJSON(t, store.Load(ctx).Data))
	primary.maxBytes = fullSize - 1

	warning, err := store.AppendMessage(ctx, current.ID, NewMessage(RoleUser, "x"))
	require.NoError(t, err)
	assert.Equal(t, WarningPruned, warning)

	convs := store.ListByRecency(ctx)
	require.Len(t, convs, 2)
	ids := []string{convs[0].ID, convs[1].ID}
	assert.Contains(t, ids, first.ID)
}

func TestStore_SaveFallsBackToSecondaryWithWarning(t *testing.T) {
	ctx := context.Background()
	primary := newFlaky("primary")
	primary.setErr = fmt.Errorf("write: %w", ErrQuotaExceeded)
	secondary := newFlaky("session")

	store := New([]Backend{primary, secondary}, Options{})
	warning, err := store.Save(ctx, Data{Conversations: []Conversation{{ID: "only", Messages: []Message{}}}})

	require.NoError(t, err)
	assert.NotEmpty(t, warning)
	assert.Equal(t, "session", store.Source())

	_, getErr := secondary.MemoryBackend.Get(ctx, DefaultKey)
	assert.NoError(t, getErr)
	_, getErr = primary.MemoryBackend.Get(ctx, DefaultKey)
	assert.ErrorIs(t, getErr, ErrNotFound)
}

func TestStore_SaveFailsWhenAllBackendsRefuse(t *testing.T) {
	ctx := context.Background()
	primary := newFlaky("primary")
	primary.setErr = ErrUnavailable
	secondary := newFlaky("session")
	secondary.setErr = ErrUnavailable

	store := New([]Backend{primary, secondary}, Options{})
	warning, err := store.Save(ctx, Data{Conversations: []Conversation{{ID: "x", Messages: []Message{}}}})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllBackendsFailed)
	assert.Empty(t, warning)

	_, getErr := primary.MemoryBackend.Get(ctx, DefaultKey)
	assert.ErrorIs(t, getErr, ErrNotFound)
	_, getErr = secondary.MemoryBackend.Get(ctx, DefaultKey)
	assert.ErrorIs(t, getErr, ErrNotFound)
}

func TestStore_AppendUnknownConversation(t *testing.T) {
	store := New([]Backend{NewMemoryBackend()}, Options{})
	_, err := store.AppendMessage(context.Background(), "nope", NewMessage(RoleUser, "hi"))
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_AppendBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := New([]Backend{NewMemoryBackend()}, Options{Now: clock.Now})

	conv, _ := store.CreateNew(ctx)
	_, err := store.AppendMessage(ctx, conv.ID, NewMessage(RoleUser, "hi"))
	require.NoError(t, err)

	after, err := store.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(conv.UpdatedAt))
}

func TestStore_ListByRecency(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := New([]Backend{NewMemoryBackend()}, Options{Now: clock.Now})

	a, _ := store.CreateNew(ctx)
	b, _ := store.CreateNew(ctx)
	c, _ := store.CreateNew(ctx)
	_, err := store.AppendMessage(ctx, a.ID, NewMessage(RoleUser, "bump"))
	require.NoError(t, err)

	convs := store.ListByRecency(ctx)
	require.Len(t, convs, 3)
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, []string{convs[0].ID, convs[1].ID, convs[2].ID})
}

func TestStore_DeleteCurrentSelectsMostRecent(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := New([]Backend{NewMemoryBackend()}, Options{Now: clock.Now})

	a, _ := store.CreateNew(ctx)
	b, _ := store.CreateNew(ctx)
	_, err := store.AppendMessage(ctx, a.ID, NewMessage(RoleUser, "bump"))
	require.NoError(t, err)
	c, _ := store.CreateNew(ctx)

	_, err = store.Delete(ctx, c.ID)
	require.NoError(t, err)

	current, ok := store.Current(ctx)
	require.True(t, ok)
	assert.Equal(t, a.ID, current.ID)

	_, err = store.Delete(ctx, b.ID)
	require.NoError(t, err)
	current, _ = store.Current(ctx)
	assert.Equal(t, a.ID, current.ID)
}

func TestStore_DeleteLastCreatesFresh(t *testing.T) {
	ctx := context.Background()
	store := New([]Backend{NewMemoryBackend()}, Options{})

	only, _ := store.CreateNew(ctx)
	_, err := store.Delete(ctx, only.ID)
	require.NoError(t, err)

	convs := store.ListByRecency(ctx)
	require.Len(t, convs, 1)
	assert.NotEqual(t, only.ID, convs[0].ID)

	current, ok := store.Current(ctx)
	require.True(t, ok)
	assert.Equal(t, convs[0].ID, current.ID)

	_, err = store.Delete(ctx, "nope")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_SwitchTo(t *testing.T) {
	ctx := context.Background()
	store := New([]Backend{NewMemoryBackend()}, Options{})

	a, _ := store.CreateNew(ctx)
	store.CreateNew(ctx)

	_, err := store.SwitchTo(ctx, a.ID)
	require.NoError(t, err)
	current, _ := store.Current(ctx)
	assert.Equal(t, a.ID, current.ID)

	_, err = store.SwitchTo(ctx, "nope")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_ClearAllRemovesFromEveryBackend(t *testing.T) {
	ctx := context.Background()
	primary := newFlaky("primary")
	secondary := newFlaky("session")
	require.NoError(t, secondary.MemoryBackend.Set(ctx, DefaultKey, []byte(`{"conversations":[]}`)))

	store := New([]Backend{primary, secondary}, Options{})
	store.CreateNew(ctx)

	require.NoError(t, store.ClearAll(ctx))
	assert.Empty(t, store.ListByRecency(ctx))

	_, err := primary.MemoryBackend.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = secondary.MemoryBackend.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := New([]Backend{NewMemoryBackend()}, Options{})

	conv, _ := store.GetOrCreateCurrent(ctx)
	_, err := store.AppendMessage(ctx, conv.ID, NewMessage(RoleUser, "original"))
	require.NoError(t, err)

	got, _ := store.Conversation(ctx, conv.ID)
	got.Messages[0].Content = "mutated"

	again, _ := store.Conversation(ctx, conv.ID)
	assert.Equal(t, "original", again.Messages[0].Content)
}

func TestStore_HasMessage(t *testing.T) {
	ctx := context.Background()
	store := New([]Backend{NewMemoryBackend()}, Options{})

	conv, _ := store.GetOrCreateCurrent(ctx)
	msg := NewMessage(RoleUser, "hi")
	_, err := store.AppendMessage(ctx, conv.ID, msg)
	require.NoError(t, err)

	assert.True(t, store.HasMessage(ctx, conv.ID, msg.ID))
	assert.False(t, store.HasMessage(ctx, conv.ID, "other"))
	assert.False(t, store.HasMessage(ctx, "nope", msg.ID))
}

func TestStore_WithBoltAndSessionFile(t *testing.T) {
	ctx := context.Background()
	bolt, err := OpenBoltBackend(filepath.Join(t.TempDir(), "chat.db"), 0)
	require.NoError(t, err)
	defer bolt.Close()

	session, err := NewSessionFileBackend()
	require.NoError(t, err)
	defer session.Close()

	store := New([]Backend{bolt, session, NewMemoryBackend()}, Options{})
	conv, _ := store.GetOrCreateCurrent(ctx)
	_, err = store.AppendMessage(ctx, conv.ID, NewMessage(RoleUser, "Hello"))
	require.NoError(t, err)

	res := New([]Backend{bolt, session}, Options{}).Load(ctx)
	assert.Equal(t, "bolt", res.Source)
	require.Len(t, res.Data.Conversations, 1)
	assert.Equal(t, "Hello", res.Data.Conversations[0].Messages[0].Content)
}

func mustJSON(t *testing.T, d Data) []byte {
	t.Helper()
	store := New([]Backend{NewMemoryBackend()}, Options{})
	_, err := store.Save(context.Background(), d)
	require.NoError(t, err)
	raw, err := store.backends[0].Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	return raw
}

func TestStore_ValueFollowsBackendRanking(t *testing.T) {
	ctx := context.Background()
	primary := newFlaky("primary")
	secondary := newFlaky("secondary")
	store := New([]Backend{primary, secondary}, Options{})

	_, err := store.Value(ctx, "aux")
	assert.ErrorIs(t, err, ErrNotFound)

	primary.setErr = errors.New("disk unavailable")
	require.NoError(t, store.SetValue(ctx, "aux", []byte("v1")))
	got, err := store.Value(ctx, "aux")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	// a later write to the primary must hide the older secondary copy
	primary.setErr = nil
	require.NoError(t, store.SetValue(ctx, "aux", []byte("v2")))
	_, err = secondary.MemoryBackend.Get(ctx, "aux")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = store.Value(ctx, "aux")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	primary.setErr = errors.New("disk unavailable")
	secondary.setErr = errors.New("redis down")
	assert.ErrorIs(t, store.SetValue(ctx, "aux", []byte("v3")), ErrAllBackendsFailed)
}
