package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/kv"
)

func newTestStore() (*Store, *kv.Memory) {
	mem := kv.NewMemory()
	s := NewStore(mem)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s, mem
}

func hello() chat.Transcript {
	return chat.Transcript{
		{Role: chat.RoleUser, Content: "Hello"},
		{Role: chat.RoleAssistant, Content: "Hi there!"},
		{Role: chat.RoleUser, Content: "How are you?"},
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	in := hello()
	conv, err := s.Save(ctx, "u1", in, "greeting")
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	require.Equal(t, "greeting", conv.Title)

	out, err := s.Load(ctx, "u1", conv.ID)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestSaveSnapshotsTranscript(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	in := hello()
	conv, err := s.Save(ctx, "u1", in, "")
	require.NoError(t, err)

	in[0].Content = "mutated"
	out, err := s.Load(ctx, "u1", conv.ID)
	require.NoError(t, err)
	require.Equal(t, "Hello", out[0].Content)

	out[1].Content = "also mutated"
	again, err := s.Load(ctx, "u1", conv.ID)
	require.NoError(t, err)
	require.Equal(t, "Hi there!", again[1].Content)
}

func TestSaveEmptyWritesNothing(t *testing.T) {
	s, mem := newTestStore()
	ctx := context.Background()

	_, err := s.Save(ctx, "u1", nil, "")
	require.ErrorIs(t, err, chat.ErrValidation)

	_, ok, err := mem.Get(ctx, storageKey("u1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveRequiresIdentity(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.Save(context.Background(), "", hello(), "")
	require.ErrorIs(t, err, chat.ErrIdentity)
}

func TestDefaultTitleTruncates(t *testing.T) {
	s, _ := newTestStore()
	msg := "A thirty-five character long message here"
	conv, err := s.Save(context.Background(), "u1", chat.Transcript{{Role: chat.RoleUser, Content: msg}}, "")
	require.NoError(t, err)
	require.Equal(t, msg[:30]+"...", conv.Title)
}

func TestBlankTitleGetsDefault(t *testing.T) {
	s, _ := newTestStore()
	for _, title := range []string{"", "   ", "\t\n"} {
		conv, err := s.Save(context.Background(), "u1", hello(), title)
		require.NoError(t, err)
		require.Equal(t, "Hello...", conv.Title, "%q", title)
	}
}

func TestDefaultTitle(t *testing.T) {
	require.Equal(t, "Hello...", DefaultTitle(chat.Transcript{{Role: chat.RoleUser, Content: "Hello"}}))
	require.Equal(t, defaultTitle, DefaultTitle(nil))
	// counts characters, not bytes
	uz := "Ассалому алайкум, қалайсиз? Яхшимисиз?"
	require.Equal(t, string([]rune(uz)[:30])+"...", DefaultTitle(chat.Transcript{{Role: chat.RoleUser, Content: uz}}))
}

func TestListMostRecentFirst(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	first, err := s.Save(ctx, "u1", hello(), "first")
	require.NoError(t, err)
	second, err := s.Save(ctx, "u1", hello(), "second")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.ID, list[0].ID)
	require.Equal(t, first.ID, list[1].ID)
	require.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
}

func TestListScopedByIdentity(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	conv, err := s.Save(ctx, "alice", hello(), "")
	require.NoError(t, err)

	list, err := s.List(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = s.Load(ctx, "bob", conv.ID)
	require.ErrorIs(t, err, ErrNotFound)

	list, err = s.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestDeleteAbsentIsNoop(t *testing.T) {
	s, mem := newTestStore()
	ctx := context.Background()

	_, err := s.Save(ctx, "u1", hello(), "")
	require.NoError(t, err)
	before, _, err := mem.Get(ctx, storageKey("u1"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "u1", "does-not-exist"))

	after, _, err := mem.Get(ctx, storageKey("u1"))
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	a, err := s.Save(ctx, "u1", hello(), "a")
	require.NoError(t, err)
	b, err := s.Save(ctx, "u1", hello(), "b")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "u1", a.ID))
	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, b.ID, list[0].ID)
}

func TestClear(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.Save(ctx, "u1", hello(), "")
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx, "u1"))

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCorruptHistoryIsStorageError(t *testing.T) {
	s, mem := newTestStore()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, storageKey("u1"), "{not json"))

	_, err := s.List(ctx, "u1")
	require.ErrorIs(t, err, chat.ErrStorage)
}

type failingKV struct{ *kv.Memory }

func (f *failingKV) Set(context.Context, string, string) error { return errors.New("quota exceeded") }

func TestPersistFailureIsStorageError(t *testing.T) {
	s := NewStore(&failingKV{Memory: kv.NewMemory()})
	_, err := s.Save(context.Background(), "u1", hello(), "")
	require.ErrorIs(t, err, chat.ErrStorage)
}
