package locale

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/kv"
)

func TestParse(t *testing.T) {
	for in, want := range map[string]language.Tag{
		"en":      language.English,
		"EN":      language.English,
		"en-GB":   language.English,
		"uz":      language.Uzbek,
		" uz ":    language.Uzbek,
		"uz-Latn": language.Uzbek,
	} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, in := range []string{"fr", "not a tag!"} {
		_, err := Parse(in)
		require.ErrorIs(t, err, chat.ErrValidation, in)
	}
}

func TestLoad_DefaultsToEnglish(t *testing.T) {
	l, err := Load(context.Background(), kv.NewMemory(), "")
	require.NoError(t, err)
	require.Equal(t, language.English, l.Language())
	require.Equal(t, "Welcome to UZB AI", l.T(Welcome))
}

func TestSet_PersistsChoice(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()

	l, err := Load(ctx, store, "en")
	require.NoError(t, err)
	require.NoError(t, l.Set(ctx, "uz"))
	require.Equal(t, "UZB AI ga xush kelibsiz", l.T(Welcome))

	v, ok, err := store.Get(ctx, StorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "uz", v)

	// a saved choice wins over the configured default
	again, err := Load(ctx, store, "en")
	require.NoError(t, err)
	require.Equal(t, language.Uzbek, again.Language())

	require.ErrorIs(t, l.Set(ctx, "de"), chat.ErrValidation)
	require.Equal(t, language.Uzbek, l.Language())
}

func TestLoad_IgnoresGarbage(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, StorageKey, "klingon"))

	l, err := Load(ctx, store, "uz")
	require.NoError(t, err)
	require.Equal(t, language.Uzbek, l.Language())
}

func TestT_FormatsArguments(t *testing.T) {
	l, err := Load(context.Background(), nil, "en")
	require.NoError(t, err)
	require.Equal(t, `Chat saved as "Trip plan"`, l.T(ChatSaved, "Trip plan"))

	require.NoError(t, l.Set(context.Background(), "uz"))
	require.Equal(t, "01ABC  Trip  (4 ta xabar)", l.T(HistoryEntry, "01ABC", "Trip", 4))
}

func TestCatalogComplete(t *testing.T) {
	en := translations[language.English]
	uz := translations[language.Uzbek]
	require.Len(t, uz, len(en))
	for key := range en {
		require.Contains(t, uz, key)
	}
}
