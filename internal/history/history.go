// Package history persists saved conversations per identity.
// Each identity's list lives under one key of the injected kv.Store as a JSON
// array, most recent first. Every mutation rewrites the whole list, so two
// processes saving for the same identity race and the last writer wins.
package history

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/kv"
	"github.com/Ahmadjon7/UZB-AI/internal/logger"
)

const (
	keyPrefix    = "uzb_ai_chat_history_"
	titleRunes   = 30
	defaultTitle = "New Chat"
)

// ErrNotFound is returned by Load when the id is not in the identity's list.
var ErrNotFound = errors.New("conversation not found")

// Conversation is a saved transcript snapshot. It is never mutated after
// creation.
type Conversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  chat.Transcript `json:"messages"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store is the transcript store.
type Store struct {
	backend kv.Store
	now     func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

// NewStore creates a Store on top of backend.
func NewStore(backend kv.Store) *Store {
	return &Store{
		backend: backend,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func storageKey(owner string) string { return keyPrefix + owner }

// DefaultTitle derives a title from the first message: its first 30
// characters followed by an ellipsis.
func DefaultTitle(t chat.Transcript) string {
	if len(t) == 0 || chat.IsBlank(t[0].Content) {
		return defaultTitle
	}
	runes := []rune(t[0].Content)
	if len(runes) > titleRunes {
		runes = runes[:titleRunes]
	}
	return string(runes) + "..."
}

// Save snapshots t as a new conversation at the head of owner's list.
// A blank title is replaced by DefaultTitle.
func (s *Store) Save(ctx context.Context, owner string, t chat.Transcript, title string) (Conversation, error) {
	if owner == "" {
		return Conversation{}, fmt.Errorf("%w: no signed-in user", chat.ErrIdentity)
	}
	if len(t) == 0 {
		return Conversation{}, fmt.Errorf("%w: cannot save an empty conversation", chat.ErrValidation)
	}
	if chat.IsBlank(title) {
		title = DefaultTitle(t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read(ctx, owner)
	if err != nil {
		return Conversation{}, err
	}

	now := s.now()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: generate id: %v", chat.ErrStorage, err)
	}
	conv := Conversation{
		ID:        id.String(),
		Title:     title,
		Messages:  t.Clone(),
		CreatedAt: now.UTC(),
	}

	updated := make([]Conversation, 0, len(list)+1)
	updated = append(updated, conv)
	updated = append(updated, list...)
	if err := s.write(ctx, owner, updated); err != nil {
		return Conversation{}, err
	}
	logger.L.Debug("conversation saved", "owner", owner, "id", conv.ID, "messages", len(conv.Messages))

	conv.Messages = conv.Messages.Clone()
	return conv, nil
}

// List returns owner's saved conversations, most recent first. A missing list
// yields an empty result.
func (s *Store) List(ctx context.Context, owner string) ([]Conversation, error) {
	if owner == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx, owner)
}

// Load returns a copy of the transcript saved under id.
func (s *Store) Load(ctx context.Context, owner, id string) (chat.Transcript, error) {
	list, err := s.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		if c.ID == id {
			return c.Messages.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Delete removes id from owner's list. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	if owner == "" {
		return fmt.Errorf("%w: no signed-in user", chat.ErrIdentity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read(ctx, owner)
	if err != nil {
		return err
	}
	kept := list[:0:0]
	for _, c := range list {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(list) {
		return nil
	}
	return s.write(ctx, owner, kept)
}

// Clear removes all of owner's saved conversations.
func (s *Store) Clear(ctx context.Context, owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: no signed-in user", chat.ErrIdentity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(ctx, storageKey(owner)); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, owner string) ([]Conversation, error) {
	raw, ok, err := s.backend.Get(ctx, storageKey(owner))
	if err != nil {
		logger.L.Error("failed to read history", "owner", owner, "error", err)
		return nil, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}
	if !ok || raw == "" {
		return []Conversation{}, nil
	}
	var list []Conversation
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		logger.L.Error("stored history is not valid JSON", "owner", owner, "error", err)
		return nil, fmt.Errorf("%w: decode history: %v", chat.ErrStorage, err)
	}
	return list, nil
}

func (s *Store) write(ctx context.Context, owner string, list []Conversation) error {
	b, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: encode history: %v", chat.ErrStorage, err)
	}
	if err := s.backend.Set(ctx, storageKey(owner), string(b)); err != nil {
		logger.L.Error("failed to persist history", "owner", owner, "error", err)
		return fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}
	return nil
}
