// Package identity provides the signed-in user. Authentication itself is
// delegated to an external provider.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
)

// User is an authenticated identity. ID is the stable key used to scope saved
// history.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"emailVerified"`
}

var (
	ErrNotSignedIn      = fmt.Errorf("%w: not signed in", chat.ErrIdentity)
	ErrEmailNotVerified = fmt.Errorf("%w: please verify your email before logging in", chat.ErrIdentity)
	ErrNotSupported     = fmt.Errorf("%w: not supported by this identity provider", chat.ErrIdentity)
)

// Provider is the identity collaborator.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*User, error)
	SignUp(ctx context.Context, name, email, password string) (*User, error)
	SignOut(ctx context.Context) error
	UpdateDisplayName(ctx context.Context, name string) (*User, error)
	UpdatePassword(ctx context.Context, password string) error
	// Subscribe calls fn on every identity change (nil on sign out) and returns
	// a function that stops the notifications.
	Subscribe(fn func(*User)) (unsubscribe func())
	Current() *User
}

// ProviderError carries the message returned by the identity provider.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider error (%d): %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Is(target error) bool { return target == chat.ErrIdentity }

// IsProviderError reports whether err came back from the identity provider.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// watchers fans identity changes out to subscribers.
type watchers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(*User)
}

func (w *watchers) subscribe(fn func(*User)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(*User))
	}
	id := w.next
	w.next++
	w.fns[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.fns, id)
	}
}

func (w *watchers) notify(u *User) {
	w.mu.Lock()
	fns := make([]func(*User), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		var cp *User
		if u != nil {
			c := *u
			cp = &c
		}
		fn(cp)
	}
}
