package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/config"
)

// Local is a single fixed user for running without an identity service.
type Local struct {
	mu       sync.Mutex
	user     User
	signedIn bool
	watchers watchers
}

// NewLocal returns a provider that is already signed in as the configured
// user.
func NewLocal(cfg config.LocalUserConfig) *Local {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = "local"
	}
	return &Local{
		user:     User{ID: id, Email: cfg.Email, Name: cfg.Name, EmailVerified: true},
		signedIn: true,
	}
}

// SignIn accepts any password for the configured email, or any email when none
// is configured.
func (l *Local) SignIn(_ context.Context, email, _ string) (*User, error) {
	l.mu.Lock()
	if l.user.Email != "" && !strings.EqualFold(email, l.user.Email) {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: unknown user %q", chat.ErrIdentity, email)
	}
	l.signedIn = true
	u := l.user
	l.mu.Unlock()

	l.watchers.notify(&u)
	return &u, nil
}

// SignUp is not supported locally.
func (l *Local) SignUp(context.Context, string, string, string) (*User, error) {
	return nil, fmt.Errorf("%w: sign up", ErrNotSupported)
}

func (l *Local) SignOut(context.Context) error {
	l.mu.Lock()
	l.signedIn = false
	l.mu.Unlock()

	l.watchers.notify(nil)
	return nil
}

func (l *Local) UpdateDisplayName(_ context.Context, name string) (*User, error) {
	l.mu.Lock()
	if !l.signedIn {
		l.mu.Unlock()
		return nil, ErrNotSignedIn
	}
	l.user.Name = name
	u := l.user
	l.mu.Unlock()

	l.watchers.notify(&u)
	return &u, nil
}

// UpdatePassword is not supported locally.
func (l *Local) UpdatePassword(context.Context, string) error {
	return fmt.Errorf("%w: the local identity has no password", ErrNotSupported)
}

func (l *Local) Subscribe(fn func(*User)) func() {
	return l.watchers.subscribe(fn)
}

func (l *Local) Current() *User {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.signedIn {
		return nil
	}
	u := l.user
	return &u
}
