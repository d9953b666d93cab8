package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/config"
	"github.com/Ahmadjon7/UZB-AI/internal/logger"
)

// Supabase talks to a Supabase (GoTrue) auth service with email and password.
type Supabase struct {
	http *resty.Client

	mu       sync.Mutex
	user     *User
	token    string
	watchers watchers
}

type gotrueUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

func (g gotrueUser) toUser() *User {
	name, _ := g.UserMetadata["name"].(string)
	return &User{
		ID:            g.ID,
		Email:         g.Email,
		Name:          name,
		EmailVerified: g.EmailConfirmedAt != nil,
	}
}

type gotrueSession struct {
	AccessToken string      `json:"access_token"`
	User        *gotrueUser `json:"user"`
}

// GoTrue has used several error shapes over time.
type gotrueError struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewSupabase creates a provider for the project at cfg.URL.
func NewSupabase(cfg config.SupabaseConfig) (*Supabase, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: supabase url is not configured", chat.ErrIdentity)
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("%w: supabase anon key is not configured", chat.ErrIdentity)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL+"/auth/v1").
		SetHeader("apikey", cfg.AnonKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)

	return &Supabase{http: httpClient}, nil
}

// SignIn exchanges email and password for a session. Users whose email is
// not confirmed are refused with ErrEmailNotVerified.
func (s *Supabase) SignIn(ctx context.Context, email, password string) (*User, error) {
	var out gotrueSession
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		Post("/token")
	if err := checkResponse(resp, err, "sign in"); err != nil {
		return nil, err
	}
	if out.User == nil || out.AccessToken == "" {
		return nil, fmt.Errorf("%w: sign in returned no session", chat.ErrIdentity)
	}

	u := out.User.toUser()
	if !u.EmailVerified {
		logger.L.Warn("sign in refused, email not verified", "user_id", u.ID)
		return nil, ErrEmailNotVerified
	}

	s.mu.Lock()
	s.user = u
	s.token = out.AccessToken
	s.mu.Unlock()

	logger.L.Info("signed in", "user_id", u.ID)
	s.watchers.notify(u)
	return copyUser(u), nil
}

// SignUp registers a new account. The provider normally requires the email to
// be confirmed first, so no session is started.
func (s *Supabase) SignUp(ctx context.Context, name, email, password string) (*User, error) {
	var raw json.RawMessage
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"email":    email,
			"password": password,
			"data":     map[string]string{"name": name},
		}).
		SetResult(&raw).
		Post("/signup")
	if err := checkResponse(resp, err, "sign up"); err != nil {
		return nil, err
	}

	// Depending on project settings the body is a session or a bare user.
	var sess gotrueSession
	if err := json.Unmarshal(raw, &sess); err == nil && sess.User != nil {
		return sess.User.toUser(), nil
	}
	var gu gotrueUser
	if err := json.Unmarshal(raw, &gu); err != nil || gu.ID == "" {
		return nil, fmt.Errorf("%w: unexpected sign up response", chat.ErrIdentity)
	}
	logger.L.Info("signed up", "user_id", gu.ID)
	return gu.toUser(), nil
}

// SignOut ends the session. The local session is dropped even when the
// provider call fails.
func (s *Supabase) SignOut(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.user = nil
	s.token = ""
	s.mu.Unlock()

	s.watchers.notify(nil)
	if token == "" {
		return nil
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Post("/logout")
	return checkResponse(resp, err, "sign out")
}

func (s *Supabase) UpdateDisplayName(ctx context.Context, name string) (*User, error) {
	u, err := s.updateUser(ctx, map[string]any{"data": map[string]string{"name": name}})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.user != nil && s.user.ID == u.ID {
		s.user.Name = u.Name
	}
	s.mu.Unlock()

	s.watchers.notify(u)
	return copyUser(u), nil
}

func (s *Supabase) UpdatePassword(ctx context.Context, password string) error {
	_, err := s.updateUser(ctx, map[string]any{"password": password})
	return err
}

func (s *Supabase) updateUser(ctx context.Context, body map[string]any) (*User, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return nil, ErrNotSignedIn
	}

	var out gotrueUser
	resp, err := s.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		SetResult(&out).
		Put("/user")
	if err := checkResponse(resp, err, "update user"); err != nil {
		return nil, err
	}
	return out.toUser(), nil
}

func (s *Supabase) Subscribe(fn func(*User)) func() {
	return s.watchers.subscribe(fn)
}

func (s *Supabase) Current() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.user)
}

func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%w: %s request failed: %v", chat.ErrIdentity, op, err)
	}
	if !resp.IsError() {
		return nil
	}

	pe := &ProviderError{StatusCode: resp.StatusCode()}
	var ge gotrueError
	if jerr := json.Unmarshal([]byte(resp.String()), &ge); jerr == nil {
		pe.Message = firstNonEmpty(ge.Msg, ge.Message, ge.ErrorDescription, ge.Error)
		pe.Code = ge.ErrorCode
		if pe.Code == "" {
			if c, ok := ge.Code.(string); ok {
				pe.Code = c
			}
		}
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(resp.StatusCode())
	}
	logger.L.Warn("identity provider rejected request", "op", op, "status", pe.StatusCode, "code", pe.Code)
	return pe
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
