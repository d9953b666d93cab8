package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/history"
	"github.com/Ahmadjon7/UZB-AI/internal/identity"
	"github.com/Ahmadjon7/UZB-AI/internal/locale"
	"github.com/Ahmadjon7/UZB-AI/internal/session"
)

const minPasswordLen = 6

// repl reads lines, runs commands and renders session events.
type repl struct {
	sess     *session.Session
	auth     identity.Provider
	loc      *locale.Locale
	out      io.Writer
	outMu    sync.Mutex
	streamed bool
}

func newREPL(auth identity.Provider, loc *locale.Locale, out io.Writer) *repl {
	return &repl{auth: auth, loc: loc, out: out}
}

func (r *repl) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) println(s string) {
	r.printf("%s\n", s)
}

// render is the session observer.
func (r *repl) render(ev session.Event) {
	switch ev.Kind {
	case session.EventSubmitted:
		r.println(r.loc.T(locale.Loading))
	case session.EventFragment:
		if !r.streamed {
			r.printf("%s: ", r.loc.T(locale.Assistant))
			r.streamed = true
		}
		r.printf("%s", ev.Fragment)
	case session.EventCompleted:
		r.printf("\n")
		r.streamed = false
	case session.EventFailed:
		if r.streamed {
			r.printf("\n")
		}
		r.streamed = false
		r.println(r.describe(ev.Err))
	}
}

func (r *repl) describe(err error) string {
	switch {
	case errors.Is(err, chat.ErrCancelled):
		return r.loc.T(locale.Cancelled)
	case errors.Is(err, session.ErrTurnInFlight):
		return r.loc.T(locale.Busy)
	case errors.Is(err, identity.ErrEmailNotVerified):
		return r.loc.T(locale.EmailNotVerified)
	case errors.Is(err, identity.ErrNotSupported):
		return r.loc.T(locale.NotSupported)
	case errors.Is(err, history.ErrNotFound):
		return r.loc.T(locale.NotFound)
	case identity.IsProviderError(err):
		return r.loc.T(locale.ErrorOccurred, err)
	case errors.Is(err, chat.ErrIdentity):
		return r.loc.T(locale.SignInRequired)
	}
	return r.loc.T(locale.ErrorOccurred, err)
}

// run processes input until EOF or /quit.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.println(r.loc.T(locale.Welcome))
	r.println(r.loc.T(locale.StartConversation))
	r.println(r.loc.T(locale.Help))
	r.println(r.loc.T(locale.TypeMessage))

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if quit := r.handle(ctx, sc.Text()); quit {
			r.println(r.loc.T(locale.Goodbye))
			return nil
		}
	}
	return sc.Err()
}

// handle runs one input line and reports whether the client should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		if chat.IsBlank(trimmed) {
			return false
		}
		// Errors are rendered through the observer.
		_ = r.sess.Submit(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		r.sess.Cancel()
		return true

	case "/help":
		r.println(r.loc.T(locale.Help))

	case "/clear":
		if err := r.sess.Clear(); err != nil {
			r.println(r.describe(err))
			return false
		}
		r.println(r.loc.T(locale.ChatCleared))

	case "/save":
		conv, err := r.sess.Save(ctx, arg)
		switch {
		case errors.Is(err, chat.ErrValidation):
			r.println(r.loc.T(locale.CannotSaveEmpty))
		case err != nil:
			r.println(r.describe(err))
		default:
			r.println(r.loc.T(locale.ChatSaved, conv.Title))
		}

	case "/history":
		if r.sess.Identity() == nil {
			r.println(r.loc.T(locale.SignInRequired))
			return false
		}
		list, err := r.sess.History(ctx)
		if err != nil {
			r.println(r.describe(err))
			return false
		}
		if len(list) == 0 {
			r.println(r.loc.T(locale.NoHistory))
			return false
		}
		for _, c := range list {
			r.println(r.loc.T(locale.HistoryEntry, c.ID, c.Title, len(c.Messages)))
		}

	case "/load":
		if err := r.sess.Load(ctx, arg); err != nil {
			r.println(r.describe(err))
			return false
		}
		for _, m := range r.sess.Transcript() {
			r.println(r.speaker(m.Role) + ": " + m.Content)
		}
		r.println(r.loc.T(locale.ChatLoaded, arg))

	case "/delete":
		if err := r.sess.Delete(ctx, arg); err != nil {
			r.println(r.describe(err))
			return false
		}
		r.println(r.loc.T(locale.ChatDeleted))

	case "/lang":
		if err := r.loc.Set(ctx, arg); err != nil {
			if errors.Is(err, chat.ErrValidation) {
				r.println(r.loc.T(locale.UnknownLanguage, arg))
			} else {
				r.println(r.describe(err))
			}
			return false
		}
		r.println(r.loc.T(locale.LanguageChanged))

	case "/login":
		email, password, _ := strings.Cut(arg, " ")
		u, err := r.auth.SignIn(ctx, strings.TrimSpace(email), strings.TrimSpace(password))
		if err != nil {
			r.println(r.describe(err))
			return false
		}
		r.println(r.loc.T(locale.SignedInAs, displayName(u)))

	case "/signup":
		fields := strings.Fields(arg)
		if len(fields) < 3 {
			r.println(r.loc.T(locale.Usage, "/signup <name> <email> <password>"))
			return false
		}
		// the name may contain spaces; email and password never do
		name := strings.Join(fields[:len(fields)-2], " ")
		email, password := fields[len(fields)-2], fields[len(fields)-1]
		if utf8.RuneCountInString(password) < minPasswordLen {
			r.println(r.loc.T(locale.PasswordLength))
			return false
		}
		u, err := r.auth.SignUp(ctx, name, email, password)
		if err != nil {
			r.println(r.describe(err))
			return false
		}
		if u.EmailVerified {
			r.println(r.loc.T(locale.AccountReady))
		} else {
			r.println(r.loc.T(locale.AccountCreated, u.Email))
		}

	case "/logout":
		if err := r.auth.SignOut(ctx); err != nil {
			r.println(r.describe(err))
		}

	case "/name":
		if arg == "" {
			r.println(r.loc.T(locale.Usage, "/name <display name>"))
			return false
		}
		if _, err := r.auth.UpdateDisplayName(ctx, arg); err != nil {
			r.println(r.describe(err))
			return false
		}
		r.println(r.loc.T(locale.ProfileUpdated))

	case "/password":
		if arg == "" {
			r.println(r.loc.T(locale.Usage, "/password <new password>"))
			return false
		}
		if utf8.RuneCountInString(arg) < minPasswordLen {
			r.println(r.loc.T(locale.PasswordLength))
			return false
		}
		if err := r.auth.UpdatePassword(ctx, arg); err != nil {
			r.println(r.describe(err))
			return false
		}
		r.println(r.loc.T(locale.PasswordUpdated))

	default:
		r.println(r.loc.T(locale.UnknownCommand, cmd))
	}
	return false
}

func (r *repl) speaker(role chat.Role) string {
	if role == chat.RoleUser {
		return r.loc.T(locale.You)
	}
	return r.loc.T(locale.Assistant)
}

func displayName(u *identity.User) string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
