// Package session drives one chat window: it owns the transcript, runs each
// turn through a small state machine and binds saved history to the signed-in
// identity.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/history"
	"github.com/Ahmadjon7/UZB-AI/internal/identity"
	"github.com/Ahmadjon7/UZB-AI/internal/logger"
	"github.com/Ahmadjon7/UZB-AI/internal/stream"
)

// FSM states
type State string

const (
	StateIdle             State = "Idle"
	StateAwaitingResponse State = "AwaitingResponse"
	StateStreaming        State = "Streaming"
)

// FSM triggers
type Trigger string

const (
	TriggerSubmit        Trigger = "Submit"
	TriggerFirstFragment Trigger = "FirstFragment"
	TriggerFragment      Trigger = "Fragment"
	TriggerStreamEnded   Trigger = "StreamEnded"
	TriggerStreamFailed  Trigger = "StreamFailed"
)

var (
	// ErrTurnInFlight rejects operations that need an idle session.
	ErrTurnInFlight = errors.New("a response is already in progress")
	// ErrEmptyCompletion is reported when the relay ends a response without
	// sending any text.
	ErrEmptyCompletion = fmt.Errorf("%w: empty completion", chat.ErrUpstream)
)

// Sender opens a streaming request for a transcript.
type Sender interface {
	Send(ctx context.Context, t chat.Transcript) (*stream.Stream, error)
}

// EventKind says what changed.
type EventKind int

const (
	EventSubmitted EventKind = iota
	EventFragment
	EventCompleted
	EventFailed
	EventCleared
	EventLoaded
)

// Event is delivered to the observer after every visible change. Transcript
// is a snapshot the observer may keep.
type Event struct {
	Kind       EventKind
	State      State
	Fragment   string
	Transcript chat.Transcript
	Err        error
}

// Observer renders session changes. It is called synchronously from the
// goroutine that caused the change, never while the session lock is held.
type Observer func(Event)

// Session is a single chat window.
type Session struct {
	sender  Sender
	store   *history.Store
	observe Observer

	mu         sync.Mutex
	fsm        *stateless.StateMachine
	transcript chat.Transcript
	user       *identity.User
	cancel     context.CancelFunc
	lastErr    error

	// set when the identity changed mid-turn; the transcript is dropped once
	// the turn is back in Idle
	resetPending bool
}

// New creates an idle session. store may be nil when saving is not available;
// observer may be nil.
func New(sender Sender, store *history.Store, observer Observer) *Session {
	s := &Session{
		sender:  sender,
		store:   store,
		observe: observer,
	}
	s.fsm = s.newFSM()
	return s
}

func (s *Session) newFSM() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	// State: Idle
	// Entered when a turn ends, successfully or not.
	fsm.Configure(StateIdle).
		OnEntryFrom(TriggerStreamEnded, func(_ context.Context, _ ...any) error {
			logger.L.Debug("FSM: turn completed", "messages", len(s.transcript))
			return nil
		}).
		OnEntryFrom(TriggerStreamFailed, func(_ context.Context, args ...any) error {
			err, _ := args[0].(error)
			if last, ok := s.transcript.Last(); ok && last.Role == chat.RoleAssistant {
				s.transcript = s.transcript[:len(s.transcript)-1]
			}
			if n := len(s.transcript); n > 0 {
				s.transcript[n-1].Failed = true
			}
			s.lastErr = err
			logger.L.Debug("FSM: turn failed", "error", err)
			return nil
		}).
		OnEntry(func(_ context.Context, _ ...any) error {
			if s.resetPending {
				s.transcript = nil
				s.resetPending = false
			}
			return nil
		}).
		Permit(TriggerSubmit, StateAwaitingResponse)

	// State: AwaitingResponse
	// The user message is appended on entry.
	fsm.Configure(StateAwaitingResponse).
		OnEntryFrom(TriggerSubmit, func(_ context.Context, args ...any) error {
			text := args[0].(string)
			s.transcript = append(s.transcript, chat.Message{Role: chat.RoleUser, Content: text})
			s.lastErr = nil
			return nil
		}).
		Permit(TriggerFirstFragment, StateStreaming).
		Permit(TriggerStreamFailed, StateIdle)

	// State: Streaming
	// An assistant message is opened on entry and only ever extended.
	fsm.Configure(StateStreaming).
		OnEntryFrom(TriggerFirstFragment, func(_ context.Context, args ...any) error {
			s.transcript = append(s.transcript, chat.Message{Role: chat.RoleAssistant, Content: args[0].(string)})
			return nil
		}).
		InternalTransition(TriggerFragment, func(_ context.Context, args ...any) error {
			s.transcript[len(s.transcript)-1].Content += args[0].(string)
			return nil
		}).
		Permit(TriggerStreamEnded, StateIdle).
		Permit(TriggerStreamFailed, StateIdle)

	return fsm
}

// fire must be called with s.mu held.
func (s *Session) fire(ctx context.Context, trigger Trigger, args ...any) error {
	if err := s.fsm.FireCtx(ctx, trigger, args...); err != nil {
		logger.L.Error("FSM fire error", "trigger", trigger, "error", err)
		return fmt.Errorf("session state machine: %w", err)
	}
	return nil
}

// state must be called with s.mu held.
func (s *Session) state() State {
	return s.fsm.MustState().(State)
}

func (s *Session) emit(kind EventKind, fragment string, err error) {
	if s.observe == nil {
		return
	}
	s.mu.Lock()
	ev := Event{Kind: kind, State: s.state(), Fragment: fragment, Transcript: s.transcript.Clone(), Err: err}
	s.mu.Unlock()
	s.observe(ev)
}

// Submit appends text as a user message and runs one turn, returning once the
// response has finished. Blank text fails with chat.ErrValidation and a turn
// already in progress with ErrTurnInFlight; neither touches the transcript.
// A failed turn leaves the user message in place, marked Failed, and reports
// the error once through the observer and once as the return value. Failed
// messages are left out of later requests and of saved chats.
func (s *Session) Submit(ctx context.Context, text string) error {
	if chat.IsBlank(text) {
		return fmt.Errorf("%w: message is empty", chat.ErrValidation)
	}

	s.mu.Lock()
	if s.state() != StateIdle {
		s.mu.Unlock()
		return ErrTurnInFlight
	}
	turnCtx, cancel := context.WithCancel(ctx)
	if err := s.fire(turnCtx, TriggerSubmit, text); err != nil {
		s.mu.Unlock()
		cancel()
		return err
	}
	s.cancel = cancel
	snapshot := s.transcript.Settled()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	s.emit(EventSubmitted, "", nil)
	logger.L.Info("turn started", "messages", len(snapshot))

	st, err := s.sender.Send(turnCtx, snapshot)
	if err != nil {
		return s.fail(turnCtx, err)
	}
	defer st.Close()

	received := 0
	for {
		fragment, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.fail(turnCtx, err)
		}
		if fragment == "" {
			continue
		}

		trigger := TriggerFragment
		if received == 0 {
			trigger = TriggerFirstFragment
		}
		s.mu.Lock()
		ferr := s.fire(turnCtx, trigger, fragment)
		s.mu.Unlock()
		if ferr != nil {
			return s.fail(turnCtx, ferr)
		}
		received++
		s.emit(EventFragment, fragment, nil)
	}

	if received == 0 {
		return s.fail(turnCtx, ErrEmptyCompletion)
	}

	s.mu.Lock()
	err = s.fire(turnCtx, TriggerStreamEnded)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	logger.L.Info("turn completed", "fragments", received, "stream_id", st.ID)
	s.emit(EventCompleted, "", nil)
	return nil
}

func (s *Session) fail(ctx context.Context, cause error) error {
	if errors.Is(cause, context.Canceled) && !errors.Is(cause, chat.ErrCancelled) {
		cause = fmt.Errorf("%w: %v", chat.ErrCancelled, cause)
	}

	s.mu.Lock()
	// The turn context may already be cancelled; the transition itself must
	// still run.
	err := s.fire(context.WithoutCancel(ctx), TriggerStreamFailed, cause)
	s.mu.Unlock()
	if err != nil {
		return errors.Join(cause, err)
	}

	logger.L.Warn("turn failed", "error", cause)
	s.emit(EventFailed, "", cause)
	return cause
}

// Cancel aborts the turn in progress, if any. The turn ends through the
// failure path with chat.ErrCancelled.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Clear empties the transcript. It is refused while a turn is in progress.
func (s *Session) Clear() error {
	s.mu.Lock()
	if s.state() != StateIdle {
		s.mu.Unlock()
		return ErrTurnInFlight
	}
	s.transcript = nil
	s.lastErr = nil
	s.mu.Unlock()

	s.emit(EventCleared, "", nil)
	return nil
}

// Save stores the current transcript in the signed-in user's history. An empty
// title gets a default derived from the first message.
func (s *Session) Save(ctx context.Context, title string) (history.Conversation, error) {
	s.mu.Lock()
	if s.state() != StateIdle {
		s.mu.Unlock()
		return history.Conversation{}, ErrTurnInFlight
	}
	transcript := s.transcript.Settled()
	user := s.user
	s.mu.Unlock()

	if len(transcript) == 0 {
		return history.Conversation{}, fmt.Errorf("%w: cannot save an empty chat", chat.ErrValidation)
	}
	if user == nil || s.store == nil {
		return history.Conversation{}, fmt.Errorf("%w: sign in to save chats", chat.ErrIdentity)
	}
	return s.store.Save(ctx, user.ID, transcript, title)
}

// History lists the signed-in user's saved conversations, newest first.
func (s *Session) History(ctx context.Context) ([]history.Conversation, error) {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()

	if user == nil || s.store == nil {
		return nil, nil
	}
	return s.store.List(ctx, user.ID)
}

// Load replaces the transcript with a saved conversation.
func (s *Session) Load(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.state() != StateIdle {
		s.mu.Unlock()
		return ErrTurnInFlight
	}
	user := s.user
	s.mu.Unlock()

	if user == nil || s.store == nil {
		return fmt.Errorf("%w: sign in to load chats", chat.ErrIdentity)
	}
	t, err := s.store.Load(ctx, user.ID, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state() != StateIdle {
		s.mu.Unlock()
		return ErrTurnInFlight
	}
	s.transcript = t
	s.lastErr = nil
	s.mu.Unlock()

	s.emit(EventLoaded, "", nil)
	return nil
}

// Delete removes a saved conversation from the signed-in user's history.
func (s *Session) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()

	if user == nil || s.store == nil {
		return fmt.Errorf("%w: sign in to delete chats", chat.ErrIdentity)
	}
	return s.store.Delete(ctx, user.ID, id)
}

// SetIdentity binds the session to u. Signing out (nil) or switching to a
// different user cancels any turn in progress and clears the transcript.
func (s *Session) SetIdentity(u *identity.User) {
	s.mu.Lock()
	changed := s.user == nil || u == nil || s.user.ID != u.ID
	s.user = u
	if !changed {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	cleared := false
	if s.state() != StateIdle {
		s.resetPending = true
	} else if len(s.transcript) > 0 {
		s.transcript = nil
		s.lastErr = nil
		cleared = true
	}
	s.mu.Unlock()

	if u == nil {
		logger.L.Info("session signed out")
	} else {
		logger.L.Info("session identity set", "user_id", u.ID)
	}
	if cleared {
		s.emit(EventCleared, "", nil)
	}
}

// Identity returns the bound user, or nil.
func (s *Session) Identity() *identity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Transcript returns a snapshot of the conversation.
func (s *Session) Transcript() chat.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Clone()
}

// State reports the current turn state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

// LastError returns the error of the most recent failed turn, cleared by the
// next submit.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
