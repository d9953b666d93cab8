package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
)

var hello = chat.Transcript{{Role: chat.RoleUser, Content: "Hello"}}

func flush(w http.ResponseWriter) {
	w.(http.Flusher).Flush()
}

func drain(t *testing.T, s *Stream) ([]string, error) {
	t.Helper()
	var frags []string
	for {
		f, err := s.Recv()
		if err != nil {
			return frags, err
		}
		frags = append(frags, f)
	}
}

func TestSend_DeliversFragmentsIncrementally(t *testing.T) {
	next := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Hi")
		flush(w)
		select {
		case <-next:
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, " there!")
		flush(w)
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, nil).Send(context.Background(), hello)
	require.NoError(t, err)
	defer s.Close()

	// The first fragment must be readable while the server is still holding
	// the rest of the response.
	f, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, "Hi", f)
	require.Equal(t, StatusOpen, s.Status())
	close(next)

	rest, err := drain(t, s)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, " there!", strings.Join(rest, ""))
	require.Equal(t, "Hi there!", s.Content())
	require.Equal(t, StatusDone, s.Status())

	_, err = s.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestSend_PostsTranscript(t *testing.T) {
	type captured struct {
		body      relayRequest
		requestID string
		path      string
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body relayRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got <- captured{body: body, requestID: r.Header.Get("X-Request-Id"), path: r.URL.Path}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	transcript := chat.Transcript{
		{Role: chat.RoleUser, Content: "Hello"},
		{Role: chat.RoleAssistant, Content: "Hi"},
		{Role: chat.RoleUser, Content: "How are you?"},
	}
	s, err := NewClient(srv.URL+"/", nil).Send(context.Background(), transcript)
	require.NoError(t, err)
	_, err = drain(t, s)
	require.ErrorIs(t, err, io.EOF)

	c := <-got
	require.Equal(t, "/api/chat", c.path)
	require.Equal(t, transcript, c.body.Messages)
	require.Equal(t, s.ID, c.requestID)
	require.Equal(t, transcript, s.Transcript())
}

func TestSend_ValidationNeverTouchesNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	for _, tc := range []chat.Transcript{
		nil,
		{{Role: chat.RoleUser, Content: "Hello"}, {Role: chat.RoleAssistant, Content: "Hi"}},
	} {
		_, err := c.Send(context.Background(), tc)
		require.ErrorIs(t, err, chat.ErrValidation)
	}
	require.Zero(t, hits.Load())
}

func TestSend_ErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		timeout bool
	}{
		{"bad gateway", http.StatusBadGateway, false},
		{"gateway timeout", http.StatusGatewayTimeout, true},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, http.StatusText(tc.status), tc.status)
			}))
			defer srv.Close()

			s, err := NewClient(srv.URL, nil).Send(context.Background(), hello)
			require.Nil(t, s)
			require.ErrorIs(t, err, chat.ErrUpstream)
			require.Equal(t, tc.timeout, errors.Is(err, chat.ErrTimeout))

			var ue *chat.UpstreamError
			require.ErrorAs(t, err, &ue)
			require.Equal(t, tc.status, ue.StatusCode)
		})
	}
}

func TestSend_RelayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil).Send(context.Background(), hello)
	require.ErrorIs(t, err, chat.ErrUpstream)
}

func TestRecv_AbruptEndIsTerminalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Hi")
		flush(w)
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, nil).Send(context.Background(), hello)
	require.NoError(t, err)

	frags, err := drain(t, s)
	require.Equal(t, "Hi", strings.Join(frags, ""))
	require.ErrorIs(t, err, chat.ErrUpstream)
	require.NotErrorIs(t, err, io.EOF)
	require.Equal(t, StatusFailed, s.Status())

	var ue *chat.UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "Hi", ue.Partial)

	_, again := s.Recv()
	require.Equal(t, err, again)
}

func TestClose_CancelsOpenStream(t *testing.T) {
	serverDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(serverDone)
		_, _ = io.WriteString(w, "Hi")
		flush(w)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, nil).Send(context.Background(), hello)
	require.NoError(t, err)

	f, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, "Hi", f)

	require.NoError(t, s.Close())
	require.Equal(t, StatusCancelled, s.Status())

	_, err = s.Recv()
	require.ErrorIs(t, err, chat.ErrCancelled)
	require.Equal(t, "Hi", s.Content())

	select {
	case <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the connection go away")
	}

	require.NoError(t, s.Close())
}

func TestClose_UnblocksPendingRecv(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flush(w)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, nil).Send(context.Background(), hello)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Recv()
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = s.Close()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, chat.ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestRecv_ParentContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flush(w)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewClient(srv.URL, nil).Send(ctx, hello)
	require.NoError(t, err)

	cancel()
	_, err = s.Recv()
	require.ErrorIs(t, err, chat.ErrCancelled)
	require.Equal(t, StatusCancelled, s.Status())
}

func TestRecv_KeepsMultiByteRunesWhole(t *testing.T) {
	const text = "Салом, дунё!"
	raw := []byte(text)
	// Split inside the second Cyrillic letter.
	split := 3

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(raw[:split])
		flush(w)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write(raw[split:])
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, nil).Send(context.Background(), hello)
	require.NoError(t, err)

	frags, err := drain(t, s)
	require.ErrorIs(t, err, io.EOF)
	for _, f := range frags {
		require.True(t, utf8.ValidString(f), "fragment %q splits a rune", f)
	}
	require.Equal(t, text, strings.Join(frags, ""))
}

func TestCompletePrefix(t *testing.T) {
	b := []byte("aС") // 'С' is two bytes
	require.Equal(t, 3, completePrefix(b))
	require.Equal(t, 1, completePrefix(b[:2]))
	require.Equal(t, 0, completePrefix([]byte{0xe2, 0x82}))
	require.Equal(t, 0, completePrefix(nil))
}
