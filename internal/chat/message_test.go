package chat

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettled(t *testing.T) {
	tr := Transcript{
		{Role: RoleUser, Content: "Hi", Failed: true},
		{Role: RoleUser, Content: "Hi again"},
		{Role: RoleAssistant, Content: "Hello!"},
		{Role: RoleUser, Content: "still there?", Failed: true},
	}
	require.Equal(t, Transcript{
		{Role: RoleUser, Content: "Hi again"},
		{Role: RoleAssistant, Content: "Hello!"},
	}, tr.Settled())
	require.Len(t, tr, 4, "the original is untouched")
	require.Empty(t, Transcript(nil).Settled())
}

func TestValidateRequest(t *testing.T) {
	cases := []struct {
		name    string
		in      Transcript
		wantErr bool
	}{
		{"empty", nil, true},
		{"single user", Transcript{{Role: RoleUser, Content: "hi"}}, false},
		{"ends with assistant", Transcript{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "yo"}}, true},
		{"unknown role", Transcript{{Role: "system", Content: "x"}, {Role: RoleUser, Content: "hi"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTranscriptClone(t *testing.T) {
	orig := Transcript{{Role: RoleUser, Content: "a"}}
	cp := orig.Clone()
	cp[0].Content = "b"
	require.Equal(t, "a", orig[0].Content)
	require.Nil(t, Transcript(nil).Clone())
}

func TestUpstreamErrorMatching(t *testing.T) {
	timeout := &UpstreamError{StatusCode: http.StatusGatewayTimeout}
	require.ErrorIs(t, timeout, ErrUpstream)
	require.ErrorIs(t, timeout, ErrTimeout)

	broken := &UpstreamError{Partial: "Hi", Err: context.DeadlineExceeded}
	require.ErrorIs(t, broken, ErrUpstream)
	require.False(t, errors.Is(broken, ErrTimeout))
	require.ErrorIs(t, broken, context.DeadlineExceeded)
	require.Contains(t, broken.Error(), "after 2 bytes")
}

func TestIsBlank(t *testing.T) {
	require.True(t, IsBlank(" \n\t"))
	require.False(t, IsBlank(" x "))
}
