// Package stream is the client half of the chat exchange. Send posts the whole
// transcript to the relay and returns a Stream that yields the reply text as
// it arrives.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"resty.dev/v3"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/logger"
)

const (
	chatPath      = "/api/chat"
	maxErrorBytes = 4 << 10
)

type relayRequest struct {
	Messages chat.Transcript `json:"messages"`
}

// Client sends transcripts to a relay.
type Client struct {
	http     *resty.Client
	endpoint string
}

// NewClient creates a client for the relay at baseURL. A nil httpClient gets a
// fresh resty client; there is no client-side retry.
func NewClient(baseURL string, httpClient *resty.Client) *Client {
	if httpClient == nil {
		httpClient = resty.New()
	}
	httpClient.SetRetryCount(0)
	return &Client{
		http:     httpClient,
		endpoint: strings.TrimRight(strings.TrimSpace(baseURL), "/") + chatPath,
	}
}

// Send opens one streaming request carrying t. The transcript must be
// non-empty and end with a user message; otherwise Send fails with
// chat.ErrValidation without touching the network. The returned Stream must be
// drained to a terminal error or closed.
func (c *Client) Send(ctx context.Context, t chat.Transcript) (*Stream, error) {
	if err := chat.ValidateRequest(t); err != nil {
		return nil, err
	}

	snapshot := t.Clone()
	id := uuid.NewString()
	streamCtx, cancel := context.WithCancel(ctx)

	resp, err := c.http.R().
		SetContext(streamCtx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/plain").
		SetHeader("Accept-Encoding", "identity").
		SetHeader("X-Request-Id", id).
		SetBody(relayRequest{Messages: snapshot}).
		SetDoNotParseResponse(true).
		Post(c.endpoint)
	if err != nil {
		cancel()
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("%w: %v", chat.ErrCancelled, err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &chat.UpstreamError{Err: chat.ErrTimeout}
		}
		logger.L.Error("relay request failed", "stream_id", id, "error", err)
		return nil, &chat.UpstreamError{Err: err}
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		cancel()
		return nil, &chat.UpstreamError{StatusCode: resp.StatusCode(), Err: errors.New("empty response body")}
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		defer cancel()
		defer resp.RawResponse.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.RawResponse.Body, maxErrorBytes))
		logger.L.Warn("relay returned error status", "stream_id", id, "status", resp.StatusCode())
		return nil, &chat.UpstreamError{
			StatusCode: resp.StatusCode(),
			Err:        errors.New(strings.TrimSpace(string(msg))),
		}
	}

	logger.L.Debug("stream opened", "stream_id", id, "messages", len(snapshot))
	return newStream(streamCtx, id, snapshot, resp.RawResponse.Body, cancel), nil
}
