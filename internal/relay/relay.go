// Package relay implements the server side of the chat exchange: it accepts a
// message list, forwards it unchanged to the upstream completion API with
// streaming enabled, and copies the generated text back to the caller as it
// arrives.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sashabaranov/go-openai"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/config"
	"github.com/Ahmadjon7/UZB-AI/internal/llm"
	"github.com/Ahmadjon7/UZB-AI/internal/logger"
)

const maxBodyBytes = 1 << 20

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []chat.Message `json:"messages"`
}

// Handler relays chat completions.
type Handler struct {
	llmClient llm.Client
	model     string
	timeout   time.Duration
}

// NewHandler creates a relay handler. The model and request ceiling come from
// server configuration only.
func NewHandler(llmClient llm.Client, cfg config.Config) *Handler {
	timeout := cfg.Server.Timeout()
	return &Handler{
		llmClient: llmClient,
		model:     cfg.LLM.Model,
		timeout:   timeout,
	}
}

// Chat handles POST /api/chat.
//
// The status line is committed together with the first fragment, so failures
// before any output get a real status (502, or 504 when the ceiling is hit).
// Once text has been sent the only way left to report a failure is to abort
// the connection; the client then sees a truncated body instead of a clean end.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		logger.L.Warn("invalid chat request body", "request_id", reqID, "error", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages must not be empty", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	start := time.Now()
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	logger.L.Info("relaying chat completion", "request_id", reqID, "messages", len(messages), "model", h.model)
	stream, err := h.llmClient.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    h.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		outcome, status := classify(ctx, r)
		logger.L.Error("upstream stream creation failed", "request_id", reqID, "error", err, "outcome", outcome)
		streamsTotal.WithLabelValues(outcome).Inc()
		if outcome != outcomeClientGone {
			http.Error(w, http.StatusText(status), status)
		}
		return
	}
	defer stream.Close()

	rc := http.NewResponseController(w)
	wrote := false
	fragments := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			outcome, status := classify(ctx, r)
			logger.L.Error("upstream stream failed", "request_id", reqID, "error", err, "outcome", outcome, "fragments", fragments)
			streamsTotal.WithLabelValues(outcome).Inc()
			if outcome == outcomeClientGone {
				return
			}
			if !wrote {
				http.Error(w, http.StatusText(status), status)
				return
			}
			panic(http.ErrAbortHandler)
		}

		for _, choice := range resp.Choices {
			text := choice.Delta.Content
			if text == "" {
				continue
			}
			if !wrote {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.WriteHeader(http.StatusOK)
				wrote = true
				firstFragmentSeconds.Observe(time.Since(start).Seconds())
			}
			if _, err := io.WriteString(w, text); err != nil {
				logger.L.Warn("client write failed", "request_id", reqID, "error", err)
				streamsTotal.WithLabelValues(outcomeClientGone).Inc()
				return
			}
			if err := rc.Flush(); err != nil {
				logger.L.Debug("flush unsupported", "request_id", reqID, "error", err)
			}
			fragments++
			fragmentsTotal.Inc()
		}
	}

	if !wrote {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
	streamsTotal.WithLabelValues(outcomeCompleted).Inc()
	logger.L.Info("chat completion relayed", "request_id", reqID, "fragments", fragments, "duration", time.Since(start))
}

// classify maps a failed upstream call to a metrics outcome and the status to
// report if nothing has been written yet.
func classify(ctx context.Context, r *http.Request) (string, int) {
	if r.Context().Err() != nil {
		return outcomeClientGone, 499
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return outcomeTimeout, http.StatusGatewayTimeout
	}
	return outcomeUpstreamError, http.StatusBadGateway
}
