// Package llm is a hand-rolled client for an OpenAI-compatible chat
// completion endpoint, with SSE streaming and function-style tool calls.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/quietriver/assistant/internal/domain"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client talks to one model behind an OpenAI-compatible endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a client for the given endpoint and model.
func NewClient(baseURL, apiKey, model string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends a non-streaming completion request and returns the
// first choice. Tool definitions, when provided, let the model answer
// with tool calls instead of content.
func (c *Client) Complete(ctx context.Context, messages []Message, tools []ToolDef) (*Message, error) {
	reqBody := ChatRequest{Model: c.model, Messages: messages, Tools: tools}

	resp, err := c.post(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrAI("failed to read model response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, respBody)
	}

	var result ChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.ErrAI("failed to decode model response", err)
	}
	if len(result.Choices) == 0 {
		return nil, domain.ErrAI("model returned no choices", nil)
	}
	return &result.Choices[0].Message, nil
}

// Stream sends a streaming completion request and returns a channel of
// content deltas. The channel closes when the stream ends; a terminal
// error is delivered as the final StreamResult. Cancelling ctx tears the
// stream down.
func (c *Client) Stream(ctx context.Context, messages []Message) (<-chan StreamResult, error) {
	reqBody := ChatRequest{Model: c.model, Messages: messages, Stream: true}

	resp, err := c.post(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, c.statusError(resp.StatusCode, respBody)
	}

	out := make(chan StreamResult)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

func (c *Client) post(ctx context.Context, reqBody ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, domain.ErrAI("failed to marshal model request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.ErrAI("failed to create model request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Raise a typed error here so the boundary never has to fall
		// back to substring classification for inference failures.
		return nil, domain.ErrAI("model request failed", err)
	}
	return resp, nil
}

func (c *Client) statusError(status int, body []byte) error {
	msg := fmt.Sprintf("model endpoint returned status %d", status)
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return domain.NewError(domain.KindAPIUnavailable, msg).
			WithDetail("status", status)
	default:
		return domain.ErrAI(msg, nil).
			WithDetail("status", status).
			WithDetail("body", truncate(string(body), 500))
	}
}

// streamReader parses SSE frames off the wire and forwards content
// deltas until [DONE] or a read error. Every send races ctx so an
// abandoned consumer cannot strand the goroutine on the unbuffered
// channel; cancelling ctx both tears down the HTTP body and unblocks
// any pending send.
func (c *Client) streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer body.Close()

	send := func(r StreamResult) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			send(StreamResult{Err: domain.ErrAI("failed to decode stream chunk", err)})
			return
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !send(StreamResult{Content: choice.Delta.Content}) {
					return
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		send(StreamResult{Err: domain.ErrAI("model stream interrupted", err)})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
