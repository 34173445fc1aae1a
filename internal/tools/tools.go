// Package tools implements the external data tools the model may
// invoke: weather, motorsport standings, and stock quotes. Every
// outbound call runs through the retry helper and a per-endpoint
// circuit breaker; tool calls never touch the database.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/llm"
	"github.com/quietriver/assistant/internal/retry"
)

// Tool is one callable external data source. Invoke returns a JSON
// document fed back to the model verbatim.
type Tool interface {
	Name() string
	Definition() llm.ToolDef
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds the tools exposed to the model.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry over the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r
}

// Definitions lists the schemas advertised to the model, in
// registration order.
func (r *Registry) Definitions() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Invoke dispatches to the named tool.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", domain.ErrToolExecution(name, fmt.Sprintf("unknown tool %q", name))
	}
	return tool.Invoke(ctx, args)
}

// fetchJSON issues a GET and decodes the JSON body into out. Non-200
// statuses become plain errors so the retry helper can count and wrap
// them.
func fetchJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// call runs op through the breaker inside the retry loop, so a retried
// attempt against an open breaker fails fast.
func call(ctx context.Context, name string, breaker *retry.Breaker, cfg retry.Config, op func(context.Context) error) error {
	return retry.Do(ctx, name, cfg, func(ctx context.Context) error {
		return breaker.Execute(ctx, op)
	})
}
