package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/llm"
	"github.com/quietriver/assistant/internal/retry"
	"github.com/quietriver/assistant/internal/validate"
)

// Stocks returns real-time equity quotes from a Finnhub-style quote
// endpoint.
type Stocks struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	breaker  *retry.Breaker
	retryCfg retry.Config
}

// NewStocks creates the stock quote tool.
func NewStocks(client *http.Client, baseURL, apiKey string) *Stocks {
	if client == nil {
		client = http.DefaultClient
	}
	return &Stocks{
		client:   client,
		baseURL:  baseURL,
		apiKey:   apiKey,
		breaker:  retry.NewBreaker(retry.BreakerConfig{Name: "stocks"}),
		retryCfg: retry.DefaultConfig(),
	}
}

func (s *Stocks) Name() string { return "get_stock_quote" }

func (s *Stocks) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        s.Name(),
			Description: "Get the latest quote for a stock ticker symbol.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"symbol": {"type": "string", "description": "Ticker symbol, e.g. AAPL"}
				},
				"required": ["symbol"]
			}`),
		},
	}
}

type stocksArgs struct {
	Symbol string `json:"symbol"`
}

type quoteResponse struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
}

func (s *Stocks) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed stocksArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", domain.ErrToolExecution(s.Name(), "malformed arguments").WithCause(err)
	}
	if err := validate.Required("symbol", parsed.Symbol); err != nil {
		return "", err
	}
	symbol := strings.ToUpper(strings.TrimSpace(parsed.Symbol))

	var quote quoteResponse
	quoteURL := fmt.Sprintf("%s/quote?symbol=%s&token=%s",
		s.baseURL, url.QueryEscape(symbol), url.QueryEscape(s.apiKey))
	if err := call(ctx, "stock quote", s.breaker, s.retryCfg, func(ctx context.Context) error {
		return fetchJSON(ctx, s.client, quoteURL, &quote)
	}); err != nil {
		return "", err
	}

	// The quote API answers 200 with zeroed fields for unknown symbols.
	if quote.Current == 0 && quote.PreviousClose == 0 {
		return "", domain.ErrToolExecution(s.Name(), fmt.Sprintf("no quote for symbol %q", symbol))
	}

	result, err := json.Marshal(map[string]any{
		"symbol":        symbol,
		"current":       quote.Current,
		"high":          quote.High,
		"low":           quote.Low,
		"open":          quote.Open,
		"previousClose": quote.PreviousClose,
	})
	if err != nil {
		return "", domain.ErrToolExecution(s.Name(), "failed to encode result").WithCause(err)
	}
	return string(result), nil
}
