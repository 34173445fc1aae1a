package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/llm"
	"github.com/quietriver/assistant/internal/retry"
)

// Motorsport returns Formula 1 driver standings from an Ergast-style
// API.
type Motorsport struct {
	client   *http.Client
	baseURL  string
	breaker  *retry.Breaker
	retryCfg retry.Config
}

// NewMotorsport creates the motorsport standings tool.
func NewMotorsport(client *http.Client, baseURL string) *Motorsport {
	if client == nil {
		client = http.DefaultClient
	}
	return &Motorsport{
		client:   client,
		baseURL:  baseURL,
		breaker:  retry.NewBreaker(retry.BreakerConfig{Name: "motorsport"}),
		retryCfg: retry.DefaultConfig(),
	}
}

func (m *Motorsport) Name() string { return "get_driver_standings" }

func (m *Motorsport) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        m.Name(),
			Description: "Get current Formula 1 driver championship standings.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"season": {"type": "string", "description": "Season year, defaults to current"}
				}
			}`),
		},
	}
}

type motorsportArgs struct {
	Season string `json:"season"`
}

type standingsResponse struct {
	MRData struct {
		StandingsTable struct {
			StandingsLists []struct {
				Season          string `json:"season"`
				DriverStandings []struct {
					Position string `json:"position"`
					Points   string `json:"points"`
					Wins     string `json:"wins"`
					Driver   struct {
						GivenName  string `json:"givenName"`
						FamilyName string `json:"familyName"`
					} `json:"Driver"`
					Constructors []struct {
						Name string `json:"name"`
					} `json:"Constructors"`
				} `json:"DriverStandings"`
			} `json:"StandingsLists"`
		} `json:"StandingsTable"`
	} `json:"MRData"`
}

func (m *Motorsport) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed motorsportArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return "", domain.ErrToolExecution(m.Name(), "malformed arguments").WithCause(err)
		}
	}
	season := parsed.Season
	if season == "" {
		season = "current"
	}

	var resp standingsResponse
	standingsURL := fmt.Sprintf("%s/f1/%s/driverstandings.json", m.baseURL, season)
	if err := call(ctx, "driver standings", m.breaker, m.retryCfg, func(ctx context.Context) error {
		return fetchJSON(ctx, m.client, standingsURL, &resp)
	}); err != nil {
		return "", err
	}

	lists := resp.MRData.StandingsTable.StandingsLists
	if len(lists) == 0 {
		return "", domain.ErrToolExecution(m.Name(), fmt.Sprintf("no standings for season %q", season))
	}

	type entry struct {
		Position string `json:"position"`
		Driver   string `json:"driver"`
		Team     string `json:"team"`
		Points   string `json:"points"`
		Wins     string `json:"wins"`
	}
	entries := make([]entry, 0, len(lists[0].DriverStandings))
	for _, ds := range lists[0].DriverStandings {
		team := ""
		if len(ds.Constructors) > 0 {
			team = ds.Constructors[0].Name
		}
		entries = append(entries, entry{
			Position: ds.Position,
			Driver:   ds.Driver.GivenName + " " + ds.Driver.FamilyName,
			Team:     team,
			Points:   ds.Points,
			Wins:     ds.Wins,
		})
	}

	result, err := json.Marshal(map[string]any{
		"season":    lists[0].Season,
		"standings": entries,
	})
	if err != nil {
		return "", domain.ErrToolExecution(m.Name(), "failed to encode result").WithCause(err)
	}
	return string(result), nil
}
