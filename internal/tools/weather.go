package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/llm"
	"github.com/quietriver/assistant/internal/retry"
	"github.com/quietriver/assistant/internal/validate"
)

// Weather resolves a place name and returns current conditions, backed
// by an open-meteo style geocoding + forecast API pair.
type Weather struct {
	client      *http.Client
	geocodeURL  string
	forecastURL string
	breaker     *retry.Breaker
	retryCfg    retry.Config
}

// NewWeather creates the weather tool.
func NewWeather(client *http.Client, geocodeURL, forecastURL string) *Weather {
	if client == nil {
		client = http.DefaultClient
	}
	return &Weather{
		client:      client,
		geocodeURL:  geocodeURL,
		forecastURL: forecastURL,
		breaker:     retry.NewBreaker(retry.BreakerConfig{Name: "weather"}),
		retryCfg:    retry.DefaultConfig(),
	}
}

func (w *Weather) Name() string { return "get_weather" }

func (w *Weather) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        w.Name(),
			Description: "Get current weather conditions for a city or place name.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"location": {"type": "string", "description": "City or place name"}
				},
				"required": ["location"]
			}`),
		},
	}
}

type weatherArgs struct {
	Location string `json:"location"`
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		WeatherCode int     `json:"weathercode"`
	} `json:"current_weather"`
}

func (w *Weather) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed weatherArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", domain.ErrToolExecution(w.Name(), "malformed arguments").WithCause(err)
	}
	if err := validate.Required("location", parsed.Location); err != nil {
		return "", err
	}

	var geo geocodeResponse
	geoURL := fmt.Sprintf("%s/v1/search?name=%s&count=1", w.geocodeURL, url.QueryEscape(parsed.Location))
	if err := call(ctx, "weather geocode", w.breaker, w.retryCfg, func(ctx context.Context) error {
		return fetchJSON(ctx, w.client, geoURL, &geo)
	}); err != nil {
		return "", err
	}
	if len(geo.Results) == 0 {
		return "", domain.ErrToolExecution(w.Name(), fmt.Sprintf("unknown location %q", parsed.Location))
	}
	place := geo.Results[0]

	var forecast forecastResponse
	fcURL := fmt.Sprintf("%s/v1/forecast?latitude=%.4f&longitude=%.4f&current_weather=true",
		w.forecastURL, place.Latitude, place.Longitude)
	if err := call(ctx, "weather forecast", w.breaker, w.retryCfg, func(ctx context.Context) error {
		return fetchJSON(ctx, w.client, fcURL, &forecast)
	}); err != nil {
		return "", err
	}

	result, err := json.Marshal(map[string]any{
		"location":    place.Name,
		"country":     place.Country,
		"temperature": forecast.CurrentWeather.Temperature,
		"windSpeed":   forecast.CurrentWeather.WindSpeed,
		"weatherCode": forecast.CurrentWeather.WeatherCode,
	})
	if err != nil {
		return "", domain.ErrToolExecution(w.Name(), "failed to encode result").WithCause(err)
	}
	return string(result), nil
}
