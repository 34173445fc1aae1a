package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/quietriver/assistant/internal/testutil"
)

func TestMotorsportReplay(t *testing.T) {
	rec, cleanup := testutil.NewVCRRecorder(t, "driver_standings")
	defer cleanup()

	tool := NewMotorsport(testutil.VCRHTTPClient(rec), "https://api.jolpi.ca/ergast")
	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"season":"2024"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	var result struct {
		Season    string            `json:"season"`
		Standings []json.RawMessage `json:"standings"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if result.Season != "2024" || len(result.Standings) != 2 {
		t.Fatalf("result = %s", out)
	}
	if !strings.Contains(out, "Max Verstappen") {
		t.Errorf("missing leader in %s", out)
	}
}
