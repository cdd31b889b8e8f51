package e2e

import (
	"encoding/json"
	"strings"
	"testing"
)

// healthReport mirrors the CLI's --json output shape.
type healthReport struct {
	Healthy      bool   `json:"healthy"`
	Backend      string `json:"backend"`
	BackendError string `json:"backend_error"`
	LLM          string `json:"llm"`
	LLMModel     string `json:"llm_model"`
	LLMError     string `json:"llm_error"`
	DurationMs   int64  `json:"duration_ms"`
}

// decodeHealthJSON extracts the JSON object from the command output. On
// a fresh HOME the config-creation notice precedes it.
func decodeHealthJSON(t *testing.T, out string) healthReport {
	t.Helper()
	idx := strings.Index(out, "{")
	if idx < 0 {
		t.Fatalf("no JSON in output:\n%s", out)
	}
	var report healthReport
	if err := json.Unmarshal([]byte(out[idx:]), &report); err != nil {
		t.Fatalf("bad JSON: %v\nOutput: %s", err, out)
	}
	return report
}

func TestHealthCommand_JSONReport(t *testing.T) {
	fx := newFixtureServer(t)

	out, err := runCLI(t, fx, "", "health", "--json")
	if err != nil {
		t.Fatalf("health failed: %v\nOutput: %s", err, out)
	}

	report := decodeHealthJSON(t, out)
	if !report.Healthy {
		t.Errorf("report not healthy: %+v", report)
	}
	if report.Backend != "healthy" {
		t.Errorf("backend status = %q, want %q", report.Backend, "healthy")
	}
	if report.LLM != "ok" {
		t.Errorf("llm status = %q, want %q", report.LLM, "ok")
	}
	if report.LLMModel != "llama-3.3-70b" {
		t.Errorf("llm model = %q", report.LLMModel)
	}

	if len(fx.RequestsFor("/v1/health")) != 1 || len(fx.RequestsFor("/v1/llm/health")) != 1 {
		t.Errorf("expected one probe per endpoint, got %+v", fx.RequestsFor("/v1/"))
	}
}

func TestHealthCommand_HumanReport(t *testing.T) {
	fx := newFixtureServer(t)

	out, err := runCLI(t, fx, "", "health")
	if err != nil {
		t.Fatalf("health failed: %v\nOutput: %s", err, out)
	}

	if !strings.Contains(out, "Backend  OK") {
		t.Errorf("backend line missing.\nOutput: %s", out)
	}
	if !strings.Contains(out, "LLM      OK    model=llama-3.3-70b") {
		t.Errorf("llm line missing.\nOutput: %s", out)
	}
	if !strings.Contains(out, "Completed in") {
		t.Errorf("duration line missing.\nOutput: %s", out)
	}
}

// TestHealthCommand_BackendOnly verifies --backend-only skips the model
// round-trip entirely.
func TestHealthCommand_BackendOnly(t *testing.T) {
	fx := newFixtureServer(t)

	out, err := runCLI(t, fx, "", "health", "--backend-only", "--json")
	if err != nil {
		t.Fatalf("health failed: %v\nOutput: %s", err, out)
	}

	report := decodeHealthJSON(t, out)
	if !report.Healthy {
		t.Errorf("report not healthy: %+v", report)
	}
	if report.LLM != "" {
		t.Errorf("LLM probe should not have run, got status %q", report.LLM)
	}

	if got := len(fx.RequestsFor("/v1/llm/health")); got != 0 {
		t.Errorf("expected no LLM probe, got %d", got)
	}
}

// TestHealthCommand_DeadServer points the CLI at a closed port. The
// command must exit non-zero with a failed report rather than hang.
func TestHealthCommand_DeadServer(t *testing.T) {
	fx := newFixtureServer(t)
	url := fx.URL()
	fx.Close()

	cmdOut, err := runCLIAt(t, url, "", "health", "--json")
	if err == nil {
		t.Fatalf("expected non-zero exit against a dead server.\nOutput: %s", cmdOut)
	}

	report := decodeHealthJSON(t, cmdOut)
	if report.Healthy {
		t.Errorf("dead server reported healthy: %+v", report)
	}
	if report.BackendError == "" {
		t.Error("backend error missing from report")
	}
	if !strings.Contains(report.LLMError, "backend unreachable") {
		t.Errorf("LLM probe should be skipped when the backend is down, got %q", report.LLMError)
	}
}
