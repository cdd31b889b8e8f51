package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// =============================================================================
// INTERFACES
// =============================================================================

// HealthChecker verifies answer service availability (binary up/down).
//
// # Description
//
// This interface probes the answer service's health endpoints: the
// basic liveness check and the LLM round-trip check. The LLM check
// sends a real prompt through OpenRouter server-side, so it is slow
// and costs tokens; callers should surface that in the UI.
//
// # Examples
//
//	checker := NewDefaultHealthChecker(HealthCheckerConfig{
//	    BaseURL: "http://localhost:8000",
//	})
//
//	report, err := checker.CheckAll(ctx)
//	if err != nil {
//	    return err
//	}
//	if report.Healthy() {
//	    fmt.Println("All systems go")
//	}
//
// # Limitations
//
//   - Binary health only (healthy/unhealthy); no degraded state
//   - Cannot predict future failures
//
// # Assumptions
//
//   - Network connectivity to the answer service is available
type HealthChecker interface {
	// CheckBackend probes the basic liveness endpoint.
	//
	// # Description
	//
	// GETs /v1/health and reports whether the service answered with a
	// healthy status.
	//
	// # Outputs
	//
	//   - *BackendHealth: Status as reported by the server.
	//   - error: Non-nil on transport failure or unexpected status.
	CheckBackend(ctx context.Context) (*BackendHealth, error)

	// CheckLLM probes the LLM round-trip endpoint.
	//
	// # Description
	//
	// GETs /v1/llm/health, which sends a test prompt through the
	// configured model. Slow; expect several seconds.
	//
	// # Outputs
	//
	//   - *LLMHealth: Model, test prompt, and sample completion.
	//   - error: Non-nil on transport failure. A reachable endpoint
	//     reporting status "error" is returned without a Go error.
	CheckLLM(ctx context.Context) (*LLMHealth, error)

	// CheckAll runs both probes and aggregates the results.
	//
	// # Outputs
	//
	//   - *HealthReport: Per-probe results; failed probes carry errors.
	//   - error: Non-nil only on invalid configuration.
	CheckAll(ctx context.Context) (*HealthReport, error)
}

// =============================================================================
// TYPES
// =============================================================================

// BackendHealth is the basic liveness response body.
type BackendHealth struct {
	Status string `json:"status"`
}

// Healthy reports whether the backend declared itself healthy.
func (b *BackendHealth) Healthy() bool {
	return b != nil && b.Status == "healthy"
}

// LLMHealth is the LLM round-trip response body.
//
// Sample carries the model's reply on success and the error text when
// Status is "error".
type LLMHealth struct {
	Status     string `json:"status"`
	Model      string `json:"model"`
	TestPrompt string `json:"test_prompt"`
	Sample     string `json:"sample"`
}

// Healthy reports whether the LLM round-trip succeeded.
func (l *LLMHealth) Healthy() bool {
	return l != nil && l.Status == "ok"
}

// HealthReport aggregates both probes.
type HealthReport struct {
	Backend    *BackendHealth
	BackendErr error
	LLM        *LLMHealth
	LLMErr     error
	Duration   time.Duration
}

// Healthy reports whether every probe passed.
func (r *HealthReport) Healthy() bool {
	return r.BackendErr == nil && r.Backend.Healthy() &&
		r.LLMErr == nil && r.LLM.Healthy()
}

// HealthCheckerConfig holds configuration for the health checker.
//
// # Fields
//
//   - BaseURL: Required. Answer service URL without trailing slash.
//   - Timeout: Optional. Per-probe timeout. Default: 60 seconds, sized
//     for the LLM round-trip rather than the liveness check.
type HealthCheckerConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultHealthChecker is the production HealthChecker.
type DefaultHealthChecker struct {
	client  HTTPClient
	baseURL string
}

// ErrHealthCheckFailed is returned when a probe got a non-200 response.
var ErrHealthCheckFailed = fmt.Errorf("health check failed")

// ErrSSRFBlocked is returned when a URL targets a blocked IP range.
var ErrSSRFBlocked = fmt.Errorf("URL blocked: potential SSRF attack")

// =============================================================================
// SSRF PROTECTION
// =============================================================================

// isURLSafe validates that a URL doesn't target dangerous IP ranges.
//
// # Description
//
// Protects against Server-Side Request Forgery (SSRF) attacks by blocking
// requests to cloud metadata endpoints and link-local ranges, while
// allowing localhost and private networks for legitimate local probes.
//
// # Security
//
// Blocks:
//   - Cloud metadata: 169.254.169.254 (AWS, GCP, Azure)
//   - Link-local: 169.254.0.0/16
//
// Allows:
//   - localhost, 127.0.0.1, ::1
//   - Private networks (10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16)
//   - Public hostnames
//
// # Inputs
//
//   - rawURL: URL string to validate
//
// # Outputs
//
//   - error: Non-nil if URL is blocked
func isURLSafe(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	// Always allow localhost
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Hostname (not IP) - allow DNS resolution
		return nil
	}

	// Block cloud metadata endpoint (169.254.169.254)
	metadataIP := net.ParseIP("169.254.169.254")
	if ip.Equal(metadataIP) {
		return fmt.Errorf("%w: cloud metadata endpoint blocked", ErrSSRFBlocked)
	}

	// Block link-local range (169.254.0.0/16)
	linkLocal := net.IPNet{
		IP:   net.ParseIP("169.254.0.0"),
		Mask: net.CIDRMask(16, 32),
	}
	if linkLocal.Contains(ip) {
		return fmt.Errorf("%w: link-local address blocked", ErrSSRFBlocked)
	}

	return nil
}

// =============================================================================
// CONSTRUCTOR FUNCTIONS
// =============================================================================

// NewDefaultHealthChecker creates a production health checker.
//
// # Inputs
//
//   - config: Configuration with the answer service base URL.
//
// # Outputs
//
//   - *DefaultHealthChecker: Configured health checker ready for use.
func NewDefaultHealthChecker(config HealthCheckerConfig) *DefaultHealthChecker {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return NewDefaultHealthCheckerWithClient(newDefaultHTTPClient(timeout), config)
}

// NewDefaultHealthCheckerWithClient creates a health checker with a
// custom HTTP client.
//
// # Description
//
// Use this constructor for testing with mock clients.
func NewDefaultHealthCheckerWithClient(client HTTPClient, config HealthCheckerConfig) *DefaultHealthChecker {
	return &DefaultHealthChecker{
		client:  client,
		baseURL: config.BaseURL,
	}
}

// =============================================================================
// METHODS
// =============================================================================

// CheckBackend probes the basic liveness endpoint.
func (h *DefaultHealthChecker) CheckBackend(ctx context.Context) (*BackendHealth, error) {
	var health BackendHealth
	if err := h.probe(ctx, "/v1/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// CheckLLM probes the LLM round-trip endpoint.
func (h *DefaultHealthChecker) CheckLLM(ctx context.Context) (*LLMHealth, error) {
	var health LLMHealth
	if err := h.probe(ctx, "/v1/llm/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// CheckAll runs both probes and aggregates the results.
//
// # Description
//
// Probes are sequential: the liveness check is fast and failing it
// early saves the slow LLM round-trip from a dead server. The LLM
// probe still runs when liveness fails only at the status level, so
// the report shows everything that is wrong.
func (h *DefaultHealthChecker) CheckAll(ctx context.Context) (*HealthReport, error) {
	if err := isURLSafe(h.baseURL); err != nil {
		return nil, err
	}

	started := time.Now()
	report := &HealthReport{}

	report.Backend, report.BackendErr = h.CheckBackend(ctx)
	if report.BackendErr != nil {
		slog.Warn("backend health probe failed", "error", report.BackendErr)
		report.LLMErr = fmt.Errorf("%w: backend unreachable, skipping LLM probe", ErrHealthCheckFailed)
		report.Duration = time.Since(started)
		return report, nil
	}

	report.LLM, report.LLMErr = h.CheckLLM(ctx)
	if report.LLMErr != nil {
		slog.Warn("LLM health probe failed", "error", report.LLMErr)
	}

	report.Duration = time.Since(started)
	return report, nil
}

// probe GETs an endpoint and decodes the JSON body into out.
func (h *DefaultHealthChecker) probe(ctx context.Context, path string, out any) error {
	targetURL := h.baseURL + path

	if err := isURLSafe(targetURL); err != nil {
		return err
	}

	resp, err := h.client.Get(ctx, targetURL)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%w: GET %s returned %d", ErrHealthCheckFailed, path, resp.StatusCode)
		}
		return fmt.Errorf("%w: GET %s returned %d: %s", ErrHealthCheckFailed, path, resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// Compile-time interface compliance check
var _ HealthChecker = (*DefaultHealthChecker)(nil)
