package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// The fixture is a stand-in answer service speaking the production wire
// dialect: SSE frames on /v1/answer/stream, blocking JSON on /v1/answer,
// plus the source, context, and health endpoints. Scenarios are selected
// by keywords in the question, so a test steers the server by what it
// asks rather than by out-of-band setup.

// fixtureValidate mirrors the server-side request validation, including
// the document identifier alphabet rule.
var fixtureValidate *validator.Validate

func init() {
	gin.SetMode(gin.TestMode)

	fixtureValidate = validator.New()
	_ = fixtureValidate.RegisterValidation("docid", validateFixtureDocID)
}

// validateFixtureDocID enforces the doc_id alphabet: first character
// alphanumeric, then letters, digits, dot, underscore, or hyphen, at
// most 128 characters.
func validateFixtureDocID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" || len(id) > 128 {
		return false
	}
	for i, r := range id {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if i == 0 {
			if !alnum {
				return false
			}
			continue
		}
		if !alnum && r != '.' && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

// =============================================================================
// Wire Types
// =============================================================================

type streamAnswerRequest struct {
	Prompt       string `json:"prompt" validate:"required,max=4096"`
	MaxSources   int    `json:"max_sources" validate:"gte=0,lte=50"`
	UseReranking bool   `json:"use_reranking"`
	UseWebSearch bool   `json:"use_web_search"`
}

func (r *streamAnswerRequest) Validate() error {
	return fixtureValidate.Struct(r)
}

type contextDebugRequest struct {
	Query string `json:"query" validate:"required,max=4096"`
	TopK  int    `json:"top_k" validate:"gte=0,lte=100"`
}

func (r *contextDebugRequest) Validate() error {
	return fixtureValidate.Struct(r)
}

type evidenceItem struct {
	EvidenceID int    `json:"evidence_id"`
	Citation   string `json:"citation"`
	DocID      string `json:"doc_id"`
	DocTitle   string `json:"doc_title"`
	DocType    string `json:"doctype,omitempty"`
	Date       string `json:"date,omitempty"`
	PageRange  []int  `json:"page_range"`
	Text       string `json:"text"`
	SourceURL  string `json:"source_url"`
	TokenCount int    `json:"token_count,omitempty"`
}

type streamFrame struct {
	Type             string         `json:"type"`
	Chunk            string         `json:"chunk,omitempty"`
	Message          string         `json:"message,omitempty"`
	Sources          []evidenceItem `json:"sources,omitempty"`
	UsedModel        string         `json:"used_model,omitempty"`
	TotalSources     int            `json:"total_sources,omitempty"`
	TotalTokens      int            `json:"total_tokens,omitempty"`
	TargetTokens     int            `json:"target_tokens,omitempty"`
	SuggestWebSearch bool           `json:"suggest_web_search,omitempty"`
	AnswerMD         string         `json:"answer_md,omitempty"`
	LatencyMs        int64          `json:"latency_ms,omitempty"`
}

type answerMetadata struct {
	TotalBlocks      int     `json:"total_blocks"`
	TotalTokens      int     `json:"total_tokens"`
	TargetTokens     int     `json:"target_tokens"`
	MaxTokens        int     `json:"max_tokens"`
	FillRatio        float64 `json:"fill_ratio"`
	BlocksTruncated  bool    `json:"blocks_truncated"`
	SuggestWebSearch bool    `json:"suggest_web_search"`
	WebSearchUsed    bool    `json:"web_search_used"`
}

type answerResponse struct {
	AnswerMD  string         `json:"answer_md"`
	Sources   []evidenceItem `json:"sources"`
	UsedModel string         `json:"used_model"`
	LatencyMs int64          `json:"latency_ms"`
	Metadata  answerMetadata `json:"metadata"`
}

type sourcePage struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	DocDate string `json:"doc_date"`
	URL     string `json:"url"`
	PageNo  int    `json:"pageno"`
	Text    string `json:"text"`
}

type contextRecord struct {
	Rank    int    `json:"rank,omitempty"`
	DocID   string `json:"doc_id"`
	PageNo  int    `json:"pageno"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// =============================================================================
// Canonical Harbor Library
// =============================================================================

var (
	mooringEvidence = evidenceItem{
		EvidenceID: 1,
		Citation:   "[1]",
		DocID:      "mooring-guide",
		DocTitle:   "Guest Mooring Guide",
		DocType:    "pdf",
		Date:       "2024-05-01",
		PageRange:  []int{12},
		Text:       "Approach the guest dock dead slow and tie off at the leeward cleat first.",
		SourceURL:  "https://harbor.example.com/docs/mooring-guide.pdf",
		TokenCount: 118,
	}

	feesEvidence = evidenceItem{
		EvidenceID: 1,
		Citation:   "[1]",
		DocID:      "harbor-rules",
		DocTitle:   "Harbor Rules and Fees",
		DocType:    "pdf",
		Date:       "2024-01-15",
		PageRange:  []int{3},
		Text:       "Slip fees are set each quarter and posted on the harbormaster's board.",
		SourceURL:  "https://harbor.example.com/docs/harbor-rules.pdf",
		TokenCount: 96,
	}

	// A second retrieved chunk from the same page as feesEvidence. The
	// generator numbers it separately, but it shares the page identity,
	// so both of its citations settle on one panel entry.
	feesTableEvidence = evidenceItem{
		EvidenceID: 2,
		Citation:   "[2]",
		DocID:      "harbor-rules",
		DocTitle:   "Harbor Rules and Fees",
		DocType:    "pdf",
		Date:       "2024-01-15",
		PageRange:  []int{3},
		Text:       "Guest berths are billed nightly, power and water included.",
		SourceURL:  "https://harbor.example.com/docs/harbor-rules.pdf",
		TokenCount: 64,
	}

	// Web search turns carry a single placeholder item.
	webEvidence = evidenceItem{
		EvidenceID: 1,
		Citation:   "[1]",
		DocID:      "web_search",
		DocTitle:   "Web search",
		DocType:    "web",
		PageRange:  []int{},
	}
)

// fixturePages is the harbor library the source endpoint serves.
var fixturePages = map[string]sourcePage{
	"mooring-guide/12": {
		DocID:   "mooring-guide",
		Title:   "Guest Mooring Guide",
		DocDate: "2024-05-01",
		URL:     "https://harbor.example.com/docs/mooring-guide.pdf",
		PageNo:  12,
		Text:    "Approach the guest dock dead slow.\nTie off at the leeward cleat first, then set the spring line before cutting the engine.",
	},
	"harbor-rules/3": {
		DocID:   "harbor-rules",
		Title:   "Harbor Rules and Fees",
		DocDate: "2024-01-15",
		URL:     "https://harbor.example.com/docs/harbor-rules.pdf",
		PageNo:  3,
		Text:    "Slip fees are set each quarter and posted on the harbormaster's board.\nGuest berths are billed nightly, power and water included.",
	},
}

// =============================================================================
// Fixture Server
// =============================================================================

// recordedRequest is one accepted request, kept for test assertions.
type recordedRequest struct {
	Method       string
	Path         string
	Prompt       string
	MaxSources   int
	UseReranking bool
	UseWebSearch bool
}

type fixtureServer struct {
	engine *gin.Engine
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newFixtureServer(t *testing.T) *fixtureServer {
	t.Helper()

	fx := &fixtureServer{}
	router := gin.New()
	router.POST("/v1/answer/stream", fx.handleAnswerStream)
	router.POST("/v1/answer", fx.handleAnswer)
	router.GET("/v1/source/:doc_id/:pageno", fx.handleSourcePage)
	router.POST("/v1/context-debug", fx.handleContextDebug)
	router.GET("/v1/health", fx.handleHealth)
	router.GET("/v1/llm/health", fx.handleLLMHealth)

	fx.engine = router
	fx.server = httptest.NewServer(router)
	t.Cleanup(fx.server.Close)
	return fx
}

func (f *fixtureServer) URL() string { return f.server.URL }

// Close shuts the server down early, for tests that need a dead endpoint.
func (f *fixtureServer) Close() { f.server.Close() }

func (f *fixtureServer) record(r recordedRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
}

// RequestsFor returns the accepted requests whose path starts with prefix.
func (f *fixtureServer) RequestsFor(prefix string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// Handlers
// =============================================================================

// handleAnswerStream emits the scenario's SSE frames, flushing each one
// so the client sees them arrive incrementally.
func (f *fixtureServer) handleAnswerStream(c *gin.Context) {
	var req streamAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f.record(recordedRequest{
		Method:       http.MethodPost,
		Path:         c.Request.URL.Path,
		Prompt:       req.Prompt,
		MaxSources:   req.MaxSources,
		UseReranking: req.UseReranking,
		UseWebSearch: req.UseWebSearch,
	})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	for _, line := range streamScenario(req) {
		fmt.Fprintf(c.Writer, "data: %s\n\n", line)
		c.Writer.Flush()
		time.Sleep(2 * time.Millisecond)
	}
}

func (f *fixtureServer) handleAnswer(c *gin.Context) {
	var req streamAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f.record(recordedRequest{
		Method:       http.MethodPost,
		Path:         c.Request.URL.Path,
		Prompt:       req.Prompt,
		MaxSources:   req.MaxSources,
		UseReranking: req.UseReranking,
		UseWebSearch: req.UseWebSearch,
	})

	c.JSON(http.StatusOK, answerScenario(req))
}

func (f *fixtureServer) handleSourcePage(c *gin.Context) {
	docID := c.Param("doc_id")
	pageno, err := strconv.Atoi(c.Param("pageno"))
	if err != nil || pageno < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pageno must be a positive integer"})
		return
	}
	if err := fixtureValidate.Var(docID, "docid"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid doc_id"})
		return
	}

	f.record(recordedRequest{Method: http.MethodGet, Path: c.Request.URL.Path})

	page, ok := fixturePages[docID+"/"+strconv.Itoa(pageno)]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "source page not found"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (f *fixtureServer) handleContextDebug(c *gin.Context) {
	var req contextDebugRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f.record(recordedRequest{Method: http.MethodPost, Path: c.Request.URL.Path, Prompt: req.Query})

	records := contextScenario(req.Query)
	c.JSON(http.StatusOK, gin.H{
		"query":         req.Query,
		"top_k":         req.TopK,
		"context_count": len(records),
		"context":       records,
	})
}

func (f *fixtureServer) handleHealth(c *gin.Context) {
	f.record(recordedRequest{Method: http.MethodGet, Path: c.Request.URL.Path})
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (f *fixtureServer) handleLLMHealth(c *gin.Context) {
	f.record(recordedRequest{Method: http.MethodGet, Path: c.Request.URL.Path})
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"model":       "llama-3.3-70b",
		"test_prompt": "Reply with the single word ready.",
		"sample":      "ready",
	})
}

// =============================================================================
// Scenarios
// =============================================================================

// streamScenario picks the frame sequence for a question. Keywords in the
// prompt select failure modes; anything else answers from the harbor
// library.
func streamScenario(req streamAnswerRequest) []string {
	prompt := strings.ToLower(req.Prompt)

	switch {
	case req.UseWebSearch:
		return []string{
			marshalFrame(streamFrame{Type: "metadata", Sources: []evidenceItem{webEvidence}, UsedModel: "llama-3.3-70b:online", TotalSources: 1}),
			marshalFrame(streamFrame{Type: "content", Chunk: "NOAA's small craft advisory ends Saturday morning [1]."}),
			marshalFrame(streamFrame{Type: "done", AnswerMD: "NOAA's small craft advisory ends Saturday morning [1].", UsedModel: "llama-3.3-70b:online", LatencyMs: 1420}),
		}

	case strings.Contains(prompt, "forecast"):
		return []string{
			marshalFrame(streamFrame{Type: "status", Message: "Searching the harbor library"}),
			marshalFrame(streamFrame{Type: "error", Message: "No relevant documents found for this query."}),
		}

	case strings.Contains(prompt, "outage"):
		return []string{
			marshalFrame(streamFrame{Type: "content", Chunk: "Checking the service status"}),
			marshalFrame(streamFrame{Type: "error", Message: "internal error: model backend unavailable"}),
		}

	case strings.Contains(prompt, "glitch"):
		// A frame cut mid-write and an unrecognized type, surrounded by
		// good frames. The client is expected to skip both and still
		// assemble the full answer.
		return []string{
			marshalFrame(streamFrame{Type: "metadata", Sources: []evidenceItem{mooringEvidence}, UsedModel: "llama-3.3-70b", TotalSources: 1, TotalTokens: 880, TargetTokens: 2000}),
			marshalFrame(streamFrame{Type: "content", Chunk: "The harbor cam is fine; tie up at the leeward cleat "}),
			`{"type":"content","chunk":"lost-half-a-fra`,
			`{"type":"heartbeat"}`,
			marshalFrame(streamFrame{Type: "content", Chunk: "[1] and check again."}),
			marshalFrame(streamFrame{Type: "done", UsedModel: "llama-3.3-70b", LatencyMs: 640}),
		}

	case strings.Contains(prompt, "fees"):
		// Two chunks retrieved from the same rules page: the answer cites
		// them as [1] and [2], which share one page identity.
		return []string{
			marshalFrame(streamFrame{Type: "metadata", Sources: []evidenceItem{feesEvidence, feesTableEvidence}, UsedModel: "llama-3.3-70b", TotalSources: 2, TotalTokens: 910, TargetTokens: 2000}),
			marshalFrame(streamFrame{Type: "content", Chunk: "Slip fees are posted quarterly "}),
			marshalFrame(streamFrame{Type: "content", Chunk: "[1], with guest berths billed "}),
			marshalFrame(streamFrame{Type: "content", Chunk: "nightly [2]."}),
			marshalFrame(streamFrame{Type: "done", AnswerMD: "Slip fees are posted quarterly [1], with guest berths billed nightly [2].", UsedModel: "llama-3.3-70b", LatencyMs: 790}),
		}

	default:
		return []string{
			marshalFrame(streamFrame{Type: "metadata", Sources: []evidenceItem{mooringEvidence}, UsedModel: "llama-3.3-70b", TotalSources: 1, TotalTokens: 860, TargetTokens: 2000}),
			marshalFrame(streamFrame{Type: "content", Chunk: "Tie up at the leeward cleat "}),
			marshalFrame(streamFrame{Type: "content", Chunk: "[1], facing the current."}),
			marshalFrame(streamFrame{Type: "done", AnswerMD: "Tie up at the leeward cleat [1], facing the current.", UsedModel: "llama-3.3-70b", LatencyMs: 812}),
		}
	}
}

// answerScenario is the blocking counterpart of streamScenario.
func answerScenario(req streamAnswerRequest) answerResponse {
	prompt := strings.ToLower(req.Prompt)

	switch {
	case req.UseWebSearch:
		return answerResponse{
			AnswerMD:  "NOAA's small craft advisory ends Saturday morning.",
			Sources:   []evidenceItem{},
			UsedModel: "llama-3.3-70b:online",
			LatencyMs: 1380,
			Metadata: answerMetadata{
				TotalBlocks:   1,
				TotalTokens:   420,
				TargetTokens:  2000,
				MaxTokens:     4096,
				FillRatio:     0.21,
				WebSearchUsed: true,
			},
		}

	case strings.Contains(prompt, "forecast"):
		return answerResponse{
			AnswerMD:  "The harbor library has nothing current on marine forecasts.",
			Sources:   []evidenceItem{},
			UsedModel: "llama-3.3-70b",
			LatencyMs: 240,
			Metadata: answerMetadata{
				TargetTokens:     2000,
				MaxTokens:        4096,
				SuggestWebSearch: true,
			},
		}

	default:
		return answerResponse{
			AnswerMD:  "Tie up at the leeward cleat [1], facing the current.",
			Sources:   []evidenceItem{mooringEvidence},
			UsedModel: "llama-3.3-70b",
			LatencyMs: 900,
			Metadata: answerMetadata{
				TotalBlocks:  2,
				TotalTokens:  860,
				TargetTokens: 2000,
				MaxTokens:    4096,
				FillRatio:    0.43,
			},
		}
	}
}

// contextScenario returns the retrieval preview for a query.
func contextScenario(query string) []contextRecord {
	if strings.Contains(strings.ToLower(query), "submarine") {
		return nil
	}
	return []contextRecord{
		{Rank: 1, DocID: "mooring-guide", PageNo: 12, Title: "Guest Mooring Guide",
			URL: "https://harbor.example.com/docs/mooring-guide.pdf", Snippet: "Tie off at the leeward cleat first."},
		{Rank: 2, DocID: "harbor-rules", PageNo: 3, Title: "Harbor Rules and Fees",
			URL: "https://harbor.example.com/docs/harbor-rules.pdf", Snippet: "Slip fees are set each quarter."},
	}
}

func marshalFrame(frame streamFrame) string {
	data, _ := json.Marshal(frame)
	return string(data)
}

// =============================================================================
// CLI Drivers
// =============================================================================

/// cliEnv builds a minimal environment for one CLI run: an isolated HOME
// so the config file is created fresh under the test's temp dir, and the
// fixture's URL as the answer server.
func cliEnv(t *testing.T, serverURL string) []string {
	t.Helper()
	home := t.TempDir()
	return []string{
		"HOME=" + home,
		"PATH=" + os.Getenv("PATH"),
		"PRYZM_SERVER_URL=" + serverURL,
		"PRYZM_LOG_DIR=" + filepath.Join(home, "logs"),
	}
}

// runCLI executes one CLI command against the fixture and returns the
// combined output. Stdin is fed from script when non-empty, which is how
// the chat tests drive a full session.
func runCLI(t *testing.T, fx *fixtureServer, script string, args ...string) (string, error) {
	t.Helper()
	return runCLIAt(t, fx.URL(), script, args...)
}

// runCLIAt is runCLI against an arbitrary server URL, for tests that
// need a dead endpoint.
func runCLIAt(t *testing.T, serverURL, script string, args ...string) (string, error) {
	t.Helper()

	cmd := exec.Command(cliBinary, args...)
	cmd.Env = cliEnv(t, serverURL)
	if script != "" {
		cmd.Stdin = strings.NewReader(script)
	}

	// Timeout safety
	timer := time.AfterFunc(60*time.Second, func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	})
	defer timer.Stop()

	out, err := cmd.CombinedOutput()
	return string(out), err
}
