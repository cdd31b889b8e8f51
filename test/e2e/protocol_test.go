package e2e

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

// These tests exercise the fixture's wire dialect directly through the
// router, without the CLI in the loop. They pin down the frame grammar
// and validation behavior the driver tests above depend on, so a fixture
// regression fails here first with a readable diff.

// performRequest executes an HTTP request against the fixture router.
func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// decodeFrames parses an SSE body into its JSON frames, failing the test
// on any line that is neither blank nor a data line.
func decodeFrames(t *testing.T, body string) []streamFrame {
	t.Helper()

	var frames []streamFrame
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), "unexpected stream line: %q", line)

		var frame streamFrame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

// =============================================================================
// Stream Endpoint Tests
// =============================================================================

// TestStreamEndpoint_FrameSequence verifies the answer stream opens with
// a metadata frame carrying the sources and closes with a done frame.
func TestStreamEndpoint_FrameSequence(t *testing.T) {
	fx := newFixtureServer(t)

	body := streamAnswerRequest{Prompt: "How should I tie up at the guest dock?"}
	w := performRequest(fx.engine, "POST", "/v1/answer/stream", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	frames := decodeFrames(t, w.Body.String())
	require.NotEmpty(t, frames)

	assert.Equal(t, "metadata", frames[0].Type)
	require.NotEmpty(t, frames[0].Sources)
	assert.Equal(t, "mooring-guide", frames[0].Sources[0].DocID)

	last := frames[len(frames)-1]
	assert.Equal(t, "done", last.Type)
	assert.NotEmpty(t, last.AnswerMD)
	assert.Greater(t, last.LatencyMs, int64(0))
}

func TestStreamEndpoint_RejectsEmptyPrompt(t *testing.T) {
	fx := newFixtureServer(t)

	w := performRequest(fx.engine, "POST", "/v1/answer/stream", streamAnswerRequest{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, fx.RequestsFor("/v1/answer/stream"))
}

func TestStreamEndpoint_RejectsExcessiveMaxSources(t *testing.T) {
	fx := newFixtureServer(t)

	body := streamAnswerRequest{Prompt: "guest dock", MaxSources: 80}
	w := performRequest(fx.engine, "POST", "/v1/answer/stream", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, fx.RequestsFor("/v1/answer/stream"))
}

func TestStreamEndpoint_RejectsMalformedBody(t *testing.T) {
	fx := newFixtureServer(t)

	req, _ := http.NewRequest("POST", "/v1/answer/stream", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	fx.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "invalid request body", response["error"])
}

// =============================================================================
// Source Endpoint Tests
// =============================================================================

// TestSourceEndpoint_RejectsHiddenDocID covers the doc_id format check:
// identifiers must open with an alphanumeric, so dotfile-shaped names
// never reach the page lookup.
func TestSourceEndpoint_RejectsHiddenDocID(t *testing.T) {
	fx := newFixtureServer(t)

	w := performRequest(fx.engine, "GET", "/v1/source/.hidden/4", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, fx.RequestsFor("/v1/source/"))
}

func TestSourceEndpoint_MissingPage(t *testing.T) {
	fx := newFixtureServer(t)

	w := performRequest(fx.engine, "GET", "/v1/source/mooring-guide/99", nil)

	require.Equal(t, http.StatusNotFound, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Contains(t, response, "detail")
}

func TestSourceEndpoint_ReturnsPage(t *testing.T) {
	fx := newFixtureServer(t)

	w := performRequest(fx.engine, "GET", "/v1/source/mooring-guide/12", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var page sourcePage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, "mooring-guide", page.DocID)
	assert.Equal(t, 12, page.PageNo)
	assert.Equal(t, "Guest Mooring Guide", page.Title)
	assert.NotEmpty(t, page.Text)
}

// =============================================================================
// Health Endpoint Tests
// =============================================================================

func TestHealthEndpoints_ReportShapes(t *testing.T) {
	fx := newFixtureServer(t)

	w := performRequest(fx.engine, "GET", "/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var backend map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &backend))
	assert.Equal(t, "healthy", backend["status"])

	w = performRequest(fx.engine, "GET", "/v1/llm/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var llm map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &llm))
	assert.Equal(t, "ok", llm["status"])
	assert.Equal(t, "llama-3.3-70b", llm["model"])
	assert.NotEmpty(t, llm["sample"])
}
