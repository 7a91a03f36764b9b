package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravenlabs/raven/pkg/agent"
	"github.com/ravenlabs/raven/pkg/config"
	"github.com/ravenlabs/raven/pkg/llm"
	"github.com/ravenlabs/raven/pkg/tokencount"
)

type fakeRunner struct {
	lastParams agent.RunParams
	result     *agent.RunResult
	err        error
}

func (f *fakeRunner) Run(ctx context.Context, params agent.RunParams) (*agent.RunResult, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) BuildInstructions(userName, extra string) string {
	parts := []string{"base prompt"}
	if userName != "" {
		parts = append(parts, `The user name is "`+userName+`".`)
	}
	if extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, "\n")
}

func (f *fakeRunner) CalculateContext(model, instructions string, input any, extraChunks []string) tokencount.Context {
	return tokencount.Calculate(model, 0, instructions, input, extraChunks)
}

func newAgentTestServer(t *testing.T, runner *fakeRunner) *AgentServer {
	t.Helper()
	prompts := agent.NewPromptStore(filepath.Join(t.TempDir(), "prompt.txt"))
	cfg := &config.AgentConfig{MetricsPath: "/metrics"}
	return NewAgentServer(runner, prompts, cfg, nil, nil, nil)
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAgentHealth(t *testing.T) {
	srv := newAgentTestServer(t, &fakeRunner{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("x-request-id"))
}

func TestAgentRunRequiresKey(t *testing.T) {
	srv := newAgentTestServer(t, &fakeRunner{})
	rec := postJSON(t, srv.Router(), "/run", `{"apiKey":"  ","model":"gpt-5.2","input":"hi"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"openai_key_required"}`, rec.Body.String())
}

func TestAgentRunSuccess(t *testing.T) {
	runner := &fakeRunner{
		result: &agent.RunResult{
			Output:         "hello there",
			LastResponseID: "resp-1",
			Context:        tokencount.Context{MaxTokens: 400000},
		},
	}
	srv := newAgentTestServer(t, runner)
	rec := postJSON(t, srv.Router(), "/run", `{"apiKey":"sk-test","model":"gpt-5.2","input":"hi","userName":"Ada"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Output         string `json:"output"`
		LastResponseID string `json:"lastResponseId"`
		Trace          struct {
			Tools []any `json:"tools"`
		} `json:"trace"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hello there", body.Output)
	assert.Equal(t, "resp-1", body.LastResponseID)
	assert.NotNil(t, body.Trace.Tools)

	// Temperature defaults to 0.3 when the request omits it.
	require.NotNil(t, runner.lastParams.Temperature)
	assert.Equal(t, 0.3, *runner.lastParams.Temperature)
	assert.Equal(t, "Ada", runner.lastParams.UserName)
}

func TestAgentRunUpstreamStatusPassthrough(t *testing.T) {
	runner := &fakeRunner{
		err: &llm.StatusError{Status: http.StatusUnauthorized, Code: "invalid_api_key", Message: "bad key"},
	}
	srv := newAgentTestServer(t, runner)
	rec := postJSON(t, srv.Router(), "/run", `{"apiKey":"sk-bad","model":"gpt-5.2","input":"hi"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":{"error":"invalid_api_key","message":"bad key"}}`, rec.Body.String())
}

func TestAgentRunRequiresModel(t *testing.T) {
	srv := newAgentTestServer(t, &fakeRunner{})
	rec := postJSON(t, srv.Router(), "/run", `{"apiKey":"sk-test","model":" ","input":"hi"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPromptRoundTrip(t *testing.T) {
	srv := newAgentTestServer(t, &fakeRunner{})
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prompt", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body promptBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Prompt, "Raven")

	rec = postJSON(t, router, "/prompt", `{"prompt":"You are a test assistant."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prompt", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "You are a test assistant.", body.Prompt)
}

func TestPromptRejectsBlank(t *testing.T) {
	srv := newAgentTestServer(t, &fakeRunner{})
	rec := postJSON(t, srv.Router(), "/prompt", `{"prompt":"   "}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"prompt_required"}`, rec.Body.String())
}

func TestPromptUIEscapesPrompt(t *testing.T) {
	srv := newAgentTestServer(t, &fakeRunner{})
	router := srv.Router()

	rec := postJSON(t, router, "/prompt", `{"prompt":"a <b> & c"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prompt/ui", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "a &lt;b&gt; &amp; c")
	assert.NotContains(t, rec.Body.String(), "a <b> & c")
}

func TestContextEndpoint(t *testing.T) {
	srv := newAgentTestServer(t, &fakeRunner{})
	rec := postJSON(t, srv.Router(), "/context", `{"model":"gpt-5.2","input":"hello world","userName":"Ada"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Context tokencount.Context `json:"context"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 400000, body.Context.MaxTokens)
	assert.Greater(t, body.Context.UsedTokens, 0)
}

func TestContextRequiresModel(t *testing.T) {
	srv := newAgentTestServer(t, &fakeRunner{})
	rec := postJSON(t, srv.Router(), "/context", `{"input":"hello"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
