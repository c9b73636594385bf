package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/dataquery/internal/adapter/llm"
	"github.com/xiaot623/dataquery/internal/adapter/pyexec"
	"github.com/xiaot623/dataquery/internal/config"
	"github.com/xiaot623/dataquery/internal/domain"
	"github.com/xiaot623/dataquery/internal/filestore"
	"github.com/xiaot623/dataquery/internal/policy"
	"github.com/xiaot623/dataquery/internal/service"
	"github.com/xiaot623/dataquery/internal/session"
	"github.com/xiaot623/dataquery/tests/helpers"
)

const testOrigin = "http://localhost:4200"

func setupHandler(t *testing.T) (*echo.Echo, *Handler) {
	t.Helper()

	cfg := &config.Config{
		Workers: 2,
		Mode:    llm.ModeMock,
		Uploads: config.UploadsConfig{Dir: filepath.Join(t.TempDir(), "uploads")},
		LLM:     config.LLMConfig{Provider: llm.ProviderOpenAI, Model: "test-model"},
		Agent:   config.AgentConfig{MemorySize: 10, PreviewRows: 5, PromptRows: 5},
		Session: config.SessionConfig{TTL: time.Hour, SweepInterval: time.Minute},
		Exec:    config.ExecConfig{PythonPath: "python3", Timeout: 5 * time.Second},
	}
	engine, err := policy.Load(context.Background(), "")
	require.NoError(t, err)

	svc := service.New(
		helpers.NewTestSQLiteStore(t),
		filestore.New(cfg.Uploads.Dir),
		session.NewRegistry(cfg.Session.TTL),
		pyexec.New(cfg.Exec.PythonPath, cfg.Exec.Timeout),
		engine,
		cfg,
	)

	e := echo.New()
	h := NewHandler(svc, testOrigin)
	h.RegisterRoutes(e)
	return e, h
}

type upload struct {
	name    string
	content string
}

func multipartBody(t *testing.T, files []upload, fields map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	for key, values := range fields {
		for _, v := range values {
			require.NoError(t, w.WriteField(key, v))
		}
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func do(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func startSession(t *testing.T, e *echo.Echo) string {
	t.Helper()
	body, contentType := multipartBody(t, []upload{
		{name: "sales.csv", content: "region,revenue\nnorth,1200\nsouth,950\n"},
	}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/start-analysis", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := do(e, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.StartAnalysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestHealth(t *testing.T) {
	e, _ := setupHandler(t)

	rec := do(e, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestStartAnalysis(t *testing.T) {
	e, _ := setupHandler(t)

	body, contentType := multipartBody(t, []upload{
		{name: "a.csv", content: "x,y\n1,2\n"},
		{name: "b.csv", content: "z\n3\n"},
	}, map[string][]string{"table_names": {"first", "second"}})
	req := httptest.NewRequest(http.MethodPost, "/api/start-analysis", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := do(e, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	frames := resp["dataframes"].(map[string]any)
	assert.Contains(t, frames, "first")
	assert.Contains(t, frames, "second")
	assert.Equal(t, map[string]any{"0": float64(1)}, frames["first"].(map[string]any)["x"])
}

func TestStartAnalysisNonFiniteValues(t *testing.T) {
	e, h := setupHandler(t)

	body, contentType := multipartBody(t, []upload{
		{name: "ratios.csv", content: "month,ratio\njan,1.5\nfeb,inf\n"},
	}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/start-analysis", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := do(e, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.StartAnalysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, h.service.Sessions().Exists(resp.SessionID))
	assert.Equal(t, map[string]any{"0": 1.5, "1": "inf"}, resp.DataFrames["ratios"]["ratio"])
}

func TestStartAnalysisRequiresFiles(t *testing.T) {
	e, _ := setupHandler(t)

	body, contentType := multipartBody(t, nil, map[string][]string{"api_key": {"k"}})
	req := httptest.NewRequest(http.MethodPost, "/api/start-analysis", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := do(e, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartAnalysisNoValidData(t *testing.T) {
	e, _ := setupHandler(t)

	body, contentType := multipartBody(t, []upload{{name: "notes.txt", content: "hello"}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/start-analysis", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := do(e, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Detail, domain.ErrNoValidData.Error())
}

func TestQuery(t *testing.T) {
	e, _ := setupHandler(t)
	id := startSession(t, e)

	q := url.Values{"session_id": {id}, "query": {"How many regions are there?"}}
	rec := do(e, httptest.NewRequest(http.MethodPost, "/api/query?"+q.Encode(), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["text"], "[MOCK]")
	assert.NotContains(t, resp, "chart_data")

	q.Set("query", "Plot revenue by region")
	rec = do(e, httptest.NewRequest(http.MethodPost, "/api/query?"+q.Encode(), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["chart_data"])
	assert.NotContains(t, resp, "text")
}

func TestQueryValidation(t *testing.T) {
	e, _ := setupHandler(t)

	rec := do(e, httptest.NewRequest(http.MethodPost, "/api/query?session_id=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, httptest.NewRequest(http.MethodPost, "/api/query?session_id=missing&query=hi", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.ErrSessionNotFound.Error(), resp.Detail)
}

func TestAnalyze(t *testing.T) {
	e, _ := setupHandler(t)

	body, contentType := multipartBody(t, []upload{
		{name: "sales.csv", content: "region,revenue\nnorth,1200\nsouth,950\n"},
	}, map[string][]string{"query": {"Plot revenue by region"}, "api_key": {"sk-test"}})
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := do(e, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ChartData)
}

func TestAnalyzeErrors(t *testing.T) {
	e, _ := setupHandler(t)

	body, contentType := multipartBody(t, []upload{{name: "s.csv", content: "a\n1\n"}},
		map[string][]string{"query": {"plot"}, "use_pandas_ai": {"maybe"}})
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	assert.Equal(t, http.StatusBadRequest, do(e, req).Code)

	// Code generation is refused while execution is disabled.
	body, contentType = multipartBody(t, []upload{{name: "s.csv", content: "a\n1\n"}},
		map[string][]string{"query": {"plot a"}, "use_pandas_ai": {"false"}})
	req = httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := do(e, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "blocked by policy")
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in   string
		want bool
		err  bool
	}{
		{in: "", want: true},
		{in: "true", want: true},
		{in: "False", want: false},
		{in: "0", want: false},
		{in: "yes", want: true},
		{in: "off", want: false},
		{in: "maybe", err: true},
	}
	for _, tt := range tests {
		got, err := parseBool(tt.in, true)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestGetSessionMessages(t *testing.T) {
	e, h := setupHandler(t)
	id := startSession(t, e)

	q := url.Values{"session_id": {id}, "query": {"How many rows?"}}
	require.Equal(t, http.StatusOK, do(e, httptest.NewRequest(http.MethodPost, "/api/query?"+q.Encode(), nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/sessions/:session_id/messages")
	c.SetParamNames("session_id")
	c.SetParamValues(id)

	require.NoError(t, h.GetSessionMessages(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, domain.MessageRoleUser, resp.Messages[0].Role)
	assert.Equal(t, "How many rows?", resp.Messages[0].Content)
	assert.Equal(t, domain.MessageRoleAssistant, resp.Messages[1].Role)

	rec = do(e, httptest.NewRequest(http.MethodGet, "/api/sessions/nope/messages", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryStream(t *testing.T) {
	e, _ := setupHandler(t)
	id := startSession(t, e)

	srv := httptest.NewServer(e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	require.NoError(t, conn.WriteJSON(domain.QueryMessage{Query: "How many rows?"}))
	var text map[string]any
	require.NoError(t, conn.ReadJSON(&text))
	assert.Contains(t, text["text"], "[MOCK]")

	require.NoError(t, conn.WriteJSON(domain.QueryMessage{Query: "Plot revenue"}))
	var chart map[string]any
	require.NoError(t, conn.ReadJSON(&chart))
	assert.NotEmpty(t, chart["chart_data"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var bad domain.ErrorResponse
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, http.StatusBadRequest, bad.Status)
}

func TestQueryStreamUnknownSession(t *testing.T) {
	e, _ := setupHandler(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueryStreamRejectsForeignOrigin(t *testing.T) {
	e, _ := setupHandler(t)
	id := startSession(t, e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/ws"
	header := http.Header{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
