package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/dataquery/internal/adapter/llm"
	"github.com/xiaot623/dataquery/internal/config"
	server "github.com/xiaot623/dataquery/internal/transport/http"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Workers:     2,
		Mode:        llm.ModeMock,
		DatabaseURL: ":memory:",
		Server:      config.ServerConfig{CORSOrigin: "http://localhost:4200"},
		Uploads:     config.UploadsConfig{Dir: filepath.Join(t.TempDir(), "uploads")},
		LLM:         config.LLMConfig{Provider: llm.ProviderOpenAI, Model: "test-model"},
		Agent:       config.AgentConfig{MemorySize: 10, PreviewRows: 5, PromptRows: 5},
		Session:     config.SessionConfig{TTL: time.Hour, SweepInterval: time.Minute},
		Exec:        config.ExecConfig{PythonPath: "python3", Timeout: 5 * time.Second},
	}
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestChatClientSession(t *testing.T) {
	cfg := testConfig(t)
	svc, closeStore, err := buildService(context.Background(), cfg)
	require.NoError(t, err)
	defer closeStore()

	srv := httptest.NewServer(server.NewServer(svc, cfg.Server))
	defer srv.Close()

	path := writeCSV(t, "sales.csv", "region,revenue\nnorth,1200\nsouth,950\n")
	client := &ChatClient{baseURL: srv.URL, http: srv.Client()}

	started, err := client.StartAnalysis([]string{path}, []string{"revenue"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, started.SessionID)
	assert.Contains(t, started.DataFrames, "revenue")

	require.NoError(t, client.Connect(started.SessionID))
	defer client.Close()

	outDir := t.TempDir()
	var out bytes.Buffer
	in := strings.NewReader("How many regions?\n\nPlot revenue by region\n/quit\n")
	require.NoError(t, client.REPL(in, &out, outDir))

	assert.Contains(t, out.String(), "[MOCK]")
	assert.Contains(t, out.String(), "chart saved to")
	assert.Contains(t, out.String(), "Bye!")
	_, err = os.Stat(filepath.Join(outDir, "chart-1.png"))
	assert.NoError(t, err)
}

func TestChatClientStartAnalysisFailure(t *testing.T) {
	cfg := testConfig(t)
	svc, closeStore, err := buildService(context.Background(), cfg)
	require.NoError(t, err)
	defer closeStore()

	srv := httptest.NewServer(server.NewServer(svc, cfg.Server))
	defer srv.Close()

	client := &ChatClient{baseURL: srv.URL, http: srv.Client()}
	_, err = client.StartAnalysis([]string{writeCSV(t, "notes.txt", "hello")}, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid data files")

	_, err = client.StartAnalysis([]string{filepath.Join(t.TempDir(), "missing.csv")}, nil, "")
	assert.Error(t, err)
}

func TestReadLocalFiles(t *testing.T) {
	path := writeCSV(t, "a.csv", "x\n1\n")

	uploads, err := readLocalFiles([]string{path})
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "a.csv", uploads[0].Filename)
	assert.Equal(t, "x\n1\n", string(uploads[0].Content))

	_, err = readLocalFiles([]string{filepath.Join(t.TempDir(), "nope.csv")})
	assert.Error(t, err)
}

func TestBuildServiceAnalyze(t *testing.T) {
	cfg := testConfig(t)
	svc, closeStore, err := buildService(context.Background(), cfg)
	require.NoError(t, err)
	defer closeStore()

	uploads, err := readLocalFiles([]string{writeCSV(t, "s.csv", "region,revenue\nnorth,1200\nsouth,950\n")})
	require.NoError(t, err)

	chart, err := svc.Analyze(context.Background(), uploads, "Plot revenue by region", "", true)
	require.NoError(t, err)
	assert.NotEmpty(t, chart)
	require.NoError(t, writeChart(filepath.Join(t.TempDir(), "c.png"), chart))
}
