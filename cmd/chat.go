package cmd

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/dataquery/internal/domain"
)

var (
	chatAddr   string
	chatFiles  []string
	chatNames  []string
	chatAPIKey string
	chatOutDir string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Upload files to a running server and ask questions interactively",
	Example: `  dataquery chat --file sales.csv --name sales
  dataquery chat --addr http://analytics:8000 --file q1.xlsx --file q2.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(chatFiles) == 0 {
			return errors.New("at least one --file is required")
		}
		out := cmd.OutOrStdout()

		client := &ChatClient{baseURL: strings.TrimRight(chatAddr, "/"), http: &http.Client{Timeout: 5 * time.Minute}}
		started, err := client.StartAnalysis(chatFiles, chatNames, chatAPIKey)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Session established: %s\n", started.SessionID)
		for name, preview := range started.DataFrames {
			fmt.Fprintf(out, "  table %s: %d columns\n", name, len(preview))
		}

		if err := client.Connect(started.SessionID); err != nil {
			return err
		}
		defer client.Close()

		fmt.Fprintln(out, "\nType a question and press Enter. Commands: /quit to exit")
		return client.REPL(cmd.InOrStdin(), out, chatOutDir)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatAddr, "addr", "http://localhost:8000", "server base URL")
	chatCmd.Flags().StringArrayVarP(&chatFiles, "file", "f", nil, "CSV, XLSX or XLS file (repeatable)")
	chatCmd.Flags().StringArrayVarP(&chatNames, "name", "n", nil, "table name for the file at the same position (repeatable)")
	chatCmd.Flags().StringVar(&chatAPIKey, "api-key", "", "LLM API key sent with the upload")
	chatCmd.Flags().StringVar(&chatOutDir, "out-dir", ".", "directory charts are written to")
	rootCmd.AddCommand(chatCmd)
}

// ChatClient talks to a dataquery server over HTTP and a session websocket.
type ChatClient struct {
	baseURL string
	http    *http.Client
	conn    *websocket.Conn
}

// StartAnalysis uploads files and opens a session.
func (c *ChatClient) StartAnalysis(paths, names []string, apiKey string) (*domain.StartAnalysisResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", p, err)
		}
		part, err := w.CreateFormFile("files", filepath.Base(p))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", p, err)
		}
	}
	for _, n := range names {
		if err := w.WriteField("table_names", n); err != nil {
			return nil, err
		}
	}
	if apiKey != "" {
		if err := w.WriteField("api_key", apiKey); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	resp, err := c.http.Post(c.baseURL+"/api/start-analysis", w.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to start analysis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp domain.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Detail != "" {
			return nil, fmt.Errorf("start analysis failed (%d): %s", resp.StatusCode, errResp.Detail)
		}
		return nil, fmt.Errorf("start analysis failed with status %d", resp.StatusCode)
	}

	var started domain.StartAnalysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &started, nil
}

// Connect dials the session websocket.
func (c *ChatClient) Connect(sessionID string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid addr: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/sessions/" + url.PathEscape(sessionID) + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.conn = conn
	return nil
}

// Close closes the websocket.
func (c *ChatClient) Close() error {
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// Ask sends one question and waits for its reply.
func (c *ChatClient) Ask(query string) (*domain.ChartResult, error) {
	if err := c.conn.WriteJSON(domain.QueryMessage{Query: query}); err != nil {
		return nil, fmt.Errorf("write query: %w", err)
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}

	var errResp domain.ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Detail != "" {
		return nil, fmt.Errorf("query failed (%d): %s", errResp.Status, errResp.Detail)
	}
	var result domain.ChartResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return &result, nil
}

// REPL reads questions from in until EOF or /quit.
func (c *ChatClient) REPL(in io.Reader, out io.Writer, outDir string) error {
	scanner := bufio.NewScanner(in)
	charts := 0
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" {
			fmt.Fprintln(out, "Bye!")
			return nil
		}

		result, err := c.Ask(input)
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		switch result.Kind {
		case domain.ResultKindText:
			fmt.Fprintln(out, result.Text)
		case domain.ResultKindChart:
			charts++
			path := filepath.Join(outDir, fmt.Sprintf("chart-%d.png", charts))
			if err := writeChart(path, result.ChartData); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "[chart saved to %s]\n", path)
		}
	}
}

func writeChart(path, encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode chart: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
