package domain

import (
	"encoding/json"
	"fmt"
)

// UploadedFile is a transient upload: original filename plus its bytes.
type UploadedFile struct {
	Filename string
	Content  []byte
}

// TableSource binds a stored file path to the logical table name it is loaded under.
type TableSource struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// TableMapping lists stored files in upload order. Names are not deduplicated.
type TableMapping []TableSource

// Paths returns the stored paths of the mapping.
func (m TableMapping) Paths() []string {
	paths := make([]string, len(m))
	for i, src := range m {
		paths[i] = src.Path
	}
	return paths
}

// Preview is column -> row index -> cell value, mirroring a column-oriented dict dump.
type Preview map[string]map[string]any

// StartAnalysisResponse is returned by POST /api/start-analysis.
type StartAnalysisResponse struct {
	SessionID  string             `json:"session_id"`
	DataFrames map[string]Preview `json:"dataframes"`
}

// ChartResult carries either a text answer or a base64 PNG chart, never both.
type ChartResult struct {
	Kind      ResultKind
	Text      string
	ChartData string
}

// TextResult builds a text ChartResult.
func TextResult(text string) *ChartResult {
	return &ChartResult{Kind: ResultKindText, Text: text}
}

// ChartDataResult builds a chart ChartResult.
func ChartDataResult(data string) *ChartResult {
	return &ChartResult{Kind: ResultKindChart, ChartData: data}
}

// MarshalJSON emits exactly one of "text" or "chart_data".
func (r ChartResult) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ResultKindText:
		return json.Marshal(map[string]string{"text": r.Text})
	case ResultKindChart:
		return json.Marshal(map[string]string{"chart_data": r.ChartData})
	default:
		return nil, fmt.Errorf("unknown result kind %q", r.Kind)
	}
}

// UnmarshalJSON accepts either variant.
func (r *ChartResult) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["chart_data"]; ok {
		*r = ChartResult{Kind: ResultKindChart, ChartData: v}
		return nil
	}
	if v, ok := raw["text"]; ok {
		*r = ChartResult{Kind: ResultKindText, Text: v}
		return nil
	}
	return fmt.Errorf("result has neither text nor chart_data")
}

// AnalyzeResponse is returned by POST /api/analyze.
type AnalyzeResponse struct {
	ChartData string `json:"chart_data"`
}

// QueryMessage is sent by websocket clients.
type QueryMessage struct {
	Query string `json:"query"`
}

// ErrorResponse is the error body of every endpoint.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Status int    `json:"status,omitempty"`
}
