package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/dataquery/internal/render"
	"github.com/xiaot623/dataquery/internal/table"
)

const (
	replyText  = "text"
	replyChart = "chart"
)

const protocol = `Answer using the tables above. Reply with exactly one JSON object and nothing else.
For a textual answer:
{"type": "text", "answer": "<answer>"}
For a chart:
{"type": "chart", "chart": {"kind": "bar|line|pie|scatter", "title": "<title>", "table": "<table name>", "x": "<column>", "y": ["<column>"]}}
Only use column names that exist in the chosen table. Answer with a chart when the user asks to plot, chart, graph or visualize.`

func systemPrompt(tables []*table.Table, rows int) string {
	var b strings.Builder
	b.WriteString("You are a data analyst working with the following tables.\n")
	for _, t := range tables {
		kinds := t.Kinds()
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = fmt.Sprintf("%s (%s)", c, kinds[i])
		}
		fmt.Fprintf(&b, "\nTable %q: %d rows\nColumns: %s\n", t.Name, t.NumRows(), strings.Join(cols, ", "))

		var sample bytes.Buffer
		if err := t.Head(rows).WriteCSV(&sample); err == nil {
			fmt.Fprintf(&b, "First rows:\n%s", sample.String())
		}
	}
	b.WriteString("\n")
	b.WriteString(protocol)
	return b.String()
}

type reply struct {
	Type   string            `json:"type"`
	Answer string            `json:"answer"`
	Chart  *render.ChartSpec `json:"chart"`
}

// parseReply decodes the model's JSON reply. Anything that is not a JSON
// object of a known type is treated as a plain text answer.
func parseReply(content string) reply {
	body := stripFences(content)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		var r reply
		if err := json.Unmarshal([]byte(body[start:end+1]), &r); err == nil {
			switch r.Type {
			case replyText, replyChart:
				return r
			}
		}
	}
	return reply{Type: replyText, Answer: strings.TrimSpace(content)}
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
