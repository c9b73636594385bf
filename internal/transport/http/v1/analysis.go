package v1

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/dataquery/internal/domain"
)

// Analyze answers one question about the uploaded files with a chart.
// POST /api/analyze
func (h *Handler) Analyze(c echo.Context) error {
	files, err := readUploads(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	usePandasAgent, err := parseBool(c.FormValue("use_pandas_ai"), true)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "use_pandas_ai: "+err.Error())
	}

	chart, err := h.service.Analyze(c.Request().Context(), files, c.FormValue("query"), c.FormValue("api_key"), usePandasAgent)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, domain.AnalyzeResponse{ChartData: chart})
}

// StartAnalysis uploads tables and opens a conversation session.
// POST /api/start-analysis
func (h *Handler) StartAnalysis(c echo.Context) error {
	files, err := readUploads(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	var names []string
	if form, err := c.MultipartForm(); err == nil {
		names = form.Value["table_names"]
	}

	resp, err := h.service.StartAnalysis(c.Request().Context(), files, names, c.FormValue("api_key"))
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// Query asks a question within a session.
// POST /api/query?session_id=...&query=...
func (h *Handler) Query(c echo.Context) error {
	sessionID := strings.TrimSpace(c.FormValue("session_id"))
	query := strings.TrimSpace(c.FormValue("query"))
	if sessionID == "" || query == "" {
		return errorJSON(c, http.StatusBadRequest, "session_id and query are required")
	}

	result, err := h.service.Query(c.Request().Context(), sessionID, query)
	if err != nil {
		return errorJSON(c, errorStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// readUploads reads every "files" part of a multipart request into memory.
func readUploads(c echo.Context) ([]domain.UploadedFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("expected a multipart form: %w", err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, errors.New("at least one file is required")
	}

	files := make([]domain.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
		}
		files = append(files, domain.UploadedFile{Filename: fh.Filename, Content: content})
	}
	return files, nil
}

func parseBool(raw string, def bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return def, nil
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
	return v, nil
}
