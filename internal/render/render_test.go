package render

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/dataquery/internal/table"
)

func salesTable() *table.Table {
	return table.New("sales", []string{"region", "revenue", "units"}, [][]string{
		{"north", "1200", "10"},
		{"south", "950", "7"},
		{"east", "", "12"},
		{"west", "700", "4"},
	})
}

func TestNewFigureDefaults(t *testing.T) {
	fig, err := NewFigure(ChartSpec{}, salesTable())
	require.NoError(t, err)
	assert.Equal(t, KindBar, fig.Spec.Kind)
	assert.Equal(t, "region", fig.Spec.X)
	assert.Equal(t, Columns{"revenue"}, fig.Spec.Y)
	assert.Equal(t, "sales", fig.Spec.Table)
	assert.Equal(t, "revenue by region", fig.Spec.Title)
}

func TestNewFigureRejectsBadSpecs(t *testing.T) {
	_, err := NewFigure(ChartSpec{X: "nope"}, salesTable())
	assert.Error(t, err)

	_, err = NewFigure(ChartSpec{Y: Columns{"nope"}}, salesTable())
	assert.Error(t, err)

	_, err = NewFigure(ChartSpec{Kind: "radar"}, salesTable())
	assert.Error(t, err)

	text := table.New("t", []string{"a", "b"}, [][]string{{"x", "y"}})
	_, err = NewFigure(ChartSpec{}, text)
	assert.Error(t, err)
}

func TestFigureRendersEveryKind(t *testing.T) {
	for _, kind := range []ChartKind{KindBar, KindLine, KindPie, KindScatter} {
		t.Run(string(kind), func(t *testing.T) {
			fig, err := NewFigure(ChartSpec{Kind: kind, Y: Columns{"revenue", "units"}}, salesTable())
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, fig.Render(&buf))
			assert.True(t, IsPNG(buf.Bytes()))
		})
	}
}

func TestFigureRendersSingleRow(t *testing.T) {
	tbl := table.New("one", []string{"k", "v"}, [][]string{{"a", "5"}})
	for _, kind := range []ChartKind{KindBar, KindLine} {
		fig, err := NewFigure(ChartSpec{Kind: kind}, tbl)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, fig.Render(&buf), kind)
	}
}

func TestToImage(t *testing.T) {
	fig, err := NewFigure(ChartSpec{Kind: KindBar}, salesTable())
	require.NoError(t, err)

	encoded, err := ToImage(fig)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.True(t, IsPNG(raw))
}

type plotHolder struct {
	plot   Renderable
	closed bool
}

func (p *plotHolder) Plot() Renderable { return p.plot }
func (p *plotHolder) Close() error     { p.closed = true; return nil }

func TestToImageUnwrapsPlotterAndCloses(t *testing.T) {
	img, err := NewImage(append([]byte("\x89PNG\r\n\x1a\n"), 1, 2, 3), "")
	require.NoError(t, err)
	holder := &plotHolder{plot: img}

	encoded, err := ToImage(holder)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(img.Data), encoded)
	assert.True(t, holder.closed)
}

func TestToImageRejectsOtherValues(t *testing.T) {
	_, err := ToImage("a string")
	assert.ErrorIs(t, err, ErrNotRenderable)

	_, err = ToImage(&plotHolder{})
	assert.ErrorIs(t, err, ErrNotRenderable)
}

func TestImageCloseRemovesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "work")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	img, err := NewImage([]byte("\x89PNG\r\n\x1a\nrest"), dir)
	require.NoError(t, err)
	require.NoError(t, img.Render(io.Discard))
	require.NoError(t, img.Close())
	require.NoError(t, img.Close())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	_, err = NewImage([]byte("GIF89a"), "")
	assert.Error(t, err)
}

func TestChartSpecJSON(t *testing.T) {
	var spec ChartSpec
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"line","x":"month","y":"sales"}`), &spec))
	assert.Equal(t, Columns{"sales"}, spec.Y)

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"line","y":["a","b"]}`), &spec))
	assert.Equal(t, Columns{"a", "b"}, spec.Y)

	assert.Error(t, json.Unmarshal([]byte(`{"y":3}`), &spec))
}

func TestDescribe(t *testing.T) {
	spec := ChartSpec{Kind: KindBar, Title: "Revenue", X: "region", Y: Columns{"revenue"}}
	assert.Equal(t, "[chart] Revenue (bar of revenue by region)", spec.Describe())
}
