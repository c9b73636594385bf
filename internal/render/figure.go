package render

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/xiaot623/dataquery/internal/table"
)

// ChartKind is the type of chart a Figure draws.
type ChartKind string

const (
	KindBar     ChartKind = "bar"
	KindLine    ChartKind = "line"
	KindPie     ChartKind = "pie"
	KindScatter ChartKind = "scatter"
)

// maxTicks bounds the number of labelled x ticks on line and scatter charts.
const maxTicks = 20

// Columns is a list of column names; it also decodes from a single JSON string.
type Columns []string

func (c *Columns) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*c = nil
		} else {
			*c = Columns{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("columns must be a string or a list of strings: %w", err)
	}
	*c = many
	return nil
}

// ChartSpec is a declarative chart request.
type ChartSpec struct {
	Kind  ChartKind `json:"kind"`
	Title string    `json:"title"`
	Table string    `json:"table"`
	X     string    `json:"x"`
	Y     Columns   `json:"y"`
}

// Describe summarises the chart in one line, e.g. "[chart] Sales (bar of revenue by region)".
func (s ChartSpec) Describe() string {
	return fmt.Sprintf("[chart] %s (%s of %s by %s)", s.Title, s.Kind, strings.Join(s.Y, ", "), s.X)
}

// Figure is a ChartSpec bound to the table it plots.
type Figure struct {
	Spec  ChartSpec
	Table *table.Table
}

// NewFigure validates spec against t and fills in missing axes: x defaults
// to the first column and y to the first numeric column other than x.
func NewFigure(spec ChartSpec, t *table.Table) (*Figure, error) {
	if t == nil || t.NumCols() == 0 {
		return nil, fmt.Errorf("no table to plot")
	}
	switch spec.Kind {
	case "":
		spec.Kind = KindBar
	case KindBar, KindLine, KindPie, KindScatter:
	default:
		return nil, fmt.Errorf("unsupported chart kind %q", spec.Kind)
	}
	spec.Table = t.Name

	if spec.X == "" {
		spec.X = t.Columns[0]
	} else if t.ColumnIndex(spec.X) < 0 {
		return nil, fmt.Errorf("unknown column %q in table %q", spec.X, t.Name)
	}

	if len(spec.Y) == 0 {
		kinds := t.Kinds()
		for i, col := range t.Columns {
			if col != spec.X && kinds[i].Numeric() {
				spec.Y = Columns{col}
				break
			}
		}
		if len(spec.Y) == 0 {
			return nil, fmt.Errorf("table %q has no numeric column to plot", t.Name)
		}
	}
	for _, y := range spec.Y {
		if t.ColumnIndex(y) < 0 {
			return nil, fmt.Errorf("unknown column %q in table %q", y, t.Name)
		}
	}
	if spec.Title == "" {
		spec.Title = fmt.Sprintf("%s by %s", strings.Join(spec.Y, ", "), spec.X)
	}
	return &Figure{Spec: spec, Table: t}, nil
}

// point is one plottable row: its x label and numeric y.
type point struct {
	label string
	value float64
}

// points pairs the x column with column y, skipping rows whose y is not numeric.
func (f *Figure) points(y string) []point {
	xs, _ := f.Table.Column(f.Spec.X)
	ys, _ := f.Table.Column(y)
	out := make([]point, 0, len(ys))
	for i, raw := range ys {
		v, ok := table.ParseFloat(raw)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, point{label: xs[i], value: v})
	}
	return out
}

// Render draws the figure as a PNG.
func (f *Figure) Render(w io.Writer) error {
	switch f.Spec.Kind {
	case KindBar:
		return f.renderBar(w)
	case KindPie:
		return f.renderPie(w)
	case KindLine, KindScatter:
		return f.renderXY(w)
	}
	return fmt.Errorf("unsupported chart kind %q", f.Spec.Kind)
}

func (f *Figure) renderBar(w io.Writer) error {
	pts := f.points(f.Spec.Y[0])
	if len(pts) == 0 {
		return fmt.Errorf("column %q has no numeric values", f.Spec.Y[0])
	}
	bars := make([]chart.Value, len(pts))
	for i, p := range pts {
		bars[i] = chart.Value{Label: p.label, Value: p.value}
	}

	lo, hi := valueRange(pts)
	lo, hi = math.Min(lo, 0), math.Max(hi, 0)
	barWidth := (Width - 120) / len(bars) * 2 / 3
	if barWidth < 2 {
		barWidth = 2
	}

	bc := chart.BarChart{
		Title:      f.Spec.Title,
		Width:      Width,
		Height:     Height,
		BarWidth:   barWidth,
		BarSpacing: barWidth / 2,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: lo, Max: padMax(lo, hi)},
		},
		Bars: bars,
	}
	return bc.Render(chart.PNG, w)
}

func (f *Figure) renderPie(w io.Writer) error {
	var values []chart.Value
	for _, p := range f.points(f.Spec.Y[0]) {
		if p.value > 0 {
			values = append(values, chart.Value{Label: p.label, Value: p.value})
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("column %q has no positive values", f.Spec.Y[0])
	}
	pc := chart.PieChart{
		Title:  f.Spec.Title,
		Width:  Width,
		Height: Height,
		Values: values,
	}
	return pc.Render(chart.PNG, w)
}

// renderXY draws line and scatter charts. X values are row positions with
// the x column as tick labels, so categorical x columns work too.
func (f *Figure) renderXY(w io.Writer) error {
	xs, _ := f.Table.Column(f.Spec.X)
	if len(xs) == 0 {
		return fmt.Errorf("table %q has no rows", f.Table.Name)
	}

	var (
		series []chart.Series
		all    []point
	)
	for _, y := range f.Spec.Y {
		ys, _ := f.Table.Column(y)
		var xv, yv []float64
		for i, raw := range ys {
			v, ok := table.ParseFloat(raw)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			xv = append(xv, float64(i))
			yv = append(yv, v)
			all = append(all, point{value: v})
		}
		if len(xv) == 0 {
			continue
		}
		s := chart.ContinuousSeries{Name: y, XValues: xv, YValues: yv}
		if f.Spec.Kind == KindScatter {
			s.Style = chart.Style{StrokeWidth: chart.Disabled, DotWidth: 4}
		}
		series = append(series, s)
	}
	if len(series) == 0 {
		return fmt.Errorf("no numeric values to plot")
	}

	lo, hi := valueRange(all)
	ch := chart.Chart{
		Title:      f.Spec.Title,
		Width:      Width,
		Height:     Height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Name:  f.Spec.X,
			Range: &chart.ContinuousRange{Min: -0.5, Max: float64(len(xs)) - 0.5},
			Ticks: xTicks(xs),
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: lo, Max: padMax(lo, hi)},
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return ch.Render(chart.PNG, w)
}

func xTicks(labels []string) []chart.Tick {
	step := 1
	if len(labels) > maxTicks {
		step = (len(labels) + maxTicks - 1) / maxTicks
	}
	ticks := make([]chart.Tick, 0, maxTicks)
	for i := 0; i < len(labels); i += step {
		ticks = append(ticks, chart.Tick{Value: float64(i), Label: labels[i]})
	}
	return ticks
}

func valueRange(pts []point) (lo, hi float64) {
	lo, hi = math.MaxFloat64, -math.MaxFloat64
	for _, p := range pts {
		lo = math.Min(lo, p.value)
		hi = math.Max(hi, p.value)
	}
	return lo, hi
}

// padMax keeps the axis range non-empty; go-chart rejects zero-width ranges.
func padMax(lo, hi float64) float64 {
	if hi <= lo {
		return lo + 1
	}
	return hi
}
