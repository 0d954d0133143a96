package chart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/tomoya0318/PrefTrend/internal/domain"
	"github.com/tomoya0318/PrefTrend/internal/format"
)

const (
	// EmptyMessage is reported when the table carries no series to draw.
	EmptyMessage = "都道府県データが見つかりません"

	xAxisName = "年"
	yAxisName = "人口数（万人）"

	defaultWidth  = 960
	defaultHeight = 540
	yTickCount    = 5
)

// ErrNoSeries is returned when the table has no rows or no series.
var ErrNoSeries = errors.New(EmptyMessage)

// Format selects the output encoding.
type Format string

const (
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
)

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/svg+xml"
}

// ParseFormat maps a file extension or format name to a Format.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), ".")) {
	case "", "svg":
		return FormatSVG, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("chart: unsupported format %q", raw)
	}
}

// palette cycles per series index.
var palette = []drawing.Color{
	drawing.ColorFromHex("1f77b4"),
	drawing.ColorFromHex("ff7f0e"),
	drawing.ColorFromHex("2ca02c"),
	drawing.ColorFromHex("d62728"),
	drawing.ColorFromHex("9467bd"),
	drawing.ColorFromHex("8c564b"),
	drawing.ColorFromHex("e377c2"),
	drawing.ColorFromHex("7f7f7f"),
}

// SeriesColor returns the line color assigned to the i-th series.
func SeriesColor(i int) drawing.Color {
	if i < 0 {
		i = -i
	}
	return palette[i%len(palette)]
}

// Options controls a single render.
type Options struct {
	Title  string
	Format Format
}

// Renderer draws dense year tables as multi-series line charts.
type Renderer struct {
	width  int
	height int
	policy *bluemonday.Policy
}

// NewRenderer returns a renderer producing width x height images. Non-positive
// sizes fall back to 960x540.
func NewRenderer(width, height int) *Renderer {
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	return &Renderer{width: width, height: height, policy: bluemonday.StrictPolicy()}
}

// Render writes the chart for table to w.
func (r *Renderer) Render(w io.Writer, table domain.YearTable, opts Options) error {
	names := table.Series()
	if len(table) == 0 || len(names) == 0 {
		return ErrNoSeries
	}

	ch := r.build(table, names, r.sanitizeTitle(opts.Title))

	provider := gochart.SVG
	if opts.Format == FormatPNG {
		provider = gochart.PNG
	}
	var buf bytes.Buffer
	if err := ch.Render(provider, &buf); err != nil {
		return fmt.Errorf("chart: render: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func (r *Renderer) build(table domain.YearTable, names []string, title string) gochart.Chart {
	series := make([]gochart.Series, 0, len(names))
	var maxValue float64
	for i, name := range names {
		xs := make([]float64, 0, len(table))
		ys := make([]float64, 0, len(table))
		for _, row := range table {
			v, ok := row.Value(name)
			if !ok {
				continue
			}
			xs = append(xs, float64(row.Year))
			ys = append(ys, v)
			if v > maxValue {
				maxValue = v
			}
		}
		col := SeriesColor(i)
		series = append(series, gochart.ContinuousSeries{
			Name:    name,
			XValues: xs,
			YValues: ys,
			Style: gochart.Style{
				StrokeColor: col,
				StrokeWidth: 2,
				DotColor:    col,
				DotWidth:    3,
			},
		})
	}

	ch := gochart.Chart{
		Title:      title,
		Width:      r.width,
		Height:     r.height,
		Background: gochart.Style{Padding: gochart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20}},
		XAxis: gochart.XAxis{
			Name:  xAxisName,
			Range: xRange(table),
			Ticks: yearTicks(table),
		},
		YAxis: gochart.YAxis{
			Name:  yAxisName,
			Range: &gochart.ContinuousRange{Min: 0, Max: yMax(maxValue)},
			Ticks: valueTicks(yMax(maxValue)),
		},
		Series: series,
	}
	ch.Elements = []gochart.Renderable{gochart.Legend(&ch)}
	return ch
}

func (r *Renderer) sanitizeTitle(title string) string {
	return strings.TrimSpace(r.policy.Sanitize(title))
}

// xRange widens a single-year table by one year on each side so the axis has a span.
func xRange(table domain.YearTable) *gochart.ContinuousRange {
	minYear, maxYear := table[0].Year, table[0].Year
	for _, row := range table {
		if row.Year < minYear {
			minYear = row.Year
		}
		if row.Year > maxYear {
			maxYear = row.Year
		}
	}
	if minYear == maxYear {
		minYear--
		maxYear++
	}
	return &gochart.ContinuousRange{Min: float64(minYear), Max: float64(maxYear)}
}

func yearTicks(table domain.YearTable) []gochart.Tick {
	if len(table) < 2 {
		return nil
	}
	ticks := make([]gochart.Tick, 0, len(table))
	for _, row := range table {
		ticks = append(ticks, gochart.Tick{Value: float64(row.Year), Label: strconv.Itoa(row.Year)})
	}
	return ticks
}

func yMax(maxValue float64) float64 {
	if maxValue <= 0 {
		return 1
	}
	return math.Ceil(maxValue * 1.1)
}

func valueTicks(top float64) []gochart.Tick {
	ticks := make([]gochart.Tick, 0, yTickCount+1)
	for i := 0; i <= yTickCount; i++ {
		v := top * float64(i) / yTickCount
		ticks = append(ticks, gochart.Tick{Value: v, Label: format.Population(v)})
	}
	return ticks
}
