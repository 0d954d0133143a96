package chart

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/tomoya0318/PrefTrend/internal/domain"
)

func sampleTable() domain.YearTable {
	a := domain.NewYearRow(1980)
	a.Set("北海道", 5575989)
	a.Set("東京都", 11618281)
	b := domain.NewYearRow(2020)
	b.Set("北海道", 5224614)
	b.Set("東京都", 14047594)
	return domain.YearTable{a, b}
}

func svgTexts(t *testing.T, raw []byte) []string {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 1, doc.Find("svg").Length())
	var texts []string
	doc.Find("text").Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, strings.TrimSpace(s.Text()))
	})
	return texts
}

func TestRenderSVGIncludesLegend(t *testing.T) {
	var buf bytes.Buffer
	err := NewRenderer(640, 360).Render(&buf, sampleTable(), Options{Title: "人口推移"})
	require.NoError(t, err)

	texts := svgTexts(t, buf.Bytes())
	require.Contains(t, texts, "北海道")
	require.Contains(t, texts, "東京都")
	require.Contains(t, texts, "人口推移")
}

func TestRenderPNG(t *testing.T) {
	var buf bytes.Buffer
	err := NewRenderer(0, 0).Render(&buf, sampleTable(), Options{Format: FormatPNG})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG\r\n\x1a\n")))
}

func TestRenderSingleYear(t *testing.T) {
	row := domain.NewYearRow(2020)
	row.Set("北海道", 5224614)

	var buf bytes.Buffer
	err := NewRenderer(640, 360).Render(&buf, domain.YearTable{row}, Options{})
	require.NoError(t, err)
	require.Contains(t, svgTexts(t, buf.Bytes()), "北海道")
}

func TestRenderEmptyTable(t *testing.T) {
	var buf bytes.Buffer
	err := NewRenderer(640, 360).Render(&buf, domain.YearTable{}, Options{})
	require.True(t, errors.Is(err, ErrNoSeries))
	require.Zero(t, buf.Len())

	err = NewRenderer(640, 360).Render(&buf, domain.YearTable{domain.NewYearRow(1980)}, Options{})
	require.ErrorIs(t, err, ErrNoSeries)
}

func TestSanitizeTitleStripsMarkup(t *testing.T) {
	r := NewRenderer(640, 360)
	require.Equal(t, "人口推移", r.sanitizeTitle("  <b>人口推移</b> "))
}

func TestSeriesColorCycles(t *testing.T) {
	require.Equal(t, SeriesColor(0), SeriesColor(8))
	require.NotEqual(t, SeriesColor(0), SeriesColor(1))
	require.Equal(t, "image/png", FormatPNG.ContentType())
	require.Equal(t, "image/svg+xml", FormatSVG.ContentType())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(".PNG")
	require.NoError(t, err)
	require.Equal(t, FormatPNG, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatSVG, f)

	_, err = ParseFormat("gif")
	require.Error(t, err)
}

func TestValueTicksUseManUnits(t *testing.T) {
	ticks := valueTicks(yMax(14047594))
	require.Len(t, ticks, yTickCount+1)
	require.Equal(t, "0", ticks[0].Label)
	require.Equal(t, "1550", ticks[len(ticks)-1].Label)
}
