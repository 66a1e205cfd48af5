package report

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrNotEnoughData is returned when no source has two points to draw.
var ErrNotEnoughData = errors.New("not enough data points to draw a chart")

// ChartPNG draws the market and bazaar lines of h.
func ChartPNG(h History) ([]byte, error) {
	points := h.Points()
	var series []chart.Series
	if s, ok := lineSeries("Market", points, func(p Point) *float64 { return p.Market }, "5865F2"); ok {
		series = append(series, s)
	}
	if s, ok := lineSeries("Bazaar", points, func(p Point) *float64 { return p.Bazaar }, "F1C40F"); ok {
		series = append(series, s)
	}
	if len(series) == 0 {
		return nil, ErrNotEnoughData
	}

	white := chart.Style{FontColor: drawing.ColorWhite, StrokeColor: drawing.ColorWhite}
	graph := chart.Chart{
		Title:      fmt.Sprintf("%s - %s", h.ItemName, h.Interval),
		TitleStyle: chart.Style{FontColor: drawing.ColorWhite, FontSize: 16},
		Background: chart.Style{FillColor: drawing.ColorFromHex("2c2f33"), Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20}},
		Canvas:     chart.Style{FillColor: drawing.ColorFromHex("23272a")},
		XAxis: chart.XAxis{
			Style:          white,
			ValueFormatter: chart.TimeValueFormatterWithFormat(timeFormat(points)),
		},
		YAxis: chart.YAxis{
			Style:          white,
			ValueFormatter: moneyFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph, chart.Style{FillColor: drawing.ColorFromHex("2c2f33"), FontColor: drawing.ColorWhite})}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

func lineSeries(name string, points []Point, pick func(Point) *float64, color string) (chart.TimeSeries, bool) {
	var xs []time.Time
	var ys []float64
	for _, p := range points {
		if v := pick(p); v != nil {
			xs = append(xs, p.Time)
			ys = append(ys, *v)
		}
	}
	if len(xs) < 2 {
		return chart.TimeSeries{}, false
	}
	return chart.TimeSeries{
		Name:    name,
		XValues: xs,
		YValues: ys,
		Style:   chart.Style{StrokeColor: drawing.ColorFromHex(color), StrokeWidth: 2.5},
	}, true
}

func timeFormat(points []Point) string {
	if len(points) > 1 && points[len(points)-1].Time.Sub(points[0].Time) > 48*time.Hour {
		return "01-02"
	}
	return "15:04"
}

func moneyFormatter(v interface{}) string {
	typed, ok := v.(float64)
	if !ok {
		return ""
	}
	switch {
	case typed >= 1_000_000_000:
		return fmt.Sprintf("$%.1fB", typed/1_000_000_000)
	case typed >= 1_000_000:
		return fmt.Sprintf("$%.1fM", typed/1_000_000)
	case typed >= 1000:
		return fmt.Sprintf("$%.1fK", typed/1000)
	}
	return fmt.Sprintf("$%.0f", typed)
}
