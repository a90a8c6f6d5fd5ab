// Package badge renders shields-style SVG coverage badges.
package badge

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
)

type Style string

const (
	StyleFlat       Style = "flat"
	StyleFlatSquare Style = "flat-square"
)

// Watermarks split percentages into low, medium and high bands.
type Watermarks struct {
	Low  float64
	High float64
}

// DefaultWatermarks match the text reporter colours.
var DefaultWatermarks = Watermarks{Low: 50, High: 80}

type Options struct {
	Label      string
	Percent    float64
	Style      Style
	Watermarks Watermarks
}

var svgTemplate = template.Must(template.New("badge").Parse(`<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="{{.Width}}" height="20" role="img" aria-label="{{.Label}}: {{.PercentText}}">
  <title>{{.Label}}: {{.PercentText}}</title>
  <linearGradient id="s" x2="0" y2="100%">
    <stop offset="0" stop-color="#bbb" stop-opacity=".1"/>
    <stop offset="1" stop-opacity=".1"/>
  </linearGradient>
  <clipPath id="r">
    <rect width="{{.Width}}" height="20" rx="{{.Rx}}" fill="#fff"/>
  </clipPath>
  <g clip-path="url(#r)">
    <rect width="{{.LabelWidth}}" height="20" fill="#555"/>
    <rect x="{{.LabelWidth}}" width="{{.ValueWidth}}" height="20" fill="{{.Color}}"/>
    <rect width="{{.Width}}" height="20" fill="url(#s)"/>
  </g>
  <g fill="#fff" text-anchor="middle" font-family="Verdana,Geneva,DejaVu Sans,sans-serif" text-rendering="geometricPrecision" font-size="110">
    <text aria-hidden="true" x="{{.LabelX}}" y="150" fill="#010101" fill-opacity=".3" transform="scale(.1)" textLength="{{.LabelTextWidth}}">{{.Label}}</text>
    <text x="{{.LabelX}}" y="140" transform="scale(.1)" fill="#fff" textLength="{{.LabelTextWidth}}">{{.Label}}</text>
    <text aria-hidden="true" x="{{.ValueX}}" y="150" fill="#010101" fill-opacity=".3" transform="scale(.1)" textLength="{{.ValueTextWidth}}">{{.PercentText}}</text>
    <text x="{{.ValueX}}" y="140" transform="scale(.1)" fill="#fff" textLength="{{.ValueTextWidth}}">{{.PercentText}}</text>
  </g>
</svg>
`))

type templateData struct {
	Label          string
	PercentText    string
	Color          string
	Width          int
	LabelWidth     int
	ValueWidth     int
	LabelX         int
	ValueX         int
	LabelTextWidth int
	ValueTextWidth int
	Rx             int
}

// Generate writes the badge for opts to w.
func Generate(w io.Writer, opts Options) error {
	if opts.Label == "" {
		opts.Label = "coverage"
	}
	if opts.Style == "" {
		opts.Style = StyleFlat
	}
	if opts.Watermarks == (Watermarks{}) {
		opts.Watermarks = DefaultWatermarks
	}

	percentText := FormatPercent(opts.Percent)
	// Verdana at 11px is roughly 7px per glyph.
	labelWidth := len(opts.Label)*7 + 10
	valueWidth := len(percentText)*7 + 10

	rx := 3
	if opts.Style == StyleFlatSquare {
		rx = 0
	}

	data := templateData{
		Label:          opts.Label,
		PercentText:    percentText,
		Color:          opts.Watermarks.Color(opts.Percent),
		Width:          labelWidth + valueWidth,
		LabelWidth:     labelWidth,
		ValueWidth:     valueWidth,
		LabelX:         labelWidth * 5,
		ValueX:         (labelWidth + valueWidth/2) * 10,
		LabelTextWidth: len(opts.Label) * 70,
		ValueTextWidth: len(percentText) * 70,
		Rx:             rx,
	}
	if err := svgTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render badge: %w", err)
	}
	return nil
}

// FormatPercent prints whole numbers without decimals and others with at most two.
func FormatPercent(p float64) string {
	return strconv.FormatFloat(float64(int64(p*100+0.5))/100, 'f', -1, 64) + "%"
}

// Color returns the fill colour of the band p falls into.
func (w Watermarks) Color(p float64) string {
	switch {
	case p >= w.High:
		return "#4c1"
	case p >= w.Low:
		return "#dfb317"
	default:
		return "#e05d44"
	}
}
