// Package format renders population figures for axes, tooltips and exports.
package format

import (
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const manUnit = 10000

// Population converts a head count to units of 10,000 people rounded to three
// significant digits. Zero, NaN and values under 10 people render as "0".
func Population(value float64) string {
	if value == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return "0"
	}
	man := value / manUnit
	if math.Abs(man) < 0.001 {
		return "0"
	}

	magnitude := int(math.Floor(math.Log10(math.Abs(man))))
	power := 3 - magnitude - 1
	var rounded float64
	if power >= 0 {
		scale := math.Pow(10, float64(power))
		rounded = math.Round(man*scale) / scale
	} else {
		scale := math.Pow(10, float64(-power))
		rounded = math.Round(man/scale) * scale
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

// Tooltip renders a head count with locale digit grouping and the 人 suffix.
// Fractional counts keep up to two decimals.
func Tooltip(tag language.Tag, value float64) string {
	if value == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return "0人"
	}
	p := message.NewPrinter(tag)
	if value == math.Trunc(value) && math.Abs(value) < 1<<53 {
		return p.Sprintf("%d人", int64(value))
	}
	return p.Sprint(number.Decimal(value, number.MaxFractionDigits(2))) + "人"
}

// Year renders a row label such as "1980年".
func Year(year int) string {
	return strconv.Itoa(year) + "年"
}
