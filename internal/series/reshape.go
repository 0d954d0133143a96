// Package series pivots per-prefecture population series into the dense
// year table used by the chart and export renderers.
package series

import (
	"sort"

	"github.com/tomoya0318/PrefTrend/internal/domain"
)

// Column is one resolved series of the table: a display name and its points
// for the selected category.
type Column struct {
	ID     int
	Name   string
	Points []domain.PopulationPoint
}

// Columns resolves each result to a named column. Ids absent from prefectures
// get domain.UnknownPrefectureName. Results without data, or without the
// category, produce a column with no points.
func Columns(results []domain.PopulationResult, prefectures []domain.Prefecture, label string) []Column {
	names := domain.PrefectureNames(prefectures)
	columns := make([]Column, 0, len(results))
	for _, result := range results {
		name, ok := names[result.ID]
		if !ok {
			name = domain.UnknownPrefectureName
		}
		points, _ := result.Data.Category(label)
		columns = append(columns, Column{ID: result.ID, Name: name, Points: points})
	}
	return columns
}

// Reshape pivots results into one row per distinct year across all columns,
// ordered by ascending year. A row only carries the names that have a value
// for that year; nothing is zero-filled or interpolated. Within a row, names
// follow the order of results.
func Reshape(results []domain.PopulationResult, prefectures []domain.Prefecture, label string) domain.YearTable {
	return Pivot(Columns(results, prefectures, label))
}

// Pivot builds the dense year table from resolved columns.
func Pivot(columns []Column) domain.YearTable {
	index := map[int]int{}
	var table domain.YearTable
	for _, column := range columns {
		for _, point := range column.Points {
			pos, ok := index[point.Year]
			if !ok {
				pos = len(table)
				index[point.Year] = pos
				table = append(table, domain.NewYearRow(point.Year))
			}
			table[pos].Set(column.Name, point.Value)
		}
	}
	if table == nil {
		return domain.YearTable{}
	}
	sort.SliceStable(table, func(i, j int) bool { return table[i].Year < table[j].Year })
	return table
}
