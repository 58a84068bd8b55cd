package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"homecal/internal/core"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
)

var itemHeader = []string{"event_id", "category_id", "category", "start", "duration_in_minutes", "busy_time", "short_description"}

func write(w io.Writer, format string, result any) error {
	if format == formatJSON {
		if s, ok := result.([]core.MonthCategorySummary); ok {
			result = core.Records(s)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	cw := csv.NewWriter(w)
	switch v := result.(type) {
	case []core.CalendarItem:
		_ = cw.Write(itemHeader)
		writeItems(cw, nil, v)
	case []core.CalendarItemsByMonth:
		_ = cw.Write(append([]string{"month"}, itemHeader...))
		for _, m := range v {
			writeItems(cw, []string{m.Month}, m.Items)
		}
	case []core.CalendarItemsByCategory:
		_ = cw.Write(append([]string{"group"}, itemHeader...))
		for _, c := range v {
			writeItems(cw, []string{c.Category}, c.Items)
		}
	case []core.MonthCategorySummary:
		writeSummary(cw, v)
	default:
		return fmt.Errorf("cannot write %T as csv", result)
	}
	cw.Flush()
	return cw.Error()
}

// writeItems writes one row per item, each prefixed with prefix.
func writeItems(cw *csv.Writer, prefix []string, items []core.CalendarItem) {
	for _, it := range items {
		row := append(append([]string{}, prefix...),
			strconv.Itoa(it.EventID),
			strconv.Itoa(it.CategoryID),
			it.Category,
			it.StartDateTime.Format(time.RFC3339),
			formatMinutes(it.DurationInMinutes),
			formatMinutes(it.BusyTime),
			it.ShortDescription,
		)
		_ = cw.Write(row)
	}
}

// writeSummary writes the pivot with one column per category, in order of
// first appearance. Empty cells mean the category had no items that month.
func writeSummary(cw *csv.Writer, summaries []core.MonthCategorySummary) {
	var columns []string
	seen := make(map[string]bool)
	for _, s := range summaries {
		for _, c := range s.Categories {
			if !seen[c.Category] {
				seen[c.Category] = true
				columns = append(columns, c.Category)
			}
		}
	}

	_ = cw.Write(append([]string{core.RecordMonthKey}, columns...))
	for _, s := range summaries {
		row := make([]string, 0, len(columns)+1)
		row = append(row, s.Month)
		for _, col := range columns {
			if m, ok := s.Minutes(col); ok {
				row = append(row, formatMinutes(m))
			} else {
				row = append(row, "")
			}
		}
		_ = cw.Write(row)
	}
}

func formatMinutes(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64)
}
