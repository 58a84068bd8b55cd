package core

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

// RecordMonthKey is the key holding the month label in a flattened summary record.
// A category described exactly as RecordMonthKey is recorded under
// "Month (category <id>)" instead.
const RecordMonthKey = "Month"

// CalendarItem is an event joined with its category.
type CalendarItem struct {
	CategoryID        int       `json:"category_id"`
	EventID           int       `json:"event_id"`
	StartDateTime     time.Time `json:"start_date_time"`
	Category          string    `json:"category"`
	ShortDescription  string    `json:"short_description"`
	DurationInMinutes float64   `json:"duration_in_minutes"`
	BusyTime          float64   `json:"busy_time"`
}

// MonthKey identifies a calendar month.
type MonthKey struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// CalendarItemsByMonth is one month bucket of a by-month query.
type CalendarItemsByMonth struct {
	Key           MonthKey       `json:"key"`
	Month         string         `json:"month"`
	Items         []CalendarItem `json:"items"`
	TotalBusyTime float64        `json:"total_busy_time"`
}

// CalendarItemsByCategory is one category bucket of a by-category query.
type CalendarItemsByCategory struct {
	Category      string         `json:"category"`
	CategoryID    int            `json:"category_id"`
	Items         []CalendarItem `json:"items"`
	TotalBusyTime float64        `json:"total_busy_time"`
}

// CategoryMinutes is the busy time of one category within one month.
type CategoryMinutes struct {
	Category   string         `json:"category"`
	CategoryID int            `json:"category_id"`
	Minutes    float64        `json:"minutes"`
	Items      []CalendarItem `json:"items"`
}

// MonthCategorySummary is one row of the month by category pivot.
// Categories without items in the month are not listed.
type MonthCategorySummary struct {
	Key        MonthKey          `json:"key"`
	Month      string            `json:"month"`
	Categories []CategoryMinutes `json:"categories"`
}

// MonthOf returns the month containing t, in t's own location.
func MonthOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// Label renders the key as "January 2026".
func (k MonthKey) Label() string {
	return fmt.Sprintf("%s %d", k.Month, k.Year)
}

// Compare orders keys chronologically.
func (k MonthKey) Compare(o MonthKey) int {
	if c := cmp.Compare(k.Year, o.Year); c != 0 {
		return c
	}
	return cmp.Compare(k.Month, o.Month)
}

// Minutes returns the minutes recorded for a category description, and whether
// the category has any item in this month.
func (s MonthCategorySummary) Minutes(category string) (float64, bool) {
	for _, c := range s.Categories {
		if c.Category == category {
			return c.Minutes, true
		}
	}
	return 0, false
}

// Record flattens the summary into {"Month": label, <category>: minutes, ...}.
func (s MonthCategorySummary) Record() map[string]any {
	rec := make(map[string]any, len(s.Categories)+1)
	rec[RecordMonthKey] = s.Month
	for _, c := range s.Categories {
		rec[recordKey(c)] = c.Minutes
	}
	return rec
}

func recordKey(c CategoryMinutes) string {
	if c.Category == RecordMonthKey {
		return fmt.Sprintf("%s (category %d)", c.Category, c.CategoryID)
	}
	return c.Category
}

// Records flattens every summary, keeping month order.
func Records(summaries []MonthCategorySummary) []map[string]any {
	out := make([]map[string]any, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s.Record())
	}
	return out
}

// compareCategory orders category descriptions case-insensitively, then by id,
// then by exact text so distinct descriptions never compare equal.
func compareCategory(aName string, aID int, bName string, bID int) int {
	if c := strings.Compare(strings.ToLower(aName), strings.ToLower(bName)); c != 0 {
		return c
	}
	if c := cmp.Compare(aID, bID); c != 0 {
		return c
	}
	return strings.Compare(aName, bName)
}

func sumBusyTime(items []CalendarItem) float64 {
	var total float64
	for _, it := range items {
		total += it.BusyTime
	}
	return total
}
