package ics

import (
	"strings"

	"homecal/internal/core"
)

// CategoryResolver picks the category of an imported occurrence.
type CategoryResolver struct {
	byName   map[string]int
	allDay   int
	fallback int
}

// NewCategoryResolver matches VEVENT CATEGORIES against category
// descriptions without regard to case. Unmatched all-day occurrences go to
// the first AllDayEvent category when there is one; everything else goes to
// fallback. A fallback of zero drops unmatched occurrences.
func NewCategoryResolver(categories []core.Category, fallback int) *CategoryResolver {
	r := &CategoryResolver{byName: make(map[string]int, len(categories)), fallback: fallback}
	for _, c := range categories {
		key := strings.ToLower(strings.TrimSpace(c.Description()))
		if _, dup := r.byName[key]; !dup {
			r.byName[key] = c.ID()
		}
		if r.allDay == 0 && c.Type() == core.CategoryAllDayEvent {
			r.allDay = c.ID()
		}
	}
	return r
}

// Resolve returns the category id for o, or false when it has none.
func (r *CategoryResolver) Resolve(o Occurrence) (int, bool) {
	for _, name := range o.Categories {
		if id, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]; ok {
			return id, true
		}
	}
	if o.AllDay && r.allDay != 0 {
		return r.allDay, true
	}
	if r.fallback != 0 {
		return r.fallback, true
	}
	return 0, false
}

// ToDrafts converts occurrences into event drafts. It returns the drafts and
// the number of occurrences dropped for lack of a category.
func ToDrafts(occs []Occurrence, r *CategoryResolver) ([]core.EventDraft, int) {
	drafts := make([]core.EventDraft, 0, len(occs))
	dropped := 0
	for _, o := range occs {
		id, ok := r.Resolve(o)
		if !ok {
			dropped++
			continue
		}
		drafts = append(drafts, core.EventDraft{
			StartDateTime:     o.Start,
			CategoryID:        id,
			DurationInMinutes: o.Duration().Minutes(),
			Details:           details(o),
		})
	}
	return drafts, dropped
}

func details(o Occurrence) string {
	if s := strings.TrimSpace(o.Summary); s != "" {
		return s
	}
	return strings.TrimSpace(o.Description)
}
