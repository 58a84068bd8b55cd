package core

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// ErrMissingCategory matches every *MissingCategoryError through errors.Is.
var ErrMissingCategory = errors.New("missing category")

// MissingCategoryError reports an event whose category id has no category.
type MissingCategoryError struct {
	EventID    int
	CategoryID int
}

func (e *MissingCategoryError) Error() string {
	return fmt.Sprintf("event %d references unknown category %d", e.EventID, e.CategoryID)
}

func (e *MissingCategoryError) Is(target error) bool {
	return target == ErrMissingCategory
}

type (
	// CategoryLookup resolves category ids.
	CategoryLookup interface {
		Category(id int) (Category, bool)
	}

	// EventSource hands out the full event collection for one query.
	EventSource interface {
		Events() []Event
	}

	// CategorySet is an in-memory CategoryLookup keyed by id.
	CategorySet map[int]Category

	// EventList is an in-memory EventSource.
	EventList []Event
)

// NewCategorySet indexes categories by id. Later duplicates win.
func NewCategorySet(categories []Category) CategorySet {
	set := make(CategorySet, len(categories))
	for _, c := range categories {
		set[c.ID()] = c
	}
	return set
}

func (s CategorySet) Category(id int) (Category, bool) {
	c, ok := s[id]
	return c, ok
}

func (l EventList) Events() []Event { return l }

// Engine answers calendar queries over an event source and a category lookup.
// It never modifies its inputs; each call returns a new snapshot.
type Engine struct {
	events     EventSource
	categories CategoryLookup
}

func NewEngine(events EventSource, categories CategoryLookup) *Engine {
	return &Engine{events: events, categories: categories}
}

// GetCalendarItems joins every event with its category, keeps the items
// matching f and sorts them by start time.
func (e *Engine) GetCalendarItems(f Filter) ([]CalendarItem, error) {
	items, err := e.materialize()
	if err != nil {
		return nil, err
	}

	out := make([]CalendarItem, 0, len(items))
	for _, it := range items {
		if f.Matches(it) {
			out = append(out, it)
		}
	}
	slices.SortStableFunc(out, compareItems)
	return out, nil
}

// GetCalendarItemsByMonth partitions the matching items by month, oldest first.
func (e *Engine) GetCalendarItemsByMonth(f Filter) ([]CalendarItemsByMonth, error) {
	items, err := e.GetCalendarItems(f)
	if err != nil {
		return nil, err
	}

	index := make(map[MonthKey]int)
	groups := make([]CalendarItemsByMonth, 0)
	for _, it := range items {
		key := MonthOf(it.StartDateTime)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, CalendarItemsByMonth{Key: key, Month: key.Label()})
		}
		groups[i].Items = append(groups[i].Items, it)
	}

	slices.SortFunc(groups, func(a, b CalendarItemsByMonth) int {
		return a.Key.Compare(b.Key)
	})
	for i := range groups {
		groups[i].TotalBusyTime = sumBusyTime(groups[i].Items)
	}
	return groups, nil
}

// GetCalendarItemsByCategory partitions the matching items by category description,
// ordered alphabetically without regard to case.
func (e *Engine) GetCalendarItemsByCategory(f Filter) ([]CalendarItemsByCategory, error) {
	items, err := e.GetCalendarItems(f)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	groups := make([]CalendarItemsByCategory, 0)
	for _, it := range items {
		i, ok := index[it.Category]
		if !ok {
			i = len(groups)
			index[it.Category] = i
			groups = append(groups, CalendarItemsByCategory{Category: it.Category, CategoryID: it.CategoryID})
		}
		if it.CategoryID < groups[i].CategoryID {
			groups[i].CategoryID = it.CategoryID
		}
		groups[i].Items = append(groups[i].Items, it)
	}

	slices.SortFunc(groups, func(a, b CalendarItemsByCategory) int {
		return compareCategory(a.Category, a.CategoryID, b.Category, b.CategoryID)
	})
	for i := range groups {
		groups[i].TotalBusyTime = sumBusyTime(groups[i].Items)
	}
	return groups, nil
}

// GetCalendarDictionaryByCategoryAndMonth cross-tabulates busy time by month and
// category. A month row only lists the categories that have items in that month.
func (e *Engine) GetCalendarDictionaryByCategoryAndMonth(f Filter) ([]MonthCategorySummary, error) {
	months, err := e.GetCalendarItemsByMonth(f)
	if err != nil {
		return nil, err
	}

	out := make([]MonthCategorySummary, 0, len(months))
	for _, m := range months {
		index := make(map[string]int)
		row := MonthCategorySummary{Key: m.Key, Month: m.Month, Categories: make([]CategoryMinutes, 0)}
		for _, it := range m.Items {
			i, ok := index[it.Category]
			if !ok {
				i = len(row.Categories)
				index[it.Category] = i
				row.Categories = append(row.Categories, CategoryMinutes{Category: it.Category, CategoryID: it.CategoryID})
			}
			c := &row.Categories[i]
			if it.CategoryID < c.CategoryID {
				c.CategoryID = it.CategoryID
			}
			c.Minutes += it.BusyTime
			c.Items = append(c.Items, it)
		}
		slices.SortFunc(row.Categories, func(a, b CategoryMinutes) int {
			return compareCategory(a.Category, a.CategoryID, b.Category, b.CategoryID)
		})
		out = append(out, row)
	}
	return out, nil
}

// materialize joins every event with its category. A dangling category
// reference fails the whole query, whether or not the event would be filtered out.
func (e *Engine) materialize() ([]CalendarItem, error) {
	var events []Event
	if e.events != nil {
		events = e.events.Events()
	}

	items := make([]CalendarItem, 0, len(events))
	for _, ev := range events {
		if e.categories == nil {
			return nil, &MissingCategoryError{EventID: ev.ID(), CategoryID: ev.CategoryID()}
		}
		cat, ok := e.categories.Category(ev.CategoryID())
		if !ok {
			return nil, &MissingCategoryError{EventID: ev.ID(), CategoryID: ev.CategoryID()}
		}
		items = append(items, CalendarItem{
			CategoryID:        cat.ID(),
			EventID:           ev.ID(),
			StartDateTime:     ev.StartDateTime(),
			Category:          cat.Description(),
			ShortDescription:  ev.Details(),
			DurationInMinutes: ev.DurationInMinutes(),
			BusyTime:          ev.DurationInMinutes(),
		})
	}
	return items, nil
}

func compareItems(a, b CalendarItem) int {
	if c := a.StartDateTime.Compare(b.StartDateTime); c != 0 {
		return c
	}
	return cmp.Compare(a.EventID, b.EventID)
}
