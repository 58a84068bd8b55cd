package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"homecal/internal/core"
)

// Export renders calendar items as a VCALENDAR named name. stamp is used as
// DTSTAMP for every VEVENT.
func Export(name string, items []core.CalendarItem, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//homecal//calendar export//EN")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, it := range items {
		ev := cal.AddEvent(fmt.Sprintf("event-%d@homecal", it.EventID))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(it.StartDateTime.UTC())
		end := it.StartDateTime.Add(time.Duration(it.DurationInMinutes * float64(time.Minute)))
		if end.Before(it.StartDateTime) {
			end = it.StartDateTime
		}
		ev.SetEndAt(end.UTC())
		if it.ShortDescription != "" {
			ev.SetSummary(it.ShortDescription)
		} else {
			ev.SetSummary(it.Category)
		}
		ev.AddProperty(propCategories, it.Category)
	}
	return cal.Serialize()
}
