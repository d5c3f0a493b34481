package views

import (
	"strings"
	"time"
)

const (
	dateLayout     = "1/2/2006"
	dateTimeLayout = "1/2/2006, 3:04:05 PM"
)

var fullLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatTimestamp renders a stored timestamp for display.
//
// A value shorter than 10 characters is a bare time of day and is prefixed
// with now's date. Anything longer is parsed as a full date-time and
// rendered in loc; values that do not parse are returned unchanged.
func FormatTimestamp(raw string, now time.Time, loc *time.Location) string {
	if raw == "" {
		return "No timestamp"
	}
	if loc == nil {
		loc = time.Local
	}
	if len(raw) < 10 {
		return now.In(loc).Format(dateLayout) + " " + raw
	}
	t, ok := parseFull(raw, loc)
	if !ok {
		return raw
	}
	return t.In(loc).Format(dateTimeLayout)
}

func parseFull(raw string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	for i, layout := range fullLayouts {
		var (
			t   time.Time
			err error
		)
		switch {
		case i < 2:
			t, err = time.Parse(layout, s)
		case layout == "2006-01-02":
			// date-only forms are UTC midnight
			t, err = time.Parse(layout, s)
		default:
			// zone-less date-times are local
			t, err = time.ParseInLocation(layout, s, loc)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
