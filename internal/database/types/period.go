package types

import (
	"errors"
	"fmt"
	"time"
)

// PeriodKeyLayout is the layout of ledger period keys.
const PeriodKeyLayout = "2006-01-02"

// ErrInvalidPeriod indicates a period key that cannot be parsed.
var ErrInvalidPeriod = errors.New("invalid period")

// Granularity is the length of a ranking period.
// Names are the ones used in commands and HTTP queries.
//
//go:generate go tool enumer -type=Granularity -trimprefix=Granularity -linecomment
type Granularity int

const (
	GranularityDay   Granularity = iota // day
	GranularityMonth                    // month
)

// Period is a calendar day or month in the operating timezone.
// Start is always local midnight, and the first of the month for monthly periods.
type Period struct {
	Granularity Granularity
	Start       time.Time
}

// DayOf returns the day containing t.
func DayOf(t time.Time, loc *time.Location) Period {
	t = t.In(loc)
	return Period{
		Granularity: GranularityDay,
		Start:       time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc),
	}
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time, loc *time.Location) Period {
	t = t.In(loc)
	return Period{
		Granularity: GranularityMonth,
		Start:       time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc),
	}
}

// PeriodOf returns the period of the given granularity containing t.
func PeriodOf(g Granularity, t time.Time, loc *time.Location) Period {
	if g == GranularityMonth {
		return MonthOf(t, loc)
	}

	return DayOf(t, loc)
}

// ParsePeriod parses a YYYY-MM-DD key. Monthly periods also accept YYYY-MM,
// and any day of the month resolves to that month.
func ParsePeriod(g Granularity, key string, loc *time.Location) (Period, error) {
	layouts := []string{PeriodKeyLayout}
	if g == GranularityMonth {
		layouts = append(layouts, "2006-01")
	}

	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, key, loc)
		if err != nil {
			continue
		}

		return PeriodOf(g, t, loc), nil
	}

	return Period{}, fmt.Errorf("%w: %q is not a %s key", ErrInvalidPeriod, key, g)
}

// Key returns the ledger key of the period.
func (p Period) Key() string {
	return p.Start.Format(PeriodKeyLayout)
}

// End returns the start of the following period.
func (p Period) End() time.Time {
	if p.Granularity == GranularityMonth {
		return p.Start.AddDate(0, 1, 0)
	}

	return p.Start.AddDate(0, 0, 1)
}

// Range returns the half-open key range [from, to) covered by the period.
func (p Period) Range() (string, string) {
	return p.Key(), p.End().Format(PeriodKeyLayout)
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End())
}

// String returns a readable form like "month 2024-05-01".
func (p Period) String() string {
	return p.Granularity.String() + " " + p.Key()
}
