// Package caldate maps instants to calendar dates in one fixed canonical
// timezone. Both the submission path and the aggregation path must bucket
// through the same Calendar; letting the two sides disagree on what "today"
// is misclassifies records near midnight.
package caldate

import (
	"fmt"
	"time"
)

// Layout is the canonical YYYY-MM-DD date form used everywhere a date is
// stored or compared.
const Layout = "2006-01-02"

// Calendar converts instants to canonical dates in a single IANA zone.
// The zone is a deployment choice, never the device's local zone, and the
// conversion goes through the timezone database rather than fixed-offset
// arithmetic so DST and historical offset changes are honored.
type Calendar struct {
	loc *time.Location

	// now is replaceable in tests.
	now func() time.Time
}

// New loads the named IANA zone (e.g. "Asia/Shanghai").
func New(zone string) (*Calendar, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load canonical zone %q: %w", zone, err)
	}
	return &Calendar{loc: loc, now: time.Now}, nil
}

// NewWithClock is New with an injected clock, for tests and simulations.
func NewWithClock(zone string, now func() time.Time) (*Calendar, error) {
	c, err := New(zone)
	if err != nil {
		return nil, err
	}
	c.now = now
	return c, nil
}

// DateOf returns the canonical date of an instant, independent of the
// instant's own location.
func (c *Calendar) DateOf(t time.Time) string {
	return t.In(c.loc).Format(Layout)
}

// Today returns the canonical date of the current instant.
func (c *Calendar) Today() string {
	return c.DateOf(c.now())
}

// IsToday reports whether date equals the canonical today.
func (c *Calendar) IsToday(date string) bool {
	return date == c.Today()
}

// IsPast reports whether date is strictly before the canonical today.
// Canonical dates compare correctly as strings.
func (c *Calendar) IsPast(date string) bool {
	return date < c.Today()
}

// Valid reports whether s is a well-formed canonical date.
func Valid(s string) bool {
	_, err := time.Parse(Layout, s)
	return err == nil
}
