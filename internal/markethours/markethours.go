// Package markethours describes exchange trading sessions: regular hours in
// the exchange's time zone, weekends and holidays.
package markethours

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // exchange zones without a system zoneinfo
)

// Session is one exchange's regular trading session.
type Session struct {
	Name string
	Loc  *time.Location

	// Open and Close are offsets from local midnight.
	Open  time.Duration
	Close time.Duration

	holidays   map[string]bool
	alwaysOpen bool
}

// NYSE is the New York Stock Exchange, 09:30-16:00 America/New_York.
func NYSE() *Session {
	return &Session{
		Name:     "nyse",
		Loc:      mustLoad("America/New_York"),
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
		holidays: holidaySet(nyseHolidays),
	}
}

// NSE is the National Stock Exchange of India, 09:15-15:30 IST.
func NSE() *Session {
	return &Session{
		Name:     "nse",
		Loc:      mustLoad("Asia/Kolkata"),
		Open:     9*time.Hour + 15*time.Minute,
		Close:    15*time.Hour + 30*time.Minute,
		holidays: holidaySet(nseHolidays),
	}
}

// Always is a session that never closes, for simulated markets.
func Always() *Session {
	return &Session{Name: "always", Loc: time.UTC, Close: 24 * time.Hour, alwaysOpen: true}
}

// ByName returns the session for nyse, nse or always (case-insensitive).
func ByName(name string) (*Session, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nyse", "":
		return NYSE(), nil
	case "nse":
		return NSE(), nil
	case "always", "24x7":
		return Always(), nil
	}
	return nil, fmt.Errorf("unknown market %q", name)
}

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: load %s: %v", name, err))
	}
	return loc
}

// IsHoliday reports whether t's exchange-local date is a holiday.
func (s *Session) IsHoliday(t time.Time) bool {
	return s.holidays[dateKey(t.In(s.Loc))]
}

// IsTradingDay reports whether t is a weekday and not a holiday.
func (s *Session) IsTradingDay(t time.Time) bool {
	if s.alwaysOpen {
		return true
	}
	local := t.In(s.Loc)
	wd := local.Weekday()
	return wd != time.Saturday && wd != time.Sunday && !s.IsHoliday(local)
}

// IsOpen reports whether t falls within regular trading hours.
func (s *Session) IsOpen(t time.Time) bool {
	if s.alwaysOpen {
		return true
	}
	if !s.IsTradingDay(t) {
		return false
	}
	local := t.In(s.Loc)
	sinceMidnight := local.Sub(midnight(local))
	return sinceMidnight >= s.Open && sinceMidnight < s.Close
}

// NextOpen returns the next session open at or after t. Today's open is
// returned when t is before it on a trading day.
func (s *Session) NextOpen(t time.Time) time.Time {
	if s.alwaysOpen {
		return t
	}
	local := t.In(s.Loc)
	todayOpen := midnight(local).Add(s.Open)
	if local.Before(todayOpen) && s.IsTradingDay(local) {
		return todayOpen
	}
	d := midnight(local).AddDate(0, 0, 1)
	for i := 0; i < 14; i++ { // weekends plus holiday runs
		if s.IsTradingDay(d) {
			return d.Add(s.Open)
		}
		d = d.AddDate(0, 0, 1)
	}
	return midnight(local).AddDate(0, 0, 1).Add(s.Open)
}

// TodayClose returns the close of t's exchange-local day.
func (s *Session) TodayClose(t time.Time) time.Time {
	local := t.In(s.Loc)
	return midnight(local).Add(s.Close)
}

// TimeUntilClose returns the time left in the session, 0 when closed.
func (s *Session) TimeUntilClose(t time.Time) time.Duration {
	if !s.IsOpen(t) {
		return 0
	}
	return s.TodayClose(t).Sub(t)
}

// OpenSpec returns a cron spec firing at the session open on weekdays, in
// the exchange's zone. An always-open session fires at midnight UTC.
func (s *Session) OpenSpec() string {
	if s.alwaysOpen {
		return "CRON_TZ=UTC 0 0 * * *"
	}
	h := int(s.Open / time.Hour)
	m := int((s.Open % time.Hour) / time.Minute)
	return fmt.Sprintf("CRON_TZ=%s %d %d * * 1-5", s.Loc.String(), m, h)
}

// Status returns a human-readable market status.
func (s *Session) Status(t time.Time) string {
	if s.alwaysOpen {
		return "Market Open (24x7)"
	}
	if s.IsOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(s.TimeUntilClose(t)))
	}
	next := s.NextOpen(t)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
