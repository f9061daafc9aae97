// Package clock provides the trading-day and trading-session predicates
// every other component uses to decide whether to fuse a live quote, mark
// a bar stale, or compute the last completed trading day. All predicates are
// parameterized by an injectable Now() so tests never depend on wall time.
package clock

import "time"

// Session is the exchange-local clock. CN and HK share the same session
// shape (09:30-11:30, 13:00-15:00) and neither observes DST, so one type
// serves both markets; only the location differs.
type Session struct {
	loc *time.Location
	now func() time.Time
}

// New returns a Session for the given IANA location name (e.g.
// "Asia/Shanghai"). If the location cannot be loaded it falls back to a
// fixed +8 offset, since mainland China and Hong Kong both sit at UTC+8
// year-round.
func New(location string) *Session {
	loc, err := time.LoadLocation(location)
	if err != nil {
		loc = time.FixedZone(location, 8*60*60)
	}
	return &Session{loc: loc, now: time.Now}
}

// WithNow returns a copy of s that uses fn instead of time.Now for "now".
// Used by tests to pin the clock to a fixed instant.
func (s *Session) WithNow(fn func() time.Time) *Session {
	return &Session{loc: s.loc, now: fn}
}

func (s *Session) Now() time.Time {
	return s.now().In(s.loc)
}

// IsTradingDay reports whether d is a weekday. Holidays are out of scope.
func (s *Session) IsTradingDay(d time.Time) bool {
	d = d.In(s.loc)
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

var (
	morningOpen  = civil{9, 30}
	morningClose = civil{11, 30}
	noonOpen     = civil{13, 0}
	close_       = civil{15, 0}
)

type civil struct {
	hour, minute int
}

func (c civil) atDate(d time.Time, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), c.hour, c.minute, 0, 0, loc)
}

func (c civil) cmp(t time.Time) int {
	h, m := t.Hour(), t.Minute()
	if h != c.hour {
		if c.hour < h {
			return -1
		}
		return 1
	}
	if m != c.minute {
		if c.minute < m {
			return -1
		}
		return 1
	}
	return 0
}

// IsTradingSession reports whether t falls within a trading day's two
// continuous sessions: [09:30,11:30] ∪ [13:00,15:00], exchange-local.
func (s *Session) IsTradingSession(t time.Time) bool {
	t = t.In(s.loc)
	if !s.IsTradingDay(t) {
		return false
	}
	inMorning := morningOpen.cmp(t) <= 0 && morningClose.cmp(t) >= 0
	inAfternoon := noonOpen.cmp(t) <= 0 && close_.cmp(t) >= 0
	return inMorning || inAfternoon
}

// IsAfterClose reports whether t is at or after 15:00 exchange-local on its
// own calendar day.
func (s *Session) IsAfterClose(t time.Time) bool {
	t = t.In(s.loc)
	return close_.cmp(t) <= 0
}

// LastTradingDay returns the most recent trading day whose 15:00 close has
// passed as of t: today if t is a trading day and after close, otherwise
// walk back to the previous trading day.
func (s *Session) LastTradingDay(t time.Time) time.Time {
	t = t.In(s.loc)
	if s.IsTradingDay(t) && s.IsAfterClose(t) {
		return dateOnly(t)
	}
	d := dateOnly(t).AddDate(0, 0, -1)
	for !s.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DateString formats t as the YYYY-MM-DD calendar-day key domain.Bar uses.
func DateString(t time.Time) string {
	return t.Format("2006-01-02")
}
