package clock

import (
	"testing"
	"time"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	loc, _ := time.LoadLocation("Asia/Shanghai")
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

func TestIsTradingDay(t *testing.T) {
	s := New("Asia/Shanghai")
	if s.IsTradingDay(at(2026, 8, 1, 10, 0)) { // Saturday
		t.Error("expected Saturday to not be a trading day")
	}
	if !s.IsTradingDay(at(2026, 7, 31, 10, 0)) { // Friday
		t.Error("expected Friday to be a trading day")
	}
}

func TestIsTradingSession(t *testing.T) {
	s := New("Asia/Shanghai")
	cases := []struct {
		t    time.Time
		want bool
	}{
		{at(2026, 7, 30, 9, 29), false},
		{at(2026, 7, 30, 9, 30), true},
		{at(2026, 7, 30, 11, 30), true},
		{at(2026, 7, 30, 12, 0), false},
		{at(2026, 7, 30, 13, 0), true},
		{at(2026, 7, 30, 15, 0), true},
		{at(2026, 7, 30, 15, 1), false},
		{at(2026, 8, 1, 10, 0), false}, // Saturday
	}
	for _, c := range cases {
		got := s.IsTradingSession(c.t)
		if got != c.want {
			t.Errorf("IsTradingSession(%v) = %v, want %v", c.t, got, c.want)
		}
	}
}

func TestLastTradingDay(t *testing.T) {
	s := New("Asia/Shanghai")

	// Friday after close -> Friday.
	fri := at(2026, 7, 31, 15, 30)
	got := s.LastTradingDay(fri)
	if got.Day() != 31 {
		t.Errorf("LastTradingDay(Friday after close) = %v, want day 31", got)
	}

	// Saturday -> walks back to Friday.
	sat := at(2026, 8, 1, 10, 0)
	got = s.LastTradingDay(sat)
	if got.Day() != 31 {
		t.Errorf("LastTradingDay(Saturday) = %v, want day 31", got)
	}

	// Friday before close -> previous trading day (Thursday).
	friBeforeClose := at(2026, 7, 31, 10, 0)
	got = s.LastTradingDay(friBeforeClose)
	if got.Day() != 30 {
		t.Errorf("LastTradingDay(Friday before close) = %v, want day 30", got)
	}
}

func TestWithNow(t *testing.T) {
	fixed := at(2026, 7, 30, 10, 0)
	s := New("Asia/Shanghai").WithNow(func() time.Time { return fixed })
	if !s.Now().Equal(fixed) {
		t.Errorf("Now() = %v, want %v", s.Now(), fixed)
	}
}
