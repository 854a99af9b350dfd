package session

import (
	"fmt"
	"time"
)

// Calendar answers session-time questions in the exchange's local timezone.
// It is a pure value: all methods depend only on the instant passed in.
type Calendar struct {
	loc       *time.Location
	openHour  int
	openMin   int
	closeHour int
	closeMin  int
}

// New builds a Calendar for the given IANA timezone and "15:04" wall times.
func New(timezone, openTime, closeTime string) (Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Calendar{}, fmt.Errorf("load exchange timezone: %w", err)
	}
	oh, om, err := parseWallTime(openTime)
	if err != nil {
		return Calendar{}, fmt.Errorf("session open: %w", err)
	}
	ch, cm, err := parseWallTime(closeTime)
	if err != nil {
		return Calendar{}, fmt.Errorf("session close: %w", err)
	}
	if oh*60+om >= ch*60+cm {
		return Calendar{}, fmt.Errorf("session open %s must precede close %s", openTime, closeTime)
	}
	return Calendar{loc: loc, openHour: oh, openMin: om, closeHour: ch, closeMin: cm}, nil
}

func parseWallTime(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("parse wall time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// IsTradingDay reports whether now falls on an exchange-local weekday.
func (c Calendar) IsTradingDay(now time.Time) bool {
	wd := now.In(c.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsTradingSession reports whether now lies within the regular session,
// open and close bounds inclusive.
func (c Calendar) IsTradingSession(now time.Time) bool {
	if !c.IsTradingDay(now) {
		return false
	}
	local := now.In(c.loc)
	return !local.Before(c.openAt(local)) && !local.After(c.closeAt(local))
}

// MinutesUntilClose is the signed distance to today's close instant,
// negative once the close has passed.
func (c Calendar) MinutesUntilClose(now time.Time) float64 {
	local := now.In(c.loc)
	return c.closeAt(local).Sub(local).Minutes()
}

// InCloseWindow reports whether now is inside the lead window before close.
// The close instant itself is excluded; exactly lead minutes before close counts.
func (c Calendar) InCloseWindow(now time.Time, leadMinutes int) bool {
	m := c.MinutesUntilClose(now)
	return m > 0 && m <= float64(leadMinutes)
}

// TradingDate is the exchange-local midnight of now's calendar day, used for
// the executed-today guard and day-interval cooldown arithmetic.
func (c Calendar) TradingDate(now time.Time) time.Time {
	local := now.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

func (c Calendar) openAt(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), c.openHour, c.openMin, 0, 0, c.loc)
}

func (c Calendar) closeAt(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), c.closeHour, c.closeMin, 0, 0, c.loc)
}
