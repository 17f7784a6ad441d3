package util

import (
	"time"

	"vinsight/internal/domain"
)

// Eastern approximates US Eastern Time with a fixed UTC-5 offset. Daylight
// saving is deliberately ignored, so summer sessions are shifted by an hour.
var Eastern = time.FixedZone("ET", -5*60*60)

// TradingCalendar provides market-session awareness for US equities:
// pre-market 04:00, regular 09:30-16:00, post-market until 20:00, weekends
// closed. Exchange holidays are not modelled.
type TradingCalendar struct {
	market domain.Market
	loc    *time.Location

	// Minutes after local midnight.
	preOpen   int
	open      int
	close     int
	postClose int
}

// NewTradingCalendar creates a TradingCalendar for the given market.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	return &TradingCalendar{
		market:    market,
		loc:       Eastern,
		preOpen:   4 * 60,
		open:      9*60 + 30,
		close:     16 * 60,
		postClose: 20 * 60,
	}
}

// Market returns the market this calendar describes.
func (tc *TradingCalendar) Market() domain.Market { return tc.market }

// Location returns the calendar's time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// SessionAt returns the session in progress at t.
func (tc *TradingCalendar) SessionAt(t time.Time) domain.MarketState {
	et := t.In(tc.loc)
	if isWeekend(et) {
		return domain.MarketStateClosed
	}
	mins := et.Hour()*60 + et.Minute()
	switch {
	case mins >= tc.open && mins < tc.close:
		return domain.MarketStateRegular
	case mins >= tc.preOpen && mins < tc.open:
		return domain.MarketStatePre
	case mins >= tc.close && mins < tc.postClose:
		return domain.MarketStatePost
	}
	return domain.MarketStateClosed
}

// NextOpen returns the next regular-session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	et := t.In(tc.loc)
	day := et
	for i := 0; i < 8; i++ {
		if !isWeekend(day) {
			if open := tc.at(day, tc.open); !open.Before(et) {
				return open
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

// PreviousClose returns the most recent regular-session close at or before t.
func (tc *TradingCalendar) PreviousClose(t time.Time) time.Time {
	et := t.In(tc.loc)
	day := et
	for i := 0; i < 8; i++ {
		if !isWeekend(day) {
			if cl := tc.at(day, tc.close); !cl.After(et) {
				return cl
			}
		}
		day = day.AddDate(0, 0, -1)
	}
	return time.Time{}
}

// UntilOpen is the time remaining until the next regular open.
func (tc *TradingCalendar) UntilOpen(t time.Time) time.Duration {
	return tc.NextOpen(t).Sub(t)
}

// SinceClose is the time elapsed since the last regular close.
func (tc *TradingCalendar) SinceClose(t time.Time) time.Duration {
	return t.Sub(tc.PreviousClose(t))
}

// Date returns the calendar date of t in the market's time zone.
func (tc *TradingCalendar) Date(t time.Time) string {
	return t.In(tc.loc).Format("2006-01-02")
}

func (tc *TradingCalendar) at(day time.Time, minutes int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, tc.loc).Add(time.Duration(minutes) * time.Minute)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
