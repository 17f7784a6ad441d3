// Package quote keeps a live quote for one focused ticker, polling at a
// cadence chosen from the US equities session the last quote was taken in.
package quote

import (
	"time"

	"vinsight/internal/domain"
	"vinsight/internal/util"
)

// Poll cadences.
const (
	IntervalFast = 30 * time.Second
	IntervalNear = 5 * time.Minute
	IntervalFar  = 10 * time.Minute
	IntervalIdle = 60 * time.Minute
)

// PollInterval returns the delay before the next poll given the market state
// of the latest quote. Extended-hours cadence tightens as the regular session
// approaches (PRE) or loosens as it recedes (POST). An unknown state falls
// back to the calendar's own session at now.
func PollInterval(state domain.MarketState, now time.Time, cal *util.TradingCalendar) time.Duration {
	switch state {
	case domain.MarketStateRegular:
		return IntervalFast
	case domain.MarketStateClosed:
		return IntervalIdle
	case domain.MarketStatePre:
		return bandInterval(cal.UntilOpen(now))
	case domain.MarketStatePost:
		return bandInterval(cal.SinceClose(now))
	}
	return PollInterval(cal.SessionAt(now), now, cal)
}

func bandInterval(d time.Duration) time.Duration {
	switch {
	case d <= 15*time.Minute:
		return IntervalFast
	case d <= 60*time.Minute:
		return IntervalNear
	case d <= 120*time.Minute:
		return IntervalFar
	}
	return IntervalIdle
}
