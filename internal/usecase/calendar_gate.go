package usecase

import (
	"time"

	"github.com/vitos/outside_bar_bot/internal/domain"
)

// UpdateCalendarFlag applies the weekday rules in order: Friday blocks, a Sunday that
// follows a block opens the re-open window (or stays blocked under the legacy policy),
// anything else is open. The re-open window holds for the rest of that Sunday.
func UpdateCalendarFlag(weekday time.Weekday, prev domain.CalendarFlag, policy domain.SundayPolicy) domain.CalendarFlag {
	switch {
	case weekday == time.Friday:
		return domain.FlagBlocked
	case weekday == time.Sunday && prev == domain.FlagBlocked:
		if policy == domain.SundayPolicyLegacy {
			return domain.FlagBlocked
		}
		return domain.FlagReopenWindow
	case weekday == time.Sunday && prev == domain.FlagReopenWindow:
		return domain.FlagReopenWindow
	default:
		return domain.FlagOpen
	}
}

// EntryPermitted reports whether new entries may be opened under the flag.
func EntryPermitted(flag domain.CalendarFlag) bool {
	return flag == domain.FlagOpen || flag == domain.FlagReopenWindow
}

// CalendarGate evaluates the weekday rules in the trading session's timezone.
type CalendarGate struct {
	loc    *time.Location
	policy domain.SundayPolicy
}

func NewCalendarGate(loc *time.Location, policy domain.SundayPolicy) *CalendarGate {
	if loc == nil {
		loc = time.UTC
	}
	if policy == "" {
		policy = domain.SundayPolicyReopen
	}
	return &CalendarGate{loc: loc, policy: policy}
}

func (g *CalendarGate) Update(now time.Time, prev domain.CalendarFlag) domain.CalendarFlag {
	return UpdateCalendarFlag(now.In(g.loc).Weekday(), prev, g.policy)
}

func (g *CalendarGate) Policy() domain.SundayPolicy {
	return g.policy
}
