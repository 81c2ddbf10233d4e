package domain

// TradingState is the position state machine's current mode.
type TradingState string

const (
	StateWaitingForSignal TradingState = "WAITING_FOR_SIGNAL"
	StateWaitingForExit   TradingState = "WAITING_FOR_EXIT"
)

func (s TradingState) String() string { return string(s) }

// CalendarFlag is the weekday gate result, recomputed on every tick.
type CalendarFlag string

const (
	FlagBlocked      CalendarFlag = "BLOCKED"
	FlagReopenWindow CalendarFlag = "REOPEN_WINDOW"
	FlagOpen         CalendarFlag = "OPEN"
)

func (f CalendarFlag) String() string { return string(f) }

// SundayPolicy selects how a Sunday tick following a blocked Friday is flagged.
type SundayPolicy string

const (
	// SundayPolicyReopen releases Friday's blocked entries on Sunday's open.
	SundayPolicyReopen SundayPolicy = "reopen"
	// SundayPolicyLegacy keeps Sunday blocked after a Friday, like the original robot.
	SundayPolicyLegacy SundayPolicy = "legacy"
)

// EntryRule selects how the pattern, state and calendar checks are combined.
type EntryRule string

const (
	// EntryRuleStrict requires pattern, WAITING_FOR_SIGNAL and a permissive calendar flag.
	EntryRuleStrict EntryRule = "strict"
	// EntryRuleLegacy also enters on any REOPEN_WINDOW bar, regardless of pattern or state.
	EntryRuleLegacy EntryRule = "legacy"
)
