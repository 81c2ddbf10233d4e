package usecase

import (
	"fmt"

	"github.com/vitos/outside_bar_bot/internal/domain"
)

// PatternDetector recognises the outside bar that closes below the prior bar's low.
type PatternDetector struct {
	includesFormingBar bool
}

// NewPatternDetector builds a detector. includesFormingBar must be true when the last
// element of the sequences it receives is the bar still in progress.
func NewPatternDetector(includesFormingBar bool) *PatternDetector {
	return &PatternDetector{includesFormingBar: includesFormingBar}
}

// IsTriggerPattern compares the most recently completed bar (A) with the one before it (B).
func (d *PatternDetector) IsTriggerPattern(bars []domain.Bar) (bool, error) {
	completed := len(bars)
	if d.includesFormingBar {
		completed--
	}
	if completed < 2 {
		return false, fmt.Errorf("need 2 completed bars, have %d: %w", max(completed, 0), domain.ErrOutOfRange)
	}

	a := bars[completed-1]
	b := bars[completed-2]

	return a.High > b.High && a.Low < b.Low && a.Close < b.Low, nil
}
