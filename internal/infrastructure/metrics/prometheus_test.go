package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"github.com/vitos/outside_bar_bot/internal/usecase"
)

// value returns the sample of family name whose labels include all of want.
func value(t *testing.T, r *Recorder, name string, want map[string]string) float64 {
	t.Helper()
	families, err := r.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched != len(want) {
				continue
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, want)
	return 0
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	r.Decision(usecase.DecisionEntered)
	r.Decision(usecase.DecisionEntered)
	r.Order(domain.OrderKindEntry, nil)
	r.Order(domain.OrderKindExit, errors.New("rejected"))
	r.PositionClosed(12.5)
	r.PositionClosed(-3)
	r.State(domain.StateWaitingForExit, domain.FlagReopenWindow)
	r.PositionSize(0.05)

	assert.Equal(t, 2.0, value(t, r, "outside_bar_decisions_total", map[string]string{"decision": "ENTERED"}))
	assert.Equal(t, 1.0, value(t, r, "outside_bar_orders_total", map[string]string{"kind": "ENTRY", "result": "ok"}))
	assert.Equal(t, 1.0, value(t, r, "outside_bar_orders_total", map[string]string{"kind": "EXIT", "result": "error"}))
	assert.Equal(t, 1.0, value(t, r, "outside_bar_positions_closed_total", map[string]string{"result": "win"}))
	assert.Equal(t, 1.0, value(t, r, "outside_bar_positions_closed_total", map[string]string{"result": "loss"}))
	assert.Equal(t, 1.0, value(t, r, "outside_bar_trading_state", nil))
	assert.Equal(t, 1.0, value(t, r, "outside_bar_calendar_flag", map[string]string{"flag": "REOPEN_WINDOW"}))
	assert.Equal(t, 0.0, value(t, r, "outside_bar_calendar_flag", map[string]string{"flag": "BLOCKED"}))
	assert.Equal(t, 0.05, value(t, r, "outside_bar_position_size", nil))
}
