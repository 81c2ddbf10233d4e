package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/vitos/outside_bar_bot/internal/config"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"github.com/vitos/outside_bar_bot/internal/infrastructure/exchange"
	"github.com/vitos/outside_bar_bot/internal/usecase"
	"go.uber.org/zap"
)

// scan replays the detector and the calendar gate over recent history and prints every
// bar on which the strategy would have entered.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	bars := flag.Int("bars", 200, "number of completed bars to scan")
	all := flag.Bool("all", false, "print every bar, not only triggers")
	flag.Parse()

	// Bybit serves at most 1000 klines, one of them still forming
	if *bars < 2 || *bars > 999 {
		fmt.Printf("-bars %d: want 2..999\n", *bars)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	adapter := exchange.NewBybitAdapter(exchange.BybitConfig{
		BaseURL: cfg.Exchange.RESTEndpoint,
	}, zap.NewNop())

	history, err := adapter.GetBars(context.Background(), cfg.Strategy.Symbol, cfg.Strategy.Interval, *bars)
	if err != nil {
		fmt.Printf("Failed to load bars: %v\n", err)
		os.Exit(1)
	}

	detector := usecase.NewPatternDetector(false)
	gate := usecase.NewCalendarGate(cfg.Location(), domain.SundayPolicy(cfg.Strategy.SundayPolicy))
	rule := domain.EntryRule(cfg.Strategy.EntryRule)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("OUTSIDE BAR SCAN %s %s (%s entry)", cfg.Strategy.Symbol, cfg.Strategy.Interval, rule))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Bar", "Closed", "High", "Low", "Close", "Flag", "Trigger", "Entry"})

	length, err := exchange.IntervalDuration(cfg.Strategy.Interval)
	if err != nil {
		fmt.Printf("Bad interval: %v\n", err)
		os.Exit(1)
	}

	// the live engine evaluates the gate when the bar completes
	calFlag := domain.FlagOpen
	triggers, entries := 0, 0
	for i := range history {
		b := history[i]
		calFlag = gate.Update(b.Time.Add(length), calFlag)
		if i < 1 {
			continue
		}

		trigger, err := detector.IsTriggerPattern(history[:i+1])
		if err != nil {
			continue
		}
		// replayed as if flat on every bar
		entry := usecase.EntryAllowed(rule, trigger, true, calFlag)
		if trigger {
			triggers++
		}
		if entry {
			entries++
		}
		if !trigger && !entry && !*all {
			continue
		}
		t.AppendRow(table.Row{
			b.Time.In(cfg.Location()).Format("2006-01-02 15:04"),
			b.Time.Add(length).In(cfg.Location()).Weekday().String()[:3],
			b.High, b.Low, b.Close,
			calFlag, trigger, entry,
		})
	}

	t.AppendFooter(table.Row{"", "", "", "", "", "Total", triggers, entries})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()
}
