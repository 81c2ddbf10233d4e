package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/vitos/outside_bar_bot/internal/config"
	"github.com/vitos/outside_bar_bot/internal/infrastructure/exchange"
	"github.com/vitos/outside_bar_bot/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	symbol := cfg.Strategy.Symbol
	label := cfg.Strategy.PositionLabel
	adapter := exchange.NewBybitAdapter(exchange.BybitConfig{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		BaseURL:   cfg.Exchange.RESTEndpoint,
		WSURL:     cfg.Exchange.WSEndpoint,
	}, zap.NewNop())
	adapter.BindLabel(label, symbol)
	ctx := context.Background()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("EXCHANGE CHECK " + symbol)
	t.SetStyle(table.StyleRounded)

	// 1. Public endpoints
	price, err := adapter.GetCurrentPrice(ctx, symbol)
	t.AppendRow(table.Row{"Last Price", result(fmt.Sprintf("%f", price), err)})

	inst, err := adapter.GetInstrument(ctx, symbol)
	if err != nil {
		t.AppendRow(table.Row{"Instrument", result("", err)})
	} else {
		t.AppendRows([]table.Row{
			{"Tick Size", inst.TickSize.String()},
			{"Digits", inst.Digits},
			{"Volume Step", inst.VolumeStep.String()},
			{"Min Volume", inst.MinVolume.String()},
			{"Spread", inst.Spread.String()},
			{"Spread OK", usecase.SpreadAcceptable(*inst, cfg.EngineConfig().MaxAllowedSpread)},
		})
	}
	t.AppendSeparator()

	// 2. Private endpoints
	if cfg.Exchange.APIKey == "" {
		t.AppendRow(table.Row{"Account", "skipped, no API key"})
	} else {
		balance, err := adapter.GetBalance(ctx)
		t.AppendRow(table.Row{"Balance", result(balance.String(), err)})

		pos, err := adapter.FindPosition(ctx, label)
		switch {
		case err != nil:
			t.AppendRow(table.Row{"Position " + label, result("", err)})
		case pos == nil:
			t.AppendRow(table.Row{"Position " + label, "flat"})
		default:
			t.AppendRow(table.Row{"Position " + label, fmt.Sprintf("%s %.4f @ %.4f, PnL %.4f",
				pos.Side, pos.Size, pos.EntryPrice, pos.GrossProfit)})
		}
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, Align: text.AlignLeft},
	})
	t.Render()
}

func result(value string, err error) string {
	if err != nil {
		return "❌ " + err.Error()
	}
	return "✅ " + value
}
