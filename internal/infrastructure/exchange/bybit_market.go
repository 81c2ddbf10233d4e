package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/outside_bar_bot/internal/domain"
)

var (
	_ domain.MarketData      = (*BybitAdapter)(nil)
	_ domain.AccountProvider = (*BybitAdapter)(nil)
)

// IntervalDuration maps a Bybit kline interval ("1".."720", "D", "W") to its length.
func IntervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "D":
		return 24 * time.Hour, nil
	case "W":
		return 7 * 24 * time.Hour, nil
	}
	minutes, err := strconv.Atoi(interval)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	return time.Duration(minutes) * time.Minute, nil
}

func (b *BybitAdapter) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := b.ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return parseFloat(t.LastPrice), nil
}

type bybitTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
}

func (b *BybitAdapter) ticker(ctx context.Context, symbol string) (*bybitTicker, error) {
	var result struct {
		List []bybitTicker `json:"list"`
	}
	path := fmt.Sprintf("/v5/market/tickers?category=%s&symbol=%s", bybitCategory, symbol)
	if err := b.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("symbol not found: %s", symbol)
	}
	return &result.List[0], nil
}

// GetBars returns up to limit completed bars, oldest first. Bybit includes the bar still
// forming as the newest kline; it is dropped.
func (b *BybitAdapter) GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	length, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}

	if limit < 1 {
		return nil, fmt.Errorf("kline limit %d: must be positive", limit)
	}
	// one extra for the forming bar, within the endpoint's cap
	request := min(limit+1, maxKlineLimit)

	var result struct {
		List [][]string `json:"list"`
	}
	path := fmt.Sprintf("/v5/market/kline?category=%s&symbol=%s&interval=%s&limit=%d", bybitCategory, symbol, interval, request)
	if err := b.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}

	now := b.now()
	bars := make([]domain.Bar, 0, len(result.List))
	for _, raw := range result.List {
		// Format: [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		startMs, _ := strconv.ParseInt(raw[0], 10, 64)
		start := time.UnixMilli(startMs).UTC()
		if start.Add(length).After(now) {
			continue
		}
		bars = append(bars, domain.Bar{
			Time:   start,
			Open:   parseFloat(raw[1]),
			High:   parseFloat(raw[2]),
			Low:    parseFloat(raw[3]),
			Close:  parseFloat(raw[4]),
			Volume: parseFloat(raw[5]),
		})
	}

	// Bybit returns newest first
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (b *BybitAdapter) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			TotalWalletBalance string `json:"totalWalletBalance"`
		} `json:"list"`
	}
	if err := b.call(ctx, http.MethodGet, "/v5/account/wallet-balance?accountType=UNIFIED", nil, &result); err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("empty wallet balance")
	}
	return decimal.NewFromString(result.List[0].TotalWalletBalance)
}

// GetInstrument maps Bybit's price and lot filters onto the sizer's vocabulary. A pip is
// one tick, one unit of quantity moves one tick per pip, and the lot is expressed so the
// sizing truncation factor (lot × pip value × 100) equals the quantity step.
func (b *BybitAdapter) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
				QtyStep     string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	path := fmt.Sprintf("/v5/market/instruments-info?category=%s&symbol=%s", bybitCategory, symbol)
	if err := b.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("instrument not found: %s", symbol)
	}
	info := result.List[0]

	tick, err := decimal.NewFromString(info.PriceFilter.TickSize)
	if err != nil || !tick.IsPositive() {
		return nil, fmt.Errorf("bad tick size %q for %s", info.PriceFilter.TickSize, symbol)
	}
	step, err := decimal.NewFromString(info.LotSizeFilter.QtyStep)
	if err != nil || !step.IsPositive() {
		return nil, fmt.Errorf("bad qty step %q for %s", info.LotSizeFilter.QtyStep, symbol)
	}
	minQty, _ := decimal.NewFromString(info.LotSizeFilter.MinOrderQty)

	inst := &domain.Instrument{
		Symbol:     symbol,
		TickSize:   tick,
		PipSize:    tick,
		PipValue:   tick,
		LotSize:    step.Div(tick.Mul(decimal.NewFromInt(100))),
		VolumeStep: step,
		MinVolume:  minQty,
		Digits:     decimalPlaces(info.PriceFilter.TickSize),
	}

	t, err := b.ticker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	bid, errBid := decimal.NewFromString(t.Bid1Price)
	ask, errAsk := decimal.NewFromString(t.Ask1Price)
	if errBid == nil && errAsk == nil {
		inst.Spread = ask.Sub(bid)
	}
	return inst, nil
}

// decimalPlaces counts significant digits after the point: "0.010" -> 2.
func decimalPlaces(s string) int32 {
	idx := strings.IndexByte(s, '.')
	if idx == -1 {
		return 0
	}
	return int32(len(strings.TrimRight(s[idx+1:], "0")))
}
