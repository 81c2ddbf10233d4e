package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"go.uber.org/zap"
)

type fakeBybit struct {
	mu          sync.Mutex
	orders      []map[string]interface{}
	orderRetMsg string
	position    string
	klineLimits []string
}

func (f *fakeBybit) handler(t *testing.T) http.Handler {
	write := func(w http.ResponseWriter, result string) {
		_, _ = io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":`+result+`}`)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/kline", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.klineLimits = append(f.klineLimits, r.URL.Query().Get("limit"))
		f.mu.Unlock()
		write(w, `{"list":[
			["1709553600000","104","106","103","105","10","0"],
			["1709550000000","101","104","100","103","10","0"],
			["1709546400000","100","102","99","101","10","0"],
			["1709542800000","98","100","97","99","10","0"]
		]}`)
	})
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		write(w, `{"list":[{"symbol":"BTCUSDT","lastPrice":"100.1","bid1Price":"100.0","ask1Price":"100.2"}]}`)
	})
	mux.HandleFunc("/v5/market/instruments-info", func(w http.ResponseWriter, r *http.Request) {
		write(w, `{"list":[{"symbol":"BTCUSDT","priceFilter":{"tickSize":"0.10"},"lotSizeFilter":{"minOrderQty":"0.001","qtyStep":"0.001"}}]}`)
	})
	mux.HandleFunc("/v5/account/wallet-balance", func(w http.ResponseWriter, r *http.Request) {
		write(w, `{"list":[{"totalWalletBalance":"1234.5"}]}`)
	})
	mux.HandleFunc("/v5/position/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		write(w, `{"list":[`+f.position+`]}`)
	})
	mux.HandleFunc("/v5/position/closed-pnl", func(w http.ResponseWriter, r *http.Request) {
		write(w, `{"list":[{"qty":"0.5","avgEntryPrice":"100","avgExitPrice":"110","closedPnl":"5","updatedTime":"1709553600000"}]}`)
	})
	mux.HandleFunc("/v5/order/create", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		defer f.mu.Unlock()
		f.orders = append(f.orders, body)
		if f.orderRetMsg != "" {
			_, _ = io.WriteString(w, `{"retCode":10001,"retMsg":"`+f.orderRetMsg+`","result":{}}`)
			return
		}
		write(w, `{"orderId":"ord-1","orderLinkId":"`+body["orderLinkId"].(string)+`"}`)
	})
	return mux
}

func newTestAdapter(t *testing.T, f *fakeBybit) *BybitAdapter {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	b := NewBybitAdapter(BybitConfig{
		APIKey:            "key",
		APISecret:         "secret",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
	}, zap.NewNop())
	// 2024-03-04 12:30 UTC, the 12:00 hourly bar is still forming
	b.now = func() time.Time { return time.Date(2024, 3, 4, 12, 30, 0, 0, time.UTC) }
	return b
}

func TestBybitAdapter_GetBars_DropsFormingBar(t *testing.T) {
	f := &fakeBybit{}
	b := newTestAdapter(t, f)

	bars, err := b.GetBars(context.Background(), "BTCUSDT", "60", 3)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	// one extra kline for the forming bar
	assert.Equal(t, []string{"4"}, f.klineLimits)

	// oldest first, the 12:00 bar excluded
	assert.Equal(t, time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC), bars[2].Time)
	assert.Equal(t, 104.0, bars[2].High)
	assert.Equal(t, 100.0, bars[2].Low)
	assert.Equal(t, 103.0, bars[2].Close)
}

func TestBybitAdapter_GetBars_CapsKlineLimit(t *testing.T) {
	f := &fakeBybit{}
	b := newTestAdapter(t, f)

	bars, err := b.GetBars(context.Background(), "BTCUSDT", "60", 1000)
	require.NoError(t, err)
	assert.Len(t, bars, 3)

	_, err = b.GetBars(context.Background(), "BTCUSDT", "60", 5000)
	require.NoError(t, err)
	assert.Equal(t, []string{"1000", "1000"}, f.klineLimits)

	_, err = b.GetBars(context.Background(), "BTCUSDT", "60", 0)
	assert.Error(t, err)
}

func TestBybitAdapter_GetInstrument(t *testing.T) {
	b := newTestAdapter(t, &fakeBybit{})

	inst, err := b.GetInstrument(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.True(t, inst.TickSize.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, inst.VolumeStep.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, inst.MinVolume.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, inst.Spread.Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, int32(1), inst.Digits)

	// lot × pip value × 100 equals the quantity step
	factor := inst.LotSize.Mul(inst.PipValue).Mul(decimal.NewFromInt(100))
	assert.True(t, factor.Equal(inst.VolumeStep), "factor %s", factor)
}

func TestBybitAdapter_GetBalance(t *testing.T) {
	b := newTestAdapter(t, &fakeBybit{})

	balance, err := b.GetBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("1234.5")))
}

func TestBybitAdapter_SubmitMarketOrder(t *testing.T) {
	f := &fakeBybit{}
	b := newTestAdapter(t, f)

	order, err := b.SubmitMarketOrder(context.Background(), "BTCUSDT", "OUTSIDE_BAR", domain.PositionIntent{
		Direction:      domain.SideLong,
		Size:           decimal.RequireFromString("0.5"),
		StopLossPips:   decimal.NewFromInt(10),
		TakeProfitPips: decimal.NewFromInt(20),
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, 0.5, order.Size)

	require.Len(t, f.orders, 1)
	sent := f.orders[0]
	assert.Equal(t, "Buy", sent["side"])
	assert.Equal(t, "0.5", sent["qty"])
	assert.Equal(t, "99.1", sent["stopLoss"])
	assert.Equal(t, "102.1", sent["takeProfit"])
	assert.LessOrEqual(t, len(sent["orderLinkId"].(string)), 36)

	symbol, ok := b.symbolFor("OUTSIDE_BAR")
	assert.True(t, ok)
	assert.Equal(t, "BTCUSDT", symbol)
}

func TestBybitAdapter_FindAndClosePosition(t *testing.T) {
	f := &fakeBybit{}
	b := newTestAdapter(t, f)
	ctx := context.Background()

	pos, err := b.FindPosition(ctx, "UNKNOWN")
	require.NoError(t, err)
	assert.Nil(t, pos)

	err = b.ClosePosition(ctx, "UNKNOWN")
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)

	b.BindLabel("OUTSIDE_BAR", "BTCUSDT")
	pos, err = b.FindPosition(ctx, "OUTSIDE_BAR")
	require.NoError(t, err)
	assert.Nil(t, pos, "flat symbol has no position")

	f.position = `{"symbol":"BTCUSDT","side":"Buy","size":"0.5","avgPrice":"100","markPrice":"104","unrealisedPnl":"2","stopLoss":"99","takeProfit":"110"}`
	pos, err = b.FindPosition(ctx, "OUTSIDE_BAR")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, "OUTSIDE_BAR", pos.Label)
	assert.Equal(t, domain.SideLong, pos.Side)
	assert.Equal(t, 2.0, pos.GrossProfit)

	require.NoError(t, b.ClosePosition(ctx, "OUTSIDE_BAR"))
	require.Len(t, f.orders, 1)
	assert.Equal(t, "Sell", f.orders[0]["side"])
	assert.Equal(t, true, f.orders[0]["reduceOnly"])
}

func TestBybitAdapter_WatchPositionsFiresClose(t *testing.T) {
	f := &fakeBybit{
		position: `{"symbol":"BTCUSDT","side":"Buy","size":"0.5","avgPrice":"100","markPrice":"104","unrealisedPnl":"2"}`,
	}
	b := newTestAdapter(t, f)
	ctx := context.Background()

	var got []domain.PositionClosed
	b.OnPositionClosed(func(c domain.PositionClosed) { got = append(got, c) })

	b.BindLabel("OUTSIDE_BAR", "BTCUSDT")
	_, err := b.FindPosition(ctx, "OUTSIDE_BAR")
	require.NoError(t, err)

	b.checkTracked(ctx)
	assert.Empty(t, got, "position still open")

	f.mu.Lock()
	f.position = ""
	f.mu.Unlock()

	b.checkTracked(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "OUTSIDE_BAR", got[0].Label)
	assert.Equal(t, 5.0, got[0].GrossProfit)
	assert.Equal(t, 110.0, got[0].ExitPrice)

	b.checkTracked(ctx)
	assert.Len(t, got, 1, "close reported once")
}

func TestBybitAdapter_BreakerOpensOnRepeatedOrderFailures(t *testing.T) {
	f := &fakeBybit{orderRetMsg: "insufficient balance"}
	b := newTestAdapter(t, f)
	b.BindLabel("OUTSIDE_BAR", "BTCUSDT")
	intent := domain.PositionIntent{Direction: domain.SideLong, Size: decimal.NewFromInt(1)}

	for i := 0; i < 3; i++ {
		_, err := b.SubmitMarketOrder(context.Background(), "BTCUSDT", "OUTSIDE_BAR", intent)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insufficient balance")
	}

	_, err := b.SubmitMarketOrder(context.Background(), "BTCUSDT", "OUTSIDE_BAR", intent)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, f.orders, 3)
}

func TestBybitAdapter_HandleMessage(t *testing.T) {
	b := NewBybitAdapter(BybitConfig{}, zap.NewNop())

	var closes []time.Time
	var quotes [][2]float64
	b.OnBarClosed(func(symbol string, closedAt time.Time) {
		assert.Equal(t, "BTCUSDT", symbol)
		closes = append(closes, closedAt)
	})
	b.OnQuoteUpdate(func(symbol string, bid, ask float64) {
		quotes = append(quotes, [2]float64{bid, ask})
	})

	forming := `{"topic":"kline.60.BTCUSDT","data":[{"start":1709550000000,"confirm":false,"timestamp":1709552000000}]}`
	confirmed := `{"topic":"kline.60.BTCUSDT","data":[{"start":1709550000000,"confirm":true,"timestamp":1709553600000}]}`
	b.handleMessage([]byte(forming))
	b.handleMessage([]byte(confirmed))
	b.handleMessage([]byte(confirmed))

	require.Len(t, closes, 1)
	assert.Equal(t, time.UnixMilli(1709553600000).UTC(), closes[0])

	b.handleMessage([]byte(`{"topic":"orderbook.1.BTCUSDT","data":{"s":"BTCUSDT","b":[["100.0","1"]],"a":[["100.2","2"]]}}`))
	b.handleMessage([]byte(`{"topic":"orderbook.1.BTCUSDT","data":{"s":"BTCUSDT","b":[],"a":[["100.3","2"]]}}`))
	b.handleMessage([]byte(`not json`))

	require.Len(t, quotes, 1)
	assert.Equal(t, [2]float64{100.0, 100.2}, quotes[0])
}

func TestIntervalDuration(t *testing.T) {
	d, err := IntervalDuration("15")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	d, err = IntervalDuration("D")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	_, err = IntervalDuration("0")
	assert.Error(t, err)
	_, err = IntervalDuration("X")
	assert.Error(t, err)
}
