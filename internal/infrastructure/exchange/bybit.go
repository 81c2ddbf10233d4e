package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"

	bybitCategory   = "linear"
	bybitRecvWindow = 5000
	maxKlineLimit   = 1000
)

type BybitConfig struct {
	APIKey            string
	APISecret         string
	BaseURL           string
	WSURL             string
	RequestsPerSecond float64
}

// BybitAdapter implements MarketData, Execution and AccountProvider on Bybit V5 linear
// contracts. Bybit one-way mode holds a single position per symbol, so labels are bound
// to symbols with BindLabel.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
	now       func() time.Time

	mu              sync.Mutex
	wsConn          *websocket.Conn
	quoteCallbacks  []func(symbol string, bid, ask float64)
	barCallbacks    []func(symbol string, closedAt time.Time)
	closedCallbacks []func(domain.PositionClosed)
	labels          map[string]string           // label -> symbol
	tracked         map[string]*domain.Position // label -> last seen open position
	lastConfirmed   map[string]int64            // symbol -> start of last confirmed kline
}

func NewBybitAdapter(cfg BybitConfig, logger *zap.Logger) *BybitAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BybitBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = BybitWSURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}

	st := gobreaker.Settings{
		Name:    "bybit-orders",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &BybitAdapter{
		apiKey:        cfg.APIKey,
		apiSecret:     cfg.APISecret,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		wsURL:         cfg.WSURL,
		client:        &http.Client{Timeout: 10 * time.Second},
		limiter:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker:       gobreaker.NewCircuitBreaker(st),
		logger:        logger,
		now:           time.Now,
		labels:        make(map[string]string),
		tracked:       make(map[string]*domain.Position),
		lastConfirmed: make(map[string]int64),
	}
}

// BindLabel routes a position label to the symbol it trades.
func (b *BybitAdapter) BindLabel(label, symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.labels[label] = symbol
}

func (b *BybitAdapter) symbolFor(label string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.labels[label]
	return s, ok
}

// --- REST API ---

type bybitResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	timestamp := b.now().UnixMilli()

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == http.MethodGet {
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	// market endpoints are public, paper mode runs without keys
	if b.apiKey != "" {
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
		req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp, bybitRecvWindow))
		req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(bybitRecvWindow))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(respBody))
	}

	return respBody, nil
}

// call sends a request and decodes result into out when retCode is 0.
func (b *BybitAdapter) call(ctx context.Context, method, path string, payload map[string]interface{}, out interface{}) error {
	raw, err := b.sendRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}

	var resp bybitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("bybit %s error %d: %s", path, resp.RetCode, resp.RetMsg)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// callGuarded routes order traffic through the circuit breaker.
func (b *BybitAdapter) callGuarded(ctx context.Context, path string, payload map[string]interface{}, out interface{}) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.call(ctx, http.MethodPost, path, payload, out)
	})
	return err
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
