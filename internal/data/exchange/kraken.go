package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// krakenIntervals maps timeframe codes onto Kraken's minute-based interval
// parameter. Codes missing here are not served by the venue.
var krakenIntervals = map[ohlcv.Timeframe]int{
	ohlcv.TF1m:  1,
	ohlcv.TF5m:  5,
	ohlcv.TF15m: 15,
	ohlcv.TF30m: 30,
	ohlcv.TF1h:  60,
	ohlcv.TF4h:  240,
	ohlcv.TF1d:  1440,
	ohlcv.TF1w:  10080,
}

// KrakenAdapter talks to Kraken's public REST and websocket APIs.
type KrakenAdapter struct {
	name       string
	baseURL    string
	wsURL      string
	httpClient *http.Client
}

// NewKrakenAdapter builds the adapter with a 10s request deadline.
func NewKrakenAdapter() *KrakenAdapter {
	return NewKrakenAdapterAt("", "")
}

// NewKrakenAdapterAt points the adapter at alternate REST and websocket
// endpoints. Empty arguments keep the public ones.
func NewKrakenAdapterAt(baseURL, wsURL string) *KrakenAdapter {
	if baseURL == "" {
		baseURL = "https://api.kraken.com"
	}
	if wsURL == "" {
		wsURL = "wss://ws.kraken.com"
	}
	return &KrakenAdapter{
		name:       "kraken",
		baseURL:    strings.TrimRight(baseURL, "/"),
		wsURL:      wsURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *KrakenAdapter) Name() string { return a.name }

// NormalizeSymbol converts "BTC/USDT" into Kraken pair notation (XBT for BTC,
// separator stripped).
func (a *KrakenAdapter) NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
	if strings.HasPrefix(s, "BTC") {
		s = "XBT" + s[3:]
	}
	return s
}

type krakenEnvelope struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

func (a *KrakenAdapter) get(ctx context.Context, path string, params url.Values) (map[string]json.RawMessage, error) {
	u := a.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build kraken request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: kraken status 429", ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: kraken status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("kraken status %d for %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read kraken response: %v", ErrTransient, err)
	}

	var env krakenEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse kraken response: %w", err)
	}
	if len(env.Error) > 0 {
		msg := strings.Join(env.Error, "; ")
		if strings.Contains(msg, "Rate limit") || strings.Contains(msg, "Too many requests") {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, msg)
		}
		if strings.Contains(msg, "Unknown asset pair") {
			return nil, fmt.Errorf("%w: %s", ErrSymbolUnknown, msg)
		}
		return nil, fmt.Errorf("kraken api error: %s", msg)
	}
	return env.Result, nil
}

// FetchOHLCV pulls closed candles from /0/public/OHLC. Kraken returns up to
// 720 bars per call; the trailing, still-open candle is dropped.
func (a *KrakenAdapter) FetchOHLCV(ctx context.Context, symbol string, tf ohlcv.Timeframe, limit int, since *time.Time) ([]ohlcv.Bar, error) {
	interval, ok := krakenIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("kraken does not serve timeframe %s", tf)
	}

	params := url.Values{}
	params.Set("pair", a.NormalizeSymbol(symbol))
	params.Set("interval", strconv.Itoa(interval))
	if since != nil {
		params.Set("since", strconv.FormatInt(since.Unix(), 10))
	}

	result, err := a.get(ctx, "/0/public/OHLC", params)
	if err != nil {
		return nil, err
	}

	var bars []ohlcv.Bar
	for key, raw := range result {
		if key == "last" {
			continue
		}
		var rows [][]interface{}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("parse kraken ohlc rows: %w", err)
		}
		for _, row := range rows {
			if len(row) < 7 {
				continue
			}
			bars = append(bars, ohlcv.Bar{
				Timestamp: time.Unix(int64(asFloat(row[0])), 0).UTC(),
				Open:      asStringFloat(row[1]),
				High:      asStringFloat(row[2]),
				Low:       asStringFloat(row[3]),
				Close:     asStringFloat(row[4]),
				Volume:    asStringFloat(row[6]),
			})
		}
		break // single pair per request
	}

	// The last row is the currently forming candle.
	if len(bars) > 0 {
		bars = bars[:len(bars)-1]
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}

	log.Debug().Str("venue", a.name).Str("symbol", symbol).Str("tf", tf.String()).
		Int("bars", len(bars)).Msg("fetched kraken ohlcv")
	return bars, nil
}

// FetchTicker pulls /0/public/Ticker for one pair.
func (a *KrakenAdapter) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	params := url.Values{}
	params.Set("pair", a.NormalizeSymbol(symbol))

	result, err := a.get(ctx, "/0/public/Ticker", params)
	if err != nil {
		return Ticker{}, err
	}

	for key, raw := range result {
		if key == "last" {
			continue
		}
		var t struct {
			C []string `json:"c"` // last trade [price, lot volume]
			B []string `json:"b"` // best bid [price, whole lot volume, lot volume]
			A []string `json:"a"` // best ask
			V []string `json:"v"` // volume [today, last 24h]
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return Ticker{}, fmt.Errorf("parse kraken ticker: %w", err)
		}
		tk := Ticker{Symbol: symbol, Timestamp: time.Now().UTC()}
		if len(t.C) > 0 {
			tk.Last, _ = strconv.ParseFloat(t.C[0], 64)
		}
		if len(t.B) > 0 {
			tk.Bid, _ = strconv.ParseFloat(t.B[0], 64)
		}
		if len(t.A) > 0 {
			tk.Ask, _ = strconv.ParseFloat(t.A[0], 64)
		}
		if len(t.V) > 1 {
			tk.Volume24h, _ = strconv.ParseFloat(t.V[1], 64)
		}
		return tk, nil
	}
	return Ticker{}, fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
}

// ListTopSymbols lists USD(T) spot pairs from /0/public/AssetPairs. Kraken's
// public API has no volume ranking endpoint, so ordering is alphabetical.
func (a *KrakenAdapter) ListTopSymbols(ctx context.Context, n int, quote string) ([]string, error) {
	result, err := a.get(ctx, "/0/public/AssetPairs", nil)
	if err != nil {
		return nil, err
	}

	quote = strings.ToUpper(quote)
	var symbols []string
	for _, raw := range result {
		var p struct {
			Wsname string `json:"wsname"`
		}
		if err := json.Unmarshal(raw, &p); err != nil || p.Wsname == "" {
			continue
		}
		name := strings.ReplaceAll(p.Wsname, "XBT", "BTC")
		if quote != "" && !strings.HasSuffix(name, "/"+quote) {
			continue
		}
		symbols = append(symbols, name)
	}
	sort.Strings(symbols)
	if n > 0 && n < len(symbols) {
		symbols = symbols[:n]
	}
	return symbols, nil
}

// IsPerpetual is false for all pairs on Kraken spot.
func (a *KrakenAdapter) IsPerpetual(symbol string) bool { return false }

// SubscribeTickers streams ticker updates over the public websocket until ctx
// is cancelled. Implements TickerFeed.
func (a *KrakenAdapter) SubscribeTickers(ctx context.Context, symbols []string, onTick func(Ticker)) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: kraken ws dial: %v", ErrTransient, err)
	}

	pairs := make([]string, len(symbols))
	for i, s := range symbols {
		pairs[i] = strings.ReplaceAll(strings.ToUpper(s), "BTC", "XBT")
	}
	sub := map[string]interface{}{
		"event":        "subscribe",
		"pair":         pairs,
		"subscription": map[string]interface{}{"name": "ticker"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("%w: kraken ws subscribe: %v", ErrTransient, err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer conn.Close()
		for {
			var msg json.RawMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					log.Warn().Str("venue", a.name).Err(err).Msg("ticker stream closed")
				}
				return
			}
			if tick, ok := a.parseTickerEvent(msg); ok {
				onTick(tick)
			}
		}
	}()

	log.Info().Str("venue", a.name).Int("pairs", len(pairs)).Msg("subscribed to ticker stream")
	return nil
}

// parseTickerEvent decodes Kraken's array-framed ticker pushes:
// [channelID, {"c":[...], ...}, "ticker", "XBT/USDT"].
func (a *KrakenAdapter) parseTickerEvent(msg json.RawMessage) (Ticker, bool) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 4 {
		return Ticker{}, false
	}
	var channel, pair string
	if err := json.Unmarshal(frame[2], &channel); err != nil || channel != "ticker" {
		return Ticker{}, false
	}
	if err := json.Unmarshal(frame[3], &pair); err != nil {
		return Ticker{}, false
	}
	var payload struct {
		C []string `json:"c"`
		B []string `json:"b"`
		A []string `json:"a"`
		V []string `json:"v"`
	}
	if err := json.Unmarshal(frame[1], &payload); err != nil || len(payload.C) == 0 {
		return Ticker{}, false
	}

	tk := Ticker{
		Symbol:    strings.ReplaceAll(pair, "XBT", "BTC"),
		Timestamp: time.Now().UTC(),
	}
	tk.Last, _ = strconv.ParseFloat(payload.C[0], 64)
	if len(payload.B) > 0 {
		tk.Bid, _ = strconv.ParseFloat(payload.B[0], 64)
	}
	if len(payload.A) > 0 {
		tk.Ask, _ = strconv.ParseFloat(payload.A[0], 64)
	}
	if len(payload.V) > 1 {
		tk.Volume24h, _ = strconv.ParseFloat(payload.V[1], 64)
	}
	return tk, true
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

func asStringFloat(v interface{}) float64 {
	s, ok := v.(string)
	if !ok {
		return asFloat(v)
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
