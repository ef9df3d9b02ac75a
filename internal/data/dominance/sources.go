package dominance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smcscan/smcscan/internal/data/exchange"
)

// stableSymbols are the coins counted toward stablecoin dominance, lowercase
// to match CoinGecko's percentage keys.
var stableSymbols = map[string]bool{
	"usdt":  true,
	"usdc":  true,
	"usds":  true,
	"usde":  true,
	"dai":   true,
	"fdusd": true,
	"tusd":  true,
	"busd":  true,
	"pyusd": true,
}

type coinGecko struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newCoinGecko(apiKey string) *coinGecko {
	return &coinGecko{
		baseURL: "https://api.coingecko.com/api/v3",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *coinGecko) Name() string { return "coingecko" }

// Fetch reads /global. market_cap_percentage carries per-coin dominance for
// the top ten coins; total_market_cap the aggregate cap by fiat.
func (c *coinGecko) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/global", nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build coingecko request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	body, err := doJSON(c.client, req, "coingecko")
	if err != nil {
		return Snapshot{}, err
	}

	var payload struct {
		Data struct {
			TotalMarketCap      map[string]float64 `json:"total_market_cap"`
			MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
			UpdatedAt           int64              `json:"updated_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Snapshot{}, fmt.Errorf("parse coingecko response: %w", err)
	}

	total := payload.Data.TotalMarketCap["usd"]
	btcDom := payload.Data.MarketCapPercentage["btc"]
	if total <= 0 || btcDom <= 0 {
		return Snapshot{}, fmt.Errorf("coingecko global data incomplete")
	}
	var stableDom float64
	for sym, pct := range payload.Data.MarketCapPercentage {
		if stableSymbols[sym] {
			stableDom += pct
		}
	}

	ts := time.Now().UTC()
	if payload.Data.UpdatedAt > 0 {
		ts = time.Unix(payload.Data.UpdatedAt, 0).UTC()
	}
	return fromCaps(ts, total, total*btcDom/100, total*stableDom/100), nil
}

type cryptoCompare struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newCryptoCompare(apiKey string) *cryptoCompare {
	return &cryptoCompare{
		baseURL: "https://min-api.cryptocompare.com",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *cryptoCompare) Name() string { return "cryptocompare" }

// Fetch aggregates /data/top/mktcapfull. CryptoCompare has no global
// dominance endpoint, so percentages are computed over the top-100 caps.
func (c *cryptoCompare) Fetch(ctx context.Context) (Snapshot, error) {
	u := c.baseURL + "/data/top/mktcapfull?limit=100&tsym=USD"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build cryptocompare request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Apikey "+c.apiKey)
	}

	body, err := doJSON(c.client, req, "cryptocompare")
	if err != nil {
		return Snapshot{}, err
	}

	var payload struct {
		Response string `json:"Response"`
		Message  string `json:"Message"`
		Data     []struct {
			CoinInfo struct {
				Name string `json:"Name"`
			} `json:"CoinInfo"`
			Raw struct {
				USD struct {
					MktCap float64 `json:"MKTCAP"`
				} `json:"USD"`
			} `json:"RAW"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Snapshot{}, fmt.Errorf("parse cryptocompare response: %w", err)
	}
	if payload.Response == "Error" {
		return Snapshot{}, fmt.Errorf("cryptocompare api error: %s", payload.Message)
	}

	var total, btcCap, stableCap float64
	for _, row := range payload.Data {
		mcap := row.Raw.USD.MktCap
		if mcap <= 0 {
			continue
		}
		total += mcap
		switch {
		case row.CoinInfo.Name == "BTC":
			btcCap += mcap
		case stableSymbols[strings.ToLower(row.CoinInfo.Name)]:
			stableCap += mcap
		}
	}
	if total <= 0 || btcCap <= 0 {
		return Snapshot{}, fmt.Errorf("cryptocompare top list incomplete")
	}
	return fromCaps(time.Now().UTC(), total, btcCap, stableCap), nil
}

// doJSON runs the request and classifies transport failures the way the
// venue adapters do, so the shared retry policy can absorb them.
func doJSON(client *http.Client, req *http.Request, venue string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s status 429", exchange.ErrRateLimited, venue)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s status %d", exchange.ErrTransient, venue, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s status %d", venue, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", exchange.ErrTransient, venue, err)
	}
	return body, nil
}
