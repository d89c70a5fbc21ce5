package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrPriceUnavailable is returned when the quote source is unreachable or
// does not know the requested symbol. Callers treat it as a soft failure:
// payment detection proceeds without fiat enrichment.
var ErrPriceUnavailable = errors.New("price unavailable")

// Oracle fetches the current USD price for a currency symbol.
type Oracle interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// coinIDs maps currency symbols to CoinGecko asset identifiers.
var coinIDs = map[string]string{
	"btc":   "bitcoin",
	"eth":   "ethereum",
	"ltc":   "litecoin",
	"bnb":   "binancecoin",
	"sol":   "solana",
	"matic": "matic-network",
	"ton":   "the-open-network",
	"doge":  "dogecoin",
}

// DefaultBaseURL is the public CoinGecko API endpoint.
const DefaultBaseURL = "https://api.coingecko.com"

// CoinGeckoClient fetches spot prices from the CoinGecko simple/price API.
type CoinGeckoClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCoinGeckoClient creates a CoinGecko-backed Oracle. A nil httpClient gets
// a 10s-timeout default; a nil logger discards output.
func NewCoinGeckoClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &CoinGeckoClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetPrice returns the current USD price for the given symbol.
func (c *CoinGeckoClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	id, ok := coinIDs[strings.ToLower(symbol)]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported symbol %q", ErrPriceUnavailable, symbol)
	}

	params := url.Values{}
	params.Set("ids", id)
	params.Set("vs_currencies", "usd")
	u := fmt.Sprintf("%s/api/v3/simple/price?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.WarnContext(ctx, "price API returned non-200",
			"symbol", symbol,
			"status", resp.StatusCode,
			"body", string(body),
		)
		return 0, fmt.Errorf("%w: status %d", ErrPriceUnavailable, resp.StatusCode)
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrPriceUnavailable, err)
	}

	quote, ok := payload[id]
	if !ok {
		return 0, fmt.Errorf("%w: no data for %q in response", ErrPriceUnavailable, symbol)
	}
	usd, ok := quote["usd"]
	if !ok {
		return 0, fmt.Errorf("%w: no usd quote for %q", ErrPriceUnavailable, symbol)
	}

	c.logger.DebugContext(ctx, "fetched price", "symbol", symbol, "usd", usd)
	return usd, nil
}
