// Package ton implements a chain.Adapter backed by the public TONCenter API.
package ton

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/brojonat/coinwatch/service/chain"
)

// DefaultBaseURL is the public TONCenter endpoint.
const DefaultBaseURL = "https://toncenter.com"

// defaultTxnLimit is how many recent transactions one poll fetches.
// TONCenter caps a single request at 256.
const defaultTxnLimit = 20

// Adapter fetches TON wallet state from TONCenter. The public endpoint is
// aggressively rate limited, so all calls go through a shared limiter.
type Adapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	txnLimit   int
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithAPIKey sets the TONCenter API key header, which raises the rate limit.
func WithAPIKey(key string) Option {
	return func(a *Adapter) { a.apiKey = key }
}

// WithTransactionLimit overrides how many transactions one poll fetches.
func WithTransactionLimit(limit int) Option {
	return func(a *Adapter) { a.txnLimit = limit }
}

// WithRateLimit overrides the requests-per-second budget.
func WithRateLimit(rps float64) Option {
	return func(a *Adapter) { a.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// New creates a TONCenter-backed adapter. A nil httpClient gets a
// 15s-timeout default; a nil logger discards output.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a := &Adapter{
		baseURL:    baseURL,
		httpClient: httpClient,
		// The anonymous tier allows roughly one request per second.
		limiter:  rate.NewLimiter(rate.Limit(1), 1),
		logger:   logger,
		txnLimit: defaultTxnLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Currency returns "ton".
func (a *Adapter) Currency() string { return "ton" }

// GetBalance returns the wallet balance in nanotons.
func (a *Adapter) GetBalance(ctx context.Context, address string) (chain.Balance, error) {
	params := url.Values{}
	params.Set("address", address)
	u := fmt.Sprintf("%s/api/v2/getWalletInformation?%s", a.baseURL, params.Encode())

	var payload walletInformationResponse
	if err := a.getJSON(ctx, u, &payload); err != nil {
		return chain.Balance{}, err
	}
	if !payload.OK {
		// v2 reports bad addresses through the envelope, not the HTTP status.
		return chain.Balance{}, chain.Fatal(fmt.Errorf("toncenter: %s", payload.Error))
	}

	balance, err := strconv.ParseInt(payload.Result.Balance, 10, 64)
	if err != nil {
		return chain.Balance{}, chain.Transient(fmt.Errorf("toncenter: parse balance %q: %w", payload.Result.Balance, err))
	}
	return chain.Balance{Currency: "ton", Amount: balance}, nil
}

// GetTransactions returns recent inbound transfers for the address, newest
// first. Failed transactions are reported with zero confirmations so the
// default confirmation policy filters them out; successful ones are final on
// TON and reported with one confirmation.
func (a *Adapter) GetTransactions(ctx context.Context, address string) ([]chain.Transaction, error) {
	params := url.Values{}
	params.Set("account", address)
	params.Set("limit", strconv.Itoa(a.txnLimit))
	params.Set("offset", "0")
	u := fmt.Sprintf("%s/api/v3/transactions?%s", a.baseURL, params.Encode())

	var payload transactionsResponse
	if err := a.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}

	friendly := func(raw string) string {
		if entry, ok := payload.AddressBook[raw]; ok && entry.UserFriendly != "" {
			return entry.UserFriendly
		}
		return raw
	}

	txns := make([]chain.Transaction, 0, len(payload.Transactions))
	for _, tx := range payload.Transactions {
		if tx.InMsg == nil || tx.InMsg.Value == "" {
			// Outbound or internal bookkeeping message; not a payment in.
			continue
		}
		amount, err := strconv.ParseInt(tx.InMsg.Value, 10, 64)
		if err != nil {
			a.logger.WarnContext(ctx, "skipping transaction with unparseable value",
				"hash", tx.Hash,
				"value", tx.InMsg.Value,
			)
			continue
		}

		var memo *string
		if decoded := tx.InMsg.MessageContent.Decoded; decoded != nil && decoded.Comment != "" {
			comment := decoded.Comment
			memo = &comment
		}

		toAddress := address
		if tx.InMsg.Destination != "" {
			toAddress = friendly(tx.InMsg.Destination)
			// The API answers for the queried account; keep the caller's
			// spelling so address matching stays exact.
			if toAddress != address && tx.InMsg.Destination != address {
				toAddress = address
			}
		}

		confirmations := int64(0)
		if tx.Description.ComputePh.Success {
			confirmations = 1
		}

		txns = append(txns, chain.Transaction{
			ID:            tx.Hash,
			FromAddress:   friendly(tx.InMsg.Source),
			ToAddress:     toAddress,
			Amount:        amount,
			Memo:          memo,
			Confirmations: confirmations,
			BlockTime:     time.Unix(tx.Now, 0).UTC(),
		})
	}
	return txns, nil
}

// getJSON performs a rate-limited GET and decodes the JSON body, classifying
// failures transient or fatal per the HTTP status.
func (a *Adapter) getJSON(ctx context.Context, u string, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return chain.Transient(err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return chain.Fatal(err)
	}
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return chain.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		body, _ := io.ReadAll(resp.Body)
		return chain.Fatal(fmt.Errorf("toncenter: status %d: %s", resp.StatusCode, string(body)))
	default:
		return chain.Transient(fmt.Errorf("toncenter: status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return chain.Transient(fmt.Errorf("toncenter: decode: %w", err))
	}
	return nil
}
