// Package evm implements a chain.Adapter for EVM chains (eth, bnb, matic).
// Balances come from a JSON-RPC node via go-ethereum's ethclient; transaction
// history comes from an Etherscan-compatible explorer API, since plain RPC
// nodes cannot list transactions by address.
package evm

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/brojonat/coinwatch/service/chain"
)

// NodeClient is the subset of ethclient.Client we use. Satisfied by
// *ethclient.Client and mockable in tests.
type NodeClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

const defaultTxnLimit = 25

// Adapter serves one EVM chain. Amounts are in wei (or the chain's
// equivalent smallest unit); values that exceed int64 are skipped, which
// bounds single payments at roughly 9.2e18 wei (9.2 native units).
type Adapter struct {
	currency    string
	node        NodeClient
	explorerURL string
	apiKey      string
	httpClient  *http.Client
	logger      *slog.Logger
	limiter     *rate.Limiter
	txnLimit    int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAPIKey sets the explorer API key.
func WithAPIKey(key string) Option {
	return func(a *Adapter) { a.apiKey = key }
}

// WithHTTPClient overrides the HTTP client used for explorer calls.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// WithRateLimit overrides the explorer request rate (requests per second).
func WithRateLimit(rps float64) Option {
	return func(a *Adapter) { a.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithTransactionLimit caps how many recent transactions one poll returns.
func WithTransactionLimit(n int) Option {
	return func(a *Adapter) { a.txnLimit = n }
}

// New creates an EVM adapter for the given currency symbol.
func New(currency string, node NodeClient, explorerURL string, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a := &Adapter{
		currency:    strings.ToLower(currency),
		node:        node,
		explorerURL: strings.TrimRight(explorerURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Limit(4), 1),
		txnLimit:    defaultTxnLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Currency() string { return a.currency }

// GetBalance returns the address balance in wei, clamped to int64.
func (a *Adapter) GetBalance(ctx context.Context, address string) (chain.Balance, error) {
	if !common.IsHexAddress(address) {
		return chain.Balance{}, chain.Fatal(fmt.Errorf("invalid %s address %q", a.currency, address))
	}

	wei, err := a.node.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return chain.Balance{}, chain.Transient(err)
	}

	amount := int64(math.MaxInt64)
	if wei.IsInt64() {
		amount = wei.Int64()
	} else {
		a.logger.WarnContext(ctx, "balance exceeds int64 wei, clamping",
			"currency", a.currency, "address", address)
	}
	return chain.Balance{Currency: a.currency, Amount: amount}, nil
}

// explorerResponse is the Etherscan-compatible account txlist envelope.
type explorerResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Result  []explorerTxEntry `json:"result"`
}

type explorerTxEntry struct {
	Hash          string `json:"hash"`
	From          string `json:"from"`
	To            string `json:"to"`
	Value         string `json:"value"`
	TimeStamp     string `json:"timeStamp"`
	Confirmations string `json:"confirmations"`
	IsError       string `json:"isError"`
	Input         string `json:"input"`
}

// GetTransactions returns recent inbound native transfers to the address,
// newest first. UTF-8 calldata on a plain transfer is surfaced as the memo.
func (a *Adapter) GetTransactions(ctx context.Context, address string) ([]chain.Transaction, error) {
	if !common.IsHexAddress(address) {
		return nil, chain.Fatal(fmt.Errorf("invalid %s address %q", a.currency, address))
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, chain.Transient(err)
	}

	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("page", "1")
	q.Set("offset", strconv.Itoa(a.txnLimit))
	q.Set("sort", "desc")
	if a.apiKey != "" {
		q.Set("apikey", a.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.explorerURL+"/api?"+q.Encode(), nil)
	if err != nil {
		return nil, chain.Fatal(err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, chain.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, chain.Transient(fmt.Errorf("explorer returned status %d", resp.StatusCode))
	}

	var envelope explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, chain.Transient(fmt.Errorf("malformed explorer response: %w", err))
	}
	if envelope.Status != "1" {
		// "No transactions found" arrives with status 0 and an empty result.
		if len(envelope.Result) == 0 && strings.Contains(envelope.Message, "No transactions") {
			return nil, nil
		}
		return nil, chain.Transient(fmt.Errorf("explorer error: %s", envelope.Message))
	}

	want := strings.ToLower(address)
	txns := make([]chain.Transaction, 0, len(envelope.Result))
	for _, entry := range envelope.Result {
		if entry.IsError == "1" || !strings.EqualFold(entry.To, want) {
			continue
		}

		value, ok := new(big.Int).SetString(entry.Value, 10)
		if !ok {
			continue
		}
		if !value.IsInt64() {
			a.logger.WarnContext(ctx, "skipping transfer exceeding int64 wei",
				"currency", a.currency, "hash", entry.Hash)
			continue
		}
		if value.Sign() == 0 {
			continue
		}

		confirmations, _ := strconv.ParseInt(entry.Confirmations, 10, 64)
		ts, _ := strconv.ParseInt(entry.TimeStamp, 10, 64)

		txns = append(txns, chain.Transaction{
			ID:            strings.ToLower(entry.Hash),
			FromAddress:   strings.ToLower(entry.From),
			ToAddress:     address,
			Amount:        value.Int64(),
			Memo:          decodeCalldataMemo(entry.Input),
			Confirmations: confirmations,
			BlockTime:     time.Unix(ts, 0).UTC(),
		})
	}
	return txns, nil
}

// decodeCalldataMemo interprets transaction input data as a UTF-8 memo.
// Contract calls carry ABI-encoded selectors which rarely decode to clean
// UTF-8, so this effectively only fires for deliberate text payloads.
func decodeCalldataMemo(input string) *string {
	hexData := strings.TrimPrefix(input, "0x")
	if hexData == "" {
		return nil
	}
	data, err := hex.DecodeString(hexData)
	if err != nil || len(data) == 0 || !utf8.Valid(data) {
		return nil
	}
	for _, b := range data {
		if b < 0x20 && b != '\n' && b != '\t' {
			return nil
		}
	}
	memo := string(data)
	return &memo
}
