// Package bitcoin implements a chain.Adapter for UTXO chains backed by an
// Esplora-compatible block explorer API (Blockstream and its forks). The
// same adapter serves btc, ltc, and doge; only the base URL and address
// validation rules differ per chain.
package bitcoin

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/time/rate"

	"github.com/brojonat/coinwatch/service/chain"
)

const defaultTxnLimit = 25

// Adapter fetches address state from an Esplora-compatible API.
type Adapter struct {
	currency   string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	netParams  *chaincfg.Params
	txnLimit   int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithNetParams enables strict address validation against the given network.
// Without it, only a syntactic check is applied; use this for btc where
// btcutil knows the parameters.
func WithNetParams(params *chaincfg.Params) Option {
	return func(a *Adapter) { a.netParams = params }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// WithRateLimit overrides the request rate limit (requests per second).
func WithRateLimit(rps float64) Option {
	return func(a *Adapter) { a.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithTransactionLimit caps how many recent transactions one poll returns.
func WithTransactionLimit(n int) Option {
	return func(a *Adapter) { a.txnLimit = n }
}

// New creates an Esplora-backed adapter for the given currency.
func New(currency, baseURL string, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a := &Adapter{
		currency:   strings.ToLower(currency),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(2), 1),
		txnLimit:   defaultTxnLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Currency() string { return a.currency }

// addressInfo is the Esplora /address/{addr} response.
type addressInfo struct {
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
	} `json:"chain_stats"`
	MempoolStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
	} `json:"mempool_stats"`
}

// esploraTxn is one entry of the Esplora /address/{addr}/txs response.
type esploraTxn struct {
	TxID   string `json:"txid"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
		BlockTime   int64 `json:"block_time"`
	} `json:"status"`
	Vin []struct {
		Prevout struct {
			ScriptPubKeyAddress string `json:"scriptpubkey_address"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		ScriptPubKey        string `json:"scriptpubkey"`
		ScriptPubKeyType    string `json:"scriptpubkey_type"`
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"`
	} `json:"vout"`
}

func (a *Adapter) validateAddress(address string) error {
	if a.netParams != nil {
		if _, err := btcutil.DecodeAddress(address, a.netParams); err != nil {
			return chain.Fatal(fmt.Errorf("invalid %s address %q: %w", a.currency, address, err))
		}
		return nil
	}
	if address == "" || strings.ContainsAny(address, " \t\n") {
		return chain.Fatal(fmt.Errorf("invalid %s address %q", a.currency, address))
	}
	return nil
}

// GetBalance returns the confirmed address balance in satoshis.
func (a *Adapter) GetBalance(ctx context.Context, address string) (chain.Balance, error) {
	if err := a.validateAddress(address); err != nil {
		return chain.Balance{}, err
	}

	var info addressInfo
	if err := a.getJSON(ctx, "/address/"+address, &info); err != nil {
		return chain.Balance{}, err
	}
	return chain.Balance{
		Currency: a.currency,
		Amount:   info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum,
	}, nil
}

// GetTransactions returns recent transactions paying the address, newest
// first. Amounts sum every output locked to the address; an OP_RETURN
// output in the same transaction is surfaced as the memo.
func (a *Adapter) GetTransactions(ctx context.Context, address string) ([]chain.Transaction, error) {
	if err := a.validateAddress(address); err != nil {
		return nil, err
	}

	tipHeight, err := a.getTipHeight(ctx)
	if err != nil {
		return nil, err
	}

	var raw []esploraTxn
	if err := a.getJSON(ctx, "/address/"+address+"/txs", &raw); err != nil {
		return nil, err
	}
	if len(raw) > a.txnLimit {
		raw = raw[:a.txnLimit]
	}

	txns := make([]chain.Transaction, 0, len(raw))
	for _, tx := range raw {
		var received int64
		var memo *string
		for _, out := range tx.Vout {
			if out.ScriptPubKeyAddress == address {
				received += out.Value
			}
			if out.ScriptPubKeyType == "op_return" {
				if m, ok := decodeOpReturn(out.ScriptPubKey); ok {
					memo = &m
				}
			}
		}
		if received == 0 {
			// Spend or consolidation; nothing paid to the address.
			continue
		}

		var from string
		if len(tx.Vin) > 0 {
			from = tx.Vin[0].Prevout.ScriptPubKeyAddress
		}

		var confirmations int64
		var blockTime time.Time
		if tx.Status.Confirmed {
			confirmations = tipHeight - tx.Status.BlockHeight + 1
			blockTime = time.Unix(tx.Status.BlockTime, 0).UTC()
		}

		txns = append(txns, chain.Transaction{
			ID:            tx.TxID,
			FromAddress:   from,
			ToAddress:     address,
			Amount:        received,
			Memo:          memo,
			Confirmations: confirmations,
			BlockTime:     blockTime,
		})
	}
	return txns, nil
}

func (a *Adapter) getTipHeight(ctx context.Context) (int64, error) {
	body, err := a.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, chain.Transient(fmt.Errorf("malformed tip height: %w", err))
	}
	return height, nil
}

func (a *Adapter) getJSON(ctx context.Context, path string, v any) error {
	body, err := a.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return chain.Transient(fmt.Errorf("malformed response from %s: %w", path, err))
	}
	return nil
}

func (a *Adapter) get(ctx context.Context, path string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, chain.Transient(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, chain.Fatal(err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, chain.Transient(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chain.Transient(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest:
		// Esplora rejects unparseable addresses with a 400.
		return nil, chain.Fatal(fmt.Errorf("explorer rejected request: %s", strings.TrimSpace(string(body))))
	default:
		return nil, chain.Transient(fmt.Errorf("explorer returned status %d for %s", resp.StatusCode, path))
	}
}

// decodeOpReturn extracts a UTF-8 payload from an OP_RETURN scriptpubkey
// (hex encoded). Only simple single-push scripts are handled.
func decodeOpReturn(scriptHex string) (string, bool) {
	script, err := hex.DecodeString(scriptHex)
	if err != nil || len(script) < 2 || script[0] != 0x6a {
		return "", false
	}

	payload := script[1:]
	switch {
	case payload[0] <= 0x4b:
		// Direct push of up to 75 bytes.
		n := int(payload[0])
		payload = payload[1:]
		if len(payload) < n {
			return "", false
		}
		payload = payload[:n]
	case payload[0] == 0x4c && len(payload) >= 2:
		// OP_PUSHDATA1.
		n := int(payload[1])
		payload = payload[2:]
		if len(payload) < n {
			return "", false
		}
		payload = payload[:n]
	default:
		return "", false
	}

	if len(payload) == 0 || !utf8.Valid(payload) {
		return "", false
	}
	return string(payload), true
}
