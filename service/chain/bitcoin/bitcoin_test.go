package bitcoin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/coinwatch/service/chain"
)

// Genesis block coinbase address; always valid on mainnet.
const testAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("btc", srv.URL, nil,
		WithNetParams(&chaincfg.MainNetParams),
		WithRateLimit(1000),
	)
}

func TestGetBalance(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/address/"+testAddress, r.URL.Path)
		w.Write([]byte(`{
			"chain_stats": {"funded_txo_sum": 150000000, "spent_txo_sum": 50000000},
			"mempool_stats": {"funded_txo_sum": 0, "spent_txo_sum": 0}
		}`))
	})

	balance, err := a.GetBalance(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, "btc", balance.Currency)
	assert.Equal(t, int64(100000000), balance.Amount)
}

func TestGetBalance_InvalidAddressIsFatal(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an invalid address")
	})

	_, err := a.GetBalance(context.Background(), "definitely not bitcoin")
	require.Error(t, err)
	assert.True(t, chain.IsFatal(err))
}

func TestGetTransactions(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blocks/tip/height":
			w.Write([]byte("800010"))
		case "/address/" + testAddress + "/txs":
			w.Write([]byte(`[
				{
					"txid": "aaa111",
					"status": {"confirmed": true, "block_height": 800005, "block_time": 1767225600},
					"vin": [{"prevout": {"scriptpubkey_address": "1BitcoinEaterAddressDontSendf59kuE"}}],
					"vout": [
						{"scriptpubkey_address": "` + testAddress + `", "scriptpubkey_type": "p2pkh", "value": 250000},
						{"scriptpubkey": "6a0a696e766f6963652d3432", "scriptpubkey_type": "op_return", "value": 0}
					]
				},
				{
					"txid": "bbb222",
					"status": {"confirmed": false},
					"vin": [{"prevout": {"scriptpubkey_address": "1BitcoinEaterAddressDontSendf59kuE"}}],
					"vout": [
						{"scriptpubkey_address": "` + testAddress + `", "scriptpubkey_type": "p2pkh", "value": 99000}
					]
				},
				{
					"txid": "ccc333",
					"status": {"confirmed": true, "block_height": 800001, "block_time": 1767225000},
					"vin": [{"prevout": {"scriptpubkey_address": "` + testAddress + `"}}],
					"vout": [
						{"scriptpubkey_address": "1BitcoinEaterAddressDontSendf59kuE", "scriptpubkey_type": "p2pkh", "value": 777}
					]
				}
			]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	txns, err := a.GetTransactions(context.Background(), testAddress)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	confirmed := txns[0]
	assert.Equal(t, "aaa111", confirmed.ID)
	assert.Equal(t, "1BitcoinEaterAddressDontSendf59kuE", confirmed.FromAddress)
	assert.Equal(t, testAddress, confirmed.ToAddress)
	assert.Equal(t, int64(250000), confirmed.Amount)
	require.NotNil(t, confirmed.Memo)
	assert.Equal(t, "invoice-42", *confirmed.Memo)
	assert.Equal(t, int64(6), confirmed.Confirmations)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), confirmed.BlockTime)

	mempool := txns[1]
	assert.Equal(t, "bbb222", mempool.ID)
	assert.Equal(t, int64(0), mempool.Confirmations)
	assert.Nil(t, mempool.Memo)
	assert.True(t, mempool.BlockTime.IsZero())
}

func TestGetTransactions_ServerErrorIsTransient(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := a.GetTransactions(context.Background(), testAddress)
	require.Error(t, err)
	assert.False(t, chain.IsFatal(err))
}

func TestGetTransactions_BadRequestIsFatal(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid address", http.StatusBadRequest)
	})

	_, err := a.GetTransactions(context.Background(), testAddress)
	require.Error(t, err)
	assert.True(t, chain.IsFatal(err))
}

func TestDecodeOpReturn(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
		ok     bool
	}{
		{"simple push", "6a0a696e766f6963652d3432", "invoice-42", true},
		{"pushdata1", "6a4c0a696e766f6963652d3432", "invoice-42", true},
		{"not op_return", "76a914000000000000000000000000000000000000000088ac", "", false},
		{"empty payload", "6a00", "", false},
		{"bad hex", "zzzz", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeOpReturn(tt.script)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
