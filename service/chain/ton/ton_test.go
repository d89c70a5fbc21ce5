package ton

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/coinwatch/service/chain"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.Client(), nil, WithRateLimit(1000))
}

func TestGetBalance(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/getWalletInformation", r.URL.Path)
		assert.Equal(t, "EQwallet", r.URL.Query().Get("address"))
		w.Write([]byte(`{"ok":true,"result":{"balance":"123456789","account_state":"active"}}`))
	}))

	balance, err := adapter.GetBalance(context.Background(), "EQwallet")
	require.NoError(t, err)
	assert.Equal(t, chain.Balance{Currency: "ton", Amount: 123456789}, balance)
}

func TestGetBalance_InvalidAddressIsFatal(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"invalid address"}`))
	}))

	_, err := adapter.GetBalance(context.Background(), "garbage")
	require.Error(t, err)
	assert.True(t, chain.IsFatal(err))
}

func TestGetTransactions(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/transactions", r.URL.Path)
		assert.Equal(t, "EQwallet", r.URL.Query().Get("account"))
		w.Write([]byte(`{
			"address_book": {
				"0:abc": {"user_friendly": "EQsender"}
			},
			"transactions": [
				{
					"hash": "txhash1",
					"now": 1617181723,
					"in_msg": {
						"source": "0:abc",
						"destination": "EQwallet",
						"value": "10000000",
						"message_content": {"decoded": {"comment": "specific_memo"}}
					},
					"description": {"compute_ph": {"success": true}}
				},
				{
					"hash": "txhash2",
					"now": 1617181700,
					"in_msg": {
						"source": "0:abc",
						"destination": "EQwallet",
						"value": "5000",
						"message_content": {}
					},
					"description": {"compute_ph": {"success": false}}
				}
			]
		}`))
	}))

	txns, err := adapter.GetTransactions(context.Background(), "EQwallet")
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, "txhash1", txns[0].ID)
	assert.Equal(t, "EQsender", txns[0].FromAddress)
	assert.Equal(t, "EQwallet", txns[0].ToAddress)
	assert.Equal(t, int64(10000000), txns[0].Amount)
	require.NotNil(t, txns[0].Memo)
	assert.Equal(t, "specific_memo", *txns[0].Memo)
	assert.Equal(t, int64(1), txns[0].Confirmations)
	assert.Equal(t, time.Unix(1617181723, 0).UTC(), txns[0].BlockTime)

	// The failed transaction surfaces with zero confirmations and no memo.
	assert.Equal(t, int64(0), txns[1].Confirmations)
	assert.Nil(t, txns[1].Memo)
}

func TestGetTransactions_SkipsOutboundMessages(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"transactions": [
				{"hash": "nomsg", "now": 1, "description": {"compute_ph": {"success": true}}}
			]
		}`))
	}))

	txns, err := adapter.GetTransactions(context.Background(), "EQwallet")
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestGetTransactions_ServerErrorIsTransient(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := adapter.GetTransactions(context.Background(), "EQwallet")
	require.Error(t, err)
	assert.False(t, chain.IsFatal(err))
}

func TestGetTransactions_BadRequestIsFatal(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid account"}`))
	}))

	_, err := adapter.GetTransactions(context.Background(), "garbage")
	require.Error(t, err)
	assert.True(t, chain.IsFatal(err))
}
