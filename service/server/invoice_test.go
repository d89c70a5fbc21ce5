package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/coinwatch/service/chain"
)

func TestGenerateInvoice(t *testing.T) {
	invoice, err := generateInvoice("ton", "EQC0-address", 10000000, "premium plan", 15*time.Minute)
	require.NoError(t, err)

	assert.NotEmpty(t, invoice.ID)
	assert.Equal(t, "ton", invoice.Currency)
	assert.Equal(t, "EQC0-address", invoice.PayToAddress)
	assert.Equal(t, int64(10000000), invoice.Amount)
	assert.Equal(t, "0.01", invoice.AmountHuman)
	assert.True(t, strings.HasPrefix(invoice.Memo, memoPrefix))
	assert.Contains(t, invoice.Memo, invoice.ID)
	assert.Equal(t, "premium plan", invoice.Description)
	assert.NotEmpty(t, invoice.QRCodeData)
	assert.True(t, invoice.ExpiresAt.After(invoice.CreatedAt))
}

func TestGenerateInvoice_UniqueMemos(t *testing.T) {
	a, err := generateInvoice("sol", "addr", 100, "", time.Minute)
	require.NoError(t, err)
	b, err := generateInvoice("sol", "addr", 100, "", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, a.Memo, b.Memo)
}

func TestBuildPaymentURL(t *testing.T) {
	tests := []struct {
		currency string
		contains []string
	}{
		{"sol", []string{"solana:addr", "amount=1.5", "memo=cw-test"}},
		{"ton", []string{"ton://transfer/addr", "amount=1500000000", "text=cw-test"}},
		{"eth", []string{"ethereum:addr", "value=1500000000"}},
		{"bnb", []string{"ethereum:addr"}},
		{"btc", []string{"bitcoin:addr", "message=cw-test"}},
		{"ltc", []string{"litecoin:addr"}},
		{"doge", []string{"dogecoin:addr"}},
	}
	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			got := buildPaymentURL(tt.currency, "addr", 1500000000, "1.5", "cw-test")
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestHandleCreateInvoice(t *testing.T) {
	chains := chain.NewRegistry(&stubAdapter{currency: "ton"})
	handler := handleCreateInvoice(chains, testLogger())

	body := `{"currency": "ton", "address": "EQC0-address", "amount": 10000000}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var invoice Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invoice))
	assert.Equal(t, "ton", invoice.Currency)
	assert.True(t, strings.HasPrefix(invoice.Memo, memoPrefix))
}

func TestHandleCreateInvoice_Validation(t *testing.T) {
	chains := chain.NewRegistry(&stubAdapter{currency: "ton"})
	handler := handleCreateInvoice(chains, testLogger())

	tests := []struct {
		name string
		body string
	}{
		{"unsupported currency", `{"currency": "btc", "address": "addr", "amount": 100}`},
		{"missing address", `{"currency": "ton", "amount": 100}`},
		{"zero amount", `{"currency": "ton", "address": "addr", "amount": 0}`},
		{"negative amount", `{"currency": "ton", "address": "addr", "amount": -10}`},
		{"malformed body", `{"currency"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
