package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/brojonat/coinwatch/service/chain"
	"github.com/brojonat/coinwatch/service/convert"
)

// memoPrefix marks invoice memos generated by this service.
const memoPrefix = "cw-"

// defaultInvoiceTimeout bounds how long an invoice is payable.
const defaultInvoiceTimeout = 15 * time.Minute

// Invoice represents a payment request: pay this amount to this address
// with this memo before the deadline.
type Invoice struct {
	ID           string        `json:"id"`
	Currency     string        `json:"currency"`
	PayToAddress string        `json:"pay_to_address"`
	Amount       int64         `json:"amount"`
	AmountHuman  string        `json:"amount_human"`
	Memo         string        `json:"memo"`
	Description  string        `json:"description,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Timeout      time.Duration `json:"timeout"`
	PaymentURL   string        `json:"payment_url"`
	QRCodeData   string        `json:"qr_code_data,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

type createInvoiceRequest struct {
	Currency    string `json:"currency"`
	Address     string `json:"address"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	TimeoutSecs int64  `json:"timeout_seconds,omitempty"`
}

// handleCreateInvoice returns a handler that generates a payment invoice.
// The caller is expected to start a monitor with the invoice's memo to
// detect the payment.
// POST /api/v1/invoices
func handleCreateInvoice(chains *chain.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createInvoiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		currency := strings.ToLower(req.Currency)
		if _, err := chains.Get(currency); err != nil {
			if errors.Is(err, chain.ErrUnsupportedCurrency) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("failed to resolve currency", "currency", currency, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if err := validateAddress(req.Address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Amount <= 0 {
			writeError(w, "amount must be positive", http.StatusBadRequest)
			return
		}

		timeout := defaultInvoiceTimeout
		if req.TimeoutSecs > 0 {
			timeout = time.Duration(req.TimeoutSecs) * time.Second
		}

		invoice, err := generateInvoice(currency, req.Address, req.Amount, req.Description, timeout)
		if err != nil {
			logger.Error("failed to generate invoice", "currency", currency, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("invoice created",
			"id", invoice.ID,
			"currency", currency,
			"amount", req.Amount,
		)
		writeJSON(w, invoice, http.StatusCreated)
	})
}

// generateInvoice builds an invoice with a unique memo and a wallet-app
// payment URL.
func generateInvoice(currency, address string, amount int64, description string, timeout time.Duration) (Invoice, error) {
	human, err := convert.FormatBaseUnits(currency, amount)
	if err != nil {
		return Invoice{}, err
	}

	invoiceID := uuid.New().String()
	memo := memoPrefix + invoiceID
	now := time.Now().UTC()

	paymentURL := buildPaymentURL(currency, address, amount, human, memo)

	// QR code is optional; an encoding failure does not fail the invoice.
	qrCodeData, err := generateQRCode(paymentURL)
	if err != nil {
		qrCodeData = ""
	}

	return Invoice{
		ID:           invoiceID,
		Currency:     currency,
		PayToAddress: address,
		Amount:       amount,
		AmountHuman:  human,
		Memo:         memo,
		Description:  description,
		ExpiresAt:    now.Add(timeout),
		Timeout:      timeout,
		PaymentURL:   paymentURL,
		QRCodeData:   qrCodeData,
		CreatedAt:    now,
	}, nil
}

// buildPaymentURL creates a wallet-app payment URL in the scheme native to
// the currency. Chains without a memo field in their URI scheme carry the
// memo in the message parameter; payers must copy it into the transaction.
func buildPaymentURL(currency, address string, amount int64, humanAmount, memo string) string {
	params := url.Values{}

	switch currency {
	case "sol":
		params.Set("amount", humanAmount)
		params.Set("memo", memo)
		return fmt.Sprintf("solana:%s?%s", address, params.Encode())
	case "ton":
		params.Set("amount", fmt.Sprintf("%d", amount))
		params.Set("text", memo)
		return fmt.Sprintf("ton://transfer/%s?%s", address, params.Encode())
	case "eth", "bnb", "matic":
		// EIP-681; value is in wei.
		params.Set("value", fmt.Sprintf("%d", amount))
		return fmt.Sprintf("ethereum:%s?%s", address, params.Encode())
	case "ltc":
		params.Set("amount", humanAmount)
		params.Set("message", memo)
		return fmt.Sprintf("litecoin:%s?%s", address, params.Encode())
	case "doge":
		params.Set("amount", humanAmount)
		params.Set("message", memo)
		return fmt.Sprintf("dogecoin:%s?%s", address, params.Encode())
	default:
		// BIP21.
		params.Set("amount", humanAmount)
		params.Set("message", memo)
		return fmt.Sprintf("bitcoin:%s?%s", address, params.Encode())
	}
}

// generateQRCode creates a QR code image from a payment URL and returns it
// as base64-encoded PNG.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}
