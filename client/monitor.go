// Package client is the Go client for the coinwatch payment monitoring
// service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Transaction is a matched on-chain payment.
type Transaction struct {
	ID            string    `json:"id"`
	FromAddress   string    `json:"from_address,omitempty"`
	ToAddress     string    `json:"to_address"`
	Amount        int64     `json:"amount"`
	AmountHuman   string    `json:"amount_human,omitempty"`
	Memo          *string   `json:"memo,omitempty"`
	Confirmations int64     `json:"confirmations"`
	BlockTime     time.Time `json:"block_time"`
}

// Outcome is the terminal result of a monitor session.
type Outcome struct {
	Status      string       `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	FiatValue   *float64     `json:"fiat_value,omitempty"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Monitor represents a payment monitor session on the server.
type Monitor struct {
	UserID    string    `json:"user_id"`
	Currency  string    `json:"currency"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
}

// Terminal reports whether the monitor has reached a final state.
func (m *Monitor) Terminal() bool {
	switch m.Status {
	case "matched", "timed_out", "cancelled", "failed":
		return true
	}
	return false
}

// StartMonitorParams are the parameters for starting a monitor.
type StartMonitorParams struct {
	UserID           string
	Currency         string
	Address          string
	ExpectedAmount   *int64
	Memo             *string
	MinConfirmations *int64
	PollInterval     time.Duration
	Timeout          time.Duration
}

// Balance is a wallet balance in base units.
type Balance struct {
	Currency    string `json:"currency"`
	Address     string `json:"address"`
	Amount      int64  `json:"amount"`
	AmountHuman string `json:"amount_human,omitempty"`
}

// Price is a USD quote for a currency.
type Price struct {
	Symbol    string    `json:"symbol"`
	USD       float64   `json:"usd"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Invoice is a payment request generated by the server.
type Invoice struct {
	ID           string    `json:"id"`
	Currency     string    `json:"currency"`
	PayToAddress string    `json:"pay_to_address"`
	Amount       int64     `json:"amount"`
	AmountHuman  string    `json:"amount_human"`
	Memo         string    `json:"memo"`
	Description  string    `json:"description,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	PaymentURL   string    `json:"payment_url"`
	QRCodeData   string    `json:"qr_code_data,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateInvoiceParams are the parameters for creating an invoice.
type CreateInvoiceParams struct {
	Currency    string `json:"currency"`
	Address     string `json:"address"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	TimeoutSecs int64  `json:"timeout_seconds,omitempty"`
}

// Client is the HTTP client for the coinwatch service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new coinwatch client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// StartMonitor asks the server to start watching for a payment.
func (c *Client) StartMonitor(ctx context.Context, params StartMonitorParams) (*Monitor, error) {
	reqBody := map[string]interface{}{
		"user_id":  params.UserID,
		"currency": params.Currency,
		"address":  params.Address,
	}
	if params.ExpectedAmount != nil {
		reqBody["expected_amount"] = *params.ExpectedAmount
	}
	if params.Memo != nil {
		reqBody["memo"] = *params.Memo
	}
	if params.MinConfirmations != nil {
		reqBody["min_confirmations"] = *params.MinConfirmations
	}
	if params.PollInterval > 0 {
		reqBody["poll_interval_seconds"] = int64(params.PollInterval.Seconds())
	}
	if params.Timeout > 0 {
		reqBody["timeout_seconds"] = int64(params.Timeout.Seconds())
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/monitors", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.parseErrorResponse(resp)
	}

	var monitor Monitor
	if err := json.NewDecoder(resp.Body).Decode(&monitor); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("monitor started",
		"user_id", params.UserID,
		"currency", params.Currency,
		"address", params.Address,
	)
	return &monitor, nil
}

// GetMonitor retrieves the current state of a monitor session.
func (c *Client) GetMonitor(ctx context.Context, userID, currency, address string) (*Monitor, error) {
	u := c.monitorURL(userID, currency, address)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var monitor Monitor
	if err := json.NewDecoder(resp.Body).Decode(&monitor); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &monitor, nil
}

// CancelMonitor asks the server to cancel a pending monitor. Cancelling a
// monitor that has already terminated is a no-op.
func (c *Client) CancelMonitor(ctx context.Context, userID, currency, address string) (*Monitor, error) {
	u := c.monitorURL(userID, currency, address)
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var monitor Monitor
		if err := json.NewDecoder(resp.Body).Decode(&monitor); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &monitor, nil
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, c.parseErrorResponse(resp)
	}
}

// Await polls the monitor until it reaches a terminal state or ctx is done.
// The poll interval defaults to 2 seconds when zero.
func (c *Client) Await(ctx context.Context, userID, currency, address string, pollInterval time.Duration) (*Monitor, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last *Monitor
	for {
		monitor, err := c.GetMonitor(ctx, userID, currency, address)
		if err != nil {
			// A fetch cut short by the caller's deadline still reports the
			// last observed state, so the caller can see what was pending.
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return nil, err
		}
		if monitor.Terminal() {
			return monitor, nil
		}
		last = monitor

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetBalance retrieves a wallet balance.
func (c *Client) GetBalance(ctx context.Context, currency, address string) (*Balance, error) {
	u := fmt.Sprintf("%s/api/v1/balances/%s/%s", c.baseURL, url.PathEscape(currency), url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var balance Balance
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &balance, nil
}

// GetPrice retrieves the USD price of a currency.
func (c *Client) GetPrice(ctx context.Context, symbol string) (*Price, error) {
	u := fmt.Sprintf("%s/api/v1/prices/%s", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var price Price
	if err := json.NewDecoder(resp.Body).Decode(&price); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &price, nil
}

// CreateInvoice asks the server to generate a payment invoice.
func (c *Client) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.parseErrorResponse(resp)
	}

	var invoice Invoice
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &invoice, nil
}

// ListCurrencies retrieves the currencies the server can monitor.
func (c *Client) ListCurrencies(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/currencies", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Currencies []struct {
			Currency string `json:"currency"`
		} `json:"currencies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	currencies := make([]string, len(response.Currencies))
	for i, c := range response.Currencies {
		currencies[i] = c.Currency
	}
	return currencies, nil
}

// Health checks whether the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) monitorURL(userID, currency, address string) string {
	return fmt.Sprintf("%s/api/v1/monitors/%s/%s/%s",
		c.baseURL,
		url.PathEscape(userID),
		url.PathEscape(currency),
		url.PathEscape(address),
	)
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
