package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/coinwatch/service/chain"
	"github.com/brojonat/coinwatch/service/convert"
	"github.com/brojonat/coinwatch/service/db"
	"github.com/brojonat/coinwatch/service/monitor"
	"github.com/brojonat/coinwatch/service/price"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for monitor requests
	maxAddressLength   = 128     // longest supported addresses are well under this
	maxUserIDLength    = 128
	maxMemoLength      = 512
)

// startMonitorRequest is the body of POST /api/v1/monitors.
// min_confirmations floors at the server default (1); an explicit 0 is
// treated as unset, not as zero-confirmation matching.
type startMonitorRequest struct {
	UserID           string  `json:"user_id"`
	Currency         string  `json:"currency"`
	Address          string  `json:"address"`
	ExpectedAmount   *int64  `json:"expected_amount,omitempty"`
	Memo             *string `json:"memo,omitempty"`
	MinConfirmations *int64  `json:"min_confirmations,omitempty"`
	PollIntervalSecs int64   `json:"poll_interval_seconds,omitempty"`
	TimeoutSecs      int64   `json:"timeout_seconds,omitempty"`
}

// transactionResponse is the JSON shape of a matched transaction.
type transactionResponse struct {
	ID            string    `json:"id"`
	FromAddress   string    `json:"from_address,omitempty"`
	ToAddress     string    `json:"to_address"`
	Amount        int64     `json:"amount"`
	AmountHuman   string    `json:"amount_human,omitempty"`
	Memo          *string   `json:"memo,omitempty"`
	Confirmations int64     `json:"confirmations"`
	BlockTime     time.Time `json:"block_time"`
}

// outcomeResponse is the JSON shape of a terminal outcome.
type outcomeResponse struct {
	Status      string               `json:"status"`
	Reason      string               `json:"reason,omitempty"`
	Transaction *transactionResponse `json:"transaction,omitempty"`
	FiatValue   *float64             `json:"fiat_value,omitempty"`
	CompletedAt time.Time            `json:"completed_at"`
}

// monitorResponse is the JSON shape of a monitor session.
type monitorResponse struct {
	UserID    string           `json:"user_id"`
	Currency  string           `json:"currency"`
	Address   string           `json:"address"`
	Status    string           `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	Outcome   *outcomeResponse `json:"outcome,omitempty"`
}

func sessionToResponse(s *monitor.Session) monitorResponse {
	req := s.Request()
	resp := monitorResponse{
		UserID:    req.UserID,
		Currency:  req.Target.Currency,
		Address:   req.Target.Address,
		Status:    string(s.Status()),
		StartedAt: s.StartedAt(),
	}
	if outcome := s.Outcome(); outcome != nil {
		resp.Outcome = outcomeToResponse(req.Target.Currency, outcome)
	}
	return resp
}

func outcomeToResponse(currency string, outcome *monitor.Outcome) *outcomeResponse {
	resp := &outcomeResponse{
		Status:      string(outcome.Status),
		Reason:      outcome.Reason,
		FiatValue:   outcome.FiatValue,
		CompletedAt: outcome.CompletedAt,
	}
	if txn := outcome.Transaction; txn != nil {
		human, err := convert.FormatBaseUnits(currency, txn.Amount)
		if err != nil {
			human = ""
		}
		resp.Transaction = &transactionResponse{
			ID:            txn.ID,
			FromAddress:   txn.FromAddress,
			ToAddress:     txn.ToAddress,
			Amount:        txn.Amount,
			AmountHuman:   human,
			Memo:          txn.Memo,
			Confirmations: txn.Confirmations,
			BlockTime:     txn.BlockTime,
		}
	}
	return resp
}

// handleStartMonitor returns a handler that starts a monitor session.
// POST /api/v1/monitors
func handleStartMonitor(registry *monitor.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req startMonitorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateUserID(req.UserID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.Address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Memo != nil && len(*req.Memo) > maxMemoLength {
			writeError(w, fmt.Sprintf("memo too long: maximum length is %d characters", maxMemoLength), http.StatusBadRequest)
			return
		}

		monitorReq := monitor.Request{
			UserID: req.UserID,
			Target: monitor.Target{
				Currency:       req.Currency,
				Address:        req.Address,
				ExpectedAmount: req.ExpectedAmount,
				Memo:           req.Memo,
			},
			PollInterval: time.Duration(req.PollIntervalSecs) * time.Second,
			Timeout:      time.Duration(req.TimeoutSecs) * time.Second,
		}
		if req.MinConfirmations != nil {
			monitorReq.Target.MinConfirmations = *req.MinConfirmations
		}

		session, err := registry.Start(monitorReq)
		if err != nil {
			switch {
			case errors.Is(err, monitor.ErrSessionAlreadyActive):
				writeError(w, "a monitor is already active for this user, currency, and address", http.StatusConflict)
			case errors.Is(err, monitor.ErrRegistryClosed):
				writeError(w, "service is shutting down", http.StatusServiceUnavailable)
			case errors.Is(err, monitor.ErrInvalidRequest),
				errors.Is(err, convert.ErrUnknownCurrency),
				errors.Is(err, convert.ErrInvalidAmount),
				errors.Is(err, chain.ErrUnsupportedCurrency):
				writeError(w, err.Error(), http.StatusBadRequest)
			default:
				logger.Error("failed to start monitor", "user_id", req.UserID, "currency", req.Currency, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		logger.Info("monitor started",
			"user_id", req.UserID,
			"currency", session.Request().Target.Currency,
			"address", req.Address,
		)
		writeJSON(w, sessionToResponse(session), http.StatusCreated)
	})
}

// handleGetMonitor returns a handler that reports monitor status.
// GET /api/v1/monitors/{user_id}/{currency}/{address}
func handleGetMonitor(registry *monitor.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyFromPath(w, r)
		if !ok {
			return
		}

		session, err := registry.Get(key)
		if err != nil {
			if errors.Is(err, monitor.ErrSessionNotFound) {
				writeError(w, "monitor not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get monitor", "key", key.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, sessionToResponse(session), http.StatusOK)
	})
}

// handleCancelMonitor returns a handler that cancels a pending monitor.
// Cancelling an already-terminal monitor is a no-op.
// DELETE /api/v1/monitors/{user_id}/{currency}/{address}
func handleCancelMonitor(registry *monitor.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyFromPath(w, r)
		if !ok {
			return
		}

		if err := registry.Cancel(key); err != nil {
			if errors.Is(err, monitor.ErrSessionNotFound) {
				writeError(w, "monitor not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to cancel monitor", "key", key.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		session, err := registry.Get(key)
		if err != nil {
			// Evicted between cancel and lookup; report the cancellation anyway.
			w.WriteHeader(http.StatusNoContent)
			return
		}

		logger.Info("monitor cancel requested", "key", key.String())
		writeJSON(w, sessionToResponse(session), http.StatusOK)
	})
}

// handleGetBalance returns a handler that fetches a wallet balance. The
// fiat value is best effort: a failed price lookup omits it rather than
// failing the request.
// GET /api/v1/balances/{currency}/{address}
func handleGetBalance(chains *chain.Registry, oracle price.Oracle, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		currency := strings.ToLower(r.PathValue("currency"))
		address := r.PathValue("address")

		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		adapter, err := chains.Get(currency)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		balance, err := adapter.GetBalance(r.Context(), address)
		if err != nil {
			if chain.IsFatal(err) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("failed to fetch balance", "currency", currency, "address", address, "error", err)
			writeError(w, "failed to fetch balance from chain", http.StatusBadGateway)
			return
		}

		human, err := convert.FormatBaseUnits(currency, balance.Amount)
		if err != nil {
			human = ""
		}

		resp := map[string]any{
			"currency":     balance.Currency,
			"address":      address,
			"amount":       balance.Amount,
			"amount_human": human,
		}
		if oracle != nil {
			if usd, err := oracle.GetPrice(r.Context(), currency); err == nil {
				humanAmount, convErr := convert.ToHumanUnits(currency, balance.Amount)
				if convErr == nil {
					if fiat, fiatErr := convert.ToFiatValue(currency, humanAmount, usd); fiatErr == nil {
						resp["fiat_value"] = fiat
					}
				}
			} else {
				logger.Debug("price lookup failed for balance", "currency", currency, "error", err)
			}
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleListCurrencies returns a handler that lists supported currencies.
// GET /api/v1/currencies
func handleListCurrencies(chains *chain.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		currencies := chains.Currencies()
		type currencyInfo struct {
			Currency string `json:"currency"`
			Decimals int    `json:"decimals"`
		}
		resp := make([]currencyInfo, 0, len(currencies))
		for _, c := range currencies {
			decimals, err := convert.Decimals(c)
			if err != nil {
				continue
			}
			resp = append(resp, currencyInfo{Currency: c, Decimals: decimals})
		}
		writeJSON(w, map[string]any{"currencies": resp}, http.StatusOK)
	})
}

// handleGetPrice returns a handler that fetches the USD price of a currency.
// GET /api/v1/prices/{symbol}
func handleGetPrice(oracle price.Oracle, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.ToLower(r.PathValue("symbol"))
		if !convert.Supported(symbol) {
			writeError(w, fmt.Sprintf("unsupported currency %q", symbol), http.StatusBadRequest)
			return
		}

		usd, err := oracle.GetPrice(r.Context(), symbol)
		if err != nil {
			logger.Error("failed to fetch price", "symbol", symbol, "error", err)
			writeError(w, "price unavailable", http.StatusBadGateway)
			return
		}

		writeJSON(w, map[string]any{
			"symbol":     symbol,
			"usd":        usd,
			"fetched_at": time.Now().UTC(),
		}, http.StatusOK)
	})
}

// handleListOutcomes returns a handler that lists persisted outcomes.
// GET /api/v1/outcomes?user_id={user_id}&limit={n}&offset={n}
func handleListOutcomes(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if err := validateUserID(userID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := parseQueryInt(r, "limit", 50)
		offset := parseQueryInt(r, "offset", 0)

		records, err := store.ListOutcomesByUser(r.Context(), db.ListOutcomesByUserParams{
			UserID: userID,
			Limit:  int32(limit),
			Offset: int32(offset),
		})
		if err != nil {
			logger.Error("failed to list outcomes", "user_id", userID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]any{
			"user_id":  userID,
			"outcomes": records,
		}, http.StatusOK)
	})
}

// keyFromPath extracts and validates a monitor key from request path values.
func keyFromPath(w http.ResponseWriter, r *http.Request) (monitor.Key, bool) {
	userID := r.PathValue("user_id")
	currency := strings.ToLower(r.PathValue("currency"))
	address := r.PathValue("address")

	if err := validateUserID(userID); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return monitor.Key{}, false
	}
	if err := validateAddress(address); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return monitor.Key{}, false
	}

	return monitor.Key{UserID: userID, Currency: currency, Address: address}, true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for length and control characters.
// Chain-specific validation happens in the adapters.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: maximum length is %d characters", maxAddressLength)
	}
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("address contains invalid characters")
		}
	}
	return nil
}

// validateUserID validates a user identifier.
func validateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(userID) > maxUserIDLength {
		return fmt.Errorf("user_id too long: maximum length is %d characters", maxUserIDLength)
	}
	for _, r := range userID {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("user_id contains invalid characters")
		}
	}
	return nil
}

func parseQueryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
