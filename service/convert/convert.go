package convert

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sentinel errors for conversion failures. Callers match with errors.Is.
var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// decimals maps a currency symbol to the number of decimal places between
// its base unit and its human unit (e.g. 8 for BTC: 1 BTC = 1e8 satoshis).
// The set is fixed at compile time; adding a chain means adding a row here.
var decimals = map[string]int{
	"btc":   8,  // Bitcoin
	"eth":   18, // Ethereum
	"bnb":   18, // Binance Coin
	"sol":   9,  // Solana
	"ltc":   8,  // Litecoin
	"matic": 18, // Polygon
	"ton":   9,  // The Open Network
	"doge":  8,  // Dogecoin
}

// Decimals returns the number of decimal places for a currency.
func Decimals(currency string) (int, error) {
	d, ok := decimals[strings.ToLower(currency)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	return d, nil
}

// ScaleFactor returns the number of base units per human unit for a currency
// (e.g. 100000000 for btc). Always > 0 for a known currency.
func ScaleFactor(currency string) (int64, error) {
	d, err := Decimals(currency)
	if err != nil {
		return 0, err
	}
	factor := int64(1)
	for range d {
		factor *= 10
	}
	return factor, nil
}

// Supported returns true if the currency has a known scale factor.
func Supported(currency string) bool {
	_, ok := decimals[strings.ToLower(currency)]
	return ok
}

// ToHumanUnits converts an amount in base units to human units by dividing by
// the currency's scale factor. Deterministic: identical inputs always yield
// identical output.
func ToHumanUnits(currency string, baseAmount int64) (float64, error) {
	factor, err := ScaleFactor(currency)
	if err != nil {
		return 0, err
	}
	return float64(baseAmount) / float64(factor), nil
}

// FormatBaseUnits renders a base-unit amount as a human-unit decimal string
// with trailing zeros trimmed (e.g. 10000000 satoshis -> "0.1").
func FormatBaseUnits(currency string, baseAmount int64) (string, error) {
	d, err := Decimals(currency)
	if err != nil {
		return "", err
	}
	if baseAmount == 0 {
		return "0", nil
	}
	human, err := ToHumanUnits(currency, baseAmount)
	if err != nil {
		return "", err
	}
	s := strconv.FormatFloat(human, 'f', d, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s, nil
}

// ToFiatValue multiplies a human-unit amount by a unit price, returning the
// fiat value rounded to two decimal places. Negative inputs are rejected.
func ToFiatValue(currency string, humanAmount, unitPrice float64) (float64, error) {
	if !Supported(currency) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	if humanAmount < 0 || unitPrice < 0 {
		return 0, fmt.Errorf("%w: amount=%v price=%v", ErrInvalidAmount, humanAmount, unitPrice)
	}
	return math.Round(humanAmount*unitPrice*100) / 100, nil
}
