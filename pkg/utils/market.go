package utils

import (
	"strings"
	"time"
)

// ExchangeSymbol converts a BASE/QUOTE pair into the concatenated form used by
// spot exchange REST APIs (BTC/USDT -> BTCUSDT).
func ExchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// TradingDay returns the UTC calendar day of t as YYYY-MM-DD. Crypto markets
// never close, so daily limits roll over at UTC midnight.
func TradingDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// StartOfTradingDay returns UTC midnight of t's trading day.
func StartOfTradingDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
