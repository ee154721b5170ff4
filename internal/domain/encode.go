package domain

import (
	"fmt"
	"strings"
)

// Canonical wire encodings used for Merkle batch leaves. The format is a
// stable ':'-separated text form; changing it invalidates previously
// published roots

// EncodeOrder = "order:<id>:<trader>:<base>/<quote>:<side>:<kind>:<price>:<qty>:<ts>"
func EncodeOrder(o Order) []byte {
	return []byte(fmt.Sprintf("order:%d:%s:%s:%s:%s:%d:%d:%d",
		o.ID, o.TraderID, o.Pair.Key(), o.Side, o.Kind, o.Price, o.Quantity, o.Timestamp))
}

// EncodeTrade = "trade:<id>:<maker>:<taker>:<base>/<quote>:<price>:<qty>:<ts>"
func EncodeTrade(t Trade) []byte {
	return []byte(fmt.Sprintf("trade:%d:%d:%d:%s:%d:%d:%d",
		t.ID, t.MakerID, t.TakerID, t.Pair.Key(), t.Price, t.Quantity, t.Timestamp))
}

// ParsePair parses "BASE/QUOTE" back into a pair
func ParsePair(s string) (TradingPair, error) {
	var out TradingPair
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return out, fmt.Errorf("invalid pair format: %s", s)
	}

	out.Base = strings.ToUpper(parts[0])
	out.Quote = strings.ToUpper(parts[1])

	return out, nil
}
