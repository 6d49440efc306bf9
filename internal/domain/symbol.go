package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var symbolRx = regexp.MustCompile(`^\^?[A-Z0-9][A-Z0-9.\-=]{0,14}$`)

// NormalizeSymbol upper-cases and validates a ticker symbol, e.g. " brk.b " -> "BRK.B"
func NormalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolRx.MatchString(symbol) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	return symbol, nil
}
