package escrow

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the base-unit precision of the ledger's native currency.
const Decimals = 18

// ParseAmount converts a human price such as "1.00" into base units.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %s", s)
	}
	if d.Exponent() < -Decimals && !d.Equal(d.Truncate(Decimals)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", s, Decimals)
	}
	return d.Shift(Decimals).BigInt(), nil
}

// FormatAmount renders base units as a decimal string without trailing zeros.
func FormatAmount(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -Decimals).String()
}
