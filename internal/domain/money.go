package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Currency string

const CurrencyUZS Currency = "UZS"

// Amounts are kept in tiyins (1/100 UZS) so no float ever touches money.
const (
	TiyinsPerSum int64 = 100

	MinAmount int64 = 1_000 * 100      // 1 000.00 UZS
	MaxAmount int64 = 10_000_000 * 100 // 10 000 000.00 UZS
)

// Money is a fixed-point UZS amount.
type Money struct {
	Amount   int64    `json:"amount"` // tiyins
	Currency Currency `json:"currency"`
}

func NewMoney(tiyins int64) Money {
	return Money{Amount: tiyins, Currency: CurrencyUZS}
}

// MoneyFromSums builds Money from a whole-sum value.
func MoneyFromSums(sums int64) Money {
	return NewMoney(sums * TiyinsPerSum)
}

// ParseMoney parses a decimal string like "50000" or "50000.50" without
// going through floating point. At most two fraction digits are accepted.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return Money{}, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" || len(fracPart) > 2 {
		return Money{}, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	sums, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}

	// Guard the tiyin conversion: a huge sum part must not wrap back into
	// the valid range.
	if sums > (math.MaxInt64-frac)/TiyinsPerSum {
		return Money{}, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}

	return NewMoney(sums*TiyinsPerSum + frac), nil
}

// ValidateAmount parses and bound-checks a raw amount in one step. Every
// payable amount enters the system through here.
func ValidateAmount(s string) (Money, error) {
	m, err := ParseMoney(s)
	if err != nil {
		return Money{}, err
	}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// Validate checks the payable bounds.
func (m Money) Validate() error {
	if m.Amount < MinAmount || m.Amount > MaxAmount {
		return fmt.Errorf("%w: amount must be between %s and %s UZS",
			ErrValidation, formatTiyins(MinAmount), formatTiyins(MaxAmount))
	}
	return nil
}

func (m Money) IsZero() bool { return m.Amount == 0 }

// Tiyins returns the raw minor-unit value.
func (m Money) Tiyins() int64 { return m.Amount }

// String renders the amount with exactly two decimals, e.g. "50000.00".
func (m Money) String() string { return formatTiyins(m.Amount) }

func formatTiyins(t int64) string {
	sign := ""
	if t < 0 {
		sign = "-"
		t = -t
	}
	return fmt.Sprintf("%s%d.%02d", sign, t/TiyinsPerSum, t%TiyinsPerSum)
}
