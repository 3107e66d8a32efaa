package mathutil

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	//BigOne represents a single unit of bitcoin expressed in satoshis
	BigOne = uint64(math.Pow10(8))
	//BigOneDecimal represents a single unit of bitcoin as decimal.Decimal
	BigOneDecimal = decimal.NewFromInt(int64(BigOne))
	//MaxMoney is the total supply of bitcoin expressed in satoshis
	MaxMoney = int64(21_000_000) * int64(BigOne)

	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("amount must be a non negative decimal number")
	// ErrAmountPrecision ...
	ErrAmountPrecision = errors.New("amount must have at most 8 decimal places")
	// ErrAmountTooBig ...
	ErrAmountTooBig = errors.New("amount exceeds the total bitcoin supply")
)

func init() {
	decimal.DivisionPrecision = 8
}

// SatsToBtc converts the given amount of satoshis to its decimal bitcoin
// representation.
func SatsToBtc(sats int64) decimal.Decimal {
	return decimal.New(sats, -8)
}

// FormatBtc returns the shortest string representation of the given satoshi
// amount in bitcoin unit, ie. 100000 -> "0.001".
func FormatBtc(sats int64) string {
	return SatsToBtc(sats).String()
}

// ParseBtc parses a decimal amount expressed in bitcoin unit and returns it
// in satoshis.
func ParseBtc(amount string) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return BtcToSats(d)
}

// BtcToSats converts a decimal bitcoin amount to satoshis, rejecting negative
// amounts, precision beyond satoshi and values above the total supply.
func BtcToSats(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, ErrInvalidAmount
	}
	sats := amount.Mul(BigOneDecimal)
	if !sats.Equal(sats.Truncate(0)) {
		return 0, ErrAmountPrecision
	}
	if sats.GreaterThan(decimal.NewFromInt(MaxMoney)) {
		return 0, ErrAmountTooBig
	}
	return sats.IntPart(), nil
}
