package mathutil

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// VByteToKwu is the ratio between a sat/vB and a sat/kwu fee rate
	VByteToKwu = decimal.NewFromInt(250)

	// ErrInvalidFeeRate ...
	ErrInvalidFeeRate = errors.New("fee rate must be a non negative decimal number")
)

// SatPerVByteToSatPerKwu converts a (possibly fractional) sat/vB fee rate to
// sat/kwu, rounding up so that the resulting rate is never lower.
func SatPerVByteToSatPerKwu(satPerVByte decimal.Decimal) (uint64, error) {
	if satPerVByte.IsNegative() {
		return 0, ErrInvalidFeeRate
	}
	return uint64(satPerVByte.Mul(VByteToKwu).Ceil().IntPart()), nil
}

// ParseSatPerVByte parses a decimal sat/vB string and returns the fee rate in
// sat/kwu.
func ParseSatPerVByte(satPerVByte string) (uint64, error) {
	d, err := decimal.NewFromString(satPerVByte)
	if err != nil {
		return 0, ErrInvalidFeeRate
	}
	return SatPerVByteToSatPerKwu(d)
}

// FormatSatPerVByte returns the sat/vB representation of a sat/kwu fee rate.
func FormatSatPerVByte(satPerKwu uint64) string {
	return decimal.NewFromInt(int64(satPerKwu)).Div(VByteToKwu).String()
}
