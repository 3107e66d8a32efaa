package psbtutil

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/tdex-network/tdex-payjoin/pkg/mathutil"
)

// FeeRate is a fee rate expressed in satoshis per 1000 weight units.
type FeeRate uint64

const (
	// FeeRateZero ...
	FeeRateZero FeeRate = 0
	// MinRelayFeeRate is the default minimum relay fee rate of 1 sat/vB.
	MinRelayFeeRate FeeRate = 250
)

// FeeRateFromSatPerVByte returns the fee rate for the given sat/vB value.
func FeeRateFromSatPerVByte(satPerVByte uint64) FeeRate {
	return FeeRate(satPerVByte * 250)
}

// ParseFeeRate parses a decimal sat/vB string, ie. "2.5".
func ParseFeeRate(satPerVByte string) (FeeRate, error) {
	rate, err := mathutil.ParseSatPerVByte(satPerVByte)
	if err != nil {
		return 0, err
	}
	return FeeRate(rate), nil
}

// FeeRateFromFee returns the fee rate paid by a transaction of the given
// weight, rounded down.
func FeeRateFromFee(fee btcutil.Amount, weight int64) FeeRate {
	if weight <= 0 || fee <= 0 {
		return 0
	}
	return FeeRate(int64(fee) * 1000 / weight)
}

// FeeForWeight returns the fee required to reach this rate for the given
// weight, rounded up.
func (r FeeRate) FeeForWeight(weight int64) btcutil.Amount {
	if weight <= 0 {
		return 0
	}
	return btcutil.Amount((uint64(r)*uint64(weight) + 999) / 1000)
}

// SatPerVByte returns the decimal sat/vB representation of the rate.
func (r FeeRate) SatPerVByte() string {
	return mathutil.FormatSatPerVByte(uint64(r))
}

// Satisfies returns whether paying fee for a transaction of the given weight
// reaches this rate.
func (r FeeRate) Satisfies(fee btcutil.Amount, weight int64) bool {
	return fee >= r.FeeForWeight(weight)
}

// Exceeded returns whether paying fee for a transaction of the given weight
// goes beyond this rate.
func (r FeeRate) Exceeded(fee btcutil.Amount, weight int64) bool {
	return uint64(fee)*1000 > uint64(r)*uint64(weight)
}
