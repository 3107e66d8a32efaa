package mathutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-payjoin/pkg/mathutil"
)

func TestParseBtc(t *testing.T) {
	tests := []struct {
		amount   string
		expected int64
	}{
		{"0.001", 100000},
		{"1", 100000000},
		{"0.00000001", 1},
		{"21000000", mathutil.MaxMoney},
		{"0", 0},
	}

	for _, tt := range tests {
		sats, err := mathutil.ParseBtc(tt.amount)
		require.NoError(t, err)
		require.Equal(t, tt.expected, sats)
		require.Equal(t, tt.amount, mathutil.FormatBtc(sats))
	}
}

func TestFailingParseBtc(t *testing.T) {
	tests := []struct {
		amount      string
		expectedErr error
	}{
		{"abc", mathutil.ErrInvalidAmount},
		{"-1", mathutil.ErrInvalidAmount},
		{"0.000000001", mathutil.ErrAmountPrecision},
		{"21000000.00000001", mathutil.ErrAmountTooBig},
	}

	for _, tt := range tests {
		_, err := mathutil.ParseBtc(tt.amount)
		require.ErrorIs(t, err, tt.expectedErr)
	}
}

func TestFeeRateConversion(t *testing.T) {
	rate, err := mathutil.ParseSatPerVByte("1")
	require.NoError(t, err)
	require.Equal(t, uint64(250), rate)

	rate, err = mathutil.ParseSatPerVByte("2.5")
	require.NoError(t, err)
	require.Equal(t, uint64(625), rate)
	require.Equal(t, "2.5", mathutil.FormatSatPerVByte(rate))

	rate, err = mathutil.ParseSatPerVByte("0.001")
	require.NoError(t, err)
	require.Equal(t, uint64(1), rate)

	_, err = mathutil.ParseSatPerVByte("-1")
	require.ErrorIs(t, err, mathutil.ErrInvalidFeeRate)
}
