package receive

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
)

// FeeContribution is the fee the sender allows the receiver to take from one
// of its outputs.
type FeeContribution struct {
	MaxAmount   btcutil.Amount `json:"max_amount"`
	OutputIndex int            `json:"output_index"`
}

// Params are the sender's preferences carried along with the original psbt.
type Params struct {
	Version                   int              `json:"version"`
	DisableOutputSubstitution bool             `json:"disable_output_substitution"`
	AdditionalFeeContribution *FeeContribution `json:"additional_fee_contribution,omitempty"`
	MinFeeRate                psbtutil.FeeRate `json:"min_fee_rate"`
}

var supportedVersions = map[int]bool{1: true, 2: true}

// ParseParams parses the sender's query string. Fee contribution values that
// do not parse are ignored, since the receiver can always go on without
// taking a contribution.
func ParseParams(query string) (Params, error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %s", ErrInvalidProposal, err)
	}

	params := Params{Version: 1}
	if v := values.Get("v"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil || !supportedVersions[version] {
			return Params{}, fmt.Errorf(
				"%w: unsupported version %q", ErrInvalidProposal, v,
			)
		}
		params.Version = version
	}

	params.DisableOutputSubstitution =
		values.Get("disableoutputsubstitution") == "true"

	if v := values.Get("minfeerate"); v != "" {
		rate, err := psbtutil.ParseFeeRate(v)
		if err != nil {
			return Params{}, fmt.Errorf(
				"%w: invalid min fee rate %q", ErrInvalidProposal, v,
			)
		}
		params.MinFeeRate = rate
	}

	index, amount :=
		values.Get("additionalfeeoutputindex"),
		values.Get("maxadditionalfeecontribution")
	switch {
	case index != "" && amount != "":
		outputIndex, err1 := strconv.Atoi(index)
		maxAmount, err2 := strconv.ParseInt(amount, 10, 64)
		if err1 != nil || err2 != nil || outputIndex < 0 || maxAmount < 0 {
			log.Warnf(
				"ignoring malformed fee contribution (index %q, amount %q)",
				index, amount,
			)
			break
		}
		params.AdditionalFeeContribution = &FeeContribution{
			MaxAmount:   btcutil.Amount(maxAmount),
			OutputIndex: outputIndex,
		}
	case index != "" || amount != "":
		log.Warn("ignoring fee contribution missing either output index or amount")
	}

	return params, nil
}
