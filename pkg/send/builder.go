// Package send implements the sender side of an asynchronous payjoin: it
// builds the request carrying the original transaction, polls the reply
// mailbox and validates the receiver's proposal.
package send

import (
	"bytes"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/pkg/bip21"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
)

// SenderBuilder collects the original transaction and the receiver's uri
// and applies the sender's fee policy.
type SenderBuilder struct {
	original                  *psbt.Packet
	uri                       *bip21.PjUri
	payeeScript               []byte
	disableOutputSubstitution bool
}

// NewSenderBuilder validates the fully signed original psbt against the
// payjoin uri. The psbt must pay the uri address at least the uri amount.
func NewSenderBuilder(
	psbtBase64, uri string, net *chaincfg.Params,
) (*SenderBuilder, error) {
	parsed, err := bip21.Parse(uri, net)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidUri, err)
	}
	pjUri, err := parsed.CheckPjSupported()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidUri, err)
	}

	original, err := psbtutil.Decode(psbtBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPsbt, err)
	}
	for i := range original.Inputs {
		if _, err := psbtutil.InputUtxo(original, i); err != nil {
			return nil, fmt.Errorf("%w: input %d: %s", ErrInvalidPsbt, i, err)
		}
		if !psbtutil.IsInputFinalized(&original.Inputs[i]) {
			return nil, fmt.Errorf("%w: input %d is not finalized", ErrInvalidPsbt, i)
		}
	}

	payeeScript, err := txscript.PayToAddrScript(pjUri.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidUri, err)
	}
	payee := -1
	for i, out := range original.UnsignedTx.TxOut {
		if bytes.Equal(out.PkScript, payeeScript) {
			payee = i
			break
		}
	}
	if payee < 0 {
		return nil, fmt.Errorf("%w: no output pays the uri address", ErrInvalidPsbt)
	}
	if amount, ok := pjUri.Amount(); ok {
		if value := original.UnsignedTx.TxOut[payee].Value; value < amount {
			return nil, fmt.Errorf(
				"%w: payee output value %d is below the requested %d sats",
				ErrInvalidPsbt, value, amount,
			)
		}
	}

	return &SenderBuilder{
		original:                  original,
		uri:                       pjUri,
		payeeScript:               payeeScript,
		disableOutputSubstitution: pjUri.OutputSubstitutionDisabled(),
	}, nil
}

// DisableOutputSubstitution forbids the receiver from changing the payee
// output. It has no effect if the uri already forbids it.
func (b *SenderBuilder) DisableOutputSubstitution(disable bool) *SenderBuilder {
	b.disableOutputSubstitution =
		disable || b.uri.OutputSubstitutionDisabled()
	return b
}

// BuildRecommended offers to pay for one receiver input of the same type of
// the sender inputs at minFeeRate, taking the fee from the first output not
// paying the receiver. Without such an output the receiver is not offered
// any contribution.
func (b *SenderBuilder) BuildRecommended(minFeeRate psbtutil.FeeRate) (*Sender, error) {
	if minFeeRate < psbtutil.MinRelayFeeRate {
		return nil, fmt.Errorf(
			"%w: %s sat/vB", ErrFeeRateTooLow, minFeeRate.SatPerVByte(),
		)
	}

	change := b.firstNonPayeeOutput()
	if change < 0 {
		return b.build(nil, minFeeRate)
	}

	inputWeight, err := b.expectedInputWeight()
	if err != nil {
		return nil, err
	}
	fee := minFeeRate.FeeForWeight(inputWeight)
	if available := btcutil.Amount(b.original.UnsignedTx.TxOut[change].Value); fee > available {
		log.Warnf(
			"clamping recommended fee contribution of %d sats to change value %d",
			fee, available,
		)
		fee = available
	}
	return b.BuildWithAdditionalFee(fee, &change, minFeeRate, true)
}

// BuildWithAdditionalFee offers the receiver up to maxFee sats taken from the
// change output. If changeIndex is nil the change output is the only output
// not paying the receiver. If maxFee exceeds the change value it is capped
// to it when clamp is set, otherwise it's an error.
func (b *SenderBuilder) BuildWithAdditionalFee(
	maxFee btcutil.Amount, changeIndex *int,
	minFeeRate psbtutil.FeeRate, clamp bool,
) (*Sender, error) {
	if minFeeRate < psbtutil.MinRelayFeeRate {
		return nil, fmt.Errorf(
			"%w: %s sat/vB", ErrFeeRateTooLow, minFeeRate.SatPerVByte(),
		)
	}

	index, err := b.changeIndex(changeIndex)
	if err != nil {
		return nil, err
	}
	if index < 0 {
		if !clamp && maxFee > 0 {
			return nil, fmt.Errorf(
				"%w: the psbt has no change output", ErrFeeContributionExceedsChangeValue,
			)
		}
		return b.build(nil, minFeeRate)
	}

	available := btcutil.Amount(b.original.UnsignedTx.TxOut[index].Value)
	if maxFee > available {
		if !clamp {
			return nil, fmt.Errorf(
				"%w: %d sats requested, %d available",
				ErrFeeContributionExceedsChangeValue, maxFee, available,
			)
		}
		maxFee = available
	}
	return b.build(&FeeContribution{MaxAmount: maxFee, OutputIndex: index}, minFeeRate)
}

func (b *SenderBuilder) build(
	contribution *FeeContribution, minFeeRate psbtutil.FeeRate,
) (*Sender, error) {
	replyKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	original, err := psbtutil.Clone(b.original)
	if err != nil {
		return nil, err
	}
	return &Sender{
		original:                  original,
		endpoint:                  b.uri.Endpoint(),
		receiverKey:               b.uri.ReceiverKey(),
		ohttpKeys:                 b.uri.OhttpKeys(),
		expiry:                    b.expiry(),
		payeeScript:               b.payeeScript,
		feeContribution:           contribution,
		minFeeRate:                minFeeRate,
		disableOutputSubstitution: b.disableOutputSubstitution,
		replyKey:                  replyKey,
	}, nil
}

func (b *SenderBuilder) expiry() (expiry time.Time) {
	expiry, _ = b.uri.Expiry()
	return
}

// changeIndex returns -1 when the psbt only pays the receiver.
func (b *SenderBuilder) changeIndex(index *int) (int, error) {
	outs := b.original.UnsignedTx.TxOut
	if index != nil {
		if *index < 0 || *index >= len(outs) {
			return 0, fmt.Errorf("%w: %d", ErrChangeIndexOutOfBounds, *index)
		}
		if bytes.Equal(outs[*index].PkScript, b.payeeScript) {
			return 0, fmt.Errorf("%w: %d", ErrChangeIndexPointsAtPayee, *index)
		}
		return *index, nil
	}

	switch len(outs) {
	case 1:
		return -1, nil
	case 2:
		return b.firstNonPayeeOutput(), nil
	default:
		return 0, ErrAmbiguousChangeOutput
	}
}

func (b *SenderBuilder) firstNonPayeeOutput() int {
	for i, out := range b.original.UnsignedTx.TxOut {
		if !bytes.Equal(out.PkScript, b.payeeScript) {
			return i
		}
	}
	return -1
}

// expectedInputWeight returns the weight of an input of the same type of
// the sender's, or the max standard weight if the sender mixes types.
func (b *SenderBuilder) expectedInputWeight() (int64, error) {
	var weight int64
	for i := range b.original.Inputs {
		w, err := psbtutil.ExpectedInputWeight(b.original, i)
		if err != nil {
			return 0, fmt.Errorf("%w: input %d: %s", ErrInvalidPsbt, i, err)
		}
		if weight > 0 && w != weight {
			return psbtutil.MaxStandardInputWeight(), nil
		}
		weight = w
	}
	return weight, nil
}
