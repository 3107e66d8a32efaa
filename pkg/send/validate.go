package send

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
)

func invalidProposal(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidProposal, fmt.Sprintf(format, a...))
}

// processProposal checks the receiver's proposal against the original
// transaction and restores the sender's input data so that the proposal can
// be signed. The proposal is modified in place.
func (s *Sender) processProposal(proposal *psbt.Packet) error {
	original := s.original.UnsignedTx
	tx := proposal.UnsignedTx

	if tx.Version != original.Version {
		return invalidProposal("version changed from %d to %d", original.Version, tx.Version)
	}
	if tx.LockTime != original.LockTime {
		return invalidProposal("locktime changed from %d to %d", original.LockTime, tx.LockTime)
	}

	if err := s.checkInputs(proposal); err != nil {
		return err
	}
	contributedFee, err := s.checkOutputs(proposal)
	if err != nil {
		return err
	}
	s.restoreOriginalInputs(proposal)
	return s.checkFees(proposal, contributedFee)
}

// checkInputs makes sure every sender input is still there, in the same
// order with the same sequence and unsigned, and that every receiver input
// is finalized.
func (s *Sender) checkInputs(proposal *psbt.Packet) error {
	original := s.original.UnsignedTx
	senderOutpoints := make(map[wire.OutPoint]bool)
	for _, in := range original.TxIn {
		senderOutpoints[in.PreviousOutPoint] = true
	}
	sequence := original.TxIn[0].Sequence

	next := 0
	for i, in := range proposal.UnsignedTx.TxIn {
		pin := &proposal.Inputs[i]
		if len(pin.Bip32Derivation) > 0 {
			return invalidProposal("input %d contains key paths", i)
		}
		if len(pin.PartialSigs) > 0 {
			return invalidProposal("input %d contains partial signatures", i)
		}

		if next < len(original.TxIn) &&
			in.PreviousOutPoint == original.TxIn[next].PreviousOutPoint {
			if in.Sequence != original.TxIn[next].Sequence {
				return invalidProposal("sequence of sender input %d changed", i)
			}
			if psbtutil.IsInputFinalized(pin) {
				return invalidProposal("sender input %d is finalized", i)
			}
			next++
			continue
		}

		if senderOutpoints[in.PreviousOutPoint] {
			return invalidProposal("sender inputs are missing or shuffled")
		}
		if _, err := psbtutil.InputUtxo(proposal, i); err != nil {
			return invalidProposal("receiver input %d: %s", i, err)
		}
		if !psbtutil.IsInputFinalized(pin) {
			return invalidProposal("receiver input %d is not finalized", i)
		}
		if in.Sequence != sequence {
			return invalidProposal("receiver input %d has mixed sequence", i)
		}
	}
	if next != len(original.TxIn) {
		return invalidProposal("sender inputs are missing or shuffled")
	}
	return nil
}

// checkOutputs makes sure every sender output is still there in the same
// order, the payee one included unless output substitution is allowed, and
// returns the fee taken from the change output.
func (s *Sender) checkOutputs(proposal *psbt.Packet) (btcutil.Amount, error) {
	original := s.original.UnsignedTx.TxOut
	var contributedFee btcutil.Amount

	next := 0
	for i, out := range proposal.UnsignedTx.TxOut {
		if len(proposal.Outputs[i].Bip32Derivation) > 0 {
			return 0, invalidProposal("output %d contains key paths", i)
		}
		if next >= len(original) {
			continue
		}
		orig := original[next]

		switch {
		case s.isFeeOutput(next) && bytes.Equal(out.PkScript, orig.PkScript):
			if out.Value < orig.Value {
				contributedFee = btcutil.Amount(orig.Value - out.Value)
				if contributedFee > s.feeContribution.MaxAmount {
					return 0, invalidProposal(
						"fee contribution of %d sats exceeds the max %d",
						contributedFee, s.feeContribution.MaxAmount,
					)
				}
			}
			next++
		case bytes.Equal(orig.PkScript, s.payeeScript):
			if s.disableOutputSubstitution {
				// Anything before the payee output is an additional
				// receiver output.
				if !bytes.Equal(out.PkScript, orig.PkScript) {
					continue
				}
				if out.Value < orig.Value {
					return 0, invalidProposal("payee output %d value decreased", i)
				}
			}
			next++
		case bytes.Equal(out.PkScript, orig.PkScript) && out.Value == orig.Value:
			next++
		}
	}
	if next != len(original) {
		return 0, invalidProposal("sender outputs are missing or shuffled")
	}
	return contributedFee, nil
}

func (s *Sender) isFeeOutput(index int) bool {
	return s.feeContribution != nil && s.feeContribution.OutputIndex == index
}

// restoreOriginalInputs gives back to the sender inputs the data stripped
// before sending the original psbt.
func (s *Sender) restoreOriginalInputs(proposal *psbt.Packet) {
	originals := make(map[wire.OutPoint]psbt.PInput)
	for i, in := range s.original.UnsignedTx.TxIn {
		originals[in.PreviousOutPoint] = s.original.Inputs[i]
	}
	for i, in := range proposal.UnsignedTx.TxIn {
		orig, ok := originals[in.PreviousOutPoint]
		if !ok {
			continue
		}
		orig.PartialSigs = nil
		orig.FinalScriptSig = nil
		orig.FinalScriptWitness = nil
		orig.TaprootKeySpendSig = nil
		orig.TaprootScriptSpendSig = nil
		proposal.Inputs[i] = orig
	}
}

// checkFees makes sure the receiver did not lower the absolute fee, did not
// keep the contribution for itself or use it for anything but its inputs,
// and that the proposal pays at least the min fee rate.
func (s *Sender) checkFees(proposal *psbt.Packet, contributedFee btcutil.Amount) error {
	proposedFee, err := psbtutil.Fee(proposal)
	if err != nil {
		return invalidProposal("%s", err)
	}
	originalFee, err := psbtutil.Fee(s.original)
	if err != nil {
		return invalidProposal("%s", err)
	}
	if proposedFee < originalFee {
		return invalidProposal(
			"absolute fee decreased from %d to %d sats", originalFee, proposedFee,
		)
	}
	if contributedFee > proposedFee-originalFee {
		return invalidProposal("payee took the fee contribution")
	}

	senderFinals, err := psbtutil.FinalTxIns(s.original)
	if err != nil {
		return invalidProposal("%s", err)
	}

	if contributedFee > 0 {
		originalTx, err := psbtutil.PredictTx(s.original, nil)
		if err != nil {
			return invalidProposal("%s", err)
		}
		originalRate := psbtutil.FeeRateFromFee(originalFee, psbtutil.TxWeight(originalTx))

		var inputWeight int64
		for i, in := range proposal.UnsignedTx.TxIn {
			if senderFinals[in.PreviousOutPoint] != nil {
				continue
			}
			w, err := psbtutil.ExpectedInputWeight(proposal, i)
			if err != nil {
				return invalidProposal("receiver input %d: %s", i, err)
			}
			inputWeight += w
		}
		if contributedFee > originalRate.FeeForWeight(inputWeight) {
			return invalidProposal(
				"fee contribution of %d sats pays for more than the receiver inputs",
				contributedFee,
			)
		}
	}

	if s.minFeeRate > 0 {
		predicted, err := psbtutil.PredictTx(proposal, senderFinals)
		if err != nil {
			return invalidProposal("%s", err)
		}
		if !s.minFeeRate.Satisfies(proposedFee, psbtutil.TxWeight(predicted)) {
			return invalidProposal(
				"fee rate %s sat/vB is below %s sat/vB",
				psbtutil.FeeRateFromFee(proposedFee, psbtutil.TxWeight(predicted)).SatPerVByte(),
				s.minFeeRate.SatPerVByte(),
			)
		}
	}
	return nil
}
