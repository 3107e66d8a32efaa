package receive

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
)

const (
	StageUncheckedProposal   = "UncheckedProposal"
	StageMaybeInputsOwned    = "MaybeInputsOwned"
	StageMaybeInputsSeen     = "MaybeInputsSeen"
	StageOutputsUnknown      = "OutputsUnknown"
	StageWantsOutputs        = "WantsOutputs"
	StageWantsInputs         = "WantsInputs"
	StageProvisionalProposal = "ProvisionalProposal"
	StagePayjoinProposal     = "PayjoinProposal"
)

// Stage is implemented by every step of a receiver session.
type Stage interface {
	Name() string
	Snapshot() ([]byte, error)
}

// proposal is the original psbt sent by the sender, never mutated.
type proposal struct {
	psbt     *psbt.Packet
	params   Params
	replyKey *btcec.PublicKey
}

type stage struct {
	s        *session
	p        *proposal
	consumed atomic.Bool
}

// consume marks the stage as used. Every transition calls it first, so a
// stage whose check failed can't be retried either.
func (st *stage) consume(name string) error {
	if !st.consumed.CompareAndSwap(false, true) {
		return stageErr(name, ErrStageConsumed)
	}
	return nil
}

// OriginalPsbt returns a copy of the original psbt.
func (st *stage) OriginalPsbt() *psbt.Packet {
	p, _ := psbtutil.Clone(st.p.psbt)
	return p
}

// Params returns the sender's parameters.
func (st *stage) Params() Params {
	return st.p.params
}

// IsOutputSubstitutionDisabled is true if either the receiver session or the
// sender disabled output substitution.
func (st *stage) IsOutputSubstitutionDisabled() bool {
	return st.s.disableOutputSubstitution || st.p.params.DisableOutputSubstitution
}

func (st *stage) next() stage {
	return stage{s: st.s, p: st.p}
}

func (st *stage) logger() *log.Entry {
	return log.WithField("session", st.s.id())
}

// UncheckedProposal holds an original proposal nobody has looked at yet.
type UncheckedProposal struct {
	stage
}

func (u *UncheckedProposal) Name() string { return StageUncheckedProposal }

// OriginalTransaction returns the fully signed original transaction.
func (u *UncheckedProposal) OriginalTransaction() (*wire.MsgTx, error) {
	return psbt.Extract(u.p.psbt)
}

// CheckBroadcastSuitability makes sure the original transaction pays at least
// minFeeRate, if given, and that the checker would broadcast it. This lets
// the receiver fall back to the original transaction if the payjoin fails.
func (u *UncheckedProposal) CheckBroadcastSuitability(
	minFeeRate *psbtutil.FeeRate, checker BroadcastChecker,
) (*MaybeInputsOwned, error) {
	const name = StageUncheckedProposal
	if err := u.consume(name); err != nil {
		return nil, err
	}

	tx, err := psbt.Extract(u.p.psbt)
	if err != nil {
		return nil, stageErrf(name, ErrOriginalPsbtNotBroadcastable, "%s", err)
	}
	if minFeeRate != nil {
		fee, err := psbtutil.Fee(u.p.psbt)
		if err != nil {
			return nil, stageErrf(name, ErrInvalidProposal, "%s", err)
		}
		weight := psbtutil.TxWeight(tx)
		if !minFeeRate.Satisfies(fee, weight) {
			return nil, stageErrf(
				name, ErrFeeTooLow, "%s sat/vB is below %s sat/vB",
				psbtutil.FeeRateFromFee(fee, weight).SatPerVByte(),
				minFeeRate.SatPerVByte(),
			)
		}
	}

	ok, err := checker.CanBroadcast(tx)
	if err != nil {
		return nil, stageErr(name, err)
	}
	if !ok {
		return nil, stageErr(name, ErrOriginalPsbtNotBroadcastable)
	}

	u.logger().Debug("original transaction is broadcastable")
	return &MaybeInputsOwned{u.next()}, nil
}

// AssumeInteractiveReceiver skips the broadcast check. It is meant for
// receivers that can't broadcast the original transaction anyway, like a
// human operator.
func (u *UncheckedProposal) AssumeInteractiveReceiver() (*MaybeInputsOwned, error) {
	if err := u.consume(StageUncheckedProposal); err != nil {
		return nil, err
	}
	return &MaybeInputsOwned{u.next()}, nil
}

// MaybeInputsOwned is a proposal whose inputs may belong to the receiver.
type MaybeInputsOwned struct {
	stage
}

func (m *MaybeInputsOwned) Name() string { return StageMaybeInputsOwned }

// CheckInputsNotOwned fails if any input of the original transaction spends
// a script owned by the receiver.
func (m *MaybeInputsOwned) CheckInputsNotOwned(
	checker ScriptChecker,
) (*MaybeInputsSeen, error) {
	const name = StageMaybeInputsOwned
	if err := m.consume(name); err != nil {
		return nil, err
	}

	for i := range m.p.psbt.Inputs {
		prevOut, err := psbtutil.InputUtxo(m.p.psbt, i)
		if err != nil {
			return nil, stageErrf(name, ErrInvalidProposal, "input %d: %s", i, err)
		}
		owned, err := checker.IsOwned(prevOut.PkScript)
		if err != nil {
			return nil, stageErr(name, err)
		}
		if owned {
			return nil, stageErrf(
				name, ErrInputOwnershipConflict, "input %d", i,
			)
		}
	}

	return &MaybeInputsSeen{m.next()}, nil
}

// MaybeInputsSeen is a proposal whose inputs may have been seen already.
type MaybeInputsSeen struct {
	stage
}

func (m *MaybeInputsSeen) Name() string { return StageMaybeInputsSeen }

// CheckNoInputsSeenBefore fails if any outpoint spent by the original
// transaction is known to the checker or is spent twice.
func (m *MaybeInputsSeen) CheckNoInputsSeenBefore(
	checker OutpointChecker,
) (*OutputsUnknown, error) {
	const name = StageMaybeInputsSeen
	if err := m.consume(name); err != nil {
		return nil, err
	}

	seen := make(map[wire.OutPoint]bool)
	for _, in := range m.p.psbt.UnsignedTx.TxIn {
		outpoint := in.PreviousOutPoint
		if seen[outpoint] {
			return nil, stageErrf(
				name, ErrUnnecessaryInputDuplication,
				"%s spent twice", outpoint,
			)
		}
		seen[outpoint] = true

		known, err := checker.IsKnown(outpoint)
		if err != nil {
			return nil, stageErr(name, err)
		}
		if known {
			m.logger().Warnf("proposal spends already seen outpoint %s", outpoint)
			return nil, stageErrf(
				name, ErrUnnecessaryInputDuplication, "%s", outpoint,
			)
		}
	}

	return &OutputsUnknown{m.next()}, nil
}

// OutputsUnknown is a proposal whose receiver outputs are not known yet.
type OutputsUnknown struct {
	stage
}

func (o *OutputsUnknown) Name() string { return StageOutputsUnknown }

// IdentifyReceiverOutputs classifies the outputs of the original transaction
// paying the receiver.
func (o *OutputsUnknown) IdentifyReceiverOutputs(
	checker ScriptChecker,
) (*WantsOutputs, error) {
	const name = StageOutputsUnknown
	if err := o.consume(name); err != nil {
		return nil, err
	}

	tx := o.p.psbt.UnsignedTx
	owned := make([]int, 0)
	for i, out := range tx.TxOut {
		isOwned, err := checker.IsOwned(out.PkScript)
		if err != nil {
			return nil, stageErr(name, err)
		}
		if isOwned {
			owned = append(owned, i)
		}
	}
	if len(owned) == 0 {
		return nil, stageErr(name, ErrMissingPayment)
	}

	if c := o.p.params.AdditionalFeeContribution; c != nil {
		if c.OutputIndex >= len(tx.TxOut) {
			return nil, stageErrf(
				name, ErrInvalidProposal,
				"fee output index %d out of range", c.OutputIndex,
			)
		}
		for _, i := range owned {
			if i == c.OutputIndex {
				return nil, stageErrf(
					name, ErrInvalidProposal,
					"fee output index %d points at a receiver output", i,
				)
			}
		}
	}

	payjoin, err := psbtutil.Clone(o.p.psbt)
	if err != nil {
		return nil, stageErr(name, err)
	}
	return &WantsOutputs{
		stage:   o.next(),
		payjoin: payjoin,
		outputs: outputs{
			originalOwned: owned,
			owned:         append([]int{}, owned...),
			changeVout:    owned[0],
		},
	}, nil
}

// outputs tracks the receiver outputs of the original and the payjoin
// transactions. Sender outputs keep their relative order in both.
type outputs struct {
	originalOwned []int
	owned         []int
	changeVout    int
}

func (o outputs) isOriginalOwned(i int) bool {
	return contains(o.originalOwned, i)
}

func (o outputs) isOwned(i int) bool {
	return contains(o.owned, i)
}

// senderVout maps a sender output of the original transaction to its index in
// the payjoin transaction.
func (o outputs) senderVout(originalIndex int, numPayjoinOuts int) int {
	rank := 0
	for i := 0; i < originalIndex; i++ {
		if !o.isOriginalOwned(i) {
			rank++
		}
	}
	for i := 0; i < numPayjoinOuts; i++ {
		if o.isOwned(i) {
			continue
		}
		if rank == 0 {
			return i
		}
		rank--
	}
	return -1
}

// WantsOutputs is a proposal whose receiver outputs can be changed.
type WantsOutputs struct {
	stage
	payjoin *psbt.Packet
	outputs outputs
}

func (w *WantsOutputs) Name() string { return StageWantsOutputs }

// PayjoinPsbt returns a copy of the psbt being built.
func (w *WantsOutputs) PayjoinPsbt() *psbt.Packet {
	p, _ := psbtutil.Clone(w.payjoin)
	return p
}

// SubstituteReceiverScript moves the value of the receiver outputs to a
// single output locked by the given script.
func (w *WantsOutputs) SubstituteReceiverScript(script []byte) (*WantsOutputs, error) {
	var value int64
	for _, i := range w.outputs.originalOwned {
		value += w.p.psbt.UnsignedTx.TxOut[i].Value
	}
	return w.ReplaceReceiverOutputs(
		[]ReplacementOutput{{Script: script, Value: value}}, script,
	)
}

// ReplaceReceiverOutputs replaces the receiver outputs of the original
// transaction with the given ones. Each original receiver output is
// substituted in place, preferably by a replacement with the same script,
// and the outputs left are added at random positions. The drain output,
// identified by its script, receives the value of contributed inputs and pays
// the receiver's share of the fees.
func (w *WantsOutputs) ReplaceReceiverOutputs(
	replacements []ReplacementOutput, drainScript []byte,
) (*WantsOutputs, error) {
	const name = StageWantsOutputs
	if err := w.consume(name); err != nil {
		return nil, err
	}
	if len(replacements) == 0 {
		return nil, stageErrf(name, ErrOutputValueInsufficient, "no outputs given")
	}

	disabled := w.IsOutputSubstitutionDisabled()
	remaining := make([]ReplacementOutput, len(replacements))
	copy(remaining, replacements)

	var originalTotal, replacementTotal int64
	for _, r := range replacements {
		if r.Value < 0 {
			return nil, stageErrf(
				name, ErrOutputValueInsufficient, "negative output value",
			)
		}
		replacementTotal += r.Value
	}

	original := w.p.psbt.UnsignedTx
	txOuts := make([]*wire.TxOut, 0, len(original.TxOut)+len(replacements))
	owned := make([]bool, 0, cap(txOuts))
	for i, out := range original.TxOut {
		if !w.outputs.isOriginalOwned(i) {
			txOuts = append(txOuts, wire.NewTxOut(out.Value, out.PkScript))
			owned = append(owned, false)
			continue
		}
		originalTotal += out.Value

		if len(remaining) == 0 {
			return nil, stageErrf(
				name, ErrOutputValueInsufficient, "not enough outputs given",
			)
		}
		pos := -1
		for j, r := range remaining {
			if bytes.Equal(r.Script, out.PkScript) {
				pos = j
				break
			}
		}
		if pos >= 0 {
			if disabled && remaining[pos].Value < out.Value {
				return nil, stageErrf(
					name, ErrSubstitutionDisabled,
					"receiver output %d value can't decrease", i,
				)
			}
		} else {
			if disabled {
				return nil, stageErrf(
					name, ErrSubstitutionDisabled,
					"receiver output %d script can't change", i,
				)
			}
			pos = rand.Intn(len(remaining))
		}

		r := remaining[pos]
		remaining[pos] = remaining[len(remaining)-1]
		remaining = remaining[:len(remaining)-1]
		txOuts = append(txOuts, wire.NewTxOut(r.Value, r.Script))
		owned = append(owned, true)
	}

	if replacementTotal < originalTotal {
		return nil, stageErrf(
			name, ErrOutputValueInsufficient,
			"outputs total %d sats, %d requested", replacementTotal, originalTotal,
		)
	}

	rand.Shuffle(len(remaining), func(i, j int) {
		remaining[i], remaining[j] = remaining[j], remaining[i]
	})
	for _, r := range remaining {
		i := rand.Intn(len(txOuts) + 1)
		txOuts = insertAt(txOuts, i, wire.NewTxOut(r.Value, r.Script))
		owned = insertAt(owned, i, true)
	}

	ownedVouts := make([]int, 0)
	changeVout := -1
	for i, isOwned := range owned {
		if !isOwned {
			continue
		}
		ownedVouts = append(ownedVouts, i)
		if changeVout < 0 && bytes.Equal(txOuts[i].PkScript, drainScript) {
			changeVout = i
		}
	}
	if changeVout < 0 {
		return nil, stageErr(name, ErrInvalidDrainScript)
	}

	payjoin, err := psbtutil.Clone(w.p.psbt)
	if err != nil {
		return nil, stageErr(name, err)
	}
	payjoin.UnsignedTx.TxOut = txOuts
	payjoin.Outputs = make([]psbt.POutput, len(txOuts))

	return &WantsOutputs{
		stage:   w.next(),
		payjoin: payjoin,
		outputs: outputs{
			originalOwned: w.outputs.originalOwned,
			owned:         ownedVouts,
			changeVout:    changeVout,
		},
	}, nil
}

// CommitOutputs freezes the outputs of the payjoin transaction.
func (w *WantsOutputs) CommitOutputs() (*WantsInputs, error) {
	if err := w.consume(StageWantsOutputs); err != nil {
		return nil, err
	}
	return &WantsInputs{w.next(), w.payjoin, w.outputs}, nil
}

// WantsInputs is a proposal waiting for the receiver inputs.
type WantsInputs struct {
	stage
	payjoin *psbt.Packet
	outputs outputs
}

func (w *WantsInputs) Name() string { return StageWantsInputs }

// TryContributeInputs picks one of the candidates not already spent by the
// proposal and adds it at a random position, with the sequence number used by
// the sender. Its value goes to the drain output. The pick avoids the
// unnecessary input heuristic when possible, otherwise the first usable
// candidate is taken.
func (w *WantsInputs) TryContributeInputs(
	candidates []CandidateInput,
) (*ProvisionalProposal, error) {
	const name = StageWantsInputs
	if err := w.consume(name); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, stageErrf(name, ErrNoUsableInputs, "no candidates given")
	}

	usable := w.usableCandidates(candidates)
	if len(usable) == 0 {
		return nil, stageErrf(
			name, ErrNoUsableInputs,
			"every candidate is already spent or lacks utxo data",
		)
	}
	selected := w.selectCandidate(usable)

	payjoin, err := psbtutil.Clone(w.payjoin)
	if err != nil {
		return nil, stageErr(name, err)
	}
	tx := payjoin.UnsignedTx
	sequence := tx.TxIn[0].Sequence
	outpoint := selected.input.TxIn.PreviousOutPoint

	in := selected.input.Psbt
	in.FinalScriptSig = nil
	in.FinalScriptWitness = nil
	in.PartialSigs = nil

	i := rand.Intn(len(tx.TxIn) + 1)
	tx.TxIn = insertAt(tx.TxIn, i, wire.NewTxIn(&outpoint, nil, nil))
	tx.TxIn[i].Sequence = sequence
	payjoin.Inputs = insertAt(payjoin.Inputs, i, in)

	tx.TxOut[w.outputs.changeVout].Value += selected.value

	return &ProvisionalProposal{
		stage:          w.next(),
		payjoin:        payjoin,
		outputs:        w.outputs,
		receiverInputs: []wire.OutPoint{outpoint},
	}, nil
}

type usableCandidate struct {
	input CandidateInput
	value int64
}

// usableCandidates drops the candidates spent by the proposal, the duplicated
// ones and those without utxo data, keeping the given order.
func (w *WantsInputs) usableCandidates(candidates []CandidateInput) []usableCandidate {
	spent := make(map[wire.OutPoint]bool)
	for _, in := range w.payjoin.UnsignedTx.TxIn {
		spent[in.PreviousOutPoint] = true
	}

	usable := make([]usableCandidate, 0, len(candidates))
	for _, c := range candidates {
		outpoint := c.TxIn.PreviousOutPoint
		if spent[outpoint] {
			w.logger().Debugf("skipping candidate %s already spent", outpoint)
			continue
		}
		prevOut, err := psbtutil.PrevOut(outpoint, &c.Psbt)
		if err != nil {
			w.logger().WithError(err).Debugf("skipping candidate %s", outpoint)
			continue
		}
		spent[outpoint] = true
		usable = append(usable, usableCandidate{c, prevOut.Value})
	}
	return usable
}

// selectCandidate returns, for a two outputs transaction, the first candidate
// that keeps the smallest input bigger than the smallest output once added,
// so that no input looks unnecessary. Any other case falls back to the first
// candidate.
func (w *WantsInputs) selectCandidate(usable []usableCandidate) usableCandidate {
	tx := w.payjoin.UnsignedTx
	if len(tx.TxOut) != 2 {
		return usable[0]
	}

	minOut := tx.TxOut[0].Value
	for _, out := range tx.TxOut[1:] {
		minOut = min64(minOut, out.Value)
	}
	var minIn int64 = -1
	for i := range tx.TxIn {
		prevOut, err := psbtutil.InputUtxo(w.payjoin, i)
		if err != nil {
			return usable[0]
		}
		if minIn < 0 || prevOut.Value < minIn {
			minIn = prevOut.Value
		}
	}
	payment := tx.TxOut[w.outputs.changeVout].Value

	for _, c := range usable {
		candidateMinOut := min64(minOut, payment+c.value)
		candidateMinIn := min64(minIn, c.value)
		if candidateMinIn > candidateMinOut {
			return c
		}
	}
	w.logger().Debug("no candidate avoids the unnecessary input heuristic")
	return usable[0]
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// ProvisionalProposal is a payjoin proposal waiting for the receiver
// signatures.
type ProvisionalProposal struct {
	stage
	payjoin        *psbt.Packet
	outputs        outputs
	receiverInputs []wire.OutPoint
}

func (p *ProvisionalProposal) Name() string { return StageProvisionalProposal }

// PayjoinPsbt returns a copy of the unsigned payjoin psbt.
func (p *ProvisionalProposal) PayjoinPsbt() *psbt.Packet {
	c, _ := psbtutil.Clone(p.payjoin)
	return c
}

// FinalizeProposal takes the fees for the receiver inputs and the extra
// outputs, has the signer sign the receiver inputs and checks that the
// resulting fee rate is within [minFeeRate, maxFeeRate]. A nil minFeeRate
// accepts the sender's floor, a nil maxFeeRate puts no upper bound.
func (p *ProvisionalProposal) FinalizeProposal(
	signer PsbtProcessor, minFeeRate, maxFeeRate *psbtutil.FeeRate,
) (*PayjoinProposal, error) {
	const name = StageProvisionalProposal
	if err := p.consume(name); err != nil {
		return nil, err
	}

	payjoin, err := psbtutil.Clone(p.payjoin)
	if err != nil {
		return nil, stageErr(name, err)
	}

	floor := p.p.params.MinFeeRate
	if minFeeRate != nil && *minFeeRate > floor {
		floor = *minFeeRate
	}
	feeRate := floor
	if minFeeRate == nil && feeRate < psbtutil.MinRelayFeeRate {
		feeRate = psbtutil.MinRelayFeeRate
	}
	if err := p.applyFee(payjoin, feeRate, maxFeeRate); err != nil {
		return nil, stageErr(name, err)
	}

	isReceiverInput := make(map[wire.OutPoint]bool)
	for _, outpoint := range p.receiverInputs {
		isReceiverInput[outpoint] = true
	}
	for i, in := range payjoin.UnsignedTx.TxIn {
		if !isReceiverInput[in.PreviousOutPoint] {
			clearSignatures(&payjoin.Inputs[i])
		}
	}
	for i := range payjoin.Outputs {
		payjoin.Outputs[i].Bip32Derivation = nil
	}

	toSign, err := psbtutil.Clone(payjoin)
	if err != nil {
		return nil, stageErr(name, err)
	}
	signed, err := signer.ProcessPsbt(toSign)
	if err != nil {
		return nil, stageErr(name, err)
	}
	if signed == nil ||
		len(signed.Inputs) != len(payjoin.Inputs) ||
		signed.UnsignedTx.TxHash() != payjoin.UnsignedTx.TxHash() {
		return nil, stageErrf(
			name, ErrInvalidSignedProposal, "transaction was modified",
		)
	}
	for i, in := range payjoin.UnsignedTx.TxIn {
		if !isReceiverInput[in.PreviousOutPoint] {
			continue
		}
		signedIn := signed.Inputs[i]
		if !psbtutil.IsInputFinalized(&signedIn) {
			return nil, stageErrf(
				name, ErrInvalidSignedProposal, "input %d not finalized", i,
			)
		}
		payjoin.Inputs[i] = psbt.PInput{
			NonWitnessUtxo:     payjoin.Inputs[i].NonWitnessUtxo,
			WitnessUtxo:        payjoin.Inputs[i].WitnessUtxo,
			FinalScriptSig:     signedIn.FinalScriptSig,
			FinalScriptWitness: signedIn.FinalScriptWitness,
		}
	}

	senderFinals, err := psbtutil.FinalTxIns(p.p.psbt)
	if err != nil {
		return nil, stageErrf(name, ErrInvalidProposal, "%s", err)
	}
	finalTx, err := psbtutil.PredictTx(payjoin, senderFinals)
	if err != nil {
		return nil, stageErrf(name, ErrInvalidProposal, "%s", err)
	}
	weight := psbtutil.TxWeight(finalTx)
	fee, err := psbtutil.Fee(payjoin)
	if err != nil {
		return nil, stageErrf(name, ErrInvalidProposal, "%s", err)
	}
	rate := psbtutil.FeeRateFromFee(fee, weight)
	if !floor.Satisfies(fee, weight) {
		return nil, stageErrf(
			name, ErrFeerateOutOfRange, "%s sat/vB is below %s sat/vB",
			rate.SatPerVByte(), floor.SatPerVByte(),
		)
	}
	if maxFeeRate != nil && maxFeeRate.Exceeded(fee, weight) {
		return nil, stageErrf(
			name, ErrFeerateOutOfRange, "%s sat/vB is above %s sat/vB",
			rate.SatPerVByte(), maxFeeRate.SatPerVByte(),
		)
	}

	p.logger().Debugf(
		"payjoin proposal %s finalized at %s sat/vB",
		finalTx.TxHash(), rate.SatPerVByte(),
	)
	return &PayjoinProposal{
		stage:          p.next(),
		payjoin:        payjoin,
		finalTx:        finalTx,
		receiverInputs: p.receiverInputs,
	}, nil
}

// applyFee makes the sender pay, up to its max contribution, for the weight
// of the receiver inputs at the given rate, and the receiver pay for the rest
// and for any extra output, by reducing the drain output.
func (p *ProvisionalProposal) applyFee(
	payjoin *psbt.Packet, feeRate psbtutil.FeeRate, maxFeeRate *psbtutil.FeeRate,
) error {
	tx := payjoin.UnsignedTx
	receiverInputs := make(map[wire.OutPoint]bool)
	for _, outpoint := range p.receiverInputs {
		receiverInputs[outpoint] = true
	}

	var inputWeight int64
	for i, in := range tx.TxIn {
		if !receiverInputs[in.PreviousOutPoint] {
			continue
		}
		w, err := psbtutil.ExpectedInputWeight(payjoin, i)
		if err != nil {
			return fmt.Errorf("receiver input %d: %w", i, err)
		}
		inputWeight += w
	}

	additionalFee := feeRate.FeeForWeight(inputWeight)
	receiverFee := additionalFee
	if c := p.p.params.AdditionalFeeContribution; c != nil && additionalFee > 0 {
		vout := p.outputs.senderVout(c.OutputIndex, len(tx.TxOut))
		if vout < 0 {
			return fmt.Errorf(
				"%w: fee output %d not found", ErrInvalidProposal, c.OutputIndex,
			)
		}
		senderFee := c.MaxAmount
		if additionalFee < senderFee {
			senderFee = additionalFee
		}
		if senderFee > btcutil.Amount(tx.TxOut[vout].Value) {
			senderFee = btcutil.Amount(tx.TxOut[vout].Value)
		}
		tx.TxOut[vout].Value -= int64(senderFee)
		receiverFee -= senderFee
	}

	var outputWeight int64
	for _, out := range tx.TxOut {
		outputWeight += psbtutil.OutputWeight(out)
	}
	for _, out := range p.p.psbt.UnsignedTx.TxOut {
		outputWeight -= psbtutil.OutputWeight(out)
	}
	if outputWeight > 0 {
		receiverFee += feeRate.FeeForWeight(outputWeight)
	} else {
		outputWeight = 0
	}

	if maxFeeRate != nil {
		maxFee := maxFeeRate.FeeForWeight(inputWeight) +
			maxFeeRate.FeeForWeight(outputWeight)
		if receiverFee > maxFee {
			return fmt.Errorf(
				"%w: receiver fee %d sats exceeds %d sats allowed by max fee rate",
				ErrFeerateOutOfRange, receiverFee, maxFee,
			)
		}
	}

	drain := tx.TxOut[p.outputs.changeVout]
	if int64(receiverFee) > drain.Value {
		return fmt.Errorf(
			"%w: drain output can't pay %d sats of fees",
			ErrFeerateOutOfRange, receiverFee,
		)
	}
	drain.Value -= int64(receiverFee)
	return nil
}

func clearSignatures(in *psbt.PInput) {
	in.FinalScriptSig = nil
	in.FinalScriptWitness = nil
	in.PartialSigs = nil
	in.TaprootKeySpendSig = nil
	in.TaprootScriptSpendSig = nil
}

func insertAt[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func contains(s []int, v int) bool {
	i := sort.SearchInts(s, v)
	return i < len(s) && s[i] == v
}
