package receive

import (
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// BroadcastChecker tells whether the original transaction could be
// broadcast as is, for example by testing it against the mempool.
type BroadcastChecker interface {
	CanBroadcast(tx *wire.MsgTx) (bool, error)
}

// ScriptChecker tells whether an output script belongs to the receiver.
type ScriptChecker interface {
	IsOwned(script []byte) (bool, error)
}

// OutpointChecker tells whether an outpoint was already seen in a previous
// proposal.
type OutpointChecker interface {
	IsKnown(outpoint wire.OutPoint) (bool, error)
}

// PsbtProcessor signs and finalizes the receiver inputs of a psbt.
type PsbtProcessor interface {
	ProcessPsbt(p *psbt.Packet) (*psbt.Packet, error)
}

// BroadcastCheckerFunc ...
type BroadcastCheckerFunc func(tx *wire.MsgTx) (bool, error)

func (f BroadcastCheckerFunc) CanBroadcast(tx *wire.MsgTx) (bool, error) {
	return f(tx)
}

// ScriptCheckerFunc ...
type ScriptCheckerFunc func(script []byte) (bool, error)

func (f ScriptCheckerFunc) IsOwned(script []byte) (bool, error) {
	return f(script)
}

// OutpointCheckerFunc ...
type OutpointCheckerFunc func(outpoint wire.OutPoint) (bool, error)

func (f OutpointCheckerFunc) IsKnown(outpoint wire.OutPoint) (bool, error) {
	return f(outpoint)
}

// PsbtProcessorFunc ...
type PsbtProcessorFunc func(p *psbt.Packet) (*psbt.Packet, error)

func (f PsbtProcessorFunc) ProcessPsbt(p *psbt.Packet) (*psbt.Packet, error) {
	return f(p)
}

// CandidateInput is an input the receiver may contribute to the payjoin.
// TxIn carries the previous outpoint and Psbt the utxo data required to
// sign it.
type CandidateInput struct {
	TxIn wire.TxIn
	Psbt psbt.PInput
}

// ReplacementOutput is a receiver output to substitute or add.
type ReplacementOutput struct {
	Script []byte
	Value  int64
}
