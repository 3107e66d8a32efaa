package ports

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/tdex-network/tdex-payjoin/pkg/receive"
)

// Wallet is what a payjoin session needs from the wallet of its owner: on
// the receiver side it checks and signs the proposal and provides the
// inputs to contribute, on the sender side it signs the payjoin returned by
// the receiver.
type Wallet interface {
	Address() btcutil.Address
	receive.BroadcastChecker
	receive.ScriptChecker
	receive.PsbtProcessor
	SignPsbt(p *psbt.Packet) error
	CandidateInputs() []receive.CandidateInput
	LockUtxos(outpoints []wire.OutPoint)
}
