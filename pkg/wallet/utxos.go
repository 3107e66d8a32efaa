package wallet

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/tdex-network/tdex-payjoin/pkg/receive"
)

// AddUtxo registers an output locked by the wallet script.
func (w *Wallet) AddUtxo(outpoint wire.OutPoint, value int64) {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.utxos[outpoint] = wire.NewTxOut(value, w.Script())
}

// LockUtxos excludes the given utxos from the candidate inputs. Unknown
// outpoints are ignored.
func (w *Wallet) LockUtxos(outpoints []wire.OutPoint) {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, outpoint := range outpoints {
		if _, ok := w.utxos[outpoint]; ok {
			w.locked[outpoint] = true
		}
	}
}

// SpendUtxos removes the given utxos from the wallet.
func (w *Wallet) SpendUtxos(outpoints []wire.OutPoint) {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, outpoint := range outpoints {
		delete(w.utxos, outpoint)
		delete(w.locked, outpoint)
	}
}

// Balance returns the sum of the unlocked utxos.
func (w *Wallet) Balance() int64 {
	w.lock.RLock()
	defer w.lock.RUnlock()

	var balance int64
	for outpoint, out := range w.utxos {
		if !w.locked[outpoint] {
			balance += out.Value
		}
	}
	return balance
}

// CandidateInputs returns the unlocked utxos in a deterministic order, ready
// to be contributed to a payjoin.
func (w *Wallet) CandidateInputs() []receive.CandidateInput {
	w.lock.RLock()
	defer w.lock.RUnlock()

	candidates := make([]receive.CandidateInput, 0, len(w.utxos))
	for outpoint, out := range w.utxos {
		if w.locked[outpoint] {
			continue
		}
		candidates = append(candidates, receive.CandidateInput{
			TxIn: *wire.NewTxIn(&wire.OutPoint{
				Hash: outpoint.Hash, Index: outpoint.Index,
			}, nil, nil),
			Psbt: psbt.PInput{
				WitnessUtxo: wire.NewTxOut(out.Value, out.PkScript),
			},
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].TxIn.PreviousOutPoint, candidates[j].TxIn.PreviousOutPoint
		if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
			return c < 0
		}
		return a.Index < b.Index
	})
	return candidates
}
