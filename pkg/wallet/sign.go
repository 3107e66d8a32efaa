package wallet

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
)

// p2wpkhWitnessWeight is the weight of a P2WPKH witness: items count and
// the signature and pubkey with their lengths.
const p2wpkhWitnessWeight = 108

// SignPsbt signs and finalizes every input of the psbt spending the wallet
// script. Finalized inputs and inputs owned by others are left untouched.
func (w *Wallet) SignPsbt(p *psbt.Packet) error {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range p.UnsignedTx.TxIn {
		prevOut, err := psbtutil.InputUtxo(p, i)
		if err != nil {
			continue
		}
		prevOuts[in.PreviousOutPoint] = prevOut
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(p.UnsignedTx, fetcher)

	updater, err := psbt.NewUpdater(p)
	if err != nil {
		return err
	}
	pubkey := w.key.PubKey().SerializeCompressed()

	for i, in := range p.UnsignedTx.TxIn {
		if psbtutil.IsInputFinalized(&p.Inputs[i]) {
			continue
		}
		prevOut, ok := prevOuts[in.PreviousOutPoint]
		if !ok || !bytes.Equal(prevOut.PkScript, w.script) {
			continue
		}
		if p.Inputs[i].WitnessUtxo == nil {
			p.Inputs[i].WitnessUtxo = prevOut
		}

		sig, err := txscript.RawTxInWitnessSignature(
			p.UnsignedTx, sigHashes, i, prevOut.Value, prevOut.PkScript,
			txscript.SigHashAll, w.key,
		)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if _, err := updater.Sign(i, sig, pubkey, nil, nil); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if err := psbt.Finalize(p, i); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

// ProcessPsbt signs a copy of the psbt and returns it.
func (w *Wallet) ProcessPsbt(p *psbt.Packet) (*psbt.Packet, error) {
	signed, err := psbtutil.Clone(p)
	if err != nil {
		return nil, err
	}
	if err := w.SignPsbt(signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// CreatePsbt funds, signs and finalizes a transaction with the given outputs,
// paying feeRate. The change, if not dust, goes back to the wallet and is
// appended as last output.
func (w *Wallet) CreatePsbt(
	outputs []*wire.TxOut, feeRate psbtutil.FeeRate,
) (*psbt.Packet, error) {
	var target int64
	tx := wire.NewMsgTx(2)
	for _, out := range outputs {
		target += out.Value
		tx.AddTxOut(wire.NewTxOut(out.Value, out.PkScript))
	}

	candidates := w.CandidateInputs()
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Psbt.WitnessUtxo.Value >
			candidates[j].Psbt.WitnessUtxo.Value
	})

	change := wire.NewTxOut(0, w.Script())
	var selected int64
	for _, c := range candidates {
		outpoint := c.TxIn.PreviousOutPoint
		in := wire.NewTxIn(&outpoint, nil, nil)
		in.Sequence = wire.MaxTxInSequenceNum - 2
		tx.AddTxIn(in)
		selected += c.Psbt.WitnessUtxo.Value

		withChange := tx.Copy()
		withChange.AddTxOut(change)
		fee := int64(feeRate.FeeForWeight(estimateWeight(withChange)))
		changeValue := selected - target - fee
		if changeValue < 0 {
			continue
		}

		changeOut := wire.NewTxOut(changeValue, w.Script())
		if !isDust(changeOut, feeRate) {
			tx.AddTxOut(changeOut)
		} else if selected-target < int64(feeRate.FeeForWeight(estimateWeight(tx))) {
			continue
		}
		return w.newSignedPsbt(tx)
	}
	return nil, ErrInsufficientFunds
}

func (w *Wallet) newSignedPsbt(tx *wire.MsgTx) (*psbt.Packet, error) {
	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	w.lock.RLock()
	for i, in := range tx.TxIn {
		prevOut, ok := w.utxos[in.PreviousOutPoint]
		if !ok {
			w.lock.RUnlock()
			return nil, ErrUnknownUtxo
		}
		p.Inputs[i].WitnessUtxo = wire.NewTxOut(prevOut.Value, prevOut.PkScript)
	}
	w.lock.RUnlock()

	if err := w.SignPsbt(p); err != nil {
		return nil, err
	}
	return p, nil
}

// estimateWeight returns the weight of the tx once its P2WPKH inputs are
// signed.
func estimateWeight(tx *wire.MsgTx) int64 {
	// segwit marker and flag
	weight := psbtutil.TxWeight(tx) + 2
	return weight + int64(len(tx.TxIn))*p2wpkhWitnessWeight
}

// isDust tells whether spending the P2WPKH output would cost more than a
// third of its value at the given rate, with a floor of 1 sat/vB.
func isDust(out *wire.TxOut, feeRate psbtutil.FeeRate) bool {
	if feeRate < psbtutil.MinRelayFeeRate {
		feeRate = psbtutil.MinRelayFeeRate
	}
	// Spending a P2WPKH output adds 67 vbytes on top of the output size.
	vsize := int64(out.SerializeSize() + 67)
	return int64(out.Value) < 3*int64(feeRate.FeeForWeight(vsize*4))
}

func checkTransaction(tx *wire.MsgTx) error {
	if err := blockchain.CheckTransactionSanity(btcutil.NewTx(tx)); err != nil {
		return err
	}
	for i, in := range tx.TxIn {
		if len(in.SignatureScript) == 0 && len(in.Witness) == 0 {
			return fmt.Errorf("input %d is not signed", i)
		}
	}
	return nil
}
