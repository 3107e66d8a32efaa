package psbtutil

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	P2PK = iota
	P2PKH
	P2MS
	P2SH_P2WPKH
	P2SH_P2WSH
	P2WPKH
	P2WSH
	P2TR
	Unknown
)

// ErrUnknownInputWeight is returned when the weight of an input spending an
// unsupported script type cannot be predicted.
var ErrUnknownInputWeight = errors.New(
	"cannot predict the weight of an input spending this script type",
)

// NonWitnessInputWeight is the weight of an input without script sig and
// witness: hash + index + script sig len + sequence.
const NonWitnessInputWeight = (32 + 4 + 1 + 4) * 4

var (
	scriptSigSizeByScriptType = map[int]int{
		P2PKH:       107, // push + sig + push + compressed pubkey
		P2SH_P2WPKH: 23,  // push + p2wpkh script
	}
	witnessSizeByScriptType = map[int]int{
		P2SH_P2WPKH: 108, // items count + [sig, pubkey] with their lengths
		P2WPKH:      108,
		P2TR:        66, // items count + schnorr sig with its length
	}
)

// ScriptType classifies the script locked by the given psbt input, taking
// the redeem script into account for nested segwit.
func ScriptType(prevOutScript []byte, in *psbt.PInput) int {
	switch txscript.GetScriptClass(prevOutScript) {
	case txscript.PubKeyTy:
		return P2PK
	case txscript.PubKeyHashTy:
		return P2PKH
	case txscript.MultiSigTy:
		return P2MS
	case txscript.WitnessV0PubKeyHashTy:
		return P2WPKH
	case txscript.WitnessV0ScriptHashTy:
		return P2WSH
	case txscript.WitnessV1TaprootTy:
		return P2TR
	case txscript.ScriptHashTy:
		if in == nil || len(in.RedeemScript) <= 0 {
			return Unknown
		}
		switch txscript.GetScriptClass(in.RedeemScript) {
		case txscript.WitnessV0PubKeyHashTy:
			return P2SH_P2WPKH
		case txscript.WitnessV0ScriptHashTy:
			return P2SH_P2WSH
		}
	}
	return Unknown
}

// EstimateInputWeight returns the expected weight of a signed input spending
// a script of the given type.
func EstimateInputWeight(scriptType int) (int64, error) {
	scriptSigSize, hasScriptSig := scriptSigSizeByScriptType[scriptType]
	witnessSize, hasWitness := witnessSizeByScriptType[scriptType]
	if !hasScriptSig && !hasWitness {
		return 0, ErrUnknownInputWeight
	}
	weight := NonWitnessInputWeight + scriptSigSize*4
	if hasWitness {
		weight += witnessSize
	}
	return int64(weight), nil
}

// ExpectedInputWeight returns the expected weight of the signed psbt input at
// the given index.
func ExpectedInputWeight(p *psbt.Packet, index int) (int64, error) {
	prevOut, err := InputUtxo(p, index)
	if err != nil {
		return 0, err
	}
	return EstimateInputWeight(ScriptType(prevOut.PkScript, &p.Inputs[index]))
}

// MaxStandardInputWeight is the weight used when inputs of mixed types make a
// precise estimation meaningless.
func MaxStandardInputWeight() int64 {
	w, _ := EstimateInputWeight(P2PKH)
	return w
}

// OutputWeight returns the weight of the given output.
func OutputWeight(out *wire.TxOut) int64 {
	return int64(out.SerializeSize()) * 4
}
