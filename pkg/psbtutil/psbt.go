package psbtutil

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrMissingUtxo ...
	ErrMissingUtxo = errors.New("psbt input is missing previous output data")
	// ErrUtxoMismatch ...
	ErrUtxoMismatch = errors.New(
		"psbt input previous output data does not match the spent outpoint",
	)
	// ErrMissingFinalScript ...
	ErrMissingFinalScript = errors.New(
		"cannot predict weight of an input without final script sig or witness",
	)
	// ErrInvalidOutPoint ...
	ErrInvalidOutPoint = errors.New("outpoint must be in the form txid:vout")
)

// Decode parses a base64 encoded psbt.
func Decode(b64 string) (*psbt.Packet, error) {
	return psbt.NewFromRawBytes(strings.NewReader(b64), true)
}

// Encode returns the base64 encoding of the given psbt.
func Encode(p *psbt.Packet) (string, error) {
	return p.B64Encode()
}

// Clone returns a deep copy of the given psbt.
func Clone(p *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return nil, err
	}
	return psbt.NewFromRawBytes(&buf, false)
}

// InputUtxo returns the previous output spent by the psbt input at the given
// index, looking at the witness utxo first and then at the non-witness one.
func InputUtxo(p *psbt.Packet, index int) (*wire.TxOut, error) {
	if index < 0 || index >= len(p.Inputs) {
		return nil, fmt.Errorf("input index %d out of range", index)
	}
	return PrevOut(p.UnsignedTx.TxIn[index].PreviousOutPoint, &p.Inputs[index])
}

// PrevOut returns the output spent by outpoint according to the given psbt
// input data.
func PrevOut(outpoint wire.OutPoint, in *psbt.PInput) (*wire.TxOut, error) {
	if in.NonWitnessUtxo != nil {
		if in.NonWitnessUtxo.TxHash() != outpoint.Hash ||
			int(outpoint.Index) >= len(in.NonWitnessUtxo.TxOut) {
			return nil, ErrUtxoMismatch
		}
		prevOut := in.NonWitnessUtxo.TxOut[outpoint.Index]
		if in.WitnessUtxo != nil &&
			(in.WitnessUtxo.Value != prevOut.Value ||
				!bytes.Equal(in.WitnessUtxo.PkScript, prevOut.PkScript)) {
			return nil, ErrUtxoMismatch
		}
		return prevOut, nil
	}
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo, nil
	}
	return nil, ErrMissingUtxo
}

// InputsValue returns the sum of the values of all the psbt inputs.
func InputsValue(p *psbt.Packet) (btcutil.Amount, error) {
	var total btcutil.Amount
	for i := range p.Inputs {
		prevOut, err := InputUtxo(p, i)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
		total += btcutil.Amount(prevOut.Value)
	}
	return total, nil
}

// OutputsValue returns the sum of the values of all the tx outputs.
func OutputsValue(tx *wire.MsgTx) btcutil.Amount {
	var total btcutil.Amount
	for _, out := range tx.TxOut {
		total += btcutil.Amount(out.Value)
	}
	return total
}

// Fee returns the absolute fee paid by the given psbt.
func Fee(p *psbt.Packet) (btcutil.Amount, error) {
	in, err := InputsValue(p)
	if err != nil {
		return 0, err
	}
	fee := in - OutputsValue(p.UnsignedTx)
	if fee < 0 {
		return 0, fmt.Errorf("outputs exceed inputs by %d sats", -fee)
	}
	return fee, nil
}

// IsInputFinalized returns whether the given input carries a final script
// sig or witness.
func IsInputFinalized(in *psbt.PInput) bool {
	return len(in.FinalScriptSig) > 0 || len(in.FinalScriptWitness) > 0
}

// TxWeight returns the weight of the given transaction.
func TxWeight(tx *wire.MsgTx) int64 {
	return blockchain.GetTransactionWeight(btcutil.NewTx(tx))
}

// PredictTx returns the transaction the psbt will produce once signed.
// Finalized inputs use their own final scripts, the others are looked up in
// known by previous outpoint.
func PredictTx(
	p *psbt.Packet, known map[wire.OutPoint]*wire.TxIn,
) (*wire.MsgTx, error) {
	tx := p.UnsignedTx.Copy()
	for i, in := range p.Inputs {
		txIn := tx.TxIn[i]
		if IsInputFinalized(&in) {
			txIn.SignatureScript = in.FinalScriptSig
			if len(in.FinalScriptWitness) > 0 {
				witness, err := ParseWitness(in.FinalScriptWitness)
				if err != nil {
					return nil, fmt.Errorf("input %d: %w", i, err)
				}
				txIn.Witness = witness
			}
			continue
		}
		signed, ok := known[txIn.PreviousOutPoint]
		if !ok {
			return nil, fmt.Errorf("input %d: %w", i, ErrMissingFinalScript)
		}
		txIn.SignatureScript = signed.SignatureScript
		txIn.Witness = signed.Witness
	}
	return tx, nil
}

// PredictWeight returns the weight of the transaction returned by PredictTx.
func PredictWeight(
	p *psbt.Packet, known map[wire.OutPoint]*wire.TxIn,
) (int64, error) {
	tx, err := PredictTx(p, known)
	if err != nil {
		return 0, err
	}
	return TxWeight(tx), nil
}

// FinalTxIns returns the finalized inputs of the psbt indexed by previous
// outpoint, in the form expected by PredictTx.
func FinalTxIns(p *psbt.Packet) (map[wire.OutPoint]*wire.TxIn, error) {
	finals := make(map[wire.OutPoint]*wire.TxIn)
	for i, in := range p.Inputs {
		if !IsInputFinalized(&in) {
			continue
		}
		txIn := &wire.TxIn{
			PreviousOutPoint: p.UnsignedTx.TxIn[i].PreviousOutPoint,
			SignatureScript:  in.FinalScriptSig,
		}
		if len(in.FinalScriptWitness) > 0 {
			witness, err := ParseWitness(in.FinalScriptWitness)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
			txIn.Witness = witness
		}
		finals[txIn.PreviousOutPoint] = txIn
	}
	return finals, nil
}

// ParseWitness decodes a serialized witness stack.
func ParseWitness(b []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(b)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > txscript.MaxScriptSize {
		return nil, fmt.Errorf("too many witness items: %d", count)
	}
	witness := make(wire.TxWitness, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := wire.ReadVarBytes(r, 0, txscript.MaxScriptSize, "witness")
		if err != nil {
			return nil, err
		}
		witness = append(witness, item)
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("unexpected %d trailing witness bytes", r.Len())
	}
	return witness, nil
}

// SerializeWitness encodes a witness stack as expected by the final script
// witness psbt field.
func SerializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(witness))); err != nil {
		return nil, err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// FormatOutPoint returns the txid:vout representation of an outpoint.
func FormatOutPoint(outpoint wire.OutPoint) string {
	return fmt.Sprintf("%s:%d", outpoint.Hash, outpoint.Index)
}

// ParseOutPoint parses a txid:vout string.
func ParseOutPoint(s string) (*wire.OutPoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return nil, ErrInvalidOutPoint
	}
	hash, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOutPoint, err)
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOutPoint, err)
	}
	return wire.NewOutPoint(hash, uint32(vout)), nil
}
