package send

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/receive"
	"github.com/tdex-network/tdex-payjoin/pkg/wallet"
)

const (
	receiverInputValue = 20_000
	contribution       = 68
)

var regtest = &chaincfg.RegressionNetParams

type proposalFixture struct {
	sender         *Sender
	receiverScript []byte
}

func newProposalFixture(
	t *testing.T, disableOutputSubstitution bool, minFeeRate psbtutil.FeeRate,
) *proposalFixture {
	gateway, err := ohttp.NewGateway(1)
	require.NoError(t, err)
	senderWallet, err := wallet.NewRandom(regtest)
	require.NoError(t, err)
	receiverWallet, err := wallet.NewRandom(regtest)
	require.NoError(t, err)
	senderWallet.AddUtxo(wire.OutPoint{Hash: chainhash.Hash{1}}, 150_000)

	receiver, err := receive.NewReceiver(receive.ReceiverOpts{
		Address:   receiverWallet.Address().EncodeAddress(),
		Directory: "https://directory.example.com",
		Relay:     "https://relay.example.com",
		OhttpKeys: gateway.KeyConfig(),
		Network:   regtest,
	})
	require.NoError(t, err)
	uri, err := receiver.PjUriBuilder()
	require.NoError(t, err)

	original, err := senderWallet.CreatePsbt(
		[]*wire.TxOut{wire.NewTxOut(100_000, receiverWallet.Script())},
		psbtutil.FeeRateFromSatPerVByte(2),
	)
	require.NoError(t, err)
	b64, err := psbtutil.Encode(original)
	require.NoError(t, err)

	builder, err := NewSenderBuilder(b64, uri.Build(), regtest)
	require.NoError(t, err)
	changeIndex := 1
	sender, err := builder.
		DisableOutputSubstitution(disableOutputSubstitution).
		BuildWithAdditionalFee(contribution, &changeIndex, minFeeRate, false)
	require.NoError(t, err)

	return &proposalFixture{sender, receiverWallet.Script()}
}

// proposal returns a well formed proposal adding one receiver input, whose
// value goes to the payee output, with the sender paying for it.
func (f *proposalFixture) proposal(t *testing.T) *psbt.Packet {
	p := f.sender.OriginalPsbt()
	for i := range p.Inputs {
		p.Inputs[i].FinalScriptWitness = nil
		p.Inputs[i].FinalScriptSig = nil
	}

	witness, err := psbtutil.SerializeWitness(
		wire.TxWitness{make([]byte, 72), make([]byte, 33)},
	)
	require.NoError(t, err)
	outpoint := wire.OutPoint{Hash: chainhash.Hash{9}}
	in := wire.NewTxIn(&outpoint, nil, nil)
	in.Sequence = p.UnsignedTx.TxIn[0].Sequence
	p.UnsignedTx.TxIn = append(p.UnsignedTx.TxIn, in)
	p.Inputs = append(p.Inputs, psbt.PInput{
		WitnessUtxo:        wire.NewTxOut(receiverInputValue, f.receiverScript),
		FinalScriptWitness: witness,
	})

	p.UnsignedTx.TxOut[0].Value += receiverInputValue
	p.UnsignedTx.TxOut[1].Value -= contribution
	return p
}

func TestProcessProposal(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		f := newProposalFixture(t, false, psbtutil.MinRelayFeeRate)
		p := f.proposal(t)
		require.NoError(t, f.sender.processProposal(p))
		require.NotNil(t, p.Inputs[0].WitnessUtxo)
		require.False(t, psbtutil.IsInputFinalized(&p.Inputs[0]))
	})

	t.Run("valid with substitution disabled", func(t *testing.T) {
		f := newProposalFixture(t, true, psbtutil.MinRelayFeeRate)
		p := f.proposal(t)
		extra := wire.NewTxOut(1000, append([]byte{0x00, 0x14}, make([]byte, 20)...))
		p.UnsignedTx.TxOut = append([]*wire.TxOut{extra}, p.UnsignedTx.TxOut...)
		p.Outputs = append(p.Outputs, psbt.POutput{})
		p.UnsignedTx.TxOut[1].Value -= 1000
		require.NoError(t, f.sender.processProposal(p))
	})

	tests := []struct {
		name       string
		disabled   bool
		minFeeRate psbtutil.FeeRate
		mutate     func(p *psbt.Packet, f *proposalFixture)
	}{
		{
			name: "version changed",
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.UnsignedTx.Version++
			},
		},
		{
			name: "locktime changed",
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.UnsignedTx.LockTime++
			},
		},
		{
			name: "sender input finalized",
			mutate: func(p *psbt.Packet, f *proposalFixture) {
				p.Inputs[0].FinalScriptWitness = f.sender.original.Inputs[0].FinalScriptWitness
			},
		},
		{
			name: "sender input sequence changed",
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.UnsignedTx.TxIn[0].Sequence--
				p.UnsignedTx.TxIn[1].Sequence--
			},
		},
		{
			name: "sender input missing",
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.UnsignedTx.TxIn = p.UnsignedTx.TxIn[1:]
				p.Inputs = p.Inputs[1:]
			},
		},
		{
			name: "receiver input not finalized",
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.Inputs[1].FinalScriptWitness = nil
			},
		},
		{
			name: "receiver input without utxo",
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.Inputs[1].WitnessUtxo = nil
			},
		},
		{
			name: "receiver input with different sequence",
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.UnsignedTx.TxIn[1].Sequence = wire.MaxTxInSequenceNum
			},
		},
		{
			name: "fee contribution exceeds max",
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.UnsignedTx.TxOut[1].Value--
			},
		},
		{
			name: "payee took the fee contribution",
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.UnsignedTx.TxOut[0].Value += contribution
			},
		},
		{
			name: "absolute fee decreased",
			mutate: func(p *psbt.Packet, f *proposalFixture) {
				p.UnsignedTx.TxOut[1].Value = f.sender.original.UnsignedTx.TxOut[1].Value
				p.UnsignedTx.TxOut[0].Value += 1
			},
		},
		{
			name: "sender output missing",
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.UnsignedTx.TxOut = p.UnsignedTx.TxOut[:1]
				p.Outputs = p.Outputs[:1]
			},
		},
		{
			name:     "payee output substituted",
			disabled: true,
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.UnsignedTx.TxOut[0].PkScript = []byte{0x00, 0x14, 0x01}
			},
		},
		{
			name:     "payee output decreased",
			disabled: true,
			mutate: func(p *psbt.Packet, _ *proposalFixture) {
				p.UnsignedTx.TxOut[0].Value -= receiverInputValue + 1
			},
		},
		{
			name:       "fee rate below min",
			minFeeRate: psbtutil.FeeRateFromSatPerVByte(10),
			mutate:     func(*psbt.Packet, *proposalFixture) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minFeeRate := tt.minFeeRate
			if minFeeRate == 0 {
				minFeeRate = psbtutil.MinRelayFeeRate
			}
			f := newProposalFixture(t, tt.disabled, minFeeRate)
			p := f.proposal(t)
			tt.mutate(p, f)

			err := f.sender.processProposal(p)
			require.ErrorIs(t, err, ErrInvalidProposal)
		})
	}
}
