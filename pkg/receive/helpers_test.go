package receive_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-payjoin/pkg/bip21"
	"github.com/tdex-network/tdex-payjoin/pkg/envelope"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/receive"
	"github.com/tdex-network/tdex-payjoin/pkg/wallet"
)

const (
	directoryURL = "https://directory.example.com"
	relayURL     = "https://relay.example.com"

	paymentAmount  = 100_000
	receiverUtxo   = 20_000
	defaultQuery   = "v=2&minfeerate=1&additionalfeeoutputindex=1&maxadditionalfeecontribution=1000"
	noChangeParams = "v=2&minfeerate=1"
)

var network = &chaincfg.RegressionNetParams

type fixture struct {
	gateway        *ohttp.Gateway
	senderWallet   *wallet.Wallet
	receiverWallet *wallet.Wallet
	receiver       *receive.Receiver
	original       *psbt.Packet
	replyKey       *btcec.PrivateKey
}

func newFixture(t *testing.T, disableOutputSubstitution bool) *fixture {
	gateway, err := ohttp.NewGateway(1)
	require.NoError(t, err)

	senderWallet, err := wallet.NewRandom(network)
	require.NoError(t, err)
	receiverWallet, err := wallet.NewRandom(network)
	require.NoError(t, err)

	senderWallet.AddUtxo(wire.OutPoint{Hash: chainhash.Hash{1}}, 150_000)
	receiverWallet.AddUtxo(wire.OutPoint{Hash: chainhash.Hash{9}}, receiverUtxo)

	receiver, err := receive.NewReceiver(receive.ReceiverOpts{
		Address:                   receiverWallet.Address().EncodeAddress(),
		Directory:                 directoryURL,
		Relay:                     relayURL,
		OhttpKeys:                 gateway.KeyConfig(),
		DisableOutputSubstitution: disableOutputSubstitution,
		Network:                   network,
	})
	require.NoError(t, err)

	original, err := senderWallet.CreatePsbt(
		[]*wire.TxOut{wire.NewTxOut(paymentAmount, receiverWallet.Script())},
		psbtutil.FeeRateFromSatPerVByte(2),
	)
	require.NoError(t, err)

	replyKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return &fixture{
		gateway:        gateway,
		senderWallet:   senderWallet,
		receiverWallet: receiverWallet,
		receiver:       receiver,
		original:       original,
		replyKey:       replyKey,
	}
}

// deliver plays the directory role: it answers the receiver poll with the
// given mailbox content.
func (f *fixture) deliver(t *testing.T, status int, payload []byte) (*receive.UncheckedProposal, error) {
	req, ctx, err := f.receiver.ExtractReq()
	require.NoError(t, err)

	plain, serverCtx, err := f.gateway.DecapsulateRequest(req.Body)
	require.NoError(t, err)
	inner, err := ohttp.UnmarshalRequest(plain)
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, inner.Method)
	require.Equal(t, "/"+f.receiver.ID(), inner.Path)

	res := &ohttp.Response{Status: status, Body: payload}
	encRes, err := serverCtx.EncapsulateResponse(res.Marshal())
	require.NoError(t, err)
	return f.receiver.ProcessRes(encRes, ctx)
}

func (f *fixture) sealOriginal(t *testing.T, query string) []byte {
	b64, err := psbtutil.Encode(f.original)
	require.NoError(t, err)

	pjURL, err := f.receiver.PjURL()
	require.NoError(t, err)
	params, err := bip21.ParseEndpointParams(pjURL)
	require.NoError(t, err)

	msg := []byte(fmt.Sprintf("%s\n%s", b64, query))
	sealed, err := envelope.SealToReceiver(f.replyKey, params.ReceiverKey, msg)
	require.NoError(t, err)
	return sealed
}

func (f *fixture) uncheckedProposal(t *testing.T, query string) *receive.UncheckedProposal {
	proposal, err := f.deliver(t, http.StatusOK, f.sealOriginal(t, query))
	require.NoError(t, err)
	require.NotNil(t, proposal)
	return proposal
}

func (f *fixture) wantsOutputs(t *testing.T, query string) *receive.WantsOutputs {
	unchecked := f.uncheckedProposal(t, query)
	owned, err := unchecked.CheckBroadcastSuitability(nil, f.receiverWallet)
	require.NoError(t, err)
	seen, err := owned.CheckInputsNotOwned(f.receiverWallet)
	require.NoError(t, err)
	unknown, err := seen.CheckNoInputsSeenBefore(notSeen)
	require.NoError(t, err)
	wantsOutputs, err := unknown.IdentifyReceiverOutputs(f.receiverWallet)
	require.NoError(t, err)
	return wantsOutputs
}

var (
	notSeen = receive.OutpointCheckerFunc(func(wire.OutPoint) (bool, error) {
		return false, nil
	})
	alwaysOwned = receive.ScriptCheckerFunc(func([]byte) (bool, error) {
		return true, nil
	})
	neverOwned = receive.ScriptCheckerFunc(func([]byte) (bool, error) {
		return false, nil
	})
)

func requireStageError(t *testing.T, err error, stage string, target error) {
	require.ErrorIs(t, err, target)
	stageErr := &receive.StageError{}
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, stage, stageErr.Stage)
}

func verifyInputs(t *testing.T, p *psbt.Packet, tx *wire.MsgTx) {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range tx.TxIn {
		prevOut, err := psbtutil.InputUtxo(p, i)
		require.NoError(t, err)
		prevOuts[in.PreviousOutPoint] = prevOut
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range tx.TxIn {
		prevOut := prevOuts[in.PreviousOutPoint]
		engine, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags, nil,
			sigHashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, engine.Execute())
	}
}
