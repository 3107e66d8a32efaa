package send_test

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-payjoin/pkg/directory"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/receive"
	"github.com/tdex-network/tdex-payjoin/pkg/transport"
	"github.com/tdex-network/tdex-payjoin/pkg/wallet"
)

const paymentAmount = 100_000

var network = &chaincfg.RegressionNetParams

type fixture struct {
	relay          *url.URL
	client         *transport.HTTPClient
	senderWallet   *wallet.Wallet
	receiverWallet *wallet.Wallet
	receiver       *receive.Receiver
	uri            string
	original       string
}

func newFixture(t *testing.T) *fixture {
	gateway, err := ohttp.NewGateway(1)
	require.NoError(t, err)
	srv := httptest.NewServer(directory.NewServer(gateway, time.Minute))
	t.Cleanup(srv.Close)
	relay, err := url.Parse(srv.URL)
	require.NoError(t, err)

	senderWallet, err := wallet.NewRandom(network)
	require.NoError(t, err)
	receiverWallet, err := wallet.NewRandom(network)
	require.NoError(t, err)
	senderWallet.AddUtxo(wire.OutPoint{Hash: chainhash.Hash{1}}, 150_000)
	receiverWallet.AddUtxo(wire.OutPoint{Hash: chainhash.Hash{9}}, 20_000)

	receiver, err := receive.NewReceiver(receive.ReceiverOpts{
		Address:   receiverWallet.Address().EncodeAddress(),
		Directory: srv.URL,
		Relay:     srv.URL,
		OhttpKeys: gateway.KeyConfig(),
		Network:   network,
	})
	require.NoError(t, err)
	builder, err := receiver.PjUriBuilder()
	require.NoError(t, err)

	return &fixture{
		relay:          relay,
		client:         transport.NewHTTPClient(5 * time.Second),
		senderWallet:   senderWallet,
		receiverWallet: receiverWallet,
		receiver:       receiver,
		uri:            builder.Amount(paymentAmount).Build(),
		original:       createPsbt(t, senderWallet, wire.NewTxOut(paymentAmount, receiverWallet.Script())),
	}
}

func createPsbt(t *testing.T, w *wallet.Wallet, outs ...*wire.TxOut) string {
	p, err := w.CreatePsbt(outs, psbtutil.FeeRateFromSatPerVByte(2))
	require.NoError(t, err)
	b64, err := psbtutil.Encode(p)
	require.NoError(t, err)
	return b64
}

func (f *fixture) post(t *testing.T, req transport.Request) []byte {
	res, err := f.client.Post(context.Background(), req)
	require.NoError(t, err)
	return res
}

// receive plays the receiver side of the session, from the mailbox poll to
// the delivery of the proposal.
func (f *fixture) receive(t *testing.T) *receive.PayjoinProposal {
	req, ctx, err := f.receiver.ExtractReq()
	require.NoError(t, err)
	proposal, err := f.receiver.ProcessRes(f.post(t, req), ctx)
	require.NoError(t, err)
	require.NotNil(t, proposal)

	owned, err := proposal.CheckBroadcastSuitability(nil, f.receiverWallet)
	require.NoError(t, err)
	seen, err := owned.CheckInputsNotOwned(f.receiverWallet)
	require.NoError(t, err)
	unknown, err := seen.CheckNoInputsSeenBefore(f.receiverWallet)
	require.NoError(t, err)
	wantsOutputs, err := unknown.IdentifyReceiverOutputs(f.receiverWallet)
	require.NoError(t, err)
	wantsInputs, err := wantsOutputs.CommitOutputs()
	require.NoError(t, err)
	provisional, err := wantsInputs.TryContributeInputs(f.receiverWallet.CandidateInputs())
	require.NoError(t, err)
	payjoin, err := provisional.FinalizeProposal(f.receiverWallet, nil, nil)
	require.NoError(t, err)

	req, ctx, err = payjoin.ExtractV2Req()
	require.NoError(t, err)
	require.NoError(t, payjoin.ProcessRes(f.post(t, req), ctx))
	return payjoin
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
