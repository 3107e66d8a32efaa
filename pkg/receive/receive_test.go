package receive_test

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-payjoin/pkg/bip21"
	"github.com/tdex-network/tdex-payjoin/pkg/envelope"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/receive"
	"github.com/tdex-network/tdex-payjoin/pkg/transport"
	"github.com/tdex-network/tdex-payjoin/pkg/wallet"
)

func TestNewReceiver(t *testing.T) {
	gateway, err := ohttp.NewGateway(1)
	require.NoError(t, err)
	w, err := wallet.NewRandom(network)
	require.NoError(t, err)

	validOpts := receive.ReceiverOpts{
		Address:   w.Address().EncodeAddress(),
		Directory: directoryURL,
		Relay:     relayURL,
		OhttpKeys: gateway.KeyConfig(),
		Network:   network,
	}

	t.Run("valid", func(t *testing.T) {
		receiver, err := receive.NewReceiver(validOpts)
		require.NoError(t, err)
		require.NotEmpty(t, receiver.ID())
		require.WithinDuration(
			t, time.Now().Add(receive.DefaultExpireAfter), receiver.Expiry(), 2*time.Second,
		)

		uri, err := receiver.PjUriBuilder()
		require.NoError(t, err)
		parsed, err := bip21.Parse(uri.Amount(paymentAmount).Build(), network)
		require.NoError(t, err)
		pj, err := parsed.CheckPjSupported()
		require.NoError(t, err)
		require.Equal(t, "/"+receiver.ID(), pj.Endpoint().Path)
		require.Equal(t, receiver.ID(), envelope.ShortID(pj.ReceiverKey()))
		require.False(t, pj.OutputSubstitutionDisabled())
		expiry, ok := pj.Expiry()
		require.True(t, ok)
		require.True(t, expiry.Equal(receiver.Expiry()))
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name          string
			opts          func() receive.ReceiverOpts
			expectedError error
		}{
			{
				name: "missing network",
				opts: func() receive.ReceiverOpts {
					o := validOpts
					o.Network = nil
					return o
				},
				expectedError: receive.ErrInvalidReceiverOpts,
			},
			{
				name: "missing directory keys",
				opts: func() receive.ReceiverOpts {
					o := validOpts
					o.OhttpKeys = nil
					return o
				},
				expectedError: receive.ErrInvalidReceiverOpts,
			},
			{
				name: "invalid address",
				opts: func() receive.ReceiverOpts {
					o := validOpts
					o.Address = "not-an-address"
					return o
				},
				expectedError: bip21.ErrInvalidAddress,
			},
			{
				name: "invalid directory",
				opts: func() receive.ReceiverOpts {
					o := validOpts
					o.Directory = "directory.example.com"
					return o
				},
				expectedError: bip21.ErrInvalidEndpoint,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				receiver, err := receive.NewReceiver(tt.opts())
				require.ErrorIs(t, err, tt.expectedError)
				require.Nil(t, receiver)
			})
		}
	})
}

func TestReceiverProcessRes(t *testing.T) {
	t.Run("empty mailbox", func(t *testing.T) {
		for _, status := range []int{http.StatusAccepted, http.StatusOK} {
			f := newFixture(t, false)
			proposal, err := f.deliver(t, status, nil)
			require.NoError(t, err)
			require.Nil(t, proposal)
		}
	})

	t.Run("original proposal", func(t *testing.T) {
		f := newFixture(t, false)
		proposal := f.uncheckedProposal(t, defaultQuery)

		require.Equal(t, f.original.UnsignedTx.TxHash(), proposal.OriginalPsbt().UnsignedTx.TxHash())
		params := proposal.Params()
		require.Equal(t, 2, params.Version)
		require.Equal(t, psbtutil.FeeRateFromSatPerVByte(1), params.MinFeeRate)
		require.NotNil(t, params.AdditionalFeeContribution)
		require.Equal(t, 1, params.AdditionalFeeContribution.OutputIndex)
	})

	t.Run("garbage payload", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.deliver(t, http.StatusOK, bytes.Repeat([]byte{1}, 7168))
		require.Error(t, err)
	})

	t.Run("expired session", func(t *testing.T) {
		gateway, err := ohttp.NewGateway(1)
		require.NoError(t, err)
		w, err := wallet.NewRandom(network)
		require.NoError(t, err)
		receiver, err := receive.NewReceiver(receive.ReceiverOpts{
			Address:     w.Address().EncodeAddress(),
			Directory:   directoryURL,
			Relay:       relayURL,
			OhttpKeys:   gateway.KeyConfig(),
			ExpireAfter: time.Nanosecond,
			Network:     network,
		})
		require.NoError(t, err)

		time.Sleep(time.Second)
		_, _, err = receiver.ExtractReq()
		require.ErrorIs(t, err, transport.ErrSessionExpired)
	})
}

func TestReceiverJSON(t *testing.T) {
	f := newFixture(t, true)

	data, err := f.receiver.ToJSON()
	require.NoError(t, err)
	restored, err := receive.FromJSON(data)
	require.NoError(t, err)

	require.Equal(t, f.receiver.ID(), restored.ID())
	require.True(t, f.receiver.Expiry().Equal(restored.Expiry()))
	require.Equal(t, f.receiver.Address().String(), restored.Address().String())

	expected, err := f.receiver.PjURL()
	require.NoError(t, err)
	got, err := restored.PjURL()
	require.NoError(t, err)
	require.Equal(t, expected.String(), got.String())

	uri, err := restored.PjUriBuilder()
	require.NoError(t, err)
	parsed, err := bip21.Parse(uri.Build(), network)
	require.NoError(t, err)
	pj, err := parsed.CheckPjSupported()
	require.NoError(t, err)
	require.True(t, pj.OutputSubstitutionDisabled())
}

func TestPayjoin(t *testing.T) {
	f := newFixture(t, false)
	proposal := f.uncheckedProposal(t, defaultQuery)

	owned, err := proposal.CheckBroadcastSuitability(nil, f.receiverWallet)
	require.NoError(t, err)
	seen, err := owned.CheckInputsNotOwned(f.receiverWallet)
	require.NoError(t, err)
	unknown, err := seen.CheckNoInputsSeenBefore(notSeen)
	require.NoError(t, err)
	wantsOutputs, err := unknown.IdentifyReceiverOutputs(f.receiverWallet)
	require.NoError(t, err)
	wantsInputs, err := wantsOutputs.CommitOutputs()
	require.NoError(t, err)
	provisional, err := wantsInputs.TryContributeInputs(f.receiverWallet.CandidateInputs())
	require.NoError(t, err)
	payjoin, err := provisional.FinalizeProposal(f.receiverWallet, nil, nil)
	require.NoError(t, err)

	p := payjoin.Psbt()
	require.Len(t, p.UnsignedTx.TxIn, 2)
	require.Len(t, p.UnsignedTx.TxOut, 2)

	receiverOutpoint := wire.OutPoint{Hash: chainhash.Hash{9}}
	require.Equal(t, []wire.OutPoint{receiverOutpoint}, payjoin.UtxosToBeLocked())

	originalFee, err := psbtutil.Fee(f.original)
	require.NoError(t, err)
	payjoinFee, err := psbtutil.Fee(p)
	require.NoError(t, err)
	require.Greater(t, int64(payjoinFee), int64(originalFee))

	for i, in := range p.UnsignedTx.TxIn {
		finalized := psbtutil.IsInputFinalized(&p.Inputs[i])
		require.Equal(t, in.PreviousOutPoint == receiverOutpoint, finalized)
		require.Equal(t, f.original.UnsignedTx.TxIn[0].Sequence, in.Sequence)
	}

	var payment, change *wire.TxOut
	for _, out := range p.UnsignedTx.TxOut {
		if bytes.Equal(out.PkScript, f.receiverWallet.Script()) {
			payment = out
		} else {
			change = out
		}
	}
	require.NotNil(t, payment)
	require.NotNil(t, change)
	// The sender covers the receiver input at 1 sat/vB from its change.
	require.Equal(t, int64(paymentAmount+receiverUtxo), payment.Value)
	require.Equal(
		t, int64(payjoinFee-originalFee),
		f.original.UnsignedTx.TxOut[1].Value-change.Value,
	)

	// Once the sender signs its inputs the transaction is complete and valid.
	require.NoError(t, f.senderWallet.SignPsbt(p))
	require.True(t, p.IsComplete())
	tx, err := psbt.Extract(p)
	require.NoError(t, err)
	require.Equal(t, payjoin.Txid(), tx.TxHash())
	verifyInputs(t, p, tx)

	rate := psbtutil.FeeRateFromFee(payjoinFee, psbtutil.TxWeight(tx))
	require.True(t, rate >= psbtutil.FeeRateFromSatPerVByte(1))

	t.Run("reply", func(t *testing.T) {
		req, ctx, err := payjoin.ExtractV2Req()
		require.NoError(t, err)

		plain, serverCtx, err := f.gateway.DecapsulateRequest(req.Body)
		require.NoError(t, err)
		inner, err := ohttp.UnmarshalRequest(plain)
		require.NoError(t, err)
		require.Equal(t, http.MethodPost, inner.Method)
		require.Equal(t, "/"+envelope.ShortID(f.replyKey.PubKey()), inner.Path)

		msg, err := envelope.OpenFromReceiver(f.replyKey, inner.Body)
		require.NoError(t, err)
		b64, err := payjoin.PsbtBase64()
		require.NoError(t, err)
		require.Equal(t, b64, string(msg))

		res := &ohttp.Response{Status: http.StatusOK}
		encRes, err := serverCtx.EncapsulateResponse(res.Marshal())
		require.NoError(t, err)
		require.NoError(t, payjoin.ProcessRes(encRes, ctx))
	})
}

func TestPayjoinWithSubstitutedOutputs(t *testing.T) {
	f := newFixture(t, false)
	wantsOutputs := f.wantsOutputs(t, defaultQuery)

	extra, err := wallet.NewRandom(network)
	require.NoError(t, err)

	replaced, err := wantsOutputs.ReplaceReceiverOutputs([]receive.ReplacementOutput{
		{Script: f.receiverWallet.Script(), Value: paymentAmount - 10_000},
		{Script: extra.Script(), Value: 10_000},
	}, f.receiverWallet.Script())
	require.NoError(t, err)
	require.Len(t, replaced.PayjoinPsbt().UnsignedTx.TxOut, 3)

	wantsInputs, err := replaced.CommitOutputs()
	require.NoError(t, err)
	provisional, err := wantsInputs.TryContributeInputs(f.receiverWallet.CandidateInputs())
	require.NoError(t, err)
	payjoin, err := provisional.FinalizeProposal(f.receiverWallet, nil, nil)
	require.NoError(t, err)

	p := payjoin.Psbt()
	require.Len(t, p.UnsignedTx.TxOut, 3)
	var extraValue int64
	for _, out := range p.UnsignedTx.TxOut {
		if bytes.Equal(out.PkScript, extra.Script()) {
			extraValue = out.Value
		}
	}
	require.Equal(t, int64(10_000), extraValue)

	require.NoError(t, f.senderWallet.SignPsbt(p))
	tx, err := psbt.Extract(p)
	require.NoError(t, err)
	verifyInputs(t, p, tx)
}

func TestCheckBroadcastSuitability(t *testing.T) {
	t.Run("fee too low", func(t *testing.T) {
		f := newFixture(t, false)
		proposal := f.uncheckedProposal(t, defaultQuery)
		minFeeRate := psbtutil.FeeRateFromSatPerVByte(50)

		_, err := proposal.CheckBroadcastSuitability(&minFeeRate, f.receiverWallet)
		requireStageError(t, err, receive.StageUncheckedProposal, receive.ErrFeeTooLow)

		_, err = proposal.AssumeInteractiveReceiver()
		require.ErrorIs(t, err, receive.ErrStageConsumed)
	})

	t.Run("not broadcastable", func(t *testing.T) {
		f := newFixture(t, false)
		proposal := f.uncheckedProposal(t, defaultQuery)
		reject := receive.BroadcastCheckerFunc(func(*wire.MsgTx) (bool, error) {
			return false, nil
		})

		_, err := proposal.CheckBroadcastSuitability(nil, reject)
		requireStageError(t, err, receive.StageUncheckedProposal, receive.ErrOriginalPsbtNotBroadcastable)
	})

	t.Run("interactive receiver", func(t *testing.T) {
		f := newFixture(t, false)
		proposal := f.uncheckedProposal(t, defaultQuery)

		owned, err := proposal.AssumeInteractiveReceiver()
		require.NoError(t, err)
		require.NotNil(t, owned)

		_, err = proposal.CheckBroadcastSuitability(nil, f.receiverWallet)
		requireStageError(t, err, receive.StageUncheckedProposal, receive.ErrStageConsumed)
	})
}

func TestCheckInputsNotOwned(t *testing.T) {
	f := newFixture(t, false)
	proposal := f.uncheckedProposal(t, defaultQuery)
	owned, err := proposal.AssumeInteractiveReceiver()
	require.NoError(t, err)

	_, err = owned.CheckInputsNotOwned(alwaysOwned)
	requireStageError(t, err, receive.StageMaybeInputsOwned, receive.ErrInputOwnershipConflict)

	_, err = owned.CheckInputsNotOwned(neverOwned)
	require.ErrorIs(t, err, receive.ErrStageConsumed)
}

func TestCheckNoInputsSeenBefore(t *testing.T) {
	f := newFixture(t, false)
	proposal := f.uncheckedProposal(t, defaultQuery)
	owned, err := proposal.AssumeInteractiveReceiver()
	require.NoError(t, err)
	seen, err := owned.CheckInputsNotOwned(f.receiverWallet)
	require.NoError(t, err)

	known := f.original.UnsignedTx.TxIn[0].PreviousOutPoint
	checker := receive.OutpointCheckerFunc(func(outpoint wire.OutPoint) (bool, error) {
		return outpoint == known, nil
	})
	_, err = seen.CheckNoInputsSeenBefore(checker)
	requireStageError(t, err, receive.StageMaybeInputsSeen, receive.ErrUnnecessaryInputDuplication)
}

func TestIdentifyReceiverOutputs(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		checker       receive.ScriptChecker
		expectedError error
	}{
		{
			name:          "missing payment",
			query:         defaultQuery,
			checker:       neverOwned,
			expectedError: receive.ErrMissingPayment,
		},
		{
			name:          "fee output out of range",
			query:         "v=2&additionalfeeoutputindex=5&maxadditionalfeecontribution=1000",
			expectedError: receive.ErrInvalidProposal,
		},
		{
			name:          "fee output paying the receiver",
			query:         "v=2&additionalfeeoutputindex=0&maxadditionalfeecontribution=1000",
			expectedError: receive.ErrInvalidProposal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			proposal := f.uncheckedProposal(t, tt.query)
			owned, err := proposal.AssumeInteractiveReceiver()
			require.NoError(t, err)
			seen, err := owned.CheckInputsNotOwned(f.receiverWallet)
			require.NoError(t, err)
			unknown, err := seen.CheckNoInputsSeenBefore(notSeen)
			require.NoError(t, err)

			checker := tt.checker
			if checker == nil {
				checker = f.receiverWallet
			}
			_, err = unknown.IdentifyReceiverOutputs(checker)
			requireStageError(t, err, receive.StageOutputsUnknown, tt.expectedError)
		})
	}
}

func TestReplaceReceiverOutputs(t *testing.T) {
	other, err := wallet.NewRandom(network)
	require.NoError(t, err)

	tests := []struct {
		name          string
		disabled      bool
		query         string
		outputs       func(f *fixture) []receive.ReplacementOutput
		drain         func(f *fixture) []byte
		expectedError error
	}{
		{
			name:     "script change with substitution disabled by receiver",
			disabled: true,
			query:    defaultQuery,
			outputs: func(*fixture) []receive.ReplacementOutput {
				return []receive.ReplacementOutput{{Script: other.Script(), Value: paymentAmount}}
			},
			drain:         func(*fixture) []byte { return other.Script() },
			expectedError: receive.ErrSubstitutionDisabled,
		},
		{
			name:  "value decrease with substitution disabled by sender",
			query: defaultQuery + "&disableoutputsubstitution=true",
			outputs: func(f *fixture) []receive.ReplacementOutput {
				return []receive.ReplacementOutput{
					{Script: f.receiverWallet.Script(), Value: paymentAmount - 1},
					{Script: other.Script(), Value: 1},
				}
			},
			drain:         func(f *fixture) []byte { return f.receiverWallet.Script() },
			expectedError: receive.ErrSubstitutionDisabled,
		},
		{
			name:  "insufficient value",
			query: defaultQuery,
			outputs: func(f *fixture) []receive.ReplacementOutput {
				return []receive.ReplacementOutput{{Script: f.receiverWallet.Script(), Value: paymentAmount - 1}}
			},
			drain:         func(f *fixture) []byte { return f.receiverWallet.Script() },
			expectedError: receive.ErrOutputValueInsufficient,
		},
		{
			name:  "no outputs",
			query: defaultQuery,
			outputs: func(*fixture) []receive.ReplacementOutput {
				return nil
			},
			drain:         func(f *fixture) []byte { return f.receiverWallet.Script() },
			expectedError: receive.ErrOutputValueInsufficient,
		},
		{
			name:  "unknown drain script",
			query: defaultQuery,
			outputs: func(f *fixture) []receive.ReplacementOutput {
				return []receive.ReplacementOutput{{Script: f.receiverWallet.Script(), Value: paymentAmount}}
			},
			drain:         func(*fixture) []byte { return other.Script() },
			expectedError: receive.ErrInvalidDrainScript,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.disabled)
			wantsOutputs := f.wantsOutputs(t, tt.query)

			_, err := wantsOutputs.ReplaceReceiverOutputs(tt.outputs(f), tt.drain(f))
			requireStageError(t, err, receive.StageWantsOutputs, tt.expectedError)
		})
	}

	t.Run("value increase with substitution disabled", func(t *testing.T) {
		f := newFixture(t, true)
		wantsOutputs := f.wantsOutputs(t, defaultQuery)

		replaced, err := wantsOutputs.ReplaceReceiverOutputs([]receive.ReplacementOutput{
			{Script: f.receiverWallet.Script(), Value: paymentAmount + 1},
		}, f.receiverWallet.Script())
		require.NoError(t, err)
		require.NotNil(t, replaced)
	})

	t.Run("substitute receiver script", func(t *testing.T) {
		f := newFixture(t, false)
		wantsOutputs := f.wantsOutputs(t, defaultQuery)

		replaced, err := wantsOutputs.SubstituteReceiverScript(other.Script())
		require.NoError(t, err)
		out := replaced.PayjoinPsbt().UnsignedTx.TxOut[0]
		require.Equal(t, other.Script(), out.PkScript)
		require.Equal(t, int64(paymentAmount), out.Value)

		_, err = wantsOutputs.CommitOutputs()
		require.ErrorIs(t, err, receive.ErrStageConsumed)
	})
}

func TestTryContributeInputs(t *testing.T) {
	t.Run("no candidates", func(t *testing.T) {
		f := newFixture(t, false)
		wantsInputs, err := f.wantsOutputs(t, defaultQuery).CommitOutputs()
		require.NoError(t, err)

		_, err = wantsInputs.TryContributeInputs(nil)
		requireStageError(t, err, receive.StageWantsInputs, receive.ErrNoUsableInputs)
	})

	t.Run("only unusable candidates", func(t *testing.T) {
		f := newFixture(t, false)
		wantsInputs, err := f.wantsOutputs(t, defaultQuery).CommitOutputs()
		require.NoError(t, err)

		spent := f.original.UnsignedTx.TxIn[0].PreviousOutPoint
		candidates := []receive.CandidateInput{
			{
				TxIn: *wire.NewTxIn(&spent, nil, nil),
				Psbt: psbt.PInput{WitnessUtxo: wire.NewTxOut(1000, f.receiverWallet.Script())},
			},
			{
				TxIn: *wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{7}}, nil, nil),
			},
		}
		_, err = wantsInputs.TryContributeInputs(candidates)
		requireStageError(t, err, receive.StageWantsInputs, receive.ErrNoUsableInputs)
	})

	t.Run("one input out of many", func(t *testing.T) {
		f := newFixture(t, false)
		small := wire.OutPoint{Hash: chainhash.Hash{2}}
		big := wire.OutPoint{Hash: chainhash.Hash{3}}
		f.receiverWallet.AddUtxo(small, 10_000)
		f.receiverWallet.AddUtxo(big, 60_000)
		f.receiverWallet.AddUtxo(wire.OutPoint{Hash: chainhash.Hash{4}}, 15_000)

		wantsInputs, err := f.wantsOutputs(t, defaultQuery).CommitOutputs()
		require.NoError(t, err)
		candidates := f.receiverWallet.CandidateInputs()
		require.Len(t, candidates, 4)

		p, err := wantsInputs.TryContributeInputs(candidates)
		require.NoError(t, err)
		// Only the 60k input keeps every input bigger than the smallest output.
		require.Equal(t, []wire.OutPoint{big}, contributedInputs(t, f, p))

		payjoin, err := p.FinalizeProposal(f.receiverWallet, nil, nil)
		require.NoError(t, err)
		require.Equal(t, []wire.OutPoint{big}, payjoin.UtxosToBeLocked())
		require.Len(t, payjoin.Psbt().UnsignedTx.TxIn, 2)
	})

	t.Run("first usable input", func(t *testing.T) {
		f := newFixture(t, false)
		small := wire.OutPoint{Hash: chainhash.Hash{2}}
		f.receiverWallet.AddUtxo(small, 10_000)

		wantsInputs, err := f.wantsOutputs(t, defaultQuery).CommitOutputs()
		require.NoError(t, err)

		p, err := wantsInputs.TryContributeInputs(f.receiverWallet.CandidateInputs())
		require.NoError(t, err)
		require.Equal(t, []wire.OutPoint{small}, contributedInputs(t, f, p))
	})

	t.Run("duplicated candidates", func(t *testing.T) {
		f := newFixture(t, false)
		wantsInputs, err := f.wantsOutputs(t, defaultQuery).CommitOutputs()
		require.NoError(t, err)

		candidates := f.receiverWallet.CandidateInputs()
		require.Len(t, candidates, 1)
		candidates = append(candidates, candidates[0], candidates[0])

		p, err := wantsInputs.TryContributeInputs(candidates)
		require.NoError(t, err)
		require.Equal(
			t, []wire.OutPoint{candidates[0].TxIn.PreviousOutPoint},
			contributedInputs(t, f, p),
		)
	})
}

// contributedInputs returns the inputs of the provisional payjoin that are not
// in the original proposal.
func contributedInputs(
	t *testing.T, f *fixture, p *receive.ProvisionalProposal,
) []wire.OutPoint {
	original := make(map[wire.OutPoint]bool)
	for _, in := range f.original.UnsignedTx.TxIn {
		original[in.PreviousOutPoint] = true
	}
	contributed := make([]wire.OutPoint, 0)
	for _, in := range p.PayjoinPsbt().UnsignedTx.TxIn {
		if !original[in.PreviousOutPoint] {
			contributed = append(contributed, in.PreviousOutPoint)
		}
	}
	return contributed
}

func TestFinalizeProposal(t *testing.T) {
	provisional := func(t *testing.T, f *fixture, query string) *receive.ProvisionalProposal {
		wantsInputs, err := f.wantsOutputs(t, query).CommitOutputs()
		require.NoError(t, err)
		p, err := wantsInputs.TryContributeInputs(f.receiverWallet.CandidateInputs())
		require.NoError(t, err)
		return p
	}

	t.Run("max fee rate exceeded", func(t *testing.T) {
		f := newFixture(t, false)
		p := provisional(t, f, noChangeParams)
		maxFeeRate := psbtutil.FeeRate(1)

		_, err := p.FinalizeProposal(f.receiverWallet, nil, &maxFeeRate)
		requireStageError(t, err, receive.StageProvisionalProposal, receive.ErrFeerateOutOfRange)

		_, err = p.FinalizeProposal(f.receiverWallet, nil, nil)
		require.ErrorIs(t, err, receive.ErrStageConsumed)
	})

	t.Run("min fee rate", func(t *testing.T) {
		f := newFixture(t, false)
		p := provisional(t, f, noChangeParams)
		minFeeRate := psbtutil.FeeRateFromSatPerVByte(2)

		payjoin, err := p.FinalizeProposal(f.receiverWallet, &minFeeRate, nil)
		require.NoError(t, err)
		fee, err := psbtutil.Fee(payjoin.Psbt())
		require.NoError(t, err)

		signed := payjoin.Psbt()
		require.NoError(t, f.senderWallet.SignPsbt(signed))
		tx, err := psbt.Extract(signed)
		require.NoError(t, err)
		require.True(t, minFeeRate.Satisfies(fee, psbtutil.TxWeight(tx)))
	})

	t.Run("signer tampering with the transaction", func(t *testing.T) {
		f := newFixture(t, false)
		p := provisional(t, f, defaultQuery)
		tamper := receive.PsbtProcessorFunc(func(in *psbt.Packet) (*psbt.Packet, error) {
			in.UnsignedTx.LockTime++
			return in, nil
		})

		_, err := p.FinalizeProposal(tamper, nil, nil)
		requireStageError(t, err, receive.StageProvisionalProposal, receive.ErrInvalidSignedProposal)
	})

	t.Run("signer not signing", func(t *testing.T) {
		f := newFixture(t, false)
		p := provisional(t, f, defaultQuery)
		noop := receive.PsbtProcessorFunc(func(in *psbt.Packet) (*psbt.Packet, error) {
			return in, nil
		})

		_, err := p.FinalizeProposal(noop, nil, nil)
		requireStageError(t, err, receive.StageProvisionalProposal, receive.ErrInvalidSignedProposal)
	})
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, false)
	wantsOutputs := f.wantsOutputs(t, defaultQuery)

	data, err := wantsOutputs.Snapshot()
	require.NoError(t, err)
	restored, err := receive.RestoreStage(data)
	require.NoError(t, err)
	require.Equal(t, receive.StageWantsOutputs, restored.Name())

	resumed, ok := restored.(*receive.WantsOutputs)
	require.True(t, ok)
	require.Equal(t, wantsOutputs.PayjoinPsbt().UnsignedTx.TxHash(), resumed.PayjoinPsbt().UnsignedTx.TxHash())

	wantsInputs, err := resumed.CommitOutputs()
	require.NoError(t, err)
	provisional, err := wantsInputs.TryContributeInputs(f.receiverWallet.CandidateInputs())
	require.NoError(t, err)

	data, err = provisional.Snapshot()
	require.NoError(t, err)
	restored, err = receive.RestoreStage(data)
	require.NoError(t, err)
	resumedProvisional, ok := restored.(*receive.ProvisionalProposal)
	require.True(t, ok)

	payjoin, err := resumedProvisional.FinalizeProposal(f.receiverWallet, nil, nil)
	require.NoError(t, err)

	data, err = payjoin.Snapshot()
	require.NoError(t, err)
	restored, err = receive.RestoreStage(data)
	require.NoError(t, err)
	resumedPayjoin, ok := restored.(*receive.PayjoinProposal)
	require.True(t, ok)
	require.Equal(t, payjoin.Txid(), resumedPayjoin.Txid())
	require.Equal(t, payjoin.UtxosToBeLocked(), resumedPayjoin.UtxosToBeLocked())

	t.Run("consumed stage", func(t *testing.T) {
		_, err := wantsOutputs.CommitOutputs()
		require.NoError(t, err)
		_, err = wantsOutputs.Snapshot()
		require.ErrorIs(t, err, receive.ErrStageConsumed)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := receive.RestoreStage([]byte(`{"stage":"Unknown"}`))
		require.Error(t, err)
	})
}
