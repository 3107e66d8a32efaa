package receive

import (
	"net/http"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/tdex-network/tdex-payjoin/pkg/envelope"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/transport"
)

// PayjoinProposal is the signed proposal to send back to the sender.
type PayjoinProposal struct {
	stage
	payjoin        *psbt.Packet
	finalTx        *wire.MsgTx
	receiverInputs []wire.OutPoint
}

func (p *PayjoinProposal) Name() string { return StagePayjoinProposal }

// Psbt returns a copy of the proposal psbt. Only the receiver inputs are
// finalized.
func (p *PayjoinProposal) Psbt() *psbt.Packet {
	c, _ := psbtutil.Clone(p.payjoin)
	return c
}

func (p *PayjoinProposal) PsbtBase64() (string, error) {
	return psbtutil.Encode(p.payjoin)
}

// Txid returns the id the payjoin transaction will have once the sender signs
// its inputs.
func (p *PayjoinProposal) Txid() chainhash.Hash {
	return p.finalTx.TxHash()
}

// UtxosToBeLocked returns the receiver outpoints spent by the proposal.
func (p *PayjoinProposal) UtxosToBeLocked() []wire.OutPoint {
	return append([]wire.OutPoint{}, p.receiverInputs...)
}

// ExtractV2Req returns the request delivering the proposal to the sender's
// mailbox. It can be called again if the delivery fails.
func (p *PayjoinProposal) ExtractV2Req() (transport.Request, *transport.Context, error) {
	b64, err := psbtutil.Encode(p.payjoin)
	if err != nil {
		return transport.Request{}, nil, err
	}
	sealed, err := envelope.SealToSender(p.p.replyKey, []byte(b64))
	if err != nil {
		return transport.Request{}, nil, err
	}
	target := p.s.mailbox(envelope.ShortID(p.p.replyKey))
	return transport.NewRequest(
		p.s.ohttpKeys, p.s.relay, p.s.expiry, http.MethodPost, target, sealed,
	)
}

// ProcessRes checks that the directory accepted the proposal.
func (p *PayjoinProposal) ProcessRes(body []byte, ctx *transport.Context) error {
	return ctx.OpenAck(body)
}
