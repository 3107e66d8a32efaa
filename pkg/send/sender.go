package send

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/pkg/bip21"
	"github.com/tdex-network/tdex-payjoin/pkg/envelope"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/transport"
)

const protocolVersion = 2

// FeeContribution is the fee the sender allows the receiver to take from the
// change output.
type FeeContribution struct {
	MaxAmount   btcutil.Amount `json:"max_amount"`
	OutputIndex int            `json:"output_index"`
}

// Sender holds an original transaction ready to be sent to the receiver.
type Sender struct {
	original                  *psbt.Packet
	endpoint                  *url.URL
	receiverKey               *btcec.PublicKey
	ohttpKeys                 *ohttp.KeyConfig
	expiry                    time.Time
	payeeScript               []byte
	feeContribution           *FeeContribution
	minFeeRate                psbtutil.FeeRate
	disableOutputSubstitution bool
	replyKey                  *btcec.PrivateKey
}

// ID returns the id of the sender's reply mailbox.
func (s *Sender) ID() string {
	return envelope.ShortID(s.replyKey.PubKey())
}

// Endpoint returns the receiver's endpoint, fragment included.
func (s *Sender) Endpoint() *url.URL {
	e := *s.endpoint
	return &e
}

func (s *Sender) Expiry() time.Time {
	return s.expiry
}

// OriginalPsbt returns a copy of the original psbt.
func (s *Sender) OriginalPsbt() *psbt.Packet {
	p, _ := psbtutil.Clone(s.original)
	return p
}

// FeeContribution returns the contribution offered to the receiver, if any.
func (s *Sender) FeeContribution() *FeeContribution {
	if s.feeContribution == nil {
		return nil
	}
	c := *s.feeContribution
	return &c
}

func (s *Sender) MinFeeRate() psbtutil.FeeRate {
	return s.minFeeRate
}

func (s *Sender) IsOutputSubstitutionDisabled() bool {
	return s.disableOutputSubstitution
}

// query returns the parameters appended to the original psbt.
func (s *Sender) query() string {
	values := url.Values{}
	values.Set("v", strconv.Itoa(protocolVersion))
	if c := s.feeContribution; c != nil {
		values.Set("additionalfeeoutputindex", strconv.Itoa(c.OutputIndex))
		values.Set(
			"maxadditionalfeecontribution", strconv.FormatInt(int64(c.MaxAmount), 10),
		)
	}
	if s.disableOutputSubstitution {
		values.Set("disableoutputsubstitution", "true")
	}
	if s.minFeeRate > 0 {
		values.Set("minfeerate", s.minFeeRate.SatPerVByte())
	}
	return values.Encode()
}

// body returns the plaintext for the receiver: the original psbt without
// the fields the receiver doesn't need, followed by the query on a new line.
func (s *Sender) body() ([]byte, error) {
	p, err := psbtutil.Clone(s.original)
	if err != nil {
		return nil, err
	}
	p.Unknowns = nil
	for i := range p.Inputs {
		p.Inputs[i].Bip32Derivation = nil
		p.Inputs[i].TaprootBip32Derivation = nil
		p.Inputs[i].Unknowns = nil
	}
	for i := range p.Outputs {
		p.Outputs[i].Bip32Derivation = nil
		p.Outputs[i].TaprootBip32Derivation = nil
		p.Outputs[i].Unknowns = nil
	}
	b64, err := psbtutil.Encode(p)
	if err != nil {
		return nil, err
	}
	return []byte(b64 + "\n" + s.query()), nil
}

// mailbox returns the url of the mailbox with the given id on the receiver's
// directory.
func (s *Sender) mailbox(id string) *url.URL {
	return bip21.StripEndpointParams(s.endpoint).JoinPath("..", id)
}

// ExtractV2 returns the request posting the original transaction to the
// receiver's mailbox through the relay.
func (s *Sender) ExtractV2(relay *url.URL) (transport.Request, *V2PostContext, error) {
	if err := transport.CheckExpiry(s.expiry); err != nil {
		return transport.Request{}, nil, err
	}
	body, err := s.body()
	if err != nil {
		return transport.Request{}, nil, err
	}
	sealed, err := envelope.SealToReceiver(s.replyKey, s.receiverKey, body)
	if err != nil {
		return transport.Request{}, nil, err
	}
	req, ctx, err := transport.NewRequest(
		s.ohttpKeys, relay, s.expiry, http.MethodPost,
		bip21.StripEndpointParams(s.endpoint), sealed,
	)
	if err != nil {
		return transport.Request{}, nil, err
	}
	return req, &V2PostContext{s, ctx}, nil
}

// PollContext returns the context polling the reply mailbox, to be used once
// the original transaction has been delivered.
func (s *Sender) PollContext() *V2GetContext {
	return &V2GetContext{s}
}

// V2PostContext waits for the directory to accept the original transaction.
type V2PostContext struct {
	sender *Sender
	ctx    *transport.Context
}

// ProcessResponse checks the directory accepted the original transaction and
// returns the context polling for the receiver's proposal.
func (c *V2PostContext) ProcessResponse(body []byte) (*V2GetContext, error) {
	if err := c.ctx.OpenAck(body); err != nil {
		return nil, err
	}
	log.WithField("session", c.sender.ID()).Debug("original proposal delivered")
	return &V2GetContext{c.sender}, nil
}

// V2GetContext polls the reply mailbox for the receiver's proposal.
type V2GetContext struct {
	sender *Sender
}

// ExtractReq returns the request polling the reply mailbox. It can be called
// again for every poll until the receiver's endpoint expires.
func (c *V2GetContext) ExtractReq(relay *url.URL) (transport.Request, *transport.Context, error) {
	s := c.sender
	return transport.NewRequest(
		s.ohttpKeys, relay, s.expiry, http.MethodGet, s.mailbox(s.ID()), nil,
	)
}

// ProcessResponse returns nil if the receiver didn't reply yet, otherwise the
// validated proposal with the sender's input data restored, ready to be
// signed.
func (c *V2GetContext) ProcessResponse(
	body []byte, ctx *transport.Context,
) (*psbt.Packet, error) {
	payload, err := ctx.OpenPayload(body)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	msg, err := envelope.OpenFromReceiver(c.sender.replyKey, payload)
	if err != nil {
		return nil, err
	}
	proposal, err := psbtutil.Decode(string(msg))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProposal, err)
	}
	if err := c.sender.processProposal(proposal); err != nil {
		return nil, err
	}

	log.WithField("session", c.sender.ID()).Debug("payjoin proposal received")
	return proposal, nil
}
