// Package receive implements the receiver side of an asynchronous payjoin:
// a session polling its mailbox on the directory and the sequence of stages
// that turn an untrusted original transaction into a signed proposal.
package receive

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/pkg/bip21"
	"github.com/tdex-network/tdex-payjoin/pkg/envelope"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/transport"
)

// DefaultExpireAfter is the lifetime of a session when none is given.
const DefaultExpireAfter = 24 * time.Hour

// ReceiverOpts is the struct given to NewReceiver.
type ReceiverOpts struct {
	// Address is where the sender is asked to pay.
	Address   string
	Directory string
	OhttpKeys *ohttp.KeyConfig
	Relay     string
	// ExpireAfter defaults to DefaultExpireAfter.
	ExpireAfter               time.Duration
	DisableOutputSubstitution bool
	Network                   *chaincfg.Params
}

func (o ReceiverOpts) validate() error {
	if o.Network == nil {
		return fmt.Errorf("%w: missing network", ErrInvalidReceiverOpts)
	}
	if o.OhttpKeys == nil {
		return fmt.Errorf("%w: missing directory keys", ErrInvalidReceiverOpts)
	}
	if o.ExpireAfter < 0 {
		return fmt.Errorf("%w: negative expiration", ErrInvalidReceiverOpts)
	}
	return nil
}

// session is the immutable part of a receiver session, shared by the
// Receiver and every stage derived from it.
type session struct {
	address                   btcutil.Address
	directory                 *url.URL
	relay                     *url.URL
	ohttpKeys                 *ohttp.KeyConfig
	expiry                    time.Time
	key                       *btcec.PrivateKey
	disableOutputSubstitution bool
	network                   *chaincfg.Params
}

func (s *session) id() string {
	return envelope.ShortID(s.key.PubKey())
}

func (s *session) mailbox(id string) *url.URL {
	return s.directory.JoinPath(id)
}

// Receiver is a receiver session waiting for an original proposal.
type Receiver struct {
	s *session
}

// NewReceiver creates a session with a fresh session key.
func NewReceiver(opts ReceiverOpts) (*Receiver, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	address, err := btcutil.DecodeAddress(opts.Address, opts.Network)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", bip21.ErrInvalidAddress, err)
	}
	if !address.IsForNet(opts.Network) {
		return nil, fmt.Errorf(
			"%w: address is not for network %s",
			bip21.ErrInvalidAddress, opts.Network.Name,
		)
	}
	directory, err := parseURL(opts.Directory)
	if err != nil {
		return nil, fmt.Errorf("%w: directory %s", bip21.ErrInvalidEndpoint, err)
	}
	relay, err := parseURL(opts.Relay)
	if err != nil {
		return nil, fmt.Errorf("%w: relay %s", bip21.ErrInvalidEndpoint, err)
	}

	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	expireAfter := opts.ExpireAfter
	if expireAfter == 0 {
		expireAfter = DefaultExpireAfter
	}
	// The endpoint carries the expiry with a seconds precision.
	expiry := time.Unix(time.Now().Add(expireAfter).Unix(), 0)

	return &Receiver{&session{
		address:                   address,
		directory:                 directory,
		relay:                     relay,
		ohttpKeys:                 opts.OhttpKeys,
		expiry:                    expiry,
		key:                       key,
		disableOutputSubstitution: opts.DisableOutputSubstitution,
		network:                   opts.Network,
	}}, nil
}

// ID returns the identifier of the session mailbox.
func (r *Receiver) ID() string {
	return r.s.id()
}

func (r *Receiver) Expiry() time.Time {
	return r.s.expiry
}

func (r *Receiver) Address() btcutil.Address {
	return r.s.address
}

// PjURL returns the endpoint to share with the sender: the session mailbox on
// the directory with the session params in the fragment.
func (r *Receiver) PjURL() (*url.URL, error) {
	return bip21.SetEndpointParams(r.s.mailbox(r.s.id()), bip21.EndpointParams{
		Expiry:      r.s.expiry,
		OhttpKeys:   r.s.ohttpKeys,
		ReceiverKey: r.s.key.PubKey(),
	})
}

// PjUriBuilder returns a uri builder preloaded with the session address,
// endpoint and output substitution policy.
func (r *Receiver) PjUriBuilder() (*bip21.Builder, error) {
	pjURL, err := r.PjURL()
	if err != nil {
		return nil, err
	}
	builder, err := bip21.NewBuilder(
		r.s.address.EncodeAddress(), pjURL.String(), r.s.network,
	)
	if err != nil {
		return nil, err
	}
	return builder.DisableOutputSubstitution(r.s.disableOutputSubstitution), nil
}

// ExtractReq returns the request polling the session mailbox. It can be
// called again for every poll until the session expires.
func (r *Receiver) ExtractReq() (transport.Request, *transport.Context, error) {
	return transport.NewRequest(
		r.s.ohttpKeys, r.s.relay, r.s.expiry,
		http.MethodGet, r.s.mailbox(r.s.id()), nil,
	)
}

// ProcessRes reads the response to a mailbox poll. It returns a nil proposal
// when the mailbox is still empty.
func (r *Receiver) ProcessRes(
	body []byte, ctx *transport.Context,
) (*UncheckedProposal, error) {
	payload, err := ctx.OpenPayload(body)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	msg, replyKey, err := envelope.OpenFromSender(r.s.key, payload)
	if err != nil {
		return nil, err
	}
	proposal, err := parseProposal(msg)
	if err != nil {
		return nil, err
	}
	proposal.replyKey = replyKey

	log.WithField("session", r.s.id()).Debug("received original proposal")
	return &UncheckedProposal{stage: stage{s: r.s, p: proposal}}, nil
}

func parseProposal(msg []byte) (*proposal, error) {
	psbtPart, query := msg, []byte{}
	if i := bytes.IndexByte(msg, '\n'); i >= 0 {
		psbtPart, query = msg[:i], msg[i+1:]
	}

	original, err := psbtutil.Decode(strings.TrimSpace(string(psbtPart)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProposal, err)
	}
	if _, err := psbtutil.Fee(original); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProposal, err)
	}
	params, err := ParseParams(strings.TrimSpace(string(query)))
	if err != nil {
		return nil, err
	}
	return &proposal{psbt: original, params: params}, nil
}

func parseURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%s is not an absolute http(s) url", s)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}
