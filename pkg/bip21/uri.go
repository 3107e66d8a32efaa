// Package bip21 builds and parses BIP21 payment URIs carrying a payjoin
// endpoint.
package bip21

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tdex-network/tdex-payjoin/pkg/mathutil"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
)

const (
	scheme = "bitcoin"

	amountParam  = "amount"
	labelParam   = "label"
	messageParam = "message"
	pjParam      = "pj"
	pjosParam    = "pjos"
)

var (
	// ErrInvalidAddress ...
	ErrInvalidAddress = errors.New("invalid bitcoin address")
	// ErrInvalidEndpoint ...
	ErrInvalidEndpoint = errors.New("invalid payjoin endpoint")
	// ErrMalformedUri ...
	ErrMalformedUri = errors.New("malformed payjoin uri")
	// ErrPayjoinNotSupported ...
	ErrPayjoinNotSupported = errors.New("uri does not support payjoin")
)

// Uri is a parsed BIP21 uri.
type Uri struct {
	address btcutil.Address
	amount  *int64
	label   string
	message string
	pj      string
	pjos    bool
}

// Parse decodes a BIP21 uri and validates its address against the given
// network. The payjoin endpoint parameter is required.
func Parse(uri string, net *chaincfg.Params) (*Uri, error) {
	sep := strings.Index(uri, ":")
	if sep < 0 || !strings.EqualFold(uri[:sep], scheme) {
		return nil, fmt.Errorf("%w: scheme must be %s", ErrMalformedUri, scheme)
	}
	rest := uri[sep+1:]

	addrPart, query := rest, ""
	if i := strings.Index(rest, "?"); i >= 0 {
		addrPart, query = rest[:i], rest[i+1:]
	}

	address, err := decodeAddress(addrPart, net)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedUri, err)
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedUri, err)
	}

	u := &Uri{address: address}
	for key, values := range params {
		if len(values) != 1 {
			return nil, fmt.Errorf(
				"%w: parameter %s must be set once", ErrMalformedUri, key,
			)
		}
		value := values[0]

		switch strings.ToLower(key) {
		case amountParam:
			sats, err := mathutil.ParseBtc(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrMalformedUri, err)
			}
			u.amount = &sats
		case labelParam:
			u.label = value
		case messageParam:
			u.message = value
		case pjParam:
			u.pj = value
		case pjosParam:
			u.pjos = value == "1"
		default:
			if strings.HasPrefix(strings.ToLower(key), "req-") {
				return nil, fmt.Errorf(
					"%w: unsupported required parameter %s", ErrMalformedUri, key,
				)
			}
		}
	}

	if u.pj == "" {
		return nil, fmt.Errorf("%w: missing pj parameter", ErrMalformedUri)
	}
	return u, nil
}

// Address returns the address of the uri.
func (u *Uri) Address() btcutil.Address {
	return u.address
}

// Amount returns the requested amount in satoshis, if any.
func (u *Uri) Amount() (int64, bool) {
	if u.amount == nil {
		return 0, false
	}
	return *u.amount, true
}

func (u *Uri) Label() string {
	return u.label
}

func (u *Uri) Message() string {
	return u.message
}

// CheckPjSupported returns the payjoin view of the uri if its endpoint is
// usable for an asynchronous payjoin, that is an absolute http(s) url
// carrying the receiver key and the directory keys.
func (u *Uri) CheckPjSupported() (*PjUri, error) {
	endpoint, err := parseEndpoint(u.pj)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPayjoinNotSupported, err)
	}
	params, err := ParseEndpointParams(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPayjoinNotSupported, err)
	}
	if params.ReceiverKey == nil || params.OhttpKeys == nil {
		return nil, fmt.Errorf(
			"%w: endpoint lacks receiver key or directory keys",
			ErrPayjoinNotSupported,
		)
	}
	return &PjUri{u, endpoint, params}, nil
}

// PjUri is a uri whose payjoin endpoint has been validated.
type PjUri struct {
	*Uri
	endpoint *url.URL
	params   *EndpointParams
}

// Endpoint returns the full endpoint, fragment included.
func (u *PjUri) Endpoint() *url.URL {
	e := *u.endpoint
	return &e
}

// Expiry returns the expiration time of the endpoint, if any.
func (u *PjUri) Expiry() (time.Time, bool) {
	return u.params.Expiry, !u.params.Expiry.IsZero()
}

func (u *PjUri) ReceiverKey() *btcec.PublicKey {
	return u.params.ReceiverKey
}

func (u *PjUri) OhttpKeys() *ohttp.KeyConfig {
	return u.params.OhttpKeys
}

// OutputSubstitutionDisabled returns whether the receiver asked the sender
// to forbid output substitution.
func (u *PjUri) OutputSubstitutionDisabled() bool {
	return u.pjos
}

func decodeAddress(address string, net *chaincfg.Params) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, err)
	}
	if !addr.IsForNet(net) {
		return nil, fmt.Errorf(
			"%w: address is not for network %s", ErrInvalidAddress, net.Name,
		)
	}
	return addr, nil
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf(
			"%w: %s is not an absolute http(s) url", ErrInvalidEndpoint, endpoint,
		)
	}
	u.Host = strings.ToLower(u.Host)
	return u, nil
}
