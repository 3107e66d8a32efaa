package bip21

import (
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/tdex-network/tdex-payjoin/pkg/envelope"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
)

const (
	expiryHRP      = "EX"
	ohttpKeysHRP   = "OH"
	receiverKeyHRP = "RK"

	paramSeparator = "+"
)

// EndpointParams are the session parameters carried by the fragment of a
// payjoin v2 endpoint.
type EndpointParams struct {
	// Expiry is the zero time when the endpoint never expires.
	Expiry      time.Time
	OhttpKeys   *ohttp.KeyConfig
	ReceiverKey *btcec.PublicKey
}

// SetEndpointParams returns a copy of the endpoint with the given params
// encoded in its fragment.
func SetEndpointParams(endpoint *url.URL, params EndpointParams) (*url.URL, error) {
	fragment := make([]string, 0, 3)

	if !params.Expiry.IsZero() {
		exp := make([]byte, 4)
		binary.LittleEndian.PutUint32(exp, uint32(params.Expiry.Unix()))
		p, err := encodeParam(expiryHRP, exp)
		if err != nil {
			return nil, err
		}
		fragment = append(fragment, p)
	}
	if params.OhttpKeys != nil {
		keys, err := params.OhttpKeys.EncodeShort()
		if err != nil {
			return nil, err
		}
		p, err := encodeParam(ohttpKeysHRP, keys)
		if err != nil {
			return nil, err
		}
		fragment = append(fragment, p)
	}
	if params.ReceiverKey != nil {
		p, err := encodeParam(receiverKeyHRP, params.ReceiverKey.SerializeCompressed())
		if err != nil {
			return nil, err
		}
		fragment = append(fragment, p)
	}

	u := *endpoint
	u.Fragment = strings.Join(fragment, paramSeparator)
	u.RawFragment = ""
	return &u, nil
}

// ParseEndpointParams reads the session parameters from the endpoint's
// fragment. Missing params are left empty, unknown ones are ignored.
func ParseEndpointParams(endpoint *url.URL) (*EndpointParams, error) {
	params := &EndpointParams{}
	if endpoint.Fragment == "" {
		return params, nil
	}

	for _, p := range strings.Split(endpoint.Fragment, paramSeparator) {
		hrp, data, err := decodeParam(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, err)
		}
		switch hrp {
		case expiryHRP:
			if len(data) != 4 {
				return nil, fmt.Errorf("%w: invalid expiry", ErrInvalidEndpoint)
			}
			params.Expiry = time.Unix(int64(binary.LittleEndian.Uint32(data)), 0)
		case ohttpKeysHRP:
			keys, err := ohttp.DecodeShortKeyConfig(data)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, err)
			}
			params.OhttpKeys = keys
		case receiverKeyHRP:
			key, err := envelope.ParsePubKey(data)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, err)
			}
			params.ReceiverKey = key
		}
	}
	return params, nil
}

// StripEndpointParams returns a copy of the endpoint without fragment.
func StripEndpointParams(endpoint *url.URL) *url.URL {
	u := *endpoint
	u.Fragment = ""
	u.RawFragment = ""
	return &u
}

func encodeParam(hrp string, data []byte) (string, error) {
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	p, err := bech32.Encode(strings.ToLower(hrp), conv)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(p), nil
}

func decodeParam(p string) (string, []byte, error) {
	hrp, data, err := bech32.DecodeNoLimit(p)
	if err != nil {
		return "", nil, err
	}
	conv, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return strings.ToUpper(hrp), conv, nil
}
