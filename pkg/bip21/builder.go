package bip21

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tdex-network/tdex-payjoin/pkg/mathutil"
)

// Builder composes a payjoin uri. Setters return a modified copy so that a
// base builder can be reused.
type Builder struct {
	address                    btcutil.Address
	endpoint                   *url.URL
	amount                     *int64
	label                      string
	message                    string
	outputSubstitutionDisabled bool
}

// NewBuilder validates the address against the given network and the
// payjoin endpoint.
func NewBuilder(address, endpoint string, net *chaincfg.Params) (*Builder, error) {
	addr, err := decodeAddress(address, net)
	if err != nil {
		return nil, err
	}
	pj, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return &Builder{address: addr, endpoint: pj}, nil
}

func (b Builder) Amount(sats int64) *Builder {
	b.amount = &sats
	return &b
}

func (b Builder) Label(label string) *Builder {
	b.label = label
	return &b
}

func (b Builder) Message(message string) *Builder {
	b.message = message
	return &b
}

// DisableOutputSubstitution sets the pjos=1 parameter.
func (b Builder) DisableOutputSubstitution(disable bool) *Builder {
	b.outputSubstitutionDisabled = disable
	return &b
}

// Build returns the uri string.
func (b *Builder) Build() string {
	params := make([]string, 0, 5)
	if b.amount != nil {
		params = append(params, amountParam+"="+mathutil.FormatBtc(*b.amount))
	}
	if b.label != "" {
		params = append(params, labelParam+"="+escape(b.label))
	}
	if b.message != "" {
		params = append(params, messageParam+"="+escape(b.message))
	}
	params = append(params, pjParam+"="+escapeEndpoint(b.endpoint))
	if b.outputSubstitutionDisabled {
		params = append(params, pjosParam+"=1")
	}

	return scheme + ":" + b.address.EncodeAddress() + "?" + strings.Join(params, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// scheme and host are upper-cased so that QR codes can use the alphanumeric
// mode. Only the characters breaking the query are escaped.
func escapeEndpoint(endpoint *url.URL) string {
	u := *endpoint
	s := strings.ToUpper(u.Scheme) + "://" + strings.ToUpper(u.Host)
	u.Scheme, u.Host = "", ""
	s += strings.TrimPrefix(u.String(), "//")

	var sb strings.Builder
	for _, c := range []byte(s) {
		switch c {
		case '#', '&', '+', '=', '%', '?', ' ':
			fmt.Fprintf(&sb, "%%%02X", c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
