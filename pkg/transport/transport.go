// Package transport carries payjoin messages to and from the directory
// through an ohttp relay.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
)

var (
	// ErrSessionExpired is returned when a session is used past its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrUnexpectedStatus is returned for non-success http statuses of the
	// relay.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrDirectoryStatus is returned when the encapsulated response of the
	// directory carries a non-success status.
	ErrDirectoryStatus = errors.New("unexpected directory status")
	// ErrContextConsumed is returned when a Context is used for a second
	// response.
	ErrContextConsumed = errors.New("transport context already consumed")
	// ErrRelayUnreachable ...
	ErrRelayUnreachable = ohttp.ErrRelayUnreachable
	// ErrDecryptionFailure ...
	ErrDecryptionFailure = ohttp.ErrDecryptionFailure
)

// Request is an encapsulated request ready to be posted to the relay.
type Request struct {
	URL  string
	Body []byte
}

// ContentType is the media type to use when posting the request.
func (r Request) ContentType() string {
	return ohttp.ContentTypeRequest
}

// Context binds a Request to the state needed to decrypt its response. It
// can be used for one response only.
type Context struct {
	ohttp    *ohttp.ClientContext
	consumed atomic.Bool
}

// CheckExpiry fails with ErrSessionExpired if expiry is set and passed.
func CheckExpiry(expiry time.Time) error {
	if !expiry.IsZero() && !time.Now().Before(expiry) {
		return fmt.Errorf(
			"%w at %s", ErrSessionExpired, expiry.UTC().Format(time.RFC3339),
		)
	}
	return nil
}

// NewRequest encapsulates an http request for target so that only the
// directory owning keys can read it.
func NewRequest(
	keys *ohttp.KeyConfig, relay *url.URL, expiry time.Time,
	method string, target *url.URL, body []byte,
) (Request, *Context, error) {
	if err := CheckExpiry(expiry); err != nil {
		return Request{}, nil, err
	}
	if relay == nil {
		return Request{}, nil, fmt.Errorf("missing relay url")
	}

	inner := ohttp.NewRequest(method, target, body).Marshal()
	encapsulated, ctx, err := ohttp.EncapsulateRequest(keys, inner)
	if err != nil {
		return Request{}, nil, err
	}
	return Request{URL: relay.String(), Body: encapsulated}, &Context{ohttp: ctx}, nil
}

// Open decrypts the relay response and returns the directory's response.
func (c *Context) Open(encResponse []byte) (*ohttp.Response, error) {
	if c == nil || c.ohttp == nil {
		return nil, ErrContextConsumed
	}
	if !c.consumed.CompareAndSwap(false, true) {
		return nil, ErrContextConsumed
	}

	plain, err := c.ohttp.DecapsulateResponse(encResponse)
	if err != nil {
		return nil, err
	}
	res, err := ohttp.UnmarshalResponse(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecryptionFailure, err)
	}
	return res, nil
}

// OpenPayload returns the body of a mailbox read, or nil when the mailbox is
// still empty.
func (c *Context) OpenPayload(encResponse []byte) ([]byte, error) {
	res, err := c.Open(encResponse)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case http.StatusOK:
		if len(res.Body) == 0 {
			return nil, nil
		}
		return res.Body, nil
	case http.StatusAccepted, http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: directory replied %d", ErrDirectoryStatus, res.Status)
	}
}

// OpenAck checks that the directory accepted a mailbox write.
func (c *Context) OpenAck(encResponse []byte) error {
	res, err := c.Open(encResponse)
	if err != nil {
		return err
	}
	if res.Status < 200 || res.Status > 299 {
		return fmt.Errorf("%w: directory replied %d", ErrDirectoryStatus, res.Status)
	}
	return nil
}

// IsRetryable returns whether err is a transport failure worth retrying, as
// opposed to a protocol failure. Statuses returned by the directory itself
// are never retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRelayUnreachable) || errors.Is(err, ErrUnexpectedStatus)
}
