package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tdex-network/tdex-payjoin/pkg/circuitbreaker"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/stats"
)

const maxResponseSize = 1 << 20

// DefaultTimeout is the http timeout used when none is given.
var DefaultTimeout = 30 * time.Second

// Client posts encapsulated requests to the relay and returns the raw
// encapsulated response.
type Client interface {
	Post(ctx context.Context, req Request) ([]byte, error)
}

// HTTPClient is the Client talking to a real relay over http.
type HTTPClient struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient returns a relay client whose requests time out after the
// given duration. Repeated relay failures open a circuit breaker that makes
// further requests fail fast.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(
			"ohttp-relay", func(err error) bool {
				return errors.Is(err, ErrRelayUnreachable)
			},
		),
	}
}

// Post sends the request with the ohttp content types. A network failure is
// reported as ErrRelayUnreachable, a non-success status as
// ErrUnexpectedStatus.
func (c *HTTPClient) Post(ctx context.Context, req Request) ([]byte, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) ||
			errors.Is(err, gobreaker.ErrTooManyRequests) {
			stats.RelayRequests.WithLabelValues("breaker_open").Inc()
			return nil, fmt.Errorf("%w: %s", ErrRelayUnreachable, err)
		}
		return nil, err
	}
	return res.([]byte), nil
}

func (c *HTTPClient) post(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body),
	)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", ohttp.ContentTypeRequest)
	httpReq.Header.Set("Accept", ohttp.ContentTypeResponse)

	res, err := c.client.Do(httpReq)
	if err != nil {
		stats.RelayRequests.WithLabelValues("unreachable").Inc()
		return nil, fmt.Errorf("%w: %s", ErrRelayUnreachable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		stats.RelayRequests.WithLabelValues("unreachable").Inc()
		return nil, fmt.Errorf("%w: failed to read response: %s", ErrRelayUnreachable, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		stats.RelayRequests.WithLabelValues("bad_status").Inc()
		return nil, fmt.Errorf("%w: relay replied %d", ErrUnexpectedStatus, res.StatusCode)
	}

	stats.RelayRequests.WithLabelValues("ok").Inc()
	log.WithField("relay", httpReq.URL.Host).Debugf(
		"relay round trip completed with %d bytes", len(body),
	)
	return body, nil
}
