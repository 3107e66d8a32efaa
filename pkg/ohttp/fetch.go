package ohttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

// FetchTimeout bounds the whole key fetch round trip.
var FetchTimeout = 30 * time.Second

// FetchKeys retrieves the key configuration of the directory's gateway,
// proxying the request through the relay so that the directory does not
// learn the client's network address.
func FetchKeys(
	ctx context.Context, relayURL, directoryURL string,
) (*KeyConfig, error) {
	relay, err := parseHTTPURL(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	directory, err := parseHTTPURL(directoryURL)
	if err != nil {
		return nil, fmt.Errorf("invalid directory url: %w", err)
	}
	keysURL := directory.JoinPath("ohttp-keys")

	client := &http.Client{
		Timeout:   FetchTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(relay)},
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, keysURL.String(), nil,
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", ContentTypeKeys)

	log.WithField("directory", directory.Host).Debug("fetching ohttp keys")

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRelayUnreachable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf(
			"%w: unexpected status code %d", ErrRelayUnreachable, res.StatusCode,
		)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRelayUnreachable, err)
	}
	return DecodeKeys(body)
}

func parseHTTPURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%s is not an absolute http(s) url", s)
	}
	return u, nil
}
