package dx

import (
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// NewHTTPClient makes an HTTP client for talking to the API endpoint
// given, which goes through the rate limiter for the endpoint's host.
func NewHTTPClient(endpoint string, limiters *RateLimiters, timeout time.Duration) (*http.Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	if u.Host == "" {
		return nil, errors.Errorf("endpoint %q has no host", endpoint)
	}
	return &http.Client{
		Transport: limiters.RoundTripper(http.DefaultTransport, u.Host),
		Timeout:   timeout,
	}, nil
}
