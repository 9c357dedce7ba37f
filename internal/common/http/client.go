// internal/common/http/client.go
package http

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}

// RateLimitedClient throttles outbound calls to one upstream. Do blocks on
// the token bucket until a slot frees or the request context is done.
type RateLimitedClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRateLimitedClient builds a client allowing ratePerSecond sustained
// requests with the given burst. A non-positive rate disables throttling.
func NewRateLimitedClient(timeout time.Duration, ratePerSecond float64, burst int) *RateLimitedClient {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return &RateLimitedClient{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return c.httpClient.Do(req)
}

func (c *RateLimitedClient) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.Do(req)
}
