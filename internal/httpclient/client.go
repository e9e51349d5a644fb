package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/fetch"
)

// DefaultTimeout applies when the call carries no timeout.
const DefaultTimeout = 30 * time.Second

// Client fetches raw HTML over plain HTTP with colly. It runs no scripts,
// so wait selectors and network idle are ignored; it is meant for sites
// that render on the server and for checking proxies quickly.
type Client struct {
	userAgent   string
	maxBodySize int
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithMaxBodySize truncates bodies larger than n bytes. Zero means colly's default.
func WithMaxBodySize(n int) Option {
	return func(c *Client) {
		c.maxBodySize = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns an HTTP client.
func NewClient(opts ...Option) *Client {
	c := &Client{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AcceptedParameters reports that only the proxy is honoured beyond the
// core parameters.
func (c *Client) AcceptedParameters() []string {
	return []string{fetch.ParamProxy}
}

// Fetch performs one GET. Any completed response, whatever its status, is
// returned as a Response.
func (c *Client) Fetch(ctx context.Context, url string, args fetch.Args) (*fetch.Response, error) {
	timeout := args.Duration(fetch.ParamTimeout)
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// A fresh collector per call: colly clones share their transport, and
	// concurrent calls use different proxies.
	col := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	col.Context = ctx
	col.ParseHTTPErrorResponse = true
	col.SetRequestTimeout(timeout)
	if c.userAgent != "" {
		col.UserAgent = c.userAgent
	}
	if c.maxBodySize > 0 {
		col.MaxBodySize = c.maxBodySize
	}
	if p := args.String(fetch.ParamProxy); p != "" {
		if err := col.SetProxy(p); err != nil {
			return nil, fetch.NewError(fetch.KindNonRetryable, fmt.Errorf("invalid proxy %q: %w", p, err))
		}
	}

	var (
		resp     *fetch.Response
		fetchErr error
	)
	col.OnResponse(func(r *colly.Response) {
		resp = &fetch.Response{
			Status:   r.StatusCode,
			HTML:     string(r.Body),
			FinalURL: r.Request.URL.String(),
		}
	})
	col.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := col.Visit(url); err != nil && fetchErr == nil {
		fetchErr = err
	}
	col.Wait()

	if fetchErr != nil {
		return nil, classify(ctx, fetchErr)
	}
	if resp == nil {
		return nil, fetch.ErrNoResponse
	}
	c.logger.Debug("http fetch done", "url", url, "status", resp.Status, "bytes", len(resp.HTML))
	return resp, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fetch.NewError(fetch.KindTimeout, err)
	}
	return err
}
