package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 5 * time.Second

// ProbeStatus is the outcome of probing one proxy.
type ProbeStatus int

const (
	// ProbeOK means the proxy answered its protocol handshake.
	ProbeOK ProbeStatus = iota
	// ProbeWrongType means something answered but not as the expected proxy type.
	ProbeWrongType
	// ProbeCannotConnect means the proxy or the target behind it was unreachable.
	ProbeCannotConnect
	// ProbeTimeout means the probe ran out of time.
	ProbeTimeout
)

// String returns a short human-readable status.
func (s ProbeStatus) String() string {
	switch s {
	case ProbeOK:
		return "OK"
	case ProbeWrongType:
		return "wrong type"
	case ProbeCannotConnect:
		return "cannot connect"
	case ProbeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status as its string form.
func (s ProbeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Err returns the sentinel error for a failing status, or nil for ProbeOK.
func (s ProbeStatus) Err() error {
	switch s {
	case ProbeOK:
		return nil
	case ProbeWrongType:
		return ErrProbeWrongType
	case ProbeCannotConnect:
		return ErrProbeCannotConnect
	case ProbeTimeout:
		return ErrProbeTimeout
	default:
		return errors.New("unknown probe status")
	}
}

// ProbeResult describes one probed proxy.
type ProbeResult struct {
	Proxy   string        `json:"proxy"`
	Status  ProbeStatus   `json:"status"`
	Latency time.Duration `json:"latency_ns"`
	Detail  string        `json:"detail,omitempty"`
}

// Prober checks whether proxies speak their protocol, and optionally whether
// they can reach a target host through it.
type Prober struct {
	timeout time.Duration
	target  string
	logger  *slog.Logger
}

// ProbeOption configures a Prober.
type ProbeOption func(*Prober)

// WithProbeTimeout sets the per-proxy timeout.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithProbeTarget makes the prober tunnel to hostport through each proxy.
func WithProbeTarget(hostport string) ProbeOption {
	return func(p *Prober) { p.target = hostport }
}

// WithProbeLogger sets the logger.
func WithProbeLogger(logger *slog.Logger) ProbeOption {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProber returns a prober.
func NewProber(opts ...ProbeOption) *Prober {
	p := &Prober{timeout: DefaultProbeTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe checks a single proxy address.
func (p *Prober) Probe(ctx context.Context, addr string) (res ProbeResult) {
	res.Proxy = addr
	start := time.Now()
	defer func() { res.Latency = time.Since(start) }()

	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		res.Status, res.Detail = ProbeWrongType, "unparsable address"
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		res.Status, res.Detail = classifyDialError(ctx, err), err.Error()
		return res
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		res.Status, res.Detail = socks5Greeting(conn, u.User != nil)
	case "http", "https":
		res.Status, res.Detail = httpConnect(conn, p.connectTarget())
	default:
		res.Status = ProbeOK
	}
	if res.Status != ProbeOK || p.target == "" || !strings.HasPrefix(u.Scheme, "socks5") {
		return res
	}

	res.Status, res.Detail = p.tunnel(ctx, u)
	return res
}

func (p *Prober) connectTarget() string {
	if p.target != "" {
		return p.target
	}
	return "example.com:443"
}

// tunnel dials the configured target through a SOCKS5 proxy.
func (p *Prober) tunnel(ctx context.Context, u *url.URL) (ProbeStatus, string) {
	dialer, err := xproxy.FromURL(u, xproxy.Direct)
	if err != nil {
		return ProbeWrongType, err.Error()
	}
	cd, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return ProbeWrongType, "dialer does not support contexts"
	}
	conn, err := cd.DialContext(ctx, "tcp", p.target)
	if err != nil {
		return classifyDialError(ctx, err), err.Error()
	}
	_ = conn.Close()
	return ProbeOK, ""
}

// ProbeAll probes addrs with at most concurrency probes in flight and returns
// results in input order.
func (p *Prober) ProbeAll(ctx context.Context, addrs []string, concurrency int) ([]ProbeResult, error) {
	if concurrency <= 0 {
		concurrency = 8
	}

	results := make([]ProbeResult, len(addrs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, addr := range addrs {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			r := p.Probe(ctx, addr)
			p.logger.Debug("probed proxy", "proxy", addr, "status", r.Status.String(), "latency", r.Latency)

			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("probing proxies: %w", err)
	}
	return results, nil
}

func classifyDialError(ctx context.Context, err error) ProbeStatus {
	var ne net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return ProbeTimeout
	}
	return ProbeCannotConnect
}

const (
	socks5Version    = 0x05
	socks5AuthNone   = 0x00
	socks5AuthPasswd = 0x02
	socks5NoAccept   = 0xFF
)

// socks5Greeting performs the method negotiation step of RFC 1928.
func socks5Greeting(conn net.Conn, withAuth bool) (ProbeStatus, string) {
	greeting := []byte{socks5Version, 0x01, socks5AuthNone}
	if withAuth {
		greeting = []byte{socks5Version, 0x02, socks5AuthNone, socks5AuthPasswd}
	}
	if _, err := conn.Write(greeting); err != nil {
		return ProbeCannotConnect, err.Error()
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		if isTimeout(err) {
			return ProbeTimeout, err.Error()
		}
		return ProbeWrongType, err.Error()
	}
	if resp[0] != socks5Version {
		return ProbeWrongType, fmt.Sprintf("unexpected version byte 0x%02x", resp[0])
	}
	if resp[1] == socks5NoAccept {
		return ProbeWrongType, "no acceptable authentication method"
	}
	return ProbeOK, ""
}

// httpConnect issues a CONNECT request and accepts any HTTP status line.
// A 407 still proves the endpoint is an HTTP proxy.
func httpConnect(conn net.Conn, target string) (ProbeStatus, string) {
	req := "CONNECT " + target + " HTTP/1.1\r\nHost: " + target + "\r\n\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		return ProbeCannotConnect, err.Error()
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		if isTimeout(err) {
			return ProbeTimeout, err.Error()
		}
		return ProbeWrongType, err.Error()
	}
	if !strings.HasPrefix(line, "HTTP/") {
		return ProbeWrongType, "response is not HTTP"
	}
	return ProbeOK, strings.TrimSpace(line)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
