package proxy

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
)

// supportedSchemes lists the proxy URL schemes accepted in a list file.
var supportedSchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks4":  true,
	"socks5":  true,
	"socks5h": true,
}

// NormalizeAddress turns one list entry into a canonical proxy URL.
// Entries without a scheme are treated as HTTP proxies, so "10.0.0.1:3128"
// becomes "http://10.0.0.1:3128".
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyAddress
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidAddress, raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if !supportedSchemes[u.Scheme] {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return "", fmt.Errorf("%w: %q needs host and port", ErrInvalidAddress, raw)
	}
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("%w: %q must not carry a path", ErrInvalidAddress, raw)
	}

	out := &url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}
	return out.String(), nil
}

// ParseList parses list file content. Blank lines and lines starting with '#'
// are ignored, as is anything after " #" on a line. Invalid entries are
// skipped and logged; duplicates keep their first position.
func ParseList(data []byte, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]bool)
	var out []string

	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.Index(line, " #"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		addr, err := NormalizeAddress(line)
		if err != nil {
			logger.Warn("skipping proxy list entry", "line", lineNo, "error", err)
			continue
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// LoadList reads and parses the proxy list at path. A missing or unreadable
// file yields an empty list so callers degrade to direct connections.
func LoadList(path string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		logger.Warn("proxy list unavailable, continuing without public proxies",
			"path", path,
			"error", err,
		)
		return nil
	}

	list := ParseList(data, logger)
	logger.Debug("loaded proxy list", "path", path, "count", len(list))
	return list
}

// ListSource loads the proxy list file on first use and serves the cached
// result afterwards. One source belongs to one engine.
type ListSource struct {
	path   string
	logger *slog.Logger

	once sync.Once
	list []string
}

// NewListSource returns a source for the file at path. An empty path gives an
// always-empty source.
func NewListSource(path string, logger *slog.Logger) *ListSource {
	return &ListSource{path: path, logger: logger}
}

// List returns a copy of the cached list.
func (s *ListSource) List() []string {
	s.once.Do(func() {
		s.list = LoadList(s.path, s.logger)
	})
	out := make([]string, len(s.list))
	copy(out, s.list)
	return out
}

// Path returns the file the source reads from.
func (s *ListSource) Path() string {
	return s.path
}
