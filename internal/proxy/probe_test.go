package proxy

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// serveConns accepts connections on a local listener and hands each to handle.
func serveConns(t *testing.T, handle func(net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestProber(t *testing.T) {
	t.Parallel()

	t.Run("socks5 greeting", func(t *testing.T) {
		t.Parallel()

		addr := serveConns(t, func(c net.Conn) {
			buf := make([]byte, 3)
			if _, err := io.ReadFull(c, buf); err != nil {
				return
			}
			_, _ = c.Write([]byte{0x05, 0x00})
		})

		res := NewProber(WithProbeTimeout(2*time.Second), WithProbeLogger(discardLogger())).
			Probe(t.Context(), "socks5://"+addr)
		if res.Status != ProbeOK {
			t.Fatalf("status = %v (%s)", res.Status, res.Detail)
		}
		if res.Latency <= 0 {
			t.Error("latency not recorded")
		}
	})

	t.Run("http connect", func(t *testing.T) {
		t.Parallel()

		addr := serveConns(t, func(c net.Conn) {
			line, err := bufio.NewReader(c).ReadString('\n')
			if err != nil || !strings.HasPrefix(line, "CONNECT") {
				return
			}
			_, _ = io.WriteString(c, "HTTP/1.1 407 Proxy Authentication Required\r\n\r\n")
		})

		res := NewProber(WithProbeTimeout(2*time.Second)).Probe(t.Context(), "http://"+addr)
		if res.Status != ProbeOK {
			t.Fatalf("status = %v (%s)", res.Status, res.Detail)
		}
	})

	t.Run("wrong proxy type", func(t *testing.T) {
		t.Parallel()

		addr := serveConns(t, func(c net.Conn) {
			_, _ = io.WriteString(c, "SSH-2.0-OpenSSH_9.6\r\n")
		})

		res := NewProber(WithProbeTimeout(2*time.Second)).Probe(t.Context(), "socks5://"+addr)
		if res.Status != ProbeWrongType {
			t.Fatalf("status = %v (%s)", res.Status, res.Detail)
		}
		if !errors.Is(res.Status.Err(), ErrProbeWrongType) {
			t.Errorf("Err() = %v", res.Status.Err())
		}
	})

	t.Run("cannot connect", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		addr := ln.Addr().String()
		_ = ln.Close()

		res := NewProber(WithProbeTimeout(2*time.Second)).Probe(t.Context(), "http://"+addr)
		if res.Status != ProbeCannotConnect {
			t.Fatalf("status = %v (%s)", res.Status, res.Detail)
		}
	})

	t.Run("silent proxy times out", func(t *testing.T) {
		t.Parallel()

		addr := serveConns(t, func(c net.Conn) {
			time.Sleep(time.Second)
		})

		res := NewProber(WithProbeTimeout(100*time.Millisecond)).Probe(t.Context(), "socks5://"+addr)
		if res.Status != ProbeTimeout {
			t.Fatalf("status = %v (%s)", res.Status, res.Detail)
		}
	})

	t.Run("probe all keeps input order", func(t *testing.T) {
		t.Parallel()

		ok := serveConns(t, func(c net.Conn) {
			buf := make([]byte, 3)
			if _, err := io.ReadFull(c, buf); err == nil {
				_, _ = c.Write([]byte{0x05, 0x00})
			}
		})

		addrs := []string{"socks5://" + ok, "::bad::", "socks5://" + ok}
		results, err := NewProber(WithProbeTimeout(time.Second)).ProbeAll(t.Context(), addrs, 2)
		if err != nil {
			t.Fatalf("ProbeAll: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("got %d results", len(results))
		}
		for i, r := range results {
			if r.Proxy != addrs[i] {
				t.Errorf("result %d is for %q", i, r.Proxy)
			}
		}
		if results[0].Status != ProbeOK || results[1].Status != ProbeWrongType || results[2].Status != ProbeOK {
			t.Errorf("unexpected statuses %v %v %v", results[0].Status, results[1].Status, results[2].Status)
		}
	})
}

func TestProbeStatusString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		status   ProbeStatus
		expected string
	}{
		{ProbeOK, "OK"},
		{ProbeWrongType, "wrong type"},
		{ProbeCannotConnect, "cannot connect"},
		{ProbeTimeout, "timeout"},
		{ProbeStatus(99), "unknown"},
	}
	for _, tc := range testCases {
		if got := tc.status.String(); got != tc.expected {
			t.Errorf("String() = %q, expected %q", got, tc.expected)
		}
	}
	if ProbeOK.Err() != nil {
		t.Error("ProbeOK.Err() should be nil")
	}
}
