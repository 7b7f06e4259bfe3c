package diag

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"time"

	quic "github.com/quic-go/quic-go"
)

// StreamerOptions configures the opt-in QUIC diagnostics streamer.
// NewStreamer reads only Interval; Addr and TLS are not consulted. The
// listen address and TLS configuration in effect are the ones passed to
// Start, which does nothing for an empty address.
type StreamerOptions struct {
	Addr     string
	TLS      *tls.Config
	Interval time.Duration
}

// Streamer periodically pushes a Sink snapshot to every connected QUIC
// client as a newline-delimited "name value" text block, one block per
// interval. It is the network-facing sibling of Exporter, for consumers
// that want a push feed instead of a pull-based scrape.
//
// Grounded on the HTTP3Server lifecycle in
// internal/runtime/netstack/http3.go: Start binds and returns the
// realized address, Stop closes the listener and waits briefly for the
// accept loop to exit, Error returns a non-blocking error channel.
type Streamer struct {
	sink     *Sink
	interval time.Duration

	ln    *quic.Listener
	errC  chan error
	close func() error
}

// NewStreamer creates a streamer that snapshots sink. A zero Interval
// defaults to one second.
func NewStreamer(sink *Sink, opts StreamerOptions) *Streamer {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	return &Streamer{sink: sink, interval: interval, errC: make(chan error, 1)}
}

// Start is a no-op returning ("", nil) when addr is empty, keeping the
// streamer opt-in. Otherwise it binds a QUIC listener on addr and begins
// serving connections in the background.
func Start(s *Streamer, addr string, tlsConf *tls.Config) (string, error) {
	if addr == "" {
		return "", nil
	}

	if tlsConf == nil {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{"oalloc-diag"}}
	} else if len(tlsConf.NextProtos) == 0 {
		c := tlsConf.Clone()
		c.NextProtos = []string{"oalloc-diag"}
		tlsConf = c
	}

	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return "", fmt.Errorf("diag: listen on %s: %w", addr, err)
	}

	s.ln = ln
	realAddr := ln.Addr().String()
	done := make(chan struct{})

	go func() {
		if err := s.acceptLoop(ln); err != nil {
			select {
			case s.errC <- err:
			default:
			}
		}

		close(done)
	}()

	s.close = func() error {
		err := ln.Close()

		select {
		case <-done:
		case <-time.After(time.Second):
		}

		return err
	}

	return realAddr, nil
}

func (s *Streamer) acceptLoop(ln *quic.Listener) error {
	for {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			return err
		}

		go s.serveConn(conn)
	}
}

func (s *Streamer) serveConn(conn *quic.Conn) {
	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		return
	}

	defer stream.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for range ticker.C {
		if _, err := stream.Write([]byte(s.renderSnapshot())); err != nil {
			return
		}
	}
}

func (s *Streamer) renderSnapshot() string {
	snap := s.sink.Snapshot()

	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}

	sort.Strings(names)

	out := ""
	for _, name := range names {
		out += fmt.Sprintf("%s %v\n", name, snap[name])
	}

	return out + "\n"
}

// Stop closes the streamer's listener, if one was started.
func (s *Streamer) Stop() error {
	if s.close == nil {
		return nil
	}

	return s.close()
}

// Error returns a non-blocking channel that receives the first accept
// error, if any.
func (s *Streamer) Error() <-chan error {
	return s.errC
}
