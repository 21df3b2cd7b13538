// Package transport opens the byte links a port can run on, addressed by
// URL:
//
//	serial:///dev/ttyUSB0?baud=115200
//	tcp://host:port
//	tcp+listen://:port
//	ws://host:port/path
//	ws+listen://:port/path
//	stdio:
//
// The listen forms accept exactly one peer.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate is used for serial links without a baud parameter.
const DefaultBaudRate = 115200

// SchemeError reports an unsupported URL scheme.
type SchemeError struct {
	Scheme string
}

// Error implements error.
func (e *SchemeError) Error() string {
	return fmt.Sprintf("unknown transport scheme: %q", e.Scheme)
}

// Open opens the link described by rawURL. ctx only bounds connection
// setup; the returned link lives until closed.
func Open(ctx context.Context, rawURL string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid transport URL: %w", err)
	}
	switch u.Scheme {
	case "serial":
		return openSerial(u)
	case "tcp":
		var d net.Dialer
		return d.DialContext(ctx, "tcp", u.Host)
	case "tcp+listen":
		return acceptTCP(ctx, u.Host)
	case "ws", "wss":
		return dialWebsocket(ctx, u)
	case "ws+listen":
		return acceptWebsocket(ctx, u)
	case "stdio":
		return Stdio(), nil
	default:
		return nil, &SchemeError{Scheme: u.Scheme}
	}
}

// SerialMode builds the serial settings from URL query parameters: baud,
// databits, parity (none, odd, even) and stopbits (1, 2).
func SerialMode(query url.Values) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if val := query.Get("baud"); val != "" {
		baud, err := strconv.Atoi(val)
		if err != nil || baud <= 0 {
			return nil, fmt.Errorf("invalid baud rate %q", val)
		}
		mode.BaudRate = baud
	}
	if val := query.Get("databits"); val != "" {
		bits, err := strconv.Atoi(val)
		if err != nil || bits < 5 || bits > 8 {
			return nil, fmt.Errorf("invalid data bits %q", val)
		}
		mode.DataBits = bits
	}
	switch val := query.Get("parity"); val {
	case "", "none":
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("invalid parity %q", val)
	}
	switch val := query.Get("stopbits"); val {
	case "", "1":
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %q", val)
	}
	return mode, nil
}

func openSerial(u *url.URL) (io.ReadWriteCloser, error) {
	mode, err := SerialMode(u.Query())
	if err != nil {
		return nil, err
	}
	name := u.Host + u.Path
	if name == "" {
		name = u.Opaque
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return port, nil
}

func acceptTCP(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return acceptOne(ctx, ln)
}

func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		resCh <- result{conn: conn, err: err}
	}()
	select {
	case res := <-resCh:
		ln.Close()
		return res.conn, res.err
	case <-ctx.Done():
		ln.Close()
		if res := <-resCh; res.conn != nil {
			res.conn.Close()
		}
		return nil, ctx.Err()
	}
}

type stdio struct {
	io.Reader
	io.Writer
	once sync.Once
}

// Stdio returns a link reading stdin and writing stdout. Closing it closes
// stdin only.
func Stdio() io.ReadWriteCloser {
	return &stdio{Reader: os.Stdin, Writer: os.Stdout}
}

func (s *stdio) Close() (err error) {
	s.once.Do(func() { err = os.Stdin.Close() })
	return
}
