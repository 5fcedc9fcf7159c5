// Package transport implements the bundled TCP transport. The protocol is
// a single persistent connection carrying newline-terminated command lines
// with length-framed payloads:
//
//	client: HELLO <client>/<version>
//	server: OK writable=0|1
//	client: WRITE <streamid> <start> <end> <length> <ack> followed by
//	        <length> payload bytes
//	server: ACK, or ERROR <reason>, sent only when <ack> is 1
//
// Start and end times travel as integer ticks.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seisflow/seedship/internal/ports"
)

const clientID = "seedship/1"

// ErrNotConnected is returned by Write before a successful Connect.
var ErrNotConnected = errors.New("not connected")

// Config holds the transport settings.
type Config struct {
	// Addr is the server address in host:port form.
	Addr string

	// Timeout bounds the dial and each subsequent exchange; 0 means no
	// deadline.
	Timeout time.Duration
}

// Client is a ports.Transport over a plain TCP connection.
type Client struct {
	cfg Config
	log zerolog.Logger

	conn     net.Conn
	r        *bufio.Reader
	w        *bufio.Writer
	writable bool
}

// New returns an unconnected client for the given server.
func New(cfg Config, log zerolog.Logger) *Client {
	return &Client{cfg: cfg, log: log}
}

// Connect dials the server and performs the hello exchange. Any existing
// connection is dropped first.
func (c *Client) Connect(ctx context.Context) error {
	c.Close()

	d := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.cfg.Addr, err)
	}

	c.conn = conn
	c.r = bufio.NewReader(conn)
	c.w = bufio.NewWriter(conn)
	c.writable = false

	if err := c.setDeadline(ctx); err != nil {
		c.Close()
		return err
	}
	if _, err := fmt.Fprintf(c.w, "HELLO %s\n", clientID); err != nil {
		c.Close()
		return fmt.Errorf("sending hello: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		c.Close()
		return fmt.Errorf("sending hello: %w", err)
	}

	line, err := c.readLine()
	if err != nil {
		c.Close()
		return fmt.Errorf("reading hello response: %w", err)
	}
	var writable int
	if _, err := fmt.Sscanf(line, "OK writable=%d", &writable); err != nil {
		c.Close()
		return fmt.Errorf("unexpected hello response %q", line)
	}
	c.writable = writable != 0

	c.log.Debug().Str("server", c.cfg.Addr).Bool("writable", c.writable).Msg("connected")
	return nil
}

// WritePermission reports whether the server granted write access. Valid
// after a successful Connect.
func (c *Client) WritePermission() bool { return c.writable }

// Write sends one record. With requireAck set it waits for the server to
// confirm receipt before returning.
func (c *Client) Write(ctx context.Context, rec *ports.Record, requireAck bool) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.setDeadline(ctx); err != nil {
		return err
	}

	ack := 0
	if requireAck {
		ack = 1
	}
	if _, err := fmt.Fprintf(c.w, "WRITE %s %d %d %d %d\n",
		rec.StreamID(), int64(rec.Start), int64(rec.End), len(rec.Data), ack); err != nil {
		return fmt.Errorf("sending record header: %w", err)
	}
	if _, err := c.w.Write(rec.Data); err != nil {
		return fmt.Errorf("sending record payload: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("sending record: %w", err)
	}

	if !requireAck {
		return nil
	}
	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("reading ack: %w", err)
	}
	switch {
	case line == "ACK":
		return nil
	case strings.HasPrefix(line, "ERROR"):
		return fmt.Errorf("server refused record: %s", strings.TrimSpace(strings.TrimPrefix(line, "ERROR")))
	default:
		return fmt.Errorf("unexpected ack response %q", line)
	}
}

// Close drops the connection. Safe to call more than once.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.r = nil
	c.w = nil
	c.writable = false
	return err
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// setDeadline applies the exchange timeout, tightened by the context
// deadline when that comes first.
func (c *Client) setDeadline(ctx context.Context) error {
	var deadline time.Time
	if c.cfg.Timeout > 0 {
		deadline = time.Now().Add(c.cfg.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if deadline.IsZero() {
		return nil
	}
	return c.conn.SetDeadline(deadline)
}
