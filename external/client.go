// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package external // import "github.com/perfsampler/agent/external"

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/perfsampler/agent/frame"
)

// Client is the producer side of the protocol.
type Client struct {
	conn net.Conn
	// Configuration is what the agent asked the producer to collect.
	Configuration *Configuration
}

// Dial connects to the agent and performs the handshake with the given protocol version.
func Dial(ctx context.Context, network, address string, version uint32) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	enc := frame.New(handshakeSize)
	if err := packRecord(enc, TagClient, version); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := writeFull(conn, enc.Bytes()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	cfg, err := ReadConfiguration(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake with %s failed: %w", address, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	return &Client{conn: conn, Configuration: cfg}, nil
}

// Write sends raw record bytes to the agent.
func (c *Client) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// Read reads from the agent. The agent sends nothing after the configuration, so Read
// returns once the agent closes the connection.
func (c *Client) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
