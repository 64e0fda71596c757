// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/xionghul/distcc/hosts"
	"github.com/xionghul/distcc/lib/process"
)

// Connection is one open duplex byte stream to a compile host. For a
// direct socket both sides are the same net.Conn; for a tunneled
// process they are the child's stdin and stdout pipes, which are
// necessarily one-way. Close tears everything down exactly once.
type Connection struct {
	writeSide io.WriteCloser
	readSide  io.ReadCloser
	distinct  bool
	tunnel    *exec.Cmd

	closeOnce sync.Once
	closeErr  error
}

// WriteSide returns the stream carrying request bytes to the host.
func (c *Connection) WriteSide() io.Writer { return c.writeSide }

// ReadSide returns the stream carrying response bytes from the host.
func (c *Connection) ReadSide() io.Reader { return c.readSide }

// Close shuts the connection down: the write side first (and only when
// it is a distinct stream), then the read side, then reaps any tunnel
// child. Reap failures are logged, never propagated — the job's
// outcome was decided before teardown. Safe to call more than once.
func (c *Connection) Close(logger *slog.Logger) error {
	c.closeOnce.Do(func() {
		if c.distinct {
			if err := c.writeSide.Close(); err != nil {
				c.closeErr = fmt.Errorf("closing write side: %w", err)
			}
		}
		if c.tunnel != nil {
			// Wait reaps the child and closes the stdout pipe for us.
			// Closing stdin above already signalled EOF to the tunnel.
			status, err := process.CollectCommand("tunnel", c.tunnel)
			if err != nil {
				logger.Warn("reaping tunnel child", "error", err)
			} else if !status.Success() {
				logger.Warn("tunnel child failed", "status", status.String())
			}
			return
		}
		if err := c.readSide.Close(); err != nil && c.closeErr == nil {
			c.closeErr = fmt.Errorf("closing read side: %w", err)
		}
	})
	return c.closeErr
}

// connect establishes a Connection per the host's transport mode.
// Fails fast: no resolution or connection retries — the caller's
// policy owns retry across hosts.
func connect(ctx context.Context, logger *slog.Logger, host *hosts.Definition) (*Connection, error) {
	switch host.Mode {
	case hosts.ModeTCP:
		dialer := net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", host.Address())
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", host.Address(), err)
		}
		return &Connection{writeSide: conn, readSide: conn}, nil

	case hosts.ModeTunnel:
		if len(host.TunnelCommand) == 0 {
			return nil, fmt.Errorf("host %s: empty tunnel command", host.Hostname)
		}
		command := exec.CommandContext(ctx, host.TunnelCommand[0], host.TunnelCommand[1:]...)
		command.Stderr = os.Stderr

		stdin, err := command.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("creating tunnel stdin pipe: %w", err)
		}
		stdout, err := command.StdoutPipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("creating tunnel stdout pipe: %w", err)
		}
		if err := command.Start(); err != nil {
			stdin.Close()
			return nil, fmt.Errorf("starting tunnel %q: %w", host.TunnelCommand[0], err)
		}
		logger.Debug("tunnel started", "command", host.TunnelCommand[0], "pid", command.Process.Pid)
		return &Connection{
			writeSide: stdin,
			readSide:  stdout,
			distinct:  true,
			tunnel:    command,
		}, nil

	default:
		return nil, fmt.Errorf("host %s: impossible transport mode %d", host.Hostname, host.Mode)
	}
}
