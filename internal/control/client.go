package control

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shfd/internal/netio"
	"shfd/internal/pool"
)

// DefaultTimeout bounds dialing and each reply.
const DefaultTimeout = 5 * time.Second

// Client speaks the admin line protocol. It is not safe for concurrent use.
type Client struct {
	conn    *netio.LineConn
	timeout time.Duration
}

// Dial connects to the admin channel at addr.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := netio.Dial(ctx, addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// WaitForClient retries Dial until the daemon answers or timeout elapses.
func WaitForClient(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := Dial(ctx, addr, DefaultTimeout)
		if err == nil {
			return client, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon not reachable: %w", lastErr)
}

// Close ends the session politely and closes the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	if err := c.conn.WriteLine("QUIT"); err == nil {
		_, _ = c.conn.ReadLine(c.timeout)
	}
	return c.conn.Close()
}

func (c *Client) call(command string) (string, error) {
	if err := c.conn.WriteLine(command); err != nil {
		return "", fmt.Errorf("send %s: %w", command, err)
	}
	line, err := c.conn.ReadLine(c.timeout)
	if err != nil {
		return "", fmt.Errorf("read %s reply: %w", command, err)
	}
	return parseReply(line)
}

// list issues a command whose successful reply is followed by lines ending in ".".
func (c *Client) list(command string) (string, []string, error) {
	status, err := c.call(command)
	if err != nil {
		return "", nil, err
	}
	var lines []string
	for {
		line, err := c.conn.ReadLine(c.timeout)
		if err != nil {
			return "", nil, fmt.Errorf("read %s listing: %w", command, err)
		}
		if line == "." {
			return status, lines, nil
		}
		lines = append(lines, line)
	}
}

// Status returns the current pool parameters.
func (c *Client) Status() (pool.Params, error) {
	payload, err := c.call("STATUS")
	if err != nil {
		return pool.Params{}, err
	}
	return pool.ParseParams(payload)
}

// Set changes "increment" or "max" and returns the resulting parameters.
func (c *Client) Set(param string, value int) (pool.Params, error) {
	payload, err := c.call(fmt.Sprintf("SET %s %d", strings.ToUpper(param), value))
	if err != nil {
		return pool.Params{}, err
	}
	return pool.ParseParams(payload)
}

// Peers returns the configured peer addresses in configuration order.
func (c *Client) Peers() ([]string, error) {
	_, lines, err := c.list("PEERS")
	return lines, err
}

// Locks returns the lock table summary.
func (c *Client) Locks() (LockSummary, error) {
	status, lines, err := c.list("LOCKS")
	if err != nil {
		return LockSummary{}, err
	}
	return parseLockSummary(status, lines)
}

// Journal returns up to n formatted journal lines, newest first.
func (c *Client) Journal(n int) ([]string, error) {
	command := "JOURNAL"
	if n > 0 {
		command += " " + strconv.Itoa(n)
	}
	_, lines, err := c.list(command)
	return lines, err
}

// Reload asks the daemon to re-read its configuration.
func (c *Client) Reload() error {
	_, err := c.call("RELOAD")
	return err
}

// Shutdown asks the daemon to stop gracefully. The daemon closes the session afterwards.
func (c *Client) Shutdown() error {
	_, err := c.call("SHUTDOWN")
	if err == nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return err
}
