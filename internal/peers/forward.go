package peers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shfd/internal/logging"
	"shfd/internal/netio"
)

// Forwarder opens file-channel connections to sibling daemons.
type Forwarder struct {
	self    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewForwarder returns a forwarder that introduces itself as self.
func NewForwarder(self string, timeout time.Duration, logger *slog.Logger) *Forwarder {
	return &Forwarder{self: self, timeout: timeout, logger: logging.NewComponentLogger(logger, "forward")}
}

// Dial connects to p and performs the PEER handshake so the remote side
// serves every request locally instead of forwarding again.
func (f *Forwarder) Dial(ctx context.Context, p Peer) (*netio.LineConn, error) {
	conn, err := netio.Dial(ctx, p.String(), f.timeout)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteLine("PEER " + f.self); err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer handshake with %s: %w", p, err)
	}
	reply, err := conn.ReadLine(f.timeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer handshake with %s: %w", p, err)
	}
	if !strings.HasPrefix(reply, "OK") {
		conn.Close()
		return nil, fmt.Errorf("peer handshake with %s: %s", p, reply)
	}
	f.logger.Debug("peer connected", logging.Peer(p.String()))
	return conn, nil
}

// Relay sends one request line and returns the single-line reply.
func (f *Forwarder) Relay(conn *netio.LineConn, request string) (string, error) {
	if err := conn.WriteLine(request); err != nil {
		return "", err
	}
	return conn.ReadLine(f.timeout)
}
