package daemon

import (
	"context"
	"errors"
	"net"
	"time"

	"shfd/internal/logging"
	"shfd/internal/netio"
	"shfd/internal/pool"
	"shfd/internal/session"
)

const acceptBackoff = 50 * time.Millisecond

// acceptFiles hands every file-channel connection to the pool. A saturated
// pool answers the client immediately instead of queueing it.
func (d *Daemon) acceptFiles() {
	defer d.wg.Done()
	for {
		conn, err := d.fileLn.Accept()
		if err != nil {
			if d.acceptFailed(err) {
				return
			}
			continue
		}
		switch err := d.pool.Submit(conn); {
		case err == nil:
		case errors.Is(err, pool.ErrSaturated):
			_ = netio.NewLineConn(conn).WriteLine(session.BusyReply)
			_ = conn.Close()
		default:
			_ = conn.Close()
		}
	}
}

// acceptAdmin serves admin clients one at a time on the accepting goroutine.
func (d *Daemon) acceptAdmin(ctx context.Context) {
	defer d.wg.Done()
	for {
		conn, err := d.adminLn.Accept()
		if err != nil {
			if d.acceptFailed(err) {
				return
			}
			continue
		}
		if !netio.IsLoopback(conn.RemoteAddr()) {
			logging.WarnWithContext(d.logger, "rejected non-loopback admin client", "admin_rejected",
				logging.Remote(conn.RemoteAddr().String()),
				logging.String(logging.FieldImpact, "connection closed"),
			)
			_ = conn.Close()
			continue
		}
		d.admin.Serve(ctx, conn)
	}
}

// acceptFailed reports whether the loop should exit. Errors after shutdown
// began are expected; timeouts are retried; anything else is fatal.
func (d *Daemon) acceptFailed(err error) bool {
	if d.stopping.Load() || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		time.Sleep(acceptBackoff)
		return false
	}
	select {
	case d.fatal <- err:
	default:
	}
	return true
}
