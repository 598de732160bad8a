package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"shfd/internal/journal"
	"shfd/internal/locktable"
	"shfd/internal/logging"
	"shfd/internal/netio"
	"shfd/internal/peers"
)

// MaxRead caps the byte count of a single FREAD.
const MaxRead = 32 * 1024

// Observer receives lock and forwarding outcomes, typically for metrics.
type Observer interface {
	ObserveLock(result string, wait time.Duration)
	ObserveForward(outcome string)
}

// FileOptions wires a FileServer to the daemon's shared components.
type FileOptions struct {
	Locks     *locktable.Table
	Registry  func() *peers.Registry
	Forwarder *peers.Forwarder
	Journal   journal.Recorder
	Observer  Observer
	Root      string
	// ReadTimeout ends a session after this much inactivity; zero disables it.
	ReadTimeout time.Duration
	// LockTimeout bounds each acquisition; zero waits until shutdown.
	LockTimeout time.Duration
	// Delay holds each lock this long before the I/O, to make serialization observable.
	Delay   time.Duration
	Verbose bool
	Logger  *slog.Logger
}

// FileServer serves the file channel. Serve has the pool.Handler signature.
type FileServer struct {
	opts   FileOptions
	logger *slog.Logger
}

// NewFileServer validates opts.
func NewFileServer(opts FileOptions) (*FileServer, error) {
	if opts.Locks == nil || opts.Registry == nil {
		return nil, errors.New("file server requires a lock table and a peer registry")
	}
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("file server requires a root directory")
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	return &FileServer{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "files")}, nil
}

type descriptor struct {
	resource string
	path     string
	offset   int64
	// Set for descriptors opened on a peer.
	remote   *netio.LineConn
	peer     string
	remoteFD int
}

type fileSession struct {
	srv      *FileServer
	conn     *netio.LineConn
	owner    locktable.Owner
	registry *peers.Registry
	fromPeer string
	descs    map[int]*descriptor
	nextFD   int
	remotes  map[string]*netio.LineConn
	logger   *slog.Logger
}

// Serve runs one session until the client quits, goes idle, disconnects or ctx ends.
func (s *FileServer) Serve(ctx context.Context, conn net.Conn) {
	owner := uuid.NewString()
	ctx = logging.WithSession(ctx, owner)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sess := &fileSession{
		srv:      s,
		conn:     netio.NewLineConn(conn),
		owner:    locktable.Owner(owner),
		registry: s.opts.Registry(),
		descs:    make(map[int]*descriptor),
		nextFD:   3,
		remotes:  make(map[string]*netio.LineConn),
		logger:   logging.WithContext(ctx, s.logger),
	}
	defer sess.close()

	sess.logger.Debug("file session started", logging.Remote(sess.conn.RemoteAddr()))
	for {
		line, err := sess.conn.ReadLine(s.opts.ReadTimeout)
		if err != nil {
			sess.ended(err)
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		reply, quit := sess.dispatch(ctx, line)
		if err := sess.conn.WriteLine(reply); err != nil {
			sess.logger.Debug("reply failed", logging.Error(err))
			return
		}
		if quit {
			return
		}
	}
}

func (c *fileSession) ended(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.logger.Debug("file session closed by client")
	case errors.Is(err, netio.ErrTimeout):
		c.logger.Info("file session idle timeout")
	default:
		c.logger.Info("file session ended", logging.Error(err))
	}
}

func (c *fileSession) close() {
	for peer, conn := range c.remotes {
		_ = conn.WriteLine("QUIT")
		_ = conn.Close()
		delete(c.remotes, peer)
	}
	if n := c.srv.opts.Locks.ReleaseAll(c.owner); n > 0 {
		logging.WarnWithContext(c.logger, "session ended holding locks", "session_locks_released",
			logging.Int("released", n),
			logging.String(logging.FieldImpact, "locks were released on disconnect"),
		)
	}
}

func (c *fileSession) dispatch(ctx context.Context, line string) (string, bool) {
	keyword, rest := splitCommand(line)
	start := time.Now()
	var reply, resource string
	switch keyword {
	case "FOPEN":
		reply, resource = c.open(ctx, rest)
	case "FSEEK":
		reply, resource = c.seek(rest)
	case "FREAD":
		reply, resource = c.read(ctx, rest)
	case "FWRITE":
		reply, resource = c.write(ctx, rest)
	case "FCLOSE":
		reply, resource = c.closeFD(rest)
	case "PEER":
		return c.peer(ctx, rest), false
	case "QUIT":
		return ok("bye"), true
	default:
		return unknownCommand(), false
	}

	elapsed := time.Since(start)
	c.trace(keyword, resource, reply, elapsed)
	entry := journal.Entry{
		Time:     start,
		Session:  string(c.owner),
		Peer:     c.fromPeer,
		Command:  keyword,
		Resource: resource,
		Status:   replyStatus(reply),
		Duration: elapsed,
	}
	if err := c.srv.opts.Journal.Record(ctx, entry); err != nil {
		c.logger.Debug("journal record failed", logging.Error(err))
	}
	return reply, false
}

func (c *fileSession) trace(keyword, resource, reply string, elapsed time.Duration) {
	level := slog.LevelDebug
	if c.srv.opts.Verbose {
		level = slog.LevelInfo
	}
	c.logger.Log(context.Background(), level, "file command",
		logging.Command(keyword),
		logging.Resource(resource),
		logging.String("status", replyStatus(reply)),
		logging.Duration("elapsed", elapsed),
	)
}

func (c *fileSession) peer(ctx context.Context, rest string) string {
	node := strings.TrimSpace(rest)
	if node == "" {
		return errReply(codeInvalid, "peer name required")
	}
	c.fromPeer = node
	c.logger = logging.WithContext(logging.WithPeer(ctx, node), c.srv.logger)
	c.logger.Debug("session forwarded from peer")
	return ok("peer")
}

func (c *fileSession) open(ctx context.Context, rest string) (string, string) {
	resource, path, err := resolvePath(c.srv.opts.Root, rest)
	if err != nil {
		return errReply(codeInvalid, err.Error()), ""
	}

	if c.fromPeer == "" {
		if decision := c.registry.Decide(resource); !decision.IsLocal() {
			if reply, ok := c.openRemote(ctx, decision.Peer, resource); ok {
				return reply, resource
			}
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errReply(codeNotFound, "no such directory"), resource
		}
		return failReply(codeIO, err.Error()), resource
	}
	_ = f.Close()

	fd := c.allocate(&descriptor{resource: resource, path: path})
	return ok("%d", fd), resource
}

// openRemote reports false when the peer could not be used and the request
// should be served locally instead.
func (c *fileSession) openRemote(ctx context.Context, p peers.Peer, resource string) (string, bool) {
	conn, err := c.remote(ctx, p)
	if err == nil {
		var reply string
		reply, err = c.srv.opts.Forwarder.Relay(conn, "FOPEN "+resource)
		if err == nil {
			c.observeForward("forwarded")
			remoteFD, parseErr := parseOKInt(reply)
			if parseErr != nil {
				return reply, true
			}
			fd := c.allocate(&descriptor{resource: resource, remote: conn, peer: p.String(), remoteFD: remoteFD})
			return ok("%d", fd), true
		}
		c.dropRemote(p.String())
	}
	c.observeForward("degraded")
	logging.WarnWithContext(c.logger, "peer unreachable, serving locally", "forward_degraded",
		logging.Peer(p.String()),
		logging.Resource(resource),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check that the peer daemon is running and reachable"),
		logging.String(logging.FieldImpact, "resource served without cross-daemon coordination"),
	)
	return "", false
}

func (c *fileSession) remote(ctx context.Context, p peers.Peer) (*netio.LineConn, error) {
	key := p.String()
	if conn, ok := c.remotes[key]; ok {
		return conn, nil
	}
	if c.srv.opts.Forwarder == nil {
		return nil, errors.New("forwarding disabled")
	}
	conn, err := c.srv.opts.Forwarder.Dial(ctx, p)
	if err != nil {
		return nil, err
	}
	c.remotes[key] = conn
	return conn, nil
}

func (c *fileSession) dropRemote(peer string) {
	if conn, ok := c.remotes[peer]; ok {
		_ = conn.Close()
		delete(c.remotes, peer)
	}
	for fd, d := range c.descs {
		if d.peer == peer {
			delete(c.descs, fd)
		}
	}
}

func (c *fileSession) relay(d *descriptor, request string) string {
	reply, err := c.srv.opts.Forwarder.Relay(d.remote, request)
	if err != nil {
		c.dropRemote(d.peer)
		logging.WarnWithContext(c.logger, "peer relay failed", "forward_failed",
			logging.Peer(d.peer),
			logging.Error(err),
			logging.String(logging.FieldImpact, "descriptors opened on this peer were dropped"),
		)
		return failReply(codeIO, "peer unreachable")
	}
	return reply
}

func (c *fileSession) allocate(d *descriptor) int {
	fd := c.nextFD
	c.nextFD++
	c.descs[fd] = d
	return fd
}

func (c *fileSession) lookup(arg string) (int, *descriptor, string) {
	fd, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, nil, errReply(codeBadFD, "descriptor must be a number")
	}
	d, ok := c.descs[fd]
	if !ok {
		return 0, nil, errReply(codeBadFD, "bad descriptor")
	}
	return fd, d, ""
}

func (c *fileSession) seek(rest string) (string, string) {
	fdArg, offArg, _ := strings.Cut(strings.TrimSpace(rest), " ")
	_, d, bad := c.lookup(fdArg)
	if bad != "" {
		return bad, ""
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(offArg), 10, 64)
	if err != nil || offset < 0 {
		return errReply(codeInvalid, "offset must be a non-negative number"), d.resource
	}
	if d.remote != nil {
		return c.relay(d, fmt.Sprintf("FSEEK %d %d", d.remoteFD, offset)), d.resource
	}
	d.offset = offset
	return ok("0"), d.resource
}

func (c *fileSession) read(ctx context.Context, rest string) (string, string) {
	fdArg, countArg, _ := strings.Cut(strings.TrimSpace(rest), " ")
	_, d, bad := c.lookup(fdArg)
	if bad != "" {
		return bad, ""
	}
	count, err := strconv.Atoi(strings.TrimSpace(countArg))
	if err != nil || count <= 0 || count > MaxRead {
		return errReply(codeInvalid, fmt.Sprintf("count must be between 1 and %d", MaxRead)), d.resource
	}
	if d.remote != nil {
		return c.relay(d, fmt.Sprintf("FREAD %d %d", d.remoteFD, count)), d.resource
	}

	var reply string
	if fail := c.withLock(ctx, d.resource, func() error {
		f, err := os.Open(d.path)
		if err != nil {
			return err
		}
		defer f.Close()
		buf := make([]byte, count)
		n, err := f.ReadAt(buf, d.offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		d.offset += int64(n)
		reply = ok("%d %s", n, strconv.Quote(string(buf[:n])))
		return nil
	}); fail != "" {
		return fail, d.resource
	}
	return reply, d.resource
}

func (c *fileSession) write(ctx context.Context, rest string) (string, string) {
	fdArg, data, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	_, d, bad := c.lookup(fdArg)
	if bad != "" {
		return bad, ""
	}
	if d.remote != nil {
		return c.relay(d, fmt.Sprintf("FWRITE %d %s", d.remoteFD, data)), d.resource
	}

	if fail := c.withLock(ctx, d.resource, func() error {
		f, err := os.OpenFile(d.path, os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := f.WriteAt([]byte(data), d.offset)
		d.offset += int64(n)
		return err
	}); fail != "" {
		return fail, d.resource
	}
	return ok("0"), d.resource
}

func (c *fileSession) closeFD(rest string) (string, string) {
	fd, d, bad := c.lookup(rest)
	if bad != "" {
		return bad, ""
	}
	delete(c.descs, fd)
	if d.remote != nil {
		return c.relay(d, fmt.Sprintf("FCLOSE %d", d.remoteFD)), d.resource
	}
	return ok("0"), d.resource
}

// withLock runs fn while holding resource and returns a failure reply, or ""
// on success. The optional delay is spent holding the lock.
func (c *fileSession) withLock(ctx context.Context, resource string, fn func() error) string {
	start := time.Now()
	res, err := c.srv.opts.Locks.Acquire(ctx, resource, c.owner, c.srv.opts.LockTimeout)
	wait := time.Since(start)

	switch {
	case errors.Is(err, locktable.ErrReentrant):
		c.observeLock("reentrant", wait)
		return failReply(codeDeadlock, "resource already locked by this session")
	case res == locktable.TableFull:
		c.observeLock(res.String(), wait)
		logging.WarnWithContext(c.logger, "lock table full", "lock_table_full",
			logging.Resource(resource),
			logging.Int("capacity", c.srv.opts.Locks.Cap()),
			logging.String(logging.FieldErrorHint, "raise locks.capacity"),
			logging.String(logging.FieldImpact, "request rejected with ENOLCK"),
		)
		return failReply(codeNoLock, "lock table full")
	case res == locktable.WouldBlock:
		c.observeLock(res.String(), wait)
		return failReply(codeBusy, "resource busy")
	case err != nil:
		return failReply(codeInvalid, err.Error())
	}
	c.observeLock(res.String(), wait)

	defer func() {
		if err := c.srv.opts.Locks.Release(resource, c.owner); err != nil {
			logging.ErrorWithContext(c.logger, "lock release failed", "lock_release_failed",
				logging.Resource(resource),
				logging.Error(err),
			)
		}
	}()

	if delay := c.srv.opts.Delay; delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	if err := fn(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errReply(codeNotFound, "file removed")
		}
		return failReply(codeIO, err.Error())
	}
	return ""
}

func (c *fileSession) observeLock(result string, wait time.Duration) {
	if c.srv.opts.Observer != nil {
		c.srv.opts.Observer.ObserveLock(result, wait)
	}
}

func (c *fileSession) observeForward(outcome string) {
	if c.srv.opts.Observer != nil {
		c.srv.opts.Observer.ObserveForward(outcome)
	}
}

func parseOKInt(reply string) (int, error) {
	fields := strings.Fields(reply)
	if len(fields) < 2 || fields[0] != "OK" {
		return 0, fmt.Errorf("unexpected reply %q", reply)
	}
	return strconv.Atoi(fields[1])
}

