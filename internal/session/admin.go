package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"shfd/internal/journal"
	"shfd/internal/locktable"
	"shfd/internal/logging"
	"shfd/internal/netio"
	"shfd/internal/peers"
	"shfd/internal/pool"
	"shfd/internal/signals"
)

// DefaultJournalLines is the JOURNAL page size when no count is given.
const DefaultJournalLines = 20

// PoolControl is the part of the worker pool the admin channel drives.
type PoolControl interface {
	Stats() pool.Params
	Resize(increment, max int) (pool.Params, error)
}

// JournalReader lists recent journal entries.
type JournalReader interface {
	Recent(ctx context.Context, n int) ([]journal.Entry, error)
}

// RequestSink accepts shutdown and reload requests.
type RequestSink interface {
	Submit(req signals.Request) bool
}

// AdminOptions wires an AdminServer.
type AdminOptions struct {
	Pool     PoolControl
	Locks    *locktable.Table
	Registry func() *peers.Registry
	Journal  JournalReader
	Requests RequestSink
	// ReadTimeout closes an idle admin session; zero disables it.
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

// AdminServer serves the loopback administration channel, one client at a time.
type AdminServer struct {
	opts   AdminOptions
	logger *slog.Logger
}

// NewAdminServer validates opts.
func NewAdminServer(opts AdminOptions) (*AdminServer, error) {
	if opts.Pool == nil || opts.Locks == nil || opts.Registry == nil || opts.Requests == nil {
		return nil, errors.New("admin server requires pool, locks, registry and a request sink")
	}
	return &AdminServer{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "admin")}, nil
}

// Serve handles one admin connection until QUIT, SHUTDOWN, disconnect or ctx ends.
func (s *AdminServer) Serve(ctx context.Context, raw net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()
	conn := netio.NewLineConn(raw)
	defer conn.Close()

	s.logger.Info("admin session started", logging.Remote(conn.RemoteAddr()))
	for {
		line, err := conn.ReadLine(s.opts.ReadTimeout)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Info("admin session ended", logging.Error(err))
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, done := s.dispatch(ctx, line)
		if err := r.write(conn); err != nil {
			s.logger.Debug("admin reply failed", logging.Error(err))
			return
		}
		if done {
			return
		}
	}
}

// reply is a status line, optionally followed by a listing that ends with ".".
type reply struct {
	lines []string
	list  bool
}

func single(line string) reply { return reply{lines: []string{line}} }

func (r reply) write(conn *netio.LineConn) error {
	if !r.list {
		return conn.WriteLine(r.lines[0])
	}
	return conn.WriteLines(r.lines)
}

func (s *AdminServer) dispatch(ctx context.Context, line string) (reply, bool) {
	keyword, rest := splitCommand(line)
	s.logger.Debug("admin command", logging.Command(keyword))
	switch keyword {
	case "STATUS":
		return single(ok("%s", s.opts.Pool.Stats())), false
	case "PEERS":
		return s.peers(), false
	case "LOCKS":
		return s.locks(), false
	case "SET":
		return single(s.set(rest)), false
	case "RELOAD":
		if !s.opts.Requests.Submit(signals.Request{Action: signals.Reload, Source: "admin"}) {
			return single(failReply(codeIO, "daemon is stopping")), false
		}
		return single(ok("reload requested")), false
	case "JOURNAL":
		return s.journal(ctx, rest), false
	case "SHUTDOWN":
		if !s.opts.Requests.Submit(signals.Request{Action: signals.Shutdown, Source: "admin"}) {
			return single(failReply(codeIO, "daemon is stopping")), true
		}
		s.logger.Info("shutdown requested over admin channel")
		return single(ok("shutting down")), true
	case "QUIT":
		return single(ok("bye")), true
	default:
		return single(unknownCommand()), false
	}
}

func (s *AdminServer) peers() reply {
	list := s.opts.Registry().Peers()
	out := make([]string, 0, len(list)+1)
	out = append(out, ok("%d", len(list)))
	for _, p := range list {
		out = append(out, p.String())
	}
	return reply{lines: out, list: true}
}

func (s *AdminServer) locks() reply {
	snapshot := s.opts.Locks.Snapshot()
	out := make([]string, 0, len(snapshot)+1)
	out = append(out, ok("held=%d capacity=%d", s.opts.Locks.Len(), s.opts.Locks.Cap()))
	for _, info := range snapshot {
		out = append(out, fmt.Sprintf("%s %s %d", info.Resource, info.Holder, info.Waiters))
	}
	return reply{lines: out, list: true}
}

func (s *AdminServer) set(rest string) string {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return errReply(codeInvalid, "usage: SET INCREMENT|MAX n")
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return errReply(codeInvalid, "value must be a number")
	}
	current := s.opts.Pool.Stats()
	increment, max := current.Increment, current.Max
	switch strings.ToUpper(fields[0]) {
	case "INCREMENT":
		increment = n
	case "MAX":
		max = n
	default:
		return errReply(codeInvalid, "unknown parameter "+fields[0])
	}
	params, err := s.opts.Pool.Resize(increment, max)
	if err != nil {
		return errReply(codeInvalid, err.Error())
	}
	s.logger.Info("pool parameters changed", logging.String("params", params.String()))
	return ok("%s", params)
}

func (s *AdminServer) journal(ctx context.Context, rest string) reply {
	if s.opts.Journal == nil {
		return single(errReply(codeInvalid, "journal disabled"))
	}
	n := DefaultJournalLines
	if arg := strings.TrimSpace(rest); arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			return single(errReply(codeInvalid, "count must be a positive number"))
		}
		n = v
	}
	entries, err := s.opts.Journal.Recent(ctx, n)
	if err != nil {
		logging.WarnWithContext(s.logger, "journal query failed", "journal_query_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "admin client received no journal entries"),
		)
		return single(failReply(codeIO, "journal unavailable"))
	}
	out := make([]string, 0, len(entries)+1)
	out = append(out, ok("%d", len(entries)))
	for _, e := range entries {
		out = append(out, FormatEntry(e))
	}
	return reply{lines: out, list: true}
}

// FormatEntry renders a journal entry as one space-separated admin line:
// time, session, peer, command, resource, status code and duration.
func FormatEntry(e journal.Entry) string {
	peer := e.Peer
	if peer == "" {
		peer = "-"
	}
	resource := e.Resource
	if resource == "" {
		resource = "-"
	}
	status := strings.ReplaceAll(e.Status, " ", ":")
	return fmt.Sprintf("%s %s %s %s %s %s %dms",
		e.Time.UTC().Format(time.RFC3339), shortID(e.Session), peer, e.Command, resource, status, e.Duration.Milliseconds())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
