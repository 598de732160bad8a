package daemon_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"shfd/internal/config"
	"shfd/internal/control"
	"shfd/internal/daemon"
	"shfd/internal/netio"
	"shfd/internal/session"
	"shfd/internal/testsupport"
)

type running struct {
	d    *daemon.Daemon
	done chan error
}

func start(t *testing.T, cfg *config.Config, opts daemon.Options) *running {
	t.Helper()
	d, err := daemon.New(cfg, opts)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{d: d, done: make(chan error, 1)}
	go func() { r.done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	select {
	case <-d.Ready():
	case err := <-r.done:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never became ready")
	}
	return r
}

func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		r.done <- err
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit")
		return nil
	}
}

func dialFiles(t *testing.T, d *daemon.Daemon) *netio.LineConn {
	t.Helper()
	conn, err := netio.Dial(context.Background(), d.FileAddr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial file channel: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, c *netio.LineConn, request string) string {
	t.Helper()
	if err := c.WriteLine(request); err != nil {
		t.Fatalf("write %q: %v", request, err)
	}
	reply, err := c.ReadLine(5 * time.Second)
	if err != nil {
		t.Fatalf("read reply to %q: %v", request, err)
	}
	return reply
}

func TestDaemonServesFilesAndShutsDownFromAdmin(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r := start(t, cfg, daemon.Options{})

	if _, err := os.Stat(cfg.PIDFilePath()); err != nil {
		t.Fatalf("expected pid file: %v", err)
	}

	files := dialFiles(t, r.d)
	if got := roundTrip(t, files, "FOPEN notes.txt"); got != "OK 3" {
		t.Fatalf("FOPEN: %q", got)
	}
	if got := roundTrip(t, files, "FWRITE 3 persisted"); got != "OK 0" {
		t.Fatalf("FWRITE: %q", got)
	}
	if got := testsupport.ReadFile(t, filepath.Join(cfg.Files.Root, "notes.txt")); got != "persisted" {
		t.Fatalf("unexpected file contents %q", got)
	}

	admin, err := control.Dial(context.Background(), r.d.AdminAddr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("control.Dial: %v", err)
	}
	params, err := admin.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if params.Active != 1 || params.Total < 1 || params.Total > params.Max {
		t.Fatalf("unexpected pool status %s", params)
	}
	lines, err := admin.Journal(10)
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected two journaled operations, got %v", lines)
	}

	if err := admin.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := r.wait(t); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	// The open file session is closed once the grace period ends.
	if _, err := files.ReadLine(5 * time.Second); err == nil {
		t.Fatal("expected the file session to be closed at shutdown")
	}
	if _, err := os.Stat(cfg.PIDFilePath()); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, got %v", err)
	}
	lock := flock.New(cfg.LockFilePath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("expected instance lock released: %v %v", ok, err)
	}
	_ = lock.Unlock()
}

func TestShutdownLetsBusyWorkerFinishAndFreesLocks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Files.DelayEnabled = true
	cfg.Files.DelaySeconds = 1
	cfg.Server.GracePeriod = 5
	r := start(t, cfg, daemon.Options{})

	files := dialFiles(t, r.d)
	if got := roundTrip(t, files, "FOPEN busy.txt"); got != "OK 3" {
		t.Fatalf("FOPEN: %q", got)
	}
	if err := files.WriteLine("FWRITE 3 hello"); err != nil {
		t.Fatalf("write FWRITE: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.d.Locks().Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("FWRITE never acquired its lock")
		}
		time.Sleep(5 * time.Millisecond)
	}

	admin, err := control.Dial(context.Background(), r.d.AdminAddr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("control.Dial: %v", err)
	}
	if err := admin.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	reply, err := files.ReadLine(5 * time.Second)
	if err != nil {
		t.Fatalf("read FWRITE reply: %v", err)
	}
	if reply != "OK 0" {
		t.Fatalf("in-flight FWRITE got %q, want OK 0", reply)
	}
	if got := roundTrip(t, files, "QUIT"); got != "OK bye" {
		t.Fatalf("QUIT: %q", got)
	}

	if err := r.wait(t); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if n := r.d.Locks().Len(); n != 0 {
		t.Fatalf("expected no locks after shutdown, %d remain", n)
	}
	if got := testsupport.ReadFile(t, filepath.Join(cfg.Files.Root, "busy.txt")); got != "hello" {
		t.Fatalf("unexpected file contents %q", got)
	}
}

func TestRunReturnsOnlyAfterCancelledWorkersExit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Files.DelayEnabled = true
	cfg.Files.DelaySeconds = 30
	cfg.Server.GracePeriod = 1
	r := start(t, cfg, daemon.Options{})

	files := dialFiles(t, r.d)
	if err := files.WriteLine("FOPEN stuck.txt"); err != nil {
		t.Fatalf("write FOPEN: %v", err)
	}
	if got, err := files.ReadLine(5 * time.Second); err != nil || got != "OK 3" {
		t.Fatalf("FOPEN: %q %v", got, err)
	}
	if err := files.WriteLine("FWRITE 3 late"); err != nil {
		t.Fatalf("write FWRITE: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.d.Locks().Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("FWRITE never acquired its lock")
		}
		time.Sleep(5 * time.Millisecond)
	}

	admin, err := control.Dial(context.Background(), r.d.AdminAddr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("control.Dial: %v", err)
	}
	if err := admin.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := r.wait(t); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if s := r.d.Stats(); s.Active != 0 {
		t.Fatalf("Run returned with busy workers: %s", s)
	}
	if n := r.d.Locks().Len(); n != 0 {
		t.Fatalf("Run returned with %d locks held", n)
	}
}

func TestSaturatedPoolRejectsImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPool(1, 1), testsupport.WithoutJournal())
	r := start(t, cfg, daemon.Options{})

	first := dialFiles(t, r.d)
	if got := roundTrip(t, first, "FOPEN a.txt"); got != "OK 3" {
		t.Fatalf("FOPEN: %q", got)
	}

	second := dialFiles(t, r.d)
	reply, err := second.ReadLine(2 * time.Second)
	if err != nil {
		t.Fatalf("expected busy reply: %v", err)
	}
	if reply != session.BusyReply {
		t.Fatalf("got %q, want %q", reply, session.BusyReply)
	}
}

func TestSecondInstanceFailsInit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	start(t, cfg, daemon.Options{})

	other, err := daemon.New(cfg, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	err = other.Run(context.Background())
	var se *daemon.StageError
	if !errors.As(err, &se) || se.Stage != daemon.StageInit {
		t.Fatalf("expected init stage error, got %v", err)
	}
	if code := daemon.ExitCode(err); code != daemon.ExitInit {
		t.Fatalf("expected exit code %d, got %d", daemon.ExitInit, code)
	}
}

func TestListenFailureMapsToExitCode(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Server.FilePort = busy.Addr().(*net.TCPAddr).Port

	d, err := daemon.New(cfg, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	err = d.Run(context.Background())
	if code := daemon.ExitCode(err); code != daemon.ExitListen {
		t.Fatalf("expected exit code %d, got %d (%v)", daemon.ExitListen, code, err)
	}
	if _, statErr := os.Stat(cfg.PIDFilePath()); !os.IsNotExist(statErr) {
		t.Fatalf("pid file should be removed after a failed start: %v", statErr)
	}
}

func TestExitCodes(t *testing.T) {
	cases := map[daemon.Stage]int{
		daemon.StageInit:    1,
		daemon.StageListen:  2,
		daemon.StageSpawn:   3,
		daemon.StageSignals: 92,
		daemon.StageAccept:  133,
	}
	for stage, want := range cases {
		err := &daemon.StageError{Stage: stage, Err: errors.New("boom")}
		if got := daemon.ExitCode(err); got != want {
			t.Fatalf("%s: got %d, want %d", stage, got, want)
		}
	}
	if daemon.ExitCode(nil) != 0 || daemon.ExitCode(errors.New("plain")) != daemon.ExitInit {
		t.Fatal("unexpected exit code for nil or unclassified errors")
	}
}

func writeConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestReloadSwapsPeersAndPoolBounds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeConfig(t, path, cfg)

	r := start(t, cfg, daemon.Options{ConfigPath: path})
	if n := r.d.Registry().Len(); n != 0 {
		t.Fatalf("expected no peers at start, got %d", n)
	}

	updated := *cfg
	updated.Peers.Addresses = []string{"10.9.9.9:" + strconv.Itoa(9002)}
	updated.Pool.Max = 6
	writeConfig(t, path, &updated)

	admin, err := control.Dial(context.Background(), r.d.AdminAddr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("control.Dial: %v", err)
	}
	defer admin.Close()
	if err := admin.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.d.Registry().Len() == 1 && r.d.Stats().Max == 6 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("reload not applied: peers=%d pool=%s", r.d.Registry().Len(), r.d.Stats())
}
