package signals_test

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"shfd/internal/signals"
)

func TestClassify(t *testing.T) {
	cases := map[syscall.Signal]signals.Action{
		syscall.SIGINT:  signals.Shutdown,
		syscall.SIGTERM: signals.Shutdown,
		syscall.SIGQUIT: signals.Shutdown,
		syscall.SIGHUP:  signals.Reload,
		syscall.SIGCHLD: signals.Reap,
		syscall.SIGALRM: signals.Ignore,
		syscall.SIGABRT: signals.Ignore,
		syscall.SIGPIPE: signals.Ignore,
	}
	for sig, want := range cases {
		if got := signals.Classify(sig); got != want {
			t.Fatalf("Classify(%s) = %s, want %s", sig, got, want)
		}
	}
}

func TestStartTwiceFails(t *testing.T) {
	c := signals.NewCoordinator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()
	if err := c.Start(ctx); !errors.Is(err, signals.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestHangupBecomesReloadRequest(t *testing.T) {
	c := signals.NewCoordinator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case req := <-c.Requests():
		if req.Action != signals.Reload || req.Signal != syscall.SIGHUP {
			t.Fatalf("unexpected request %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no request delivered for SIGHUP")
	}
}

func TestSubmitAfterStopIsRefused(t *testing.T) {
	c := signals.NewCoordinator(nil)
	if !c.Submit(signals.Request{Action: signals.Shutdown, Source: "admin"}) {
		t.Fatal("expected submit to be accepted")
	}
	req := <-c.Requests()
	if req.Action != signals.Shutdown || req.Source != "admin" {
		t.Fatalf("unexpected request %+v", req)
	}
	c.Stop()
	if c.Submit(signals.Request{Action: signals.Reload}) {
		t.Fatal("expected submit to be refused after Stop")
	}
}
