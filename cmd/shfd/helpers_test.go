package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"shfd/internal/config"
	"shfd/internal/daemon"
	"shfd/internal/testsupport"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	return home
}

func runCLI(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	daemon     *daemon.Daemon
	done       chan error
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	isolateHome(t)
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	d, err := daemon.New(cfg, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	env := &cliTestEnv{cfg: cfg, configPath: configPath, daemon: d, done: make(chan error, 1)}
	go func() { env.done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-env.done:
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	select {
	case <-d.Ready():
	case err := <-env.done:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never became ready")
	}
	return env
}

func (e *cliTestEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	_, portText, err := net.SplitHostPort(e.daemon.AdminAddr().String())
	if err != nil {
		t.Fatalf("admin addr: %v", err)
	}
	full := append([]string{"--config", e.configPath, "--admin-port", portText}, args...)
	stdout, stderr, err := runCLI(t, context.Background(), full...)
	if err != nil {
		t.Fatalf("shfd %v: %v (stderr %q)", args, err, stderr)
	}
	return stdout
}
