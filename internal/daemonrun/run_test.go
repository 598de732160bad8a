package daemonrun_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"shfd/internal/daemon"
	"shfd/internal/daemonrun"
	"shfd/internal/testsupport"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.Level = "info"
	out := &syncBuffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := daemonrun.Run(ctx, cfg, daemonrun.Options{Writer: out}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	logs := out.String()
	for _, want := range []string{`"event_type":"config_snapshot"`, `"msg":"shfd started"`, `"msg":"shfd stopped"`} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %s in logs:\n%s", want, logs)
		}
	}
}

func TestRunRejectsBadLoggerConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.Format = "xml"

	err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Writer: &syncBuffer{}})
	if code := daemon.ExitCode(err); code != daemon.ExitInit {
		t.Fatalf("expected init exit code, got %d (%v)", code, err)
	}
}
