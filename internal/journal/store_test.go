package journal_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"shfd/internal/journal"
	"shfd/internal/testsupport"
)

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	return testsupport.MustOpenJournal(t, testsupport.NewConfig(t))
}

func TestRecordAndRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	for i, cmd := range []string{"FOPEN", "FWRITE", "FCLOSE"} {
		err := store.Record(ctx, journal.Entry{
			Time:     base.Add(time.Duration(i) * time.Second),
			Session:  "s1",
			Command:  cmd,
			Resource: "file.txt",
			Status:   "OK",
			Duration: 15 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("Record %s: %v", cmd, err)
		}
	}

	entries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Command != "FCLOSE" || entries[1].Command != "FWRITE" {
		t.Fatalf("expected newest first, got %s then %s", entries[0].Command, entries[1].Command)
	}
	if entries[0].Resource != "file.txt" || entries[0].Peer != "" || entries[0].Duration != 15*time.Millisecond {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestPruneRemovesOldEntries(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now()

	old := journal.Entry{Time: now.Add(-48 * time.Hour), Session: "s", Command: "FREAD", Status: "OK"}
	fresh := journal.Entry{Time: now, Session: "s", Command: "FWRITE", Status: "OK"}
	for _, e := range []journal.Entry{old, fresh} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	removed, err := store.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	entries, _ := store.Recent(ctx, 10)
	if len(entries) != 1 || entries[0].Command != "FWRITE" {
		t.Fatalf("unexpected remaining entries: %+v", entries)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Record(context.Background(), journal.Entry{Session: "s", Command: "FOPEN", Status: "OK"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	store.Close()

	reopened, err := journal.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	entries, err := reopened.Recent(context.Background(), 5)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected persisted entry, got %v (%v)", entries, err)
	}
}

func TestOpenRebuildsOtherSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Record(context.Background(), journal.Entry{Session: "s", Command: "FOPEN", Status: "OK"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	rebuilt, err := journal.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rebuilt.Close()
	entries, err := rebuilt.Recent(context.Background(), 5)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected an empty rebuilt journal, got %v (%v)", entries, err)
	}
}

func TestPrunerRejectsBadSchedule(t *testing.T) {
	store := openStore(t)
	if _, err := journal.NewPruner(store, "not a schedule", time.Hour, nil); err == nil {
		t.Fatal("expected invalid schedule to fail")
	}
	p, err := journal.NewPruner(store, "@every 1h", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewPruner: %v", err)
	}
	p.Start()
	p.RunOnce()
	p.Stop()
}
