package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "proxyfig/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: st=%v err=%v", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver should fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("file driver without path should fail")
	}
}

func runEntries(n int) []RunEntry {
	base := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	out := make([]RunEntry, n)
	for i := range out {
		out[i] = RunEntry{
			At:        base.Add(time.Duration(i) * time.Minute),
			Trigger:   "schedule",
			SourcesOK: 3,
			Links:     10 + i,
			Batches:   2,
			Sent:      2,
			TookMS:    int64(100 * i),
		}
	}
	return out
}

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	entries := runEntries(5)
	entries[3].Error = "telegram: Too Many Requests (429)"
	for _, e := range entries {
		if err := st.AppendRun(ctx, e); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	got, err := st.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("recent = %d entries", len(got))
	}
	if got[0].Links != 14 || got[1].Links != 13 || got[2].Links != 12 {
		t.Fatalf("recent order = %d,%d,%d", got[0].Links, got[1].Links, got[2].Links)
	}
	if got[1].Error == "" || got[0].Error != "" {
		t.Fatalf("error column not preserved: %+v", got[:2])
	}
	if !got[0].At.Equal(entries[4].At) {
		t.Fatalf("at = %v, want %v", got[0].At, entries[4].At)
	}

	all, err := st.Recent(ctx, 50)
	if err != nil || len(all) != 5 {
		t.Fatalf("all = %d err=%v", len(all), err)
	}
	if none, _ := st.Recent(ctx, 0); len(none) != 0 {
		t.Fatalf("limit 0 should return nothing")
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "runs.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, st)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 5 || !strings.Contains(lines[0], `"trigger":"schedule"`) {
		t.Fatalf("unexpected jsonl content:\n%s", b)
	}
	if err := st.AppendRun(context.Background(), RunEntry{}); err == nil {
		t.Fatalf("append after close should fail")
	}
}

func TestFileStoreSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	if err := os.WriteFile(path, []byte("{not json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if err := st.AppendRun(context.Background(), RunEntry{Trigger: "once", Links: 7}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	got, err := st.Recent(context.Background(), 10)
	if err != nil || len(got) != 1 || got[0].Links != 7 {
		t.Fatalf("got=%+v err=%v", got, err)
	}
	if got[0].At.IsZero() {
		t.Fatalf("At should default to now")
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, st)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: schema creation is idempotent and records persist.
	st, err = Open(Config{Driver: "sqlite3", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.Recent(context.Background(), 10)
	if err != nil || len(got) != 5 {
		t.Fatalf("after reopen: %d entries err=%v", len(got), err)
	}
}
