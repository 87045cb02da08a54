package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"proxyfig/internal/pipeline"
	"proxyfig/internal/publish"
	"proxyfig/internal/source"
	"proxyfig/internal/storage"
	logx "proxyfig/pkg/logx"
)

func sampleReport() pipeline.Report {
	return pipeline.Report{
		Trigger:   pipeline.TriggerSchedule,
		StartedAt: time.Unix(1_700_000_000, 0),
		Took:      12 * time.Second,
		Sources: []source.SourceResult{
			{Source: source.Source{Kind: source.KindText}, OK: true},
			{Source: source.Source{Kind: source.KindText}, OK: false},
			{Source: source.Source{Kind: source.KindHTML}, OK: true},
		},
		SourcesOK:     2,
		SourcesFailed: 1,
		Links:         11,
		Publish:       publish.Result{Links: 11, Batches: 3, Sent: 2, Failed: 1},
	}
}

func TestObserveRun(t *testing.T) {
	m := NewMetrics()
	m.ObserveRun(sampleReport())
	m.ObserveRun(pipeline.Report{Trigger: pipeline.TriggerSchedule})
	m.ObserveSkip()

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("schedule", "published")); got != 1 {
		t.Fatalf("published runs = %v", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("schedule", "empty")); got != 1 {
		t.Fatalf("empty runs = %v", got)
	}
	if got := testutil.ToFloat64(m.SourceFetches.WithLabelValues("text", "failed")); got != 1 {
		t.Fatalf("failed text fetches = %v", got)
	}
	if got := testutil.ToFloat64(m.LinksCollected); got != 11 {
		t.Fatalf("links collected = %v", got)
	}
	if got := testutil.ToFloat64(m.LastRunLinks); got != 0 {
		t.Fatalf("last run links = %v", got)
	}
	if got := testutil.ToFloat64(m.BatchesTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed batches = %v", got)
	}
	if got := testutil.ToFloat64(m.LastSuccessUnix); got != 1_700_000_012 {
		t.Fatalf("last success = %v", got)
	}
	if got := testutil.ToFloat64(m.SkippedTicks); got != 1 {
		t.Fatalf("skipped = %v", got)
	}
}

type fakeRuns struct{ entries []storage.RunEntry }

func (f fakeRuns) Recent(ctx context.Context, limit int) ([]storage.RunEntry, error) {
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func get(t *testing.T, h http.Handler, path, token string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestHandlerEndpoints(t *testing.T) {
	m := NewMetrics()
	m.ObserveRun(sampleReport())
	s := NewServer(ServerConfig{}, m, logx.Nop())
	h := s.Handler("")

	code, body := get(t, h, "/metrics", "")
	if code != http.StatusOK || !strings.Contains(body, "proxyfig_links_collected_total 11") {
		t.Fatalf("/metrics = %d\n%s", code, body)
	}
	if code, body := get(t, h, "/healthz", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("/healthz = %d %q", code, body)
	}
	if code, _ := get(t, h, "/runs", ""); code != http.StatusNotFound {
		t.Fatalf("/runs without store = %d", code)
	}
	if code, _ := get(t, h, "/debug/pprof/", ""); code != http.StatusOK {
		t.Fatalf("/debug/pprof/ = %d", code)
	}

	s.SetHealth(func() error { return errors.New("scheduler stopped") })
	if code, body := get(t, h, "/healthz", ""); code != http.StatusServiceUnavailable || !strings.Contains(body, "scheduler stopped") {
		t.Fatalf("/healthz unhealthy = %d %q", code, body)
	}

	s.SetRuns(fakeRuns{entries: []storage.RunEntry{{Trigger: "schedule", Links: 3}, {Trigger: "startup", Links: 5}}})
	code, body = get(t, h, "/runs?limit=1", "")
	if code != http.StatusOK {
		t.Fatalf("/runs = %d", code)
	}
	var entries []storage.RunEntry
	if err := json.Unmarshal([]byte(body), &entries); err != nil || len(entries) != 1 || entries[0].Links != 3 {
		t.Fatalf("/runs body = %s err=%v", body, err)
	}
	if code, _ := get(t, h, "/runs?limit=zero", ""); code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", code)
	}
}

func TestHandlerRequiresToken(t *testing.T) {
	h := NewServer(ServerConfig{}, nil, logx.Nop()).Handler("s3cret")
	if code, _ := get(t, h, "/metrics", ""); code != http.StatusUnauthorized {
		t.Fatalf("missing token = %d", code)
	}
	if code, _ := get(t, h, "/metrics", "wrong"); code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", code)
	}
	if code, _ := get(t, h, "/healthz", "s3cret"); code != http.StatusOK {
		t.Fatalf("valid token = %d", code)
	}
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(ServerConfig{Enabled: true, Addr: "127.0.0.1:0"}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatalf("no bound address")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := s.Reconfigure(stopCtx, ServerConfig{Enabled: false}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("server should be stopped")
	}
}

func TestServerRefusesInsecureBind(t *testing.T) {
	s := NewServer(ServerConfig{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.Start(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err = %v", err)
	}
	for addr, want := range map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:1":        true,
		":9464":          false,
		"10.0.0.1:9464":  false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
