package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"proxyfig/internal/runtime/supervisor"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultsResolve(t *testing.T) {
	rt, err := Defaults().Resolve()
	if err != nil {
		t.Fatalf("Resolve defaults: %v", err)
	}
	if rt.Channel.Username != "@proxyfig" {
		t.Fatalf("channel = %+v", rt.Channel)
	}
	if rt.BatchSize != 5 || rt.RowWidth != 2 {
		t.Fatalf("batch=%d row=%d", rt.BatchSize, rt.RowWidth)
	}
	if rt.FetchTimeout != 15*time.Second || rt.BatchDelay != 10*time.Second {
		t.Fatalf("timeout=%v delay=%v", rt.FetchTimeout, rt.BatchDelay)
	}
	if rt.Location.String() != "Asia/Tehran" {
		t.Fatalf("location = %v", rt.Location)
	}
	if len(rt.Sources) != len(DefaultSources) {
		t.Fatalf("sources = %d", len(rt.Sources))
	}
	if rt.Cron != "" || rt.StorageDriver != "none" {
		t.Fatalf("defaults should be one-shot without storage: %+v", rt)
	}
}

func TestRequireToken(t *testing.T) {
	cfg := Defaults()
	if err := cfg.RequireToken(); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	ApplyEnv(cfg, envMap(map[string]string{EnvToken: "  123:abc  "}))
	if err := cfg.RequireToken(); err != nil {
		t.Fatalf("RequireToken: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token not trimmed: %q", cfg.Telegram.Token)
	}
}

func TestDecodeJSONKeepsDefaults(t *testing.T) {
	cfg, err := Decode("c.json", []byte(`{"publish":{"batch_size":3},"telegram":{"channel":"-1001234"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Publish.BatchSize != 3 {
		t.Fatalf("batch size = %d", cfg.Publish.BatchSize)
	}
	if cfg.Publish.Delay != DefaultBatchDelay || cfg.Publish.RowWidth != DefaultRowWidth {
		t.Fatalf("defaults lost: %+v", cfg.Publish)
	}
	if len(cfg.Sources) != len(DefaultSources) {
		t.Fatalf("sources should default, got %d", len(cfg.Sources))
	}
	rt, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rt.Channel.ChatID != -1001234 {
		t.Fatalf("channel = %+v", rt.Channel)
	}
}

func TestDecodeSourcesReplaceDefaults(t *testing.T) {
	cfg, err := Decode("c.json", []byte(`{"sources":[{"url":"https://example.org/list.txt","kind":"text"}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].URL != "https://example.org/list.txt" {
		t.Fatalf("sources = %+v", cfg.Sources)
	}
}

func TestDecodeSourceDoesNotInheritDefaults(t *testing.T) {
	cfg, err := Decode("c.json", []byte(`{"sources":[{"url":"https://example.org/a"}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Sources[0].Kind != "" {
		t.Fatalf("kind leaked from defaults: %q", cfg.Sources[0].Kind)
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("missing kind should fail validation")
	}
}

func TestDecodeYAML(t *testing.T) {
	doc := `
telegram:
  channel: "@otherchannel"
sources:
  - url: https://example.org/page
    kind: html
fetch:
  sequential: true
schedule:
  cron: "@every 2h"
`
	cfg, err := Decode("c.yaml", []byte(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Telegram.Channel != "@otherchannel" || !cfg.Fetch.Sequential {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Sources[0].Kind != SourceHTML {
		t.Fatalf("sources = %+v", cfg.Sources)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	if _, err := Decode("c.json", []byte(`{"publsh":{}}`)); err == nil {
		t.Fatalf("unknown key should fail")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatalf("trailing data should fail")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"bad duration":  func(c *Config) { c.Fetch.Timeout = "soon" },
		"neg duration":  func(c *Config) { c.Publish.Delay = "-1s" },
		"bad channel":   func(c *Config) { c.Telegram.Channel = "proxyfig" },
		"bad kind":      func(c *Config) { c.Sources[0].Kind = "pdf" },
		"bad url":       func(c *Config) { c.Sources[0].URL = "not a url" },
		"no sources":    func(c *Config) { c.Sources = []SourceConfig{} },
		"big batch":     func(c *Config) { c.Publish.BatchSize = 101 },
		"bad timezone":  func(c *Config) { c.Publish.Timezone = "Mars/Olympus" },
		"bad cron":      func(c *Config) { c.Schedule.Cron = "every day" },
		"bad driver":    func(c *Config) { c.Storage.Driver = "redis" },
		"storage path":  func(c *Config) { c.Storage.Driver = "file" },
		"bad ops addr":  func(c *Config) { c.Ops.Addr = "nope" },
		"bad log level": func(c *Config) { c.Logging.Level = "loud" },
	}
	for name, mutate := range cases {
		cfg := Defaults()
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestScheduleAcceptsCronAndInterval(t *testing.T) {
	for _, spec := range []string{"0 */2 * * *", "@hourly", "90m", "02:30", "every:45s"} {
		cfg := Defaults()
		cfg.Schedule.Cron = spec
		cfg.Schedule.SkipInitial = true
		rt, err := cfg.Resolve()
		if err != nil {
			t.Fatalf("%q: %v", spec, err)
		}
		if rt.Cron != spec || !rt.SkipInitial {
			t.Fatalf("%q: runtime = %q skip=%v", spec, rt.Cron, rt.SkipInitial)
		}
	}
}

func TestResolveZeroDelayAllowed(t *testing.T) {
	cfg := Defaults()
	cfg.Publish.Delay = "0s"
	rt, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rt.BatchDelay != 0 {
		t.Fatalf("delay = %v", rt.BatchDelay)
	}
}

func TestManagerLoadAppliesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxyfig.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	m.SetLookupEnv(envMap(map[string]string{EnvToken: "tok", EnvLogLevel: "debug"}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "tok" || cfg.Logging.Level != "debug" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatalf("Get should return committed config")
	}
}

func TestManagerWithoutFile(t *testing.T) {
	m := NewManager("")
	m.SetLookupEnv(envMap(nil))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Channel != DefaultChannel {
		t.Fatalf("channel = %q", cfg.Telegram.Channel)
	}
	if err := m.Watch(context.Background()); err != nil {
		t.Fatalf("Watch without file should return nil, got %v", err)
	}
}

func TestManagerWatchMissingDirFails(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent", "proxyfig.json"))
	if err := m.Watch(context.Background()); err == nil {
		t.Fatalf("Watch on a missing directory should fail")
	}
}

func TestManagerWatchRecoversUnderRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "conf")
	path := filepath.Join(dir, "proxyfig.json")
	m := NewManager(path)
	m.SetLookupEnv(envMap(nil))
	m.Commit(Defaults())
	updates := m.Subscribe(1)

	sup := supervisor.New(context.Background())
	sup.GoRestart("config.watch", m.Watch, 20*time.Millisecond, 50*time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})

	// The first attempts fail until the directory exists.
	time.Sleep(60 * time.Millisecond)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(400 * time.Millisecond)
	defer tick.Stop()
	for size := 6; ; size++ {
		if err := os.WriteFile(path, []byte(fmt.Sprintf(`{"publish":{"batch_size":%d}}`, size)), 0o644); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-updates:
			if cfg.Publish.BatchSize < 6 {
				t.Fatalf("batch size = %d", cfg.Publish.BatchSize)
			}
			return
		case <-deadline:
			t.Fatalf("watcher never recovered")
		case <-tick.C:
		}
	}
}

func TestManagerWatchPublishesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxyfig.json")
	if err := os.WriteFile(path, []byte(`{"publish":{"batch_size":5}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	m.SetLookupEnv(envMap(nil))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	updates := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"publish":{"batch_size":7}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-updates:
		if cfg.Publish.BatchSize != 7 {
			t.Fatalf("batch size = %d", cfg.Publish.BatchSize)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config update published")
	}
}

func TestSummarizeChangeHidesToken(t *testing.T) {
	a := Defaults()
	b := Defaults()
	b.Telegram.Token = "secret-token"
	b.Publish.BatchSize = 9
	changed, _ := SummarizeChange(a, b)
	joined := strings.Join(changed, ",")
	if joined != "telegram,publish" {
		t.Fatalf("changed = %q", joined)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PROXYFIG_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROXYFIG_TEST_DOTENV", "")
	os.Unsetenv("PROXYFIG_TEST_DOTENV")
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("PROXYFIG_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("env = %q", got)
	}

	t.Setenv("PROXYFIG_TEST_DOTENV", "preset")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("PROXYFIG_TEST_DOTENV"); got != "preset" {
		t.Fatalf("existing env overridden: %q", got)
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := ReadFile(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	rt, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(rt.Sources) != 4 || rt.StorageDriver != "sqlite" || rt.Cron == "" {
		t.Fatalf("runtime = %+v", rt)
	}
}
