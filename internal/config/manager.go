package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "proxyfig/pkg/logx"
)

// Manager owns the current config and (optionally) reloads it when the file changes.
type Manager struct {
	path   string
	lookup func(string) (string, bool)

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	subsMu sync.Mutex
	subs   []chan *Config

	log logx.Logger
}

// NewManager creates a manager for path ("" means compiled-in defaults only).
// Environment overlays are read through os.LookupEnv.
func NewManager(path string) *Manager {
	return &Manager{path: strings.TrimSpace(path), lookup: os.LookupEnv}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetLookupEnv replaces the environment source (tests).
func (m *Manager) SetLookupEnv(fn func(string) (string, bool)) { m.lookup = fn }

func (m *Manager) Path() string { return m.path }

// Parse reads, overlays env and validates without committing.
func (m *Manager) Parse() (*Config, error) {
	cfg, err := ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, m.lookup)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) <-chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		// Latest wins: drop one stale item if the subscriber is behind.
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
		}
	}
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// reload re-parses the file and publishes it when the content changed.
func (m *Manager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	prev := m.cfg
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}

	m.Commit(cfg)
	m.publish(cfg)
	changed, fields := SummarizeChange(prev, cfg)
	m.log.Info("config reloaded", append([]logx.Field{logx.String("path", m.path), logx.Strings("changed", changed)}, fields...)...)
}

// ErrWatchClosed is returned by Watch when fsnotify closes its channels.
var ErrWatchClosed = errors.New("config watcher closed")

// Watch reloads the config file on change until ctx is done.
// It is a no-op (returns immediately) when the manager has no file.
// A failed watcher is returned as an error; callers restart it with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	// Editors often write in several steps; debounce so we parse the final file.
	const debounceDelay = 250 * time.Millisecond
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, m.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return ErrWatchClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return ErrWatchClosed
			}
			if err != nil {
				m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
			}
		}
	}
}

// SummarizeChange lists changed sections plus safe log fields (never the token).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	fields := make([]logx.Field, 0, 8)

	if oldCfg.Telegram.Channel != newCfg.Telegram.Channel ||
		oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.String("telegram.channel", newCfg.Telegram.Channel),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}
	if !sameSources(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		fields = append(fields, logx.Int("sources.count", len(newCfg.Sources)))
	}
	if oldCfg.Fetch != newCfg.Fetch {
		changed = append(changed, "fetch")
		fields = append(fields, logx.String("fetch.timeout", newCfg.Fetch.Timeout), logx.Bool("fetch.sequential", newCfg.Fetch.Sequential))
	}
	if oldCfg.Publish != newCfg.Publish {
		changed = append(changed, "publish")
		fields = append(fields, logx.Int("publish.batch_size", newCfg.Publish.BatchSize), logx.String("publish.delay", newCfg.Publish.Delay))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields, logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		fields = append(fields, logx.String("schedule.cron", newCfg.Schedule.Cron))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		fields = append(fields, logx.Bool("ops.enabled", newCfg.Ops.Enabled))
	}
	return changed, fields
}

func sameSources(a, b []SourceConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
