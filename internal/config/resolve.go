package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Tehran must resolve on hosts without zoneinfo

	kit "proxyfig/internal/transport"
)

// ErrMissingToken is returned when no bot token is configured.
var ErrMissingToken = errors.New("API_TOKEN not found in environment variables")

// Runtime is the validated, typed view of Config that components consume.
type Runtime struct {
	Token   string
	Channel kit.ChatTarget
	APIURL  string
	Sources []SourceConfig

	FetchTimeout time.Duration
	UserAgent    string
	Sequential   bool
	MaxParallel  int

	BatchSize  int
	BatchDelay time.Duration
	RowWidth   int
	Location   *time.Location

	Cron             string
	ScheduleLocation *time.Location
	SkipInitial      bool

	StorageDriver      string
	StoragePath        string
	StorageBusyTimeout time.Duration

	OpsEnabled bool
	OpsAddr    string
	OpsToken   string
}

// RequireToken fails fast before any network activity.
func (c *Config) RequireToken() error {
	if c == nil || strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

// Resolve validates c and converts it into a Runtime.
// It does not require a token; call RequireToken for that.
func (c *Config) Resolve() (Runtime, error) {
	if err := Validate(c); err != nil {
		return Runtime{}, err
	}

	rt := Runtime{
		Token:       strings.TrimSpace(c.Telegram.Token),
		APIURL:      strings.TrimSpace(c.Telegram.APIURL),
		Sources:     append([]SourceConfig(nil), c.Sources...),
		UserAgent:   strings.TrimSpace(c.Fetch.UserAgent),
		Sequential:  c.Fetch.Sequential,
		MaxParallel: c.Fetch.MaxParallel,
		BatchSize:   c.Publish.BatchSize,
		RowWidth:    c.Publish.RowWidth,
		Cron:        strings.TrimSpace(c.Schedule.Cron),
		SkipInitial: c.Schedule.SkipInitial,
		OpsEnabled:  c.Ops.Enabled,
		OpsAddr:     strings.TrimSpace(c.Ops.Addr),
		OpsToken:    strings.TrimSpace(c.Ops.Token),
	}
	rt.Channel, _ = kit.ParseChatTarget(c.Telegram.Channel)
	if rt.UserAgent == "" {
		rt.UserAgent = DefaultUserAgent
	}
	if rt.BatchSize <= 0 {
		rt.BatchSize = DefaultBatchSize
	}
	if rt.RowWidth <= 0 {
		rt.RowWidth = DefaultRowWidth
	}
	if rt.OpsAddr == "" {
		rt.OpsAddr = DefaultOpsAddr
	}

	var err error
	if rt.FetchTimeout, err = ParseDurationOrDefault("fetch.timeout", c.Fetch.Timeout, mustDuration(DefaultFetchTimeout)); err != nil {
		return Runtime{}, err
	}
	// An explicit "0s" delay is allowed (tests, private bot API servers).
	if strings.TrimSpace(c.Publish.Delay) == "" {
		rt.BatchDelay = mustDuration(DefaultBatchDelay)
	} else if rt.BatchDelay, err = ParseDurationField("publish.delay", c.Publish.Delay); err != nil {
		return Runtime{}, err
	}
	if rt.StorageBusyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return Runtime{}, err
	}

	if rt.Location, err = loadLocation(c.Publish.Timezone, DefaultTimezone); err != nil {
		return Runtime{}, fmt.Errorf("publish.timezone: %w", err)
	}
	if rt.ScheduleLocation, err = loadLocation(c.Schedule.Timezone, c.Publish.Timezone); err != nil {
		return Runtime{}, fmt.Errorf("schedule.timezone: %w", err)
	}

	rt.StorageDriver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if rt.StorageDriver == "" {
		rt.StorageDriver = "none"
	}
	rt.StoragePath = strings.TrimSpace(c.Storage.Path)
	return rt, nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

func mustDuration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		panic(err)
	}
	return d
}

func loadLocation(name, fallback string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(fallback)
	}
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
