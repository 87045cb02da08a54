package config

// Config is the on-disk configuration (JSON or YAML).
//
// Every field is optional: values omitted from the file keep the compiled-in
// defaults from Defaults(). The bot token is normally supplied through the
// API_TOKEN environment variable rather than the file.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Sources  []SourceConfig `json:"sources" validate:"required,min=1,dive"`
	Fetch    FetchConfig    `json:"fetch"`
	Publish  PublishConfig  `json:"publish"`
	Logging  LoggingConfig  `json:"logging"`

	// Schedule enables repeat mode. Empty cron means a single pass then exit.
	Schedule ScheduleConfig `json:"schedule"`
	Storage  StorageConfig  `json:"storage"`
	Ops      OpsConfig      `json:"ops"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"` // do not log
	// Channel is "@username" or a numeric chat id.
	Channel string `json:"channel" validate:"required,chat"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API servers).
	APIURL string `json:"api_url,omitempty" validate:"omitempty,url"`
}

// SourceConfig names a remote document listing proxy links.
// Kind is "text" (one link per line) or "html" (links in anchors).
type SourceConfig struct {
	URL  string `json:"url" validate:"required,url"`
	Kind string `json:"kind" validate:"required,oneof=text html"`
}

// FetchConfig controls source retrieval.
//
// Timeout is a Go duration string (e.g. "15s").
type FetchConfig struct {
	Timeout   string `json:"timeout" validate:"omitempty,duration"`
	UserAgent string `json:"user_agent"`
	// Sequential fetches sources one by one instead of fanning out.
	Sequential bool `json:"sequential"`
	// MaxParallel bounds concurrent fetches (0 = one per source).
	MaxParallel int `json:"max_parallel" validate:"gte=0"`
}

// PublishConfig controls batching and pacing of channel posts.
type PublishConfig struct {
	BatchSize int `json:"batch_size" validate:"gte=0,lte=100"`
	// Delay between consecutive batch sends (Go duration string).
	Delay    string `json:"delay" validate:"omitempty,duration"`
	RowWidth int    `json:"row_width" validate:"gte=0,lte=8"`
	// Timezone for the timestamp printed in every post.
	Timezone string `json:"timezone" validate:"omitempty,timezone"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ScheduleConfig drives repeat mode.
//
// Example:
//
//	"schedule": { "cron": "0 */2 * * *", "timezone": "Asia/Tehran" }
//
// cron also accepts an interval ("90m", "02:30"). The first pass runs at
// startup unless skip_initial is set.
type ScheduleConfig struct {
	Cron        string `json:"cron" validate:"omitempty,schedule"`
	Timezone    string `json:"timezone" validate:"omitempty,timezone"`
	SkipInitial bool   `json:"skip_initial,omitempty"`
}

// StorageConfig controls the optional run audit log.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/runs.jsonl" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"` // sqlite
}

// OpsConfig controls the metrics/pprof HTTP server (repeat mode only).
//
// Prefer binding to localhost (default "127.0.0.1:9464").
// A non-loopback addr requires token (sent as "Authorization: Bearer <token>").
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token   string `json:"token,omitempty"`
}
