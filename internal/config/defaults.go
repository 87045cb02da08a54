package config

const (
	DefaultChannel   = "@proxyfig"
	DefaultTimezone  = "Asia/Tehran"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

	DefaultFetchTimeout = "15s"
	DefaultBatchSize    = 5
	DefaultBatchDelay   = "10s"
	DefaultRowWidth     = 2
	DefaultOpsAddr      = "127.0.0.1:9464"

	SourceText = "text"
	SourceHTML = "html"
)

// DefaultSources is the compiled-in provider list.
var DefaultSources = []SourceConfig{
	{URL: "https://raw.githubusercontent.com/yebekhe/TelegramV2rayCollector/main/sub/mtproto", Kind: SourceText},
	{URL: "https://raw.githubusercontent.com/ip-scanner/proxy-list/main/proxies/mtproto.txt", Kind: SourceText},
	{URL: "https://raw.githubusercontent.com/ALIILAPRO/Proxy/main/mtproto.txt", Kind: SourceText},
	{URL: "https://t.me/s/ProxyMTProto", Kind: SourceHTML},
	{URL: "https://t.me/s/iMTProto", Kind: SourceHTML},
}

// Defaults returns a fresh config populated with the compiled-in values.
func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{Channel: DefaultChannel},
		Sources:  append([]SourceConfig(nil), DefaultSources...),
		Fetch: FetchConfig{
			Timeout:   DefaultFetchTimeout,
			UserAgent: DefaultUserAgent,
		},
		Publish: PublishConfig{
			BatchSize: DefaultBatchSize,
			Delay:     DefaultBatchDelay,
			RowWidth:  DefaultRowWidth,
			Timezone:  DefaultTimezone,
		},
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "none"},
		Ops:     OpsConfig{Addr: DefaultOpsAddr},
	}
}
