package app

import (
	"fmt"
	"time"

	"proxyfig/internal/config"
	"proxyfig/internal/observability"
	"proxyfig/internal/source"
	"proxyfig/internal/storage"
	logx "proxyfig/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storageConfig(rt config.Runtime) storage.Config {
	busy := rt.StorageBusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	return storage.Config{Driver: rt.StorageDriver, Path: rt.StoragePath, BusyTimeout: busy}
}

func opsConfig(rt config.Runtime) observability.ServerConfig {
	return observability.ServerConfig{
		Enabled:      rt.OpsEnabled,
		Addr:         rt.OpsAddr,
		Token:        rt.OpsToken,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // /debug/pprof/profile streams for 30s by default
		IdleTimeout:  60 * time.Second,
	}
}

func sourcesFrom(rt config.Runtime) ([]source.Source, error) {
	out := make([]source.Source, 0, len(rt.Sources))
	for i, sc := range rt.Sources {
		kind, err := source.ParseKind(sc.Kind)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		out = append(out, source.Source{URL: sc.URL, Kind: kind})
	}
	return out, nil
}
