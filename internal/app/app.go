// Package app wires configuration, logging and the collect+publish pipeline
// into a one-shot command or a long-running scheduled service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"proxyfig/internal/config"
	"proxyfig/internal/observability"
	"proxyfig/internal/pipeline"
	"proxyfig/internal/publish"
	"proxyfig/internal/runtime/supervisor"
	"proxyfig/internal/scheduler"
	"proxyfig/internal/source"
	"proxyfig/internal/storage"
	"proxyfig/internal/transport/telegram"
	logx "proxyfig/pkg/logx"
	"proxyfig/pkg/systemd"
)

// Options carries process-level dependencies. Zero values select production defaults.
type Options struct {
	// HTTPClient is shared by source fetches and Bot API calls.
	HTTPClient *http.Client
	// Log replaces the config-driven logging service (tests).
	Log logx.Logger
	Now func() time.Time
}

type App struct {
	cfgm *config.Manager
	opts Options

	log  logx.Logger
	logs *logx.Service

	client  *http.Client
	metrics *observability.Metrics
	store   storage.Store
	storeAt storage.Config
	ops     *observability.Server
	sched   *scheduler.Service
}

// New validates the committed config and opens the run log. It fails with
// config.ErrMissingToken before any network activity when no token is set.
func New(cfgm *config.Manager, opts Options) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}
	if err := cfg.RequireToken(); err != nil {
		return nil, err
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, opts: opts, client: opts.HTTPClient, metrics: observability.NewMetrics()}
	if opts.Log.IsZero() {
		a.logs, a.log = logx.New(logConfig(cfg))
	} else {
		a.log = opts.Log
	}
	if a.client == nil {
		// Per-request deadlines come from fetch.timeout; this is the outer bound.
		a.client = &http.Client{Timeout: 2 * time.Minute}
	}
	cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.storeAt = storageConfig(rt)
	if a.store, err = storage.Open(a.storeAt, a.log.With(logx.String("comp", "storage"))); err != nil {
		a.closeLogs()
		return nil, fmt.Errorf("storage: %w", err)
	}
	if a.store != nil {
		a.log.Info("run log enabled", logx.String("driver", rt.StorageDriver), logx.String("path", rt.StoragePath))
	}
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

// Metrics is exposed for the ops server and tests.
func (a *App) Metrics() *observability.Metrics { return a.metrics }

// Repeat reports whether the committed config asks for repeat mode.
func (a *App) Repeat() bool {
	cfg := a.cfgm.Get()
	return cfg != nil && cfg.Schedule.Cron != ""
}

// Run executes one pass, or serves the schedule until ctx ends in repeat mode.
func (a *App) Run(ctx context.Context) error {
	if a.Repeat() {
		return a.Serve(ctx)
	}
	_, err := a.RunOnce(ctx)
	return err
}

// RunOnce builds a runner from the committed config and executes one pass.
func (a *App) RunOnce(ctx context.Context) (pipeline.Report, error) {
	return a.runPass(ctx, pipeline.TriggerOnce)
}

func (a *App) runPass(ctx context.Context, trigger string) (pipeline.Report, error) {
	cfg := a.cfgm.Get()
	if err := cfg.RequireToken(); err != nil {
		return pipeline.Report{}, err
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return pipeline.Report{}, err
	}
	runner, err := a.newRunner(rt)
	if err != nil {
		return pipeline.Report{}, err
	}
	rep, err := runner.Run(ctx, trigger)
	if a.sched != nil {
		_, _ = systemd.Status(fmt.Sprintf("last run %s: %d links, %d/%d batches sent", rep.StartedAt.Format(time.RFC3339), rep.Links, rep.Publish.Sent, rep.Publish.Batches))
	}
	return rep, err
}

func (a *App) newRunner(rt config.Runtime) (*pipeline.Runner, error) {
	sources, err := sourcesFrom(rt)
	if err != nil {
		return nil, err
	}
	// Offline skips the getMe round-trip; the first sendMessage validates the token.
	sender, err := telegram.New(telegram.Config{
		Token:   rt.Token,
		APIURL:  rt.APIURL,
		Client:  a.client,
		Offline: true,
	}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	return &pipeline.Runner{
		Collector: &source.Collector{
			Fetcher:     source.NewFetcher(a.client, rt.FetchTimeout, rt.UserAgent, a.log.With(logx.String("comp", "fetch"))),
			Sequential:  rt.Sequential,
			MaxParallel: rt.MaxParallel,
			Log:         a.log.With(logx.String("comp", "collector")),
		},
		Publisher: &publish.Publisher{
			Sender:    sender,
			Target:    rt.Channel,
			Formatter: publish.Formatter{Loc: rt.Location, RowWidth: rt.RowWidth},
			BatchSize: rt.BatchSize,
			Delay:     rt.BatchDelay,
			Now:       a.opts.Now,
			Log:       a.log.With(logx.String("comp", "publish")),
		},
		Sources: sources,
		Metrics: a.metrics,
		Store:   a.store,
		Log:     a.log.With(logx.String("comp", "pipeline")),
		Now:     a.opts.Now,
	}, nil
}

// Serve runs repeat mode: the schedule, the config watcher and the optional
// ops server, until ctx is cancelled or a component fails.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfgm.Get()
	rt, err := cfg.Resolve()
	if err != nil {
		return err
	}
	spec, err := scheduler.Parse(rt.Cron)
	if err != nil {
		return fmt.Errorf("schedule.cron: %w", err)
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))

	a.ops = observability.NewServer(opsConfig(rt), a.metrics, a.log.With(logx.String("comp", "ops")))
	if a.store != nil {
		a.ops.SetRuns(a.store)
	}
	a.ops.SetHealth(sup.Err)
	if err := a.ops.Start(sup.Context()); err != nil {
		// Ops is optional; a bad bind never blocks publishing.
		a.log.Warn("ops server disabled", logx.Err(err))
	}

	a.sched = scheduler.New(func(c context.Context, reason string) error {
		_, err := a.runPass(c, reason)
		return err
	}, a.log.With(logx.String("comp", "scheduler")))
	a.sched.OnSkip(a.metrics.ObserveSkip)
	if err := a.sched.Start(sup.Context(), spec, rt.ScheduleLocation); err != nil {
		sup.Cancel()
		return err
	}

	updates := a.cfgm.Subscribe(4)
	sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 5*time.Second)
	sup.Go("config.apply", func(c context.Context) error {
		a.applyLoop(c, updates)
		return nil
	})
	if !rt.SkipInitial {
		sup.Go("run.startup", func(c context.Context) error {
			a.sched.Trigger(c, pipeline.TriggerStartup)
			return nil
		})
	}

	_, _ = systemd.Ready()
	a.log.Info("proxyfig started", logx.String("schedule", spec.Raw), logx.Bool("ops", rt.OpsEnabled))

	<-sup.Context().Done()
	_, _ = systemd.Stopping()
	a.log.Info("stopping")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.sched.Stop(stopCtx); err != nil {
		a.log.Warn("run still in progress at shutdown", logx.Err(err))
	}
	if err := a.ops.Stop(stopCtx); err != nil {
		a.log.Warn("ops server shutdown incomplete", logx.Err(err))
	}
	err = sup.Stop(stopCtx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// applyLoop applies hot-reloaded config to the live components.
func (a *App) applyLoop(ctx context.Context, updates <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.apply(ctx, cfg)
		}
	}
}

func (a *App) apply(ctx context.Context, cfg *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	rt, err := cfg.Resolve()
	if err != nil {
		a.log.Warn("reloaded config rejected", logx.Err(err))
		return
	}
	if a.logs != nil {
		a.logs.Apply(logConfig(cfg))
	}
	if storageConfig(rt) != a.storeAt {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if rt.Token == "" {
		a.log.Warn("bot token removed; scheduled runs will fail until it is restored")
	}

	if a.sched != nil {
		if spec, err := scheduler.Parse(rt.Cron); err != nil {
			// Clearing the schedule only takes effect on restart.
			a.log.Warn("schedule not applied; keeping previous", logx.Err(err))
		} else {
			a.sched.Reschedule(spec, rt.ScheduleLocation)
		}
	}
	if a.ops != nil {
		if err := a.ops.Reconfigure(ctx, opsConfig(rt)); err != nil {
			a.log.Warn("ops server reconfigure failed", logx.Err(err))
		}
	}
	a.log.Debug("config applied")
}

// Close releases the run log and the log file.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	a.closeLogs()
	return err
}

func (a *App) closeLogs() {
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
