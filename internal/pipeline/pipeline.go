// Package pipeline runs one collect+publish pass and reports what happened.
package pipeline

import (
	"context"
	"time"

	"proxyfig/internal/publish"
	"proxyfig/internal/source"
	"proxyfig/internal/storage"
	logx "proxyfig/pkg/logx"
)

const (
	TriggerOnce     = "once"
	TriggerStartup  = "startup"
	TriggerSchedule = "schedule"
)

type Collector interface {
	Collect(ctx context.Context, sources []source.Source) (*source.LinkSet, []source.SourceResult)
}

type Publisher interface {
	Publish(ctx context.Context, links []string) (publish.Result, error)
}

// Recorder observes finished runs (metrics).
type Recorder interface {
	ObserveRun(r Report)
}

// Report summarizes one pass.
type Report struct {
	Trigger   string
	StartedAt time.Time
	Took      time.Duration

	Sources       []source.SourceResult
	SourcesOK     int
	SourcesFailed int
	Links         int

	Publish publish.Result
	// Err is set only when the pass was interrupted (context cancellation).
	Err error
}

// Empty reports whether the pass collected nothing to publish.
func (r Report) Empty() bool { return r.Links == 0 }

// Entry converts r into an audit record.
func (r Report) Entry() storage.RunEntry {
	e := storage.RunEntry{
		At:            r.StartedAt,
		Trigger:       r.Trigger,
		SourcesOK:     r.SourcesOK,
		SourcesFailed: r.SourcesFailed,
		Links:         r.Links,
		Batches:       r.Publish.Batches,
		Sent:          r.Publish.Sent,
		Failed:        r.Publish.Failed,
		TookMS:        r.Took.Milliseconds(),
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// Runner wires a collector and a publisher over a fixed source list.
// Metrics and Store are optional.
type Runner struct {
	Collector Collector
	Publisher Publisher
	Sources   []source.Source

	Metrics Recorder
	Store   storage.Store

	Log logx.Logger
	Now func() time.Time
}

// auditTimeout bounds the audit append, which runs even after ctx is cancelled.
const auditTimeout = 5 * time.Second

// Run collects from every source and publishes the result. Zero links is a
// normal outcome: it is logged and nothing is sent. The returned error is
// non-nil only when ctx ended the pass early.
func (r *Runner) Run(ctx context.Context, trigger string) (Report, error) {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	rep := Report{Trigger: trigger, StartedAt: now()}
	log := r.Log.With(logx.String("trigger", trigger))

	set, results := r.Collector.Collect(ctx, r.Sources)
	rep.Sources = results
	for _, res := range results {
		if res.OK {
			rep.SourcesOK++
		} else {
			rep.SourcesFailed++
		}
	}
	links := set.Links()
	rep.Links = len(links)

	switch {
	case ctx.Err() != nil:
		rep.Err = ctx.Err()
	case rep.Empty():
		log.Warn("No proxies were fetched", logx.Int("sources", len(r.Sources)), logx.Int("sources_failed", rep.SourcesFailed))
	default:
		rep.Publish, rep.Err = r.Publisher.Publish(ctx, links)
		if rep.Err == nil {
			log.Info("all proxies sent",
				logx.Int("links", rep.Links),
				logx.Int("batches", rep.Publish.Batches),
				logx.Int("sent", rep.Publish.Sent),
				logx.Int("failed", rep.Publish.Failed),
			)
		}
	}
	rep.Took = now().Sub(rep.StartedAt)

	if rep.Err != nil {
		log.Warn("run interrupted", logx.Err(rep.Err), logx.Int("sent", rep.Publish.Sent))
	}
	r.record(ctx, log, rep)
	return rep, rep.Err
}

func (r *Runner) record(ctx context.Context, log logx.Logger, rep Report) {
	if r.Metrics != nil {
		r.Metrics.ObserveRun(rep)
	}
	if r.Store == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	entry := rep.Entry()
	if err := r.Store.AppendRun(actx, entry); err != nil {
		log.Error("failed to record run", logx.Err(err))
		return
	}
	log.Debug("run recorded", logx.Int64("took_ms", entry.TookMS), logx.Int("links", entry.Links))
}
