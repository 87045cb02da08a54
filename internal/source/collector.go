package source

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	logx "proxyfig/pkg/logx"
)

// BodyFetcher is satisfied by *Fetcher; tests substitute canned bodies.
type BodyFetcher interface {
	Fetch(ctx context.Context, src Source) (string, bool)
}

// SourceResult summarizes one source of a collection pass.
type SourceResult struct {
	Source  Source
	OK      bool
	Matched int // lines/anchors matching the link shape (before dedup)
	Added   int // links new to the set
	Took    time.Duration
}

// Collector fetches all sources, then extracts into one LinkSet.
type Collector struct {
	Fetcher BodyFetcher
	// Sequential disables the fan-out.
	Sequential bool
	// MaxParallel bounds concurrent fetches (0 = one goroutine per source).
	MaxParallel int
	Log         logx.Logger
}

type fetched struct {
	body string
	ok   bool
	took time.Duration
}

// Collect runs one pass. A failed source contributes nothing and never aborts
// the others. Extraction happens on the calling goroutine after every fetch
// has returned, so the set needs no locking.
func (c *Collector) Collect(ctx context.Context, sources []Source) (*LinkSet, []SourceResult) {
	bodies := c.fetchAll(ctx, sources)

	set := &LinkSet{}
	results := make([]SourceResult, len(sources))
	for i, src := range sources {
		res := SourceResult{Source: src, OK: bodies[i].ok, Took: bodies[i].took}
		if res.OK {
			before := set.Len()
			res.Matched = c.extract(src, bodies[i].body, set)
			res.Added = set.Len() - before
			c.Log.Info("fetched valid proxies",
				logx.String("url", src.URL),
				logx.Int("valid", res.Matched),
				logx.Int("new", res.Added),
			)
		}
		results[i] = res
	}
	c.Log.Info("total unique proxies fetched", logx.Int("count", set.Len()), logx.Int("sources", len(sources)))
	return set, results
}

func (c *Collector) extract(src Source, body string, set *LinkSet) int {
	switch src.Kind {
	case KindHTML:
		n, err := ExtractHTML(body, set)
		if err != nil {
			c.Log.Error("error parsing html source", logx.String("url", src.URL), logx.Err(err))
		}
		return n
	default:
		return ExtractText(body, set)
	}
}

func (c *Collector) fetchAll(ctx context.Context, sources []Source) []fetched {
	out := make([]fetched, len(sources))
	one := func(i int) {
		start := time.Now()
		body, ok := c.Fetcher.Fetch(ctx, sources[i])
		out[i] = fetched{body: body, ok: ok, took: time.Since(start)}
	}

	if c.Sequential || len(sources) <= 1 {
		for i := range sources {
			one(i)
		}
		return out
	}

	// Each goroutine owns out[i]; Wait is the only barrier.
	var g errgroup.Group
	if c.MaxParallel > 0 {
		g.SetLimit(c.MaxParallel)
	}
	for i := range sources {
		g.Go(func() error {
			one(i)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
