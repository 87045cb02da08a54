package publish

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	kit "proxyfig/internal/transport"
	logx "proxyfig/pkg/logx"
)

// Result counts the outcome of one Publish call.
type Result struct {
	Links   int
	Batches int
	Sent    int
	Failed  int
}

// Publisher posts links to one channel in paced batches.
type Publisher struct {
	Sender    kit.Sender
	Target    kit.ChatTarget
	Formatter Formatter
	BatchSize int
	// Delay is the pause between the end of one send and the start of the next.
	Delay time.Duration
	Now   func() time.Time
	Log   logx.Logger
}

// Publish sends every batch once. A failed batch is logged and skipped.
// The only error returned is ctx's, when cancelled while waiting between batches.
func (p *Publisher) Publish(ctx context.Context, links []string) (Result, error) {
	batches := Chunk(links, p.BatchSize)
	res := Result{Links: len(links), Batches: len(batches)}
	if len(batches) == 0 {
		return res, nil
	}

	now := p.Now
	if now == nil {
		now = time.Now
	}

	for i, batch := range batches {
		if p.send(ctx, i, batch, now()) {
			res.Sent++
		} else {
			res.Failed++
		}
		if i == len(batches)-1 {
			break
		}
		if err := p.pause(ctx, i+2, len(batches)); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (p *Publisher) send(ctx context.Context, i int, batch []string, at time.Time) bool {
	msg := p.Formatter.Format(batch, at)
	if _, err := p.Sender.SendText(ctx, p.Target, msg.Text, msg.Options()); err != nil {
		p.Log.Error("error sending message",
			logx.String("channel", p.Target.String()),
			logx.Int("batch", i+1),
			logx.Int("links", len(batch)),
			logx.Err(err),
		)
		return false
	}
	p.Log.Info("sent a message with proxy buttons",
		logx.String("channel", p.Target.String()),
		logx.Int("batch", i+1),
		logx.Int("buttons", len(batch)),
	)
	return true
}

// pause blocks for a full Delay counted from now, i.e. from the end of the
// previous send. The limiter starts drained so Wait never returns early.
func (p *Publisher) pause(ctx context.Context, next, total int) error {
	if p.Delay <= 0 {
		return nil
	}
	p.Log.Info("waiting before sending the next batch", logx.Duration("delay", p.Delay), logx.Int("batch", next), logx.Int("batches", total))
	limiter := rate.NewLimiter(rate.Every(p.Delay), 1)
	limiter.Allow()
	return limiter.Wait(ctx)
}
