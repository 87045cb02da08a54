package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "proxyfig/pkg/logx"
)

// ErrStatus marks a non-200 response.
var ErrStatus = errors.New("unexpected http status")

// maxBodyBytes caps a single source body.
const maxBodyBytes = 8 << 20

// Fetcher retrieves source bodies. One attempt per call; failures are logged
// and reported as ok=false, never returned to the caller.
type Fetcher struct {
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string // sent to HTML sources only
	Log       logx.Logger
}

func NewFetcher(client *http.Client, timeout time.Duration, userAgent string, log logx.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{Client: client, Timeout: timeout, UserAgent: userAgent, Log: log}
}

// Fetch returns the body of src on HTTP 200.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (string, bool) {
	start := time.Now()
	body, err := f.get(ctx, src)
	if err != nil {
		f.Log.Error("error fetching proxies",
			logx.String("url", src.URL),
			logx.String("kind", string(src.Kind)),
			logx.Duration("took", time.Since(start)),
			logx.Err(err),
		)
		return "", false
	}
	f.Log.Debug("source fetched", logx.String("url", src.URL), logx.Int("bytes", len(body)), logx.Duration("took", time.Since(start)))
	return body, true
}

func (f *Fetcher) get(ctx context.Context, src Source) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if src.Kind == KindHTML && strings.TrimSpace(f.UserAgent) != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}
