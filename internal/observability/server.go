package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"proxyfig/internal/runtime/supervisor"
	"proxyfig/internal/storage"
	logx "proxyfig/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9464"

// ServerConfig controls the ops HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback Addr is refused unless Token is set.
type ServerConfig struct {
	Enabled bool
	Addr    string
	Token   string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RunLister is the read side of the run audit store.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]storage.RunEntry, error)
}

var ErrInsecureBind = errors.New("ops server refused to start: non-loopback addr requires a token")

type Server struct {
	metrics *Metrics

	mu     sync.Mutex
	log    logx.Logger
	cfg    ServerConfig
	runs   RunLister
	health func() error

	ln  net.Listener
	srv *http.Server
	sup *supervisor.Supervisor
}

func NewServer(cfg ServerConfig, metrics *Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{cfg: cfg, metrics: metrics, log: log}
}

// SetRuns enables /runs. A nil lister (storage disabled) serves 404.
func (s *Server) SetRuns(r RunLister) {
	s.mu.Lock()
	s.runs = r
	s.mu.Unlock()
}

// SetHealth installs the /healthz probe; a non-nil error answers 503.
func (s *Server) SetHealth(fn func() error) {
	s.mu.Lock()
	s.health = fn
	s.mu.Unlock()
}

// Addr is the bound listen address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Handler builds the ops mux guarded by token (if set).
func (s *Server) Handler(token string) http.Handler {
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux := http.NewServeMux()
	mux.Handle("/metrics", wrap(s.metrics.Handler().ServeHTTP))
	mux.HandleFunc("/healthz", wrap(s.serveHealth))
	mux.HandleFunc("/runs", wrap(s.serveRuns))

	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fn := s.health
	s.mu.Unlock()
	if fn != nil {
		if err := fn(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) serveRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	runs := s.runs
	s.mu.Unlock()
	if runs == nil {
		http.Error(w, "run log disabled", http.StatusNotFound)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be 1..1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := runs.Recent(r.Context(), limit)
	if err != nil {
		s.log.Warn("listing runs failed", logx.Err(err))
		http.Error(w, "listing runs failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []storage.RunEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// Start binds the listener and serves in the background. It is a no-op when
// disabled or already running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.cfg
	if !cur.Enabled || s.sup != nil {
		return nil
	}

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if strings.TrimSpace(cur.Token) == "" && !isLoopbackAddr(addr) {
		s.log.Error("ops server refused to start", logx.String("addr", addr))
		return ErrInsecureBind
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(cur.Token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cur.ReadTimeout,
		WriteTimeout:      cur.WriteTimeout,
		IdleTimeout:       cur.IdleTimeout,
	}
	// Ops is optional; its failure never stops the app.
	sup := supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	sup.Go("ops.http", func(c context.Context) error {
		go func() {
			<-c.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(sctx)
			cancel()
		}()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server stopped", logx.Err(err))
			return err
		}
		return nil
	})

	s.ln, s.srv, s.sup = ln, srv, sup
	s.log.Info("ops server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cur.Token != ""),
	)
	return nil
}

// Stop shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.ln, s.srv, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if sup != nil {
		_ = sup.Stop(ctx)
	}
	s.log.Info("ops server stopped")
	return err
}

// Reconfigure applies cfg, restarting the listener when the bind or auth changed.
func (s *Server) Reconfigure(ctx context.Context, cfg ServerConfig) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		return s.Stop(ctx)
	case !running:
		return s.Start(ctx)
	case needsRestart(prev, cfg):
		if err := s.Stop(ctx); err != nil {
			s.log.Warn("ops server shutdown incomplete", logx.Err(err))
		}
		return s.Start(ctx)
	}
	return nil
}

func needsRestart(a, b ServerConfig) bool {
	return a.Addr != b.Addr || a.Token != b.Token ||
		a.ReadTimeout != b.ReadTimeout || a.WriteTimeout != b.WriteTimeout || a.IdleTimeout != b.IdleTimeout
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false // all interfaces
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
