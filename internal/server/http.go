package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/broadcast"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/engine"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/health"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/ingest"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/observability"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/store"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/taxonomy"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/views"
)

const maxBodyBytes = 16 << 20

// HealthSource produces host health snapshots.
type HealthSource interface {
	Snapshot(ctx context.Context) (health.Snapshot, error)
}

// Deps are the pipeline components the HTTP layer serves.
type Deps struct {
	Store    store.Store
	Ingest   *ingest.Service
	Hub      *broadcast.Hub
	Health   HealthSource
	Taxonomy *taxonomy.Taxonomy
	Metrics  observability.Recorder
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

type Options struct {
	WebDir      string
	CORSOrigins []string
	// IngestTokenHash is a bcrypt hash; when set, POST /api/logs requires the matching bearer token.
	IngestTokenHash string
	StoreTimeout    time.Duration
	Heartbeat       time.Duration
	WindowSize      int
	Location        *time.Location
}

type Server struct {
	deps Deps
	opts Options
	srv  *http.Server
}

func New(deps Deps, opts Options) *Server {
	if deps.Taxonomy == nil {
		deps.Taxonomy = taxonomy.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.Nop{}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Server{deps: deps, opts: opts}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/logs", s.handleRecent)
	mux.Handle("POST /api/logs", s.AuthMiddleware(http.HandlerFunc(s.handleIngest)))
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /api/system-health", s.handleSystemHealth)
	mux.HandleFunc("GET /api/views", s.handleViews)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/histogram", s.handleHistogram)
	mux.HandleFunc("GET /api/subscribers", s.handleSubscribers)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.deps.MetricsHandler)
	}

	if s.opts.WebDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.WebDir)))
	}

	return s.corsMiddleware(mux)
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// AuthMiddleware checks the bearer token against the configured bcrypt hash.
// It is a pass-through when no hash is configured.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	if s.opts.IngestTokenHash == "" {
		return next
	}
	hash := []byte(s.opts.IngestTokenHash)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		var token string
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			token = r.URL.Query().Get("token")
		}

		if token == "" || bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="siemd"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(s.opts.CORSOrigins))
	for _, o := range s.opts.CORSOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRecent serves GET /api/logs: the most recent records, newest first,
// optionally filtered by a q expression.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := store.DefaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = store.ClampLimit(n)
	}

	var match store.Matcher
	if expr := strings.TrimSpace(q.Get("q")); expr != "" {
		m, err := engine.CompileQuery(expr, s.deps.Taxonomy)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid query: %v", err), http.StatusBadRequest)
			return
		}
		match = m
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StoreTimeout)
	defer cancel()

	var (
		recs []model.StoredLogRecord
		err  error
	)
	if match != nil {
		recs, err = s.deps.Store.Search(ctx, match, limit)
	} else {
		recs, err = s.deps.Store.QueryRecent(ctx, limit)
	}
	if err != nil {
		slog.Error("fetch logs failed", "err", err)
		s.storeFailure(w, err, "Failed to fetch logs")
		return
	}
	if recs == nil {
		recs = []model.StoredLogRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleIngest serves POST /api/logs.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("read ingest body failed", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	res, err := s.deps.Ingest.Ingest(r.Context(), body)
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrConfidenceRange):
		slog.Warn("rejected ingest batch", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "Confidence must be within [0, 1]", http.StatusBadRequest)
		return
	case errors.Is(err, ingest.ErrInvalidPayload):
		slog.Warn("rejected ingest batch", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "Request must be an array of logs", http.StatusBadRequest)
		return
	default:
		slog.Error("save logs failed", "remote", r.RemoteAddr, "err", err)
		s.storeFailure(w, err, "Failed to save logs")
		return
	}

	slog.Info("saved logs", "count", res.Count, "first_id", res.First, "last_id", res.Last)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Logs received and broadcasted (%d)", res.Count)
}

// storeFailure replies 500, adding Retry-After when the failure is transient.
func (s *Server) storeFailure(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		w.Header().Set("Retry-After", "1")
	}
	http.Error(w, msg, http.StatusInternalServerError)
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Health sampling disabled"})
		return
	}

	start := time.Now()
	snap, err := s.deps.Health.Snapshot(r.Context())
	s.deps.Metrics.ObserveLatency(observability.HealthLatency, time.Since(start).Seconds())
	if err != nil {
		slog.Error("system health failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch system health"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleViews computes the dashboard aggregates from a fresh snapshot.
func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = store.ClampLimit(n)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StoreTimeout)
	defer cancel()
	snapshot, err := s.deps.Store.QueryRecent(ctx, limit)
	if err != nil {
		slog.Error("views snapshot failed", "err", err)
		s.storeFailure(w, err, "Failed to fetch logs")
		return
	}

	eng := s.newViews()
	eng.Load(snapshot)
	writeJSON(w, http.StatusOK, eng.View())
}

func (s *Server) newViews() *views.Engine {
	return views.New(s.deps.Taxonomy, views.Options{
		WindowSize: s.opts.WindowSize,
		Location:   s.opts.Location,
	})
}

type statsResponse struct {
	store.Stats
	Threats    int64 `json:"threats"`
	NonThreats int64 `json:"non_threats"`
	DiskBytes  int64 `json:"disk_bytes,omitempty"`
	MemBytes   int64 `json:"memtable_bytes,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StoreTimeout)
	defer cancel()

	st, err := s.deps.Store.Stats(ctx)
	if err != nil {
		slog.Error("stats failed", "err", err)
		s.storeFailure(w, err, "Failed to fetch stats")
		return
	}

	resp := statsResponse{Stats: st}
	for typ, n := range st.ByType {
		if s.deps.Taxonomy.IsThreat(typ) {
			resp.Threats += n
		}
	}
	resp.NonThreats = st.Total - resp.Threats
	if du, ok := s.deps.Store.(interface{ DiskUsage() int64 }); ok {
		resp.DiskBytes = du.DiskUsage()
	}
	if mb, ok := s.deps.Store.(interface{ MemTableBytes() int64 }); ok {
		resp.MemBytes = mb.MemTableBytes()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHistogram buckets ingestion times. start and end are Unix
// milliseconds, interval is in seconds; the default is the last hour by minute.
func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	end := time.Now()
	start := end.Add(-time.Hour)
	interval := time.Minute

	if v := q.Get("start"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid start", http.StatusBadRequest)
			return
		}
		start = time.UnixMilli(ms)
	}
	if v := q.Get("end"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid end", http.StatusBadRequest)
			return
		}
		end = time.UnixMilli(ms)
	}
	if v := q.Get("interval"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil || sec <= 0 {
			http.Error(w, "Invalid interval", http.StatusBadRequest)
			return
		}
		interval = time.Duration(sec) * time.Second
	}
	if end.Before(start) {
		http.Error(w, "end is before start", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StoreTimeout)
	defer cancel()
	samples, err := s.deps.Store.ScanRange(ctx, start, end)
	if err != nil {
		slog.Error("histogram scan failed", "err", err)
		s.storeFailure(w, err, "Failed to compute histogram")
		return
	}
	writeJSON(w, http.StatusOK, store.Bucketize(samples, interval, s.deps.Taxonomy.IsThreat))
}

func (s *Server) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Hub.Registry().List())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("JSON encode error", "err", err)
	}
}
