// Package server exposes the dashboard over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/KaramelBytes/forecastdesk/internal/auth"
	"github.com/KaramelBytes/forecastdesk/internal/dataset"
	"github.com/KaramelBytes/forecastdesk/internal/ingest"
	"github.com/KaramelBytes/forecastdesk/internal/logging"
	"github.com/KaramelBytes/forecastdesk/internal/ratelimit"
	"github.com/KaramelBytes/forecastdesk/internal/responder"
)

const (
	sessionCookieName = "forecastdesk_session"
	maxBodyBytes      = 1 << 20
	pingTimeout       = 3 * time.Second
)

// Asker answers questions.
type Asker interface {
	Ask(ctx context.Context, question string) (*responder.Answer, error)
	HasRuntime() bool
}

// Forecasts serves the aggregated and per-dataset tables.
type Forecasts interface {
	Load(ctx context.Context) (*dataset.Snapshot, error)
	Lookup(ctx context.Context, name string) (*dataset.Table, string, error)
	Invalidate(ctx context.Context)
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TableAppender appends rows to a physical table, creating it when absent.
type TableAppender interface {
	AppendTable(ctx context.Context, table string, f *dataset.Frame) (int, error)
}

// CSVFetcher downloads and parses a CSV file.
type CSVFetcher interface {
	FetchCSV(ctx context.Context, url string, opt ingest.CSVOptions) (*dataset.Frame, error)
}

// Deps are the handles the server is built from. Nil Store, Writer or Fetcher
// disable the features that need them.
type Deps struct {
	Asker     Asker
	Forecasts Forecasts
	Store     Pinger
	Writer    TableAppender
	Fetcher   CSVFetcher
	Limiter   *ratelimit.Limiter
	Users     auth.Users
	Sessions  *auth.Sessions
	APIKey    string
	// CacheBackend names the cache backend for /readyz.
	CacheBackend string
	Log          *zap.Logger
}

// Server holds the handlers' dependencies.
type Server struct {
	d   Deps
	log *zap.Logger
}

// New builds a Server.
func New(d Deps) *Server {
	if d.Sessions == nil {
		d.Sessions = auth.NewSessions(0)
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(0)
	}
	return &Server{d: d, log: logging.OrNop(d.Log)}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	r.Get("/login", s.loginPage)
	r.Post("/login", s.login)
	r.Get("/logout", s.logout)
	r.With(s.requireSession).Get("/", s.index)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/ask", s.ask)
		r.Post("/upload_csv", s.uploadCSV)
		r.Get("/api/all_forecasts", s.allForecasts)
		r.Get("/api/forecast", s.forecast)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("listening", zap.String("addr", addr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if !auth.CheckAPIKey(s.d.APIKey, key) {
			s.log.Warn("unauthorized access attempt", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		sess, ok := s.d.Sessions.Lookup(c.Value)
		if !ok {
			expireSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

type sessionKey struct{}

func sessionFromContext(ctx context.Context) (auth.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(auth.Session)
	return sess, ok
}

func expireSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// clientAddr strips the port RealIP leaves in place when no proxy header is set.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
