// Package api serves the HTTP interface: per-user profiles, fund lists,
// discovery runs with server-sent progress, exports and background jobs.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/model"
	"github.com/sells-group/fundscout/internal/session"
)

// Profiles reads and writes company profiles. store.Store satisfies it.
type Profiles interface {
	SaveProfile(ctx context.Context, userID string, p *model.Profile) error
	LoadProfile(ctx context.Context, userID string) (*model.Profile, error)
	ListProfilesByTier(ctx context.Context, tier model.Tier) ([]model.ProfileSummary, error)
}

// Sessions hands out user sessions. session.Manager satisfies it.
type Sessions interface {
	Get(ctx context.Context, userID string) (*session.Session, error)
	Logout(userID string)
}

// Jobs manages background jobs. jobs.Service satisfies it.
type Jobs interface {
	Create(ctx context.Context, userID, webhookURL string, autoAnalyze bool) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, userID string, limit int) ([]model.Job, error)
	Launch(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
}

// Config tunes the HTTP surface.
type Config struct {
	AllowedOrigins []string
	// Heartbeat is the interval between keep-alive comments on event
	// streams. Zero uses 25s.
	Heartbeat time.Duration
}

// Server wires HTTP handlers to the session manager, profile storage and
// job service.
type Server struct {
	profiles Profiles
	sessions Sessions
	jobs     Jobs
	cfg      Config
	now      func() time.Time
}

// New creates a Server.
func New(profiles Profiles, sessions Sessions, jobs Jobs, cfg Config) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 25 * time.Second
	}
	return &Server{
		profiles: profiles,
		sessions: sessions,
		jobs:     jobs,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/users", s.listUsers)
		r.Route("/users/{user}", func(r chi.Router) {
			r.Get("/profile", s.getProfile)
			r.Put("/profile", s.putProfile)
			r.Get("/funds", s.listFunds)
			r.Put("/funds/{name}/status", s.setFundStatus)
			r.Get("/search", s.searchState)
			r.Post("/search", s.startSearch)
			r.Post("/search/stop", s.stopSearch)
			r.Get("/events", s.events)
			r.Get("/report", s.exportReport)
			r.Delete("/session", s.logout)
			r.Get("/jobs", s.listJobs)
		})
		r.Post("/jobs", s.createJob)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Post("/execute", s.executeJob)
			r.Post("/cancel", s.cancelJob)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request. Event streams are logged when
// they close.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			if status >= http.StatusInternalServerError {
				zap.L().Warn("api: request", fields...)
				return
			}
			zap.L().Info("api: request", fields...)
		}()
		next.ServeHTTP(ww, r)
	})
}
