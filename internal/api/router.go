// Package api wires the HTTP surface: the middleware chain, the JSON
// routes, and the websocket event stream.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bilibili-xiayun/bililive-queue/internal/api/middleware"
	"github.com/bilibili-xiayun/bililive-queue/internal/events"
	"github.com/bilibili-xiayun/bililive-queue/internal/handlers"
)

// Options configures the router. Limiter may be nil when no Redis is
// available; AdminKeyHash may be empty in development, which leaves the
// mutating routes open.
type Options struct {
	Logger       zerolog.Logger
	Handler      *handlers.Handler
	Hub          *events.Hub
	AdminKeyHash string
	Limiter      *middleware.RateLimiter
}

// NewRouter creates and configures the HTTP router.
func NewRouter(opts Options) *chi.Mux {
	r := chi.NewRouter()
	h := opts.Handler

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body, room for CJK payloads
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(opts.Logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if opts.Limiter != nil {
		r.Use(opts.Limiter.Middleware)
	}

	// CORS - the dashboard and OBS overlays load from file:// or localhost
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Queue-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	auth := middleware.NewAuthMiddleware(opts.AdminKeyHash)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Service info
	r.Get("/", h.Root)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)

	// Event stream for dashboards and overlays
	r.Handle("/ws", opts.Hub.Handler())

	// Public reads (overlays poll these without a key)
	r.Get("/api/queue", h.GetQueue)
	r.Get("/api/roster", h.GetRoster)
	r.Get("/api/monitor", h.MonitorStatus)
	r.Get("/api/vote", h.VoteStatus)
	r.Get("/api/vote/presets", h.VotePresets)
	r.Get("/api/lottery/history", h.LotteryHistory)
	r.Get("/api/stats", h.Stats)
	r.Get("/api/history/events", h.HistoryEvents)
	r.Get("/api/history/recent", h.HistoryRecent)
	r.Get("/api/history/deductions", h.HistoryDeductions)
	r.Get("/api/history/guards", h.HistoryGuards)

	// Login state reads. QR poll and image are keyed by an unguessable
	// session ID so the image can be embedded directly.
	r.Get("/api/login/session", h.LoginSession)
	r.Get("/api/login/qr/{session}", h.LoginQRPoll)
	r.Get("/api/login/qr/{session}/image.png", h.LoginQRImage)

	// Mutations require the admin key
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)

		r.Post("/api/login/qr", h.LoginQRCreate)
		r.Post("/api/login/logout", h.Logout)

		r.Post("/api/monitor/start", h.MonitorStart)
		r.Post("/api/monitor/stop", h.MonitorStop)

		r.Post("/api/queue/start", h.QueueStart)
		r.Post("/api/queue/stop", h.QueueStop)
		r.Post("/api/boarding/start", h.BoardingStart)
		r.Post("/api/boarding/stop", h.BoardingStop)
		r.Post("/api/cutline/start", h.CutlineStart)
		r.Post("/api/cutline/stop", h.CutlineStop)

		r.Post("/api/queue/items", h.QueueAdd)
		r.Post("/api/queue/items/{pos}/complete", h.QueueItemComplete)
		r.Post("/api/queue/items/{pos}/absent", h.QueueItemAbsent)
		r.Post("/api/queue/items/{pos}/cancel", h.QueueItemCancel)
		r.Post("/api/cutline/items", h.CutlineInsert)
		r.Post("/api/cutline/items/{name}/complete", h.CutlineItemComplete)
		r.Delete("/api/cutline/items/{name}", h.CutlineItemDelete)
		r.Post("/api/boarding/items/{name}/complete", h.BoardingItemComplete)
		r.Delete("/api/boarding/items/{name}", h.BoardingItemDelete)
		r.Post("/api/queue/clear", h.QueueClear)
		r.Post("/api/queue/save-state", h.QueueSaveState)

		r.Post("/api/roster/reload", h.RosterReload)
		r.Post("/api/roster/save", h.RosterSave)
		r.Put("/api/roster/path", h.RosterSetPath)

		r.Post("/api/lottery/draw", h.LotteryDraw)

		r.Post("/api/vote", h.VoteStart)
		r.Post("/api/vote/end", h.VoteEnd)
		r.Post("/api/vote/ballot", h.VoteBallot)
		r.Post("/api/vote/export", h.VoteExport)
		r.Post("/api/vote/presets", h.VotePresetSave)
		r.Delete("/api/vote/presets/{name}", h.VotePresetDelete)

		r.Post("/api/test/message", h.TestMessage)
	})

	return r
}
