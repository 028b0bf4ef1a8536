package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/api/middleware"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/chat"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/handlers"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/scheduler"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, svc *chat.Service, st store.Store, sched scheduler.Scheduler) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // 64KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - allow all origins (the playback client is a browser app)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(svc, st, sched)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	r.Post("/initialize", h.Initialize)

	r.Post("/users", h.CreateUser)
	r.Get("/users", h.GetUsers)

	r.Get("/rooms", h.ListRooms)
	r.Get("/rooms/{id}", h.GetRoom)
	r.Get("/rooms/{id}/members", h.GetRoomMembers)
	r.Get("/rooms/{id}/messages", h.GetRoomMessages)

	r.Put("/members/{id}/persona", h.SetMemberPersona)

	r.Post("/messages", h.PostMessage)
	r.Get("/messages/{id}/next", h.NextMessage)

	return r
}
