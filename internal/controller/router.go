package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/handler"
)

// NewRouter wires the campaign API.
func NewRouter(c *CampaignController, h *handler.CampaignHandler, allowedOrigins []string, log *zap.SugaredLogger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", c.CreateCampaign)
		r.Get("/", c.ListCampaigns)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCampaignHandlerWithStats)
			r.Put("/", c.UpdateCampaign)
			r.Delete("/", c.DeleteCampaign)

			r.Post("/schedule", c.ScheduleCampaign())
			r.Post("/start", c.StartCampaign())
			r.Post("/pause", c.PauseCampaign())
			r.Post("/resume", c.ResumeCampaign())
			r.Post("/stop", c.StopCampaign())
			r.Post("/restart", c.RestartCampaign())

			r.Post("/preview", c.PersonalizedPreview)
			r.Get("/progress", h.ProgressHandler)
			r.Get("/jobs", h.ListJobsHandler)
		})
	})
	return r
}

func requestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
