/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Access log: zap, one line per request
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/students/*   Students, balance, slots, expansion
  /api/lessons/*    Lessons
  /api/slots/*      Slot activation and deletion
  /api/sweep/*      Completion sweep
  /api/stats        Balance statistics
  /api/export/*     ICS and XLSX exports
  /api/scenarios/*  Demo data
  /healthz          Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(accessLog(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Post("/", h.CreateStudent)
			r.Get("/{id}", h.GetStudent)
			r.Delete("/{id}", h.DeleteStudent)
			r.Post("/{id}/balance", h.AdjustBalance)
			r.Get("/{id}/slots", h.ListSlots)
			r.Post("/{id}/slots", h.CreateSlot)
			r.Post("/{id}/expand", h.ExpandSchedule)
		})

		r.Route("/lessons", func(r chi.Router) {
			r.Get("/", h.ListLessons)
			r.Post("/", h.CreateLesson)
			r.Patch("/{id}", h.UpdateLesson)
			r.Post("/{id}/toggle-payment", h.TogglePayment)
			r.Delete("/{id}", h.DeleteLesson)
		})

		r.Route("/slots", func(r chi.Router) {
			r.Post("/{id}/deactivate", h.DeactivateSlot)
			r.Post("/{id}/reactivate", h.ReactivateSlot)
			r.Post("/{id}/toggle", h.ToggleSlot)
			r.Delete("/{id}", h.DeleteSlot)
		})

		r.Route("/sweep", func(r chi.Router) {
			r.Post("/", h.RunSweep)
			r.Get("/runs", h.ListSweepRuns)
		})

		r.Get("/stats", h.GetStats)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		r.Route("/export", func(r chi.Router) {
			r.Get("/lessons.ics", h.ExportCalendar)
			r.Get("/students.xlsx", h.ExportStudents)
		})
	})

	return r
}

// accessLog logs every request with zap.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
