package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.observeMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.handleListUsers)
			r.Post("/", s.handleCreateUser)
			r.Post("/reserve", s.handleReserveUser)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetUser)
				r.Put("/", s.handleUpdateUser)
				r.Delete("/", s.handleDeleteUser)
			})
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleCreateGroup)
			r.Delete("/{name}", s.handleDeleteGroup)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Get("/{name}", s.handleGetSchedule)
			r.Put("/{name}", s.handleUpsertSchedule)
			r.Delete("/{name}", s.handleDeleteSchedule)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleGetSettings)
			r.Put("/auto-sync", s.handleSetAutoSync)
			r.Put("/auto-reboot", s.handleSetAutoReboot)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleDeviceStats)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDeviceOptions)
				r.Post("/sync", s.handleSyncDevice)
				r.Post("/reboot", s.handleRebootDevice)
				r.Get("/diagnostics", s.handleDiagnoseDevice)
			})
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/", s.handleSyncStatus)
			r.Post("/", s.handleSyncAll)
		})

		r.Get("/history", s.handleHistory)
		r.Get("/audit", s.handleListAuditLogs)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// pathParam returns a decoded URL parameter. chi matches on the raw path
// when it contains escapes, so names like "24/7 Access" arrive encoded.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}
