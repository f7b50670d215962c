package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/tallyline/tallyline/internal/anomaly"
	"github.com/tallyline/tallyline/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router, scanCfg anomaly.Config) {
	h := handlers.New(s.pipeline, s.store, scanCfg)

	r.Route("/api", func(r chi.Router) {
		// Health
		r.Get("/health", h.Health)

		// Device ingestion. /iot_test is the legacy path some controller
		// firmware still posts to.
		r.Post("/alarm", h.Alarm)
		r.Post("/iot_test", h.Alarm)

		// Operator configuration
		r.Post("/set-product", h.SetProduct)

		// Machine registry
		r.Get("/machines", h.ListMachines)
		r.Post("/machines", h.RegisterMachine)
		r.Get("/machines/{machineID}", h.GetMachine)
		r.Get("/machines/{machineID}/assignments", h.GetAssignments)
		r.Get("/machines/{machineID}/logs", h.ListLogs)
		r.Get("/machines/{machineID}/anomalies", h.ScanAnomalies)
		r.Get("/machines/{machineID}/events", h.ListEvents)

		// Stock ledger
		r.Get("/ledger", h.ListLedger)
	})
}
