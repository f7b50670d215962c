// Package handlers implements HTTP request handlers for the Tallyline API.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tallyline/tallyline/internal/anomaly"
	"github.com/tallyline/tallyline/internal/pipeline"
	"github.com/tallyline/tallyline/internal/store"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	scanCfg  anomaly.Config
	logger   *slog.Logger
}

// New creates a new Handlers instance.
func New(p *pipeline.Pipeline, st store.Store, scanCfg anomaly.Config) *Handlers {
	return &Handlers{
		pipeline: p,
		store:    st,
		scanCfg:  scanCfg,
		logger:   slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// limitParam parses ?limit= with a default and an upper bound.
func limitParam(r *http.Request, def, max int) int {
	limit := def
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= max {
			limit = n
		}
	}
	return limit
}
