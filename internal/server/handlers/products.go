package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tallyline/tallyline/pkg/types"
)

type setProductRequest struct {
	MachineID  string `json:"machine_id"`
	LaneID     *int   `json:"lane_id,omitempty"`
	ProductSKU string `json:"product_sku"`
}

// SetProduct assigns the active product SKU to one lane of a machine.
// Lane defaults to 1 when omitted; lane 0 is reserved for the UNKNOWN
// sentinel and cannot be assigned.
func (h *Handlers) SetProduct(w http.ResponseWriter, r *http.Request) {
	var req setProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if req.MachineID == "" {
		h.writeError(w, http.StatusBadRequest, "machine_id is required", nil)
		return
	}
	if req.ProductSKU == "" {
		h.writeError(w, http.StatusBadRequest, "product_sku is required", nil)
		return
	}

	lane := 1
	if req.LaneID != nil {
		lane = *req.LaneID
	}
	if lane < 1 {
		h.writeError(w, http.StatusBadRequest, "lane_id must be >= 1", nil)
		return
	}

	err := h.store.PutAssignment(r.Context(), types.ActiveAssignment{
		MachineID:  req.MachineID,
		LaneID:     lane,
		ProductSKU: req.ProductSKU,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to set product", err)
		return
	}

	_ = h.store.AppendIngestEvent(r.Context(), types.IngestEvent{
		Kind:      types.EventAssignmentChanged,
		MachineID: req.MachineID,
		Message:   "active product changed",
		Details:   map[string]interface{}{"lane_id": lane, "product_sku": req.ProductSKU},
		Timestamp: time.Now().UTC(),
	})

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
