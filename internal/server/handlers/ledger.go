package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tallyline/tallyline/pkg/types"
)

// ListLedger returns recent stock ledger movements, optionally filtered by
// SKU via ?sku=.
func (h *Handlers) ListLedger(w http.ResponseWriter, r *http.Request) {
	sku := r.URL.Query().Get("sku")
	limit := limitParam(r, 50, 500)

	entries, err := h.store.ListLedgerEntries(r.Context(), sku, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list ledger entries", err)
		return
	}
	if entries == nil {
		entries = []types.StockLedgerEntry{}
	}
	_ = json.NewEncoder(w).Encode(entries)
}
