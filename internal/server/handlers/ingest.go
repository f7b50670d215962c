package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tallyline/tallyline/internal/pipeline"
	"github.com/tallyline/tallyline/pkg/types"
)

// alarmRequest is the device wire format. Controllers post the bare minimum:
// most send only machine_id, older firmware adds alarm_count, newer firmware
// adds a monotonically increasing device_sequence.
type alarmRequest struct {
	MachineID      string     `json:"machine_id"`
	AlarmCount     int        `json:"alarm_count,omitempty"`
	DeviceSequence string     `json:"device_sequence,omitempty"`
	LaneID         *int       `json:"lane_id,omitempty"`
	EventTime      *time.Time `json:"event_time,omitempty"`
}

type alarmResponse struct {
	Status       string `json:"status"`
	Product      string `json:"product"`
	LoggedLanes  []int  `json:"logged_lanes"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

// Alarm ingests one production pulse signal. The 200 acknowledgment is sent
// only after every split row is durable; a duplicate delivery is still a 200.
func (h *Handlers) Alarm(w http.ResponseWriter, r *http.Request) {
	var req alarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), types.IngestRequest{
		MachineID:      req.MachineID,
		PulseCount:     req.AlarmCount,
		DeviceSequence: req.DeviceSequence,
		LaneID:         req.LaneID,
		EventTime:      req.EventTime,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			h.writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to persist signal", err)
		return
	}

	lanes := result.LoggedLanes
	if lanes == nil {
		lanes = []int{}
	}
	_ = json.NewEncoder(w).Encode(alarmResponse{
		Status:       "ok",
		Product:      result.Product,
		LoggedLanes:  lanes,
		Deduplicated: result.Deduplicated,
	})
}
