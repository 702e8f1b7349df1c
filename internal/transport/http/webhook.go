package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/omkar-codehub/sar-marine-backend/internal/service"
)

const maxCallbackBody = 32 << 20

type callbackDTO struct {
	JobID      string          `json:"job_id"`
	Type       string          `json:"type"`
	ImageID    string          `json:"image_id"`
	Detections json.RawMessage `json:"detections,omitempty" swaggertype:"array,object"`
	Error      *string         `json:"error,omitempty"`
}

type callbackResp struct {
	Received bool `json:"received"`
}

// Webhook godoc
// @Summary Worker callback
// @Description Reports the outcome of a detection job. 200 confirms receipt, not success.
// @Tags detect
// @Accept json
// @Produce json
// @Param request body callbackDTO true "callback payload"
// @Success 200 {object} callbackResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 500 {object} apiError
// @Router /detect/webhook [post]
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var dto callbackDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBody)).Decode(&dto); err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	jobID := strings.TrimSpace(dto.JobID)
	if jobID == "" {
		writeErr(w, r, http.StatusBadRequest, "job_id is required")
		return
	}
	id, err := uuid.Parse(jobID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "callback with malformed job id", "job_id", jobID, "req_id", requestID(r))
		writeErr(w, r, http.StatusNotFound, "job not found")
		return
	}

	outcome, err := h.jobSvc.HandleCallback(r.Context(), service.CallbackRequest{
		JobID:      id,
		Type:       dto.Type,
		ImageID:    dto.ImageID,
		Detections: dto.Detections,
		Error:      dto.Error,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.DebugContext(r.Context(), "callback received", "job_id", jobID, "outcome", outcome)
	writeJSON(w, http.StatusOK, callbackResp{Received: true})
}
