package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
	"github.com/omkar-codehub/sar-marine-backend/internal/service"
)

type Handler struct {
	jobSvc *service.JobService
	logger *slog.Logger
}

func NewHandler(jobSvc *service.JobService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{jobSvc: jobSvc, logger: logger.With("component", "http")}
}

type submitResp struct {
	JobID    string `json:"jobId"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

type jobResp struct {
	JobID           string           `json:"jobId"`
	Type            string           `json:"type"`
	ImageID         string           `json:"imageId"`
	Status          entity.JobStatus `json:"status"`
	DetectionsCount *int             `json:"detectionsCount"`
	Error           *string          `json:"error"`
	CreatedAt       string           `json:"createdAt"`
	UpdatedAt       string           `json:"updatedAt"`
}

type resultResp struct {
	JobID      string          `json:"jobId"`
	Detections json.RawMessage `json:"detections" swaggertype:"array,object"`
	CreatedAt  string          `json:"createdAt"`
}

type resultsResp struct {
	ImageID string       `json:"imageId"`
	Type    string       `json:"type"`
	Results []resultResp `json:"results"`
}

// SubmitDetection godoc
// @Summary Start a detection job
// @Description Stores a queued job and hands it to the dispatch queue. Returns before the worker is contacted.
// @Tags detect
// @Produce json
// @Param type path string true "detection type" Enums(ship, oilspill)
// @Param imageId path string true "image id"
// @Success 202 {object} submitResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /detect/{type}/{imageId} [post]
func (h *Handler) SubmitDetection(w http.ResponseWriter, r *http.Request) {
	res, err := h.jobSvc.SubmitJob(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "imageId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResp{
		JobID:    res.JobID.String(),
		Accepted: res.Accepted,
		Message:  res.Message,
	})
}

// GetStatus godoc
// @Summary Get job status
// @Tags detect
// @Produce json
// @Param jobId path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 404 {object} apiError
// @Failure 500 {object} apiError
// @Router /detect/status/{jobId} [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		// такого id у нас точно нет
		writeErr(w, r, http.StatusNotFound, "job not found")
		return
	}

	j, err := h.jobSvc.GetStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResp(j))
}

// ListResults godoc
// @Summary List stored detection results for an image
// @Tags detect
// @Produce json
// @Param type path string true "detection type" Enums(ship, oilspill)
// @Param imageId path string true "image id"
// @Success 200 {object} resultsResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /detect/results/{type}/{imageId} [get]
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	typ, imageID := chi.URLParam(r, "type"), chi.URLParam(r, "imageId")

	results, err := h.jobSvc.ListResults(r.Context(), typ, imageID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := resultsResp{ImageID: imageID, Type: typ, Results: make([]resultResp, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, resultResp{
			JobID:      res.JobID.String(),
			Detections: res.Detections,
			CreatedAt:  res.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func toJobResp(j *entity.Job) jobResp {
	return jobResp{
		JobID:           j.ID.String(),
		Type:            string(j.Type),
		ImageID:         j.ImageID,
		Status:          j.Status,
		DetectionsCount: j.DetectionsCount,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
