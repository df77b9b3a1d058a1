package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"pipeline-engine/internal/model"
)

// Runner is the slice of the orchestrator the handlers need.
type Runner interface {
	Start(pipelineID string) (string, error)
	Cancel(runID string) bool
}

// Store is the read/write surface the handlers need.
type Store interface {
	CreatePipeline(p *model.Pipeline) error
	GetPipeline(id string) (*model.Pipeline, error)
	GetPipelineByName(name string) (*model.Pipeline, error)
	ListPipelines() ([]*model.Pipeline, error)
	GetRun(runID string) (*model.PipelineRun, error)
	ListRuns(filter model.RunFilter) ([]*model.PipelineRun, error)
	ListLogs(pipelineID string, limit int) ([]*model.LogEvent, error)
}

type Handler struct {
	store    Store
	runner   Runner
	validate *validator.Validate
}

func New(store Store, runner Runner) *Handler {
	return &Handler{
		store:    store,
		runner:   runner,
		validate: validator.New(),
	}
}

// CreatePipeline registers a new pipeline definition
// @Summary Create a new pipeline
// @Description Register a pipeline definition (source, target, schedule). Does not start a run.
// @Tags pipelines
// @Accept json
// @Produce json
// @Param pipeline body model.Pipeline true "Pipeline definition"
// @Success 201 {object} model.Pipeline
// @Failure 400 {object} map[string]interface{} "Invalid definition"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /pipelines [post]
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var p model.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Source.Mode == model.LoadIncremental && (p.Source.Incremental == nil || p.Source.Incremental.CursorField == "") {
		writeError(w, http.StatusBadRequest, "incremental mode requires a cursor field")
		return
	}

	p.ID = uuid.New().String()
	if err := h.store.CreatePipeline(&p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save pipeline")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPipelines lists all registered pipelines
// @Summary List pipelines
// @Tags pipelines
// @Produce json
// @Success 200 {array} model.Pipeline
// @Router /pipelines [get]
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.store.ListPipelines()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch pipelines")
		return
	}
	if pipelines == nil {
		pipelines = []*model.Pipeline{}
	}
	writeJSON(w, http.StatusOK, pipelines)
}

// GetPipeline returns one pipeline with its aggregate counters
// @Summary Get pipeline
// @Tags pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 200 {object} model.Pipeline
// @Failure 404 {object} map[string]interface{} "Pipeline not found"
// @Router /pipelines/{id} [get]
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r.URL.Path, "/api/v1/pipelines/", "")
	if id == "" {
		writeError(w, http.StatusBadRequest, "pipeline ID is required")
		return
	}
	p, err := h.store.GetPipeline(id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch pipeline")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RunPipeline starts a new run for a pipeline
// @Summary Trigger a pipeline run
// @Description Starts an asynchronous run and returns its ID. Runs of the same pipeline are not serialized.
// @Tags runs
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 202 {object} map[string]interface{} "Run accepted"
// @Failure 404 {object} map[string]interface{} "Pipeline not found"
// @Router /pipelines/{id}/run [post]
func (h *Handler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r.URL.Path, "/api/v1/pipelines/", "/run")
	if id == "" {
		writeError(w, http.StatusBadRequest, "pipeline ID is required")
		return
	}
	runID, err := h.runner.Start(id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id":      runID,
		"pipeline_id": id,
		"status":      model.RunPending,
		"started_at":  time.Now().UTC(),
	})
}

// GetRun returns one run
// @Summary Get run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.PipelineRun
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r.URL.Path, "/api/v1/runs/", "")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}
	run, err := h.store.GetRun(id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListRuns lists run history
// @Summary List runs
// @Description Run history, newest first. Filter by pipeline name, status, and start-time range.
// @Tags runs
// @Produce json
// @Param pipeline query string false "Pipeline name"
// @Param status query string false "Run status"
// @Param since query string false "RFC3339 lower bound on start time"
// @Param until query string false "RFC3339 upper bound on start time"
// @Param limit query int false "Max results (default 100)"
// @Success 200 {array} model.PipelineRun
// @Router /runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := model.RunFilter{
		PipelineName: r.URL.Query().Get("pipeline"),
		Status:       model.RunStatus(r.URL.Query().Get("status")),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		filter.Since = &t
	}
	if until := r.URL.Query().Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		filter.Until = &t
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	runs, err := h.store.ListRuns(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch runs")
		return
	}
	if runs == nil {
		runs = []*model.PipelineRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRunProgress returns the live progress fields of a run
// @Summary Get run progress
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Progress snapshot"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id}/progress [get]
func (h *Handler) GetRunProgress(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r.URL.Path, "/api/v1/runs/", "/progress")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}
	run, err := h.store.GetRun(id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":               run.ID,
		"status":               run.Status,
		"rows_processed":       run.RowsProcessed,
		"total_rows":           run.TotalRows,
		"processed_chunks":     run.ProcessedChunks,
		"total_chunks":         run.TotalChunks,
		"estimated_completion": run.EstimatedDone,
	})
}

// CancelRun signals a running run to stop at the next chunk boundary
// @Summary Cancel run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Cancellation signalled"
// @Failure 404 {object} map[string]interface{} "Run not active"
// @Router /runs/{id}/cancel [post]
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r.URL.Path, "/api/v1/runs/", "/cancel")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}
	if !h.runner.Cancel(id) {
		writeError(w, http.StatusNotFound, "run is not active")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": id,
		"status": "cancelling",
	})
}

// GetPipelineLogs returns a pipeline's audit trail
// @Summary Get pipeline logs
// @Tags pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Param limit query int false "Max events (default 100)"
// @Success 200 {array} model.LogEvent
// @Router /pipelines/{id}/logs [get]
func (h *Handler) GetPipelineLogs(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r.URL.Path, "/api/v1/pipelines/", "/logs")
	if id == "" {
		writeError(w, http.StatusBadRequest, "pipeline ID is required")
		return
	}
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	logs, err := h.store.ListLogs(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch logs")
		return
	}
	if logs == nil {
		logs = []*model.LogEvent{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// pathSegment extracts the ID between a prefix and an optional suffix.
func pathSegment(path, prefix, suffix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	id := path[len(prefix):]
	if suffix != "" {
		if !strings.HasSuffix(id, suffix) {
			return ""
		}
		id = id[:len(id)-len(suffix)]
	}
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}
