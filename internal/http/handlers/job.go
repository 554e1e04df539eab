package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flowmium/flowmium/internal/flow/model"
	"github.com/flowmium/flowmium/internal/flow/planner"
	"github.com/flowmium/flowmium/internal/http/response"
	"github.com/flowmium/flowmium/internal/server/executor"
	"github.com/flowmium/flowmium/internal/server/scheduler"
)

type JobHandler struct {
	executor *executor.Executor
	store    scheduler.Store
}

func NewJobHandler(ex *executor.Executor, store scheduler.Store) *JobHandler {
	return &JobHandler{executor: ex, store: store}
}

// POST /job
func (h *JobHandler) CreateJob(c *gin.Context) {
	var flow model.Flow
	if err := c.ShouldBindJSON(&flow); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_flow", err)
		return
	}

	id, err := h.executor.InstantiateFlow(c.Request.Context(), flow.Name, flow.Tasks)
	if err != nil {
		var plannerErr *planner.Error
		switch {
		case errors.Is(err, executor.ErrFlowNameTooLong):
			response.RespondError(c, http.StatusBadRequest, "flow_name_too_long", err)
		case errors.As(err, &plannerErr):
			response.RespondError(c, http.StatusBadRequest, "invalid_plan", err)
		default:
			response.RespondError(c, http.StatusInternalServerError, "create_flow_failed", err)
		}
		return
	}

	c.String(http.StatusOK, strconv.FormatInt(id, 10))
}

// GET /job
func (h *JobHandler) ListJobs(c *gin.Context) {
	flows, err := h.store.ListFlows(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_flows_failed", err)
		return
	}
	response.RespondOK(c, flows)
}

// GET /job/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	detail, err := h.store.GetFlow(c.Request.Context(), id)
	if errors.Is(err, scheduler.ErrFlowDoesNotExist) {
		response.RespondError(c, http.StatusBadRequest, "job_not_found", err)
		return
	}
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "get_job_failed", err)
		return
	}
	response.RespondOK(c, detail)
}
