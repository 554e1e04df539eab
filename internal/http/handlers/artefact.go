package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flowmium/flowmium/internal/artefacts"
	"github.com/flowmium/flowmium/internal/http/response"
)

type ArtefactHandler struct {
	client *artefacts.Client
}

func NewArtefactHandler(client *artefacts.Client) *ArtefactHandler {
	return &ArtefactHandler{client: client}
}

// GET /artefact/:flow_id/:output_name
func (h *ArtefactHandler) GetArtefact(c *gin.Context) {
	flowID := c.Param("flow_id")
	if _, err := strconv.ParseInt(flowID, 10, 64); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_flow_id", err)
		return
	}
	outputName := c.Param("output_name")

	key := artefacts.StorePath(flowID, outputName)
	content, err := h.client.GetArtefact(c.Request.Context(), key)
	if errors.Is(err, artefacts.ErrArtefactDoesNotExist) {
		response.RespondError(c, http.StatusBadRequest, "artefact_not_found", err)
		return
	}
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "get_artefact_failed", err)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", content)
}
