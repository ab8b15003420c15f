package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-playground/internal/llm"
)

type ModelHandler struct {
	registry *llm.Registry
}

func NewModelHandler(registry *llm.Registry) *ModelHandler {
	return &ModelHandler{registry: registry}
}

// ListModels handles GET /playground/models.
func (h *ModelHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   h.registry.List(),
	})
}
