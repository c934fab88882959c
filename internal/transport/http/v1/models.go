package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ModelInfo describes a configured model to clients.
type ModelInfo struct {
	ID       string `json:"id"`
	Order    int    `json:"order"`
	ModelID  string `json:"modelId"`
	Provider string `json:"provider"`
}

// ListModels lists the configured models in invocation order.
// GET /api/models
func (h *Handler) ListModels(c echo.Context) error {
	models := h.service.Models()
	infos := make([]ModelInfo, len(models))
	for i, m := range models {
		infos[i] = ModelInfo{ID: m.ID, Order: m.Order, ModelID: m.ModelID, Provider: m.Provider}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"models": infos,
	})
}
