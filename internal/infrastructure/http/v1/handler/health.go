package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/infrastructure/http/v1/dto"
)

func (h *Handler) Health(c *gin.Context) {
	resp := dto.HealthResponse{
		Status: "ok",
		Charts: []string{},
		Layers: len(h.proxyUseCase.Layers()),
	}
	for _, ch := range h.renderUseCase.Charts() {
		resp.Charts = append(resp.Charts, ch.ID)
	}

	c.JSON(http.StatusOK, resp)
}
