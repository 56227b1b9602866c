package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/infrastructure/http/v1/dto"
)

// Charts lists the charts that loaded. Charts whose raster is missing are
// left out.
func (h *Handler) Charts(c *gin.Context) {
	charts := h.renderUseCase.Charts()

	resp := make([]dto.ChartResponse, 0, len(charts))
	for _, ch := range charts {
		resp = append(resp, dto.NewChartResponse(ch))
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Layers(c *gin.Context) {
	layers := h.proxyUseCase.Layers()

	resp := dto.LayersResponse{
		DefaultLayer: h.proxyUseCase.DefaultLayer(),
		Layers:       make([]dto.LayerResponse, 0, len(layers)),
	}
	for _, l := range layers {
		resp.Layers = append(resp.Layers, dto.NewLayerResponse(l))
	}

	c.JSON(http.StatusOK, resp)
}
