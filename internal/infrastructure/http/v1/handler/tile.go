package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/usecase"
)

// Tile proxies /tile/:layer/:z/:x/:y. The y segment may carry any image
// extension.
func (h *Handler) Tile(c *gin.Context) {
	y, _, _ := strings.Cut(c.Param("y"), ".")
	z, x, yy, err := parseTileIndex(c.Param("z"), c.Param("x"), y)
	if err != nil {
		h.RespondWithError(c, http.StatusBadRequest, err)
		return
	}

	res, err := h.proxyUseCase.GetTile(c.Request.Context(), c.Param("layer"), z, x, yy)
	if err != nil {
		h.respondWithUseCaseError(c, err)
		return
	}

	writeTile(c, res)
}

// ChartTile renders /:chart/:z/:x/:y.png.
func (h *Handler) ChartTile(c *gin.Context) {
	y := c.Param("y")
	if i := strings.IndexByte(y, '.'); i >= 0 {
		if y[i:] != ".png" {
			h.RespondWithError(c, http.StatusBadRequest, ErrUnsupportedExtension)
			return
		}
		y = y[:i]
	}

	z, x, yy, err := parseTileIndex(c.Param("z"), c.Param("x"), y)
	if err != nil {
		h.RespondWithError(c, http.StatusBadRequest, err)
		return
	}

	res, err := h.renderUseCase.GetTile(c.Request.Context(), c.Param("chart"), z, x, yy)
	if err != nil {
		h.respondWithUseCaseError(c, err)
		return
	}

	writeTile(c, res)
}

// LegacyTile redirects /tiles/:z/:x/:y to the default layer.
func (h *Handler) LegacyTile(c *gin.Context) {
	layer := h.proxyUseCase.DefaultLayer()
	if layer == "" {
		h.RespondWithError(c, http.StatusNotFound, usecase.ErrUnknownLayer)
		return
	}
	redirectToTile(c, layer)
}

// LegacyLayerTile redirects /tiles/:z/:x/:y/:layer to the canonical route.
func (h *Handler) LegacyLayerTile(c *gin.Context) {
	redirectToTile(c, c.Param("layer"))
}

func redirectToTile(c *gin.Context, layer string) {
	target := fmt.Sprintf("/tile/%s/%s/%s/%s",
		url.PathEscape(layer),
		url.PathEscape(c.Param("z")),
		url.PathEscape(c.Param("x")),
		url.PathEscape(c.Param("y")),
	)
	c.Redirect(http.StatusMovedPermanently, target)
}

// parseTileIndex only checks syntax. Range checks happen in the use cases
// after the layer or chart is resolved, so unknown ids stay 404.
func parseTileIndex(strZ, strX, strY string) (z, x, y int, err error) {
	z, err = strconv.Atoi(strZ)
	if err != nil {
		return 0, 0, 0, ErrInvalidTileIndex
	}
	x, err = strconv.Atoi(strX)
	if err != nil {
		return 0, 0, 0, ErrInvalidTileIndex
	}
	y, err = strconv.Atoi(strY)
	if err != nil {
		return 0, 0, 0, ErrInvalidTileIndex
	}

	return z, x, y, nil
}

func writeTile(c *gin.Context, res usecase.TileResult) {
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int64(res.MaxAge.Seconds())))
	c.Header("X-Tile-Source", string(res.Source))
	c.Data(http.StatusOK, res.ContentType, res.Data)
}
