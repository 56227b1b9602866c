package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/usecase"
)

var (
	ErrFailedToDecodeRequestBody = errors.New("failed to decode request body")
	ErrInvalidTileIndex          = errors.New("z, x and y should be integers")
	ErrTileOutOfRange            = errors.New("tile index out of range")
	ErrUnsupportedExtension      = errors.New("unsupported tile extension")
	InternalServerError          = errors.New("server encountered a problem and could not process your request")
)

// respondWithUseCaseError maps domain errors onto status codes.
func (h *Handler) respondWithUseCaseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrUnknownLayer),
		errors.Is(err, usecase.ErrUnknownChart),
		errors.Is(err, usecase.ErrChartUnavailable):
		h.RespondWithError(c, http.StatusNotFound, err)
	case errors.Is(err, usecase.ErrInvalidTile):
		h.RespondWithError(c, http.StatusBadRequest, ErrTileOutOfRange)
	case errors.Is(err, cache.ErrInvalidKey):
		h.RespondWithError(c, http.StatusBadRequest, err)
	default:
		h.RespondWithInternalServerError(c, err)
	}
}
