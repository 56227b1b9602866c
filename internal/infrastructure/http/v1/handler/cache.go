package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/infrastructure/http/v1/dto"
)

func (h *Handler) CacheStatus(c *gin.Context) {
	s, err := h.cacheUseCase.Status(c.Request.Context())
	if err != nil {
		h.RespondWithInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewCacheStatusResponse(s))
}

// ClearCache empties the cache or one namespace of it. An empty body clears
// everything without a backup.
func (h *Handler) ClearCache(c *gin.Context) {
	l := requestLogger(c)

	var req dto.ClearCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.RespondWithError(c, http.StatusBadRequest, ErrFailedToDecodeRequestBody)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, err)
		return
	}

	dir, err := h.cacheUseCase.Clear(req.Namespace, req.Backup)
	if err != nil {
		h.respondWithUseCaseError(c, err)
		return
	}

	l.Info("cache cleared", "namespace", req.Namespace, "backup_dir", dir)

	h.RespondWithJSON(c, http.StatusOK, "cache cleared", dto.ClearCacheResponse{
		Namespace: req.Namespace,
		BackupDir: dir,
	})
}
