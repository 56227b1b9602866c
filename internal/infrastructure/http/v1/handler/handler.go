package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/usecase"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
)

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Handler struct {
	validate      *validator.Validate
	proxyUseCase  *usecase.ProxyUseCase
	renderUseCase *usecase.RenderUseCase
	cacheUseCase  *usecase.CacheUseCase
}

func NewHandler(v *validator.Validate, proxy *usecase.ProxyUseCase, render *usecase.RenderUseCase, cache *usecase.CacheUseCase) *Handler {
	return &Handler{
		validate:      v,
		proxyUseCase:  proxy,
		renderUseCase: render,
		cacheUseCase:  cache,
	}
}

func (h *Handler) RespondWithInternalServerError(c *gin.Context, err error) {
	l := requestLogger(c)
	l.Error("internal http_server error",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"user_agent", c.Request.UserAgent(),
		"ip", c.ClientIP(),
		"error", err,
	)
	_ = c.Error(err)

	h.RespondWithError(c, http.StatusInternalServerError, InternalServerError)
}

func (h *Handler) RespondWithJSON(c *gin.Context, code int, message string, data any) {
	success := code < 400

	r := response{
		Success: success,
		Message: message,
		Data:    data,
	}

	c.JSON(code, r)
}

func (h *Handler) RespondWithError(c *gin.Context, code int, err error) {
	h.RespondWithJSON(c, code, err.Error(), nil)
}

// requestLogger returns the logger the request middleware stored on the
// gin context.
func requestLogger(c *gin.Context) logger.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(logger.Logger); ok {
			return l
		}
	}
	return logger.FromContext(c.Request.Context())
}
