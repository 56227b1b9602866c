package usecase

import (
	"errors"

	"github.com/jaennil/guide_helper/backend/tilegateway/internal/chart"
)

var (
	ErrUnknownLayer     = errors.New("unknown layer")
	ErrUnknownChart     = chart.ErrUnknownChart
	ErrChartUnavailable = chart.ErrChartUnavailable
	ErrInvalidTile      = errors.New("tile index out of range")
	ErrRenderFailed     = errors.New("render failed")
)
