// Package reference locates the operator's area of interest, used to rank
// cached tiles during eviction.
package reference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/config"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
)

var ErrUnavailable = errors.New("reference location unavailable")

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (l Location) Valid() bool {
	return !math.IsNaN(l.Lat) && !math.IsNaN(l.Lon) &&
		l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

type Provider interface {
	Locate(ctx context.Context) (Location, error)
}

// Noop never has a location.
type Noop struct{}

func (Noop) Locate(context.Context) (Location, error) {
	return Location{}, ErrUnavailable
}

// New builds the provider selected by cfg.Source.
func New(cfg config.Reference, l logger.Logger) (Provider, error) {
	switch cfg.Source {
	case "", config.ReferenceSourceNone:
		return Noop{}, nil
	case config.ReferenceSourceHTTP:
		if cfg.URL == "" {
			return nil, errors.New("reference source http needs REFERENCE_URL")
		}
		return NewHTTPProvider(cfg.URL, cfg.Timeout, l), nil
	case config.ReferenceSourceRedis:
		return NewRedisProvider(cfg.Redis, l), nil
	default:
		return nil, fmt.Errorf("unknown reference source %q", cfg.Source)
	}
}

// decodeLocation accepts any JSON object carrying numeric lat and lon
// fields, such as a PiAware receiver.json.
func decodeLocation(raw []byte) (Location, error) {
	var doc struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if doc.Lat == nil || doc.Lon == nil {
		return Location{}, fmt.Errorf("%w: document has no lat/lon", ErrUnavailable)
	}

	loc := Location{Lat: *doc.Lat, Lon: *doc.Lon}
	if !loc.Valid() {
		return Location{}, fmt.Errorf("%w: coordinates out of range %+v", ErrUnavailable, loc)
	}
	return loc, nil
}
