package reference

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/config"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisProvider reads a {"lat":..,"lon":..} document from a single key,
// kept fresh by whatever tracks the operator's position.
type RedisProvider struct {
	client *redis.Client
	key    string
	logger logger.Logger
}

func NewRedisProvider(cfg config.Redis, l logger.Logger) *RedisProvider {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisProvider{
		client: client,
		key:    cfg.Key,
		logger: l,
	}
}

func (p *RedisProvider) Locate(ctx context.Context) (Location, error) {
	raw, err := p.client.Get(ctx, p.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Location{}, fmt.Errorf("%w: key %s not set", ErrUnavailable, p.key)
		}
		p.logger.Debug("reference location lookup failed", "key", p.key, "error", err)
		return Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return decodeLocation(raw)
}

func (p *RedisProvider) Close() error {
	return p.client.Close()
}
