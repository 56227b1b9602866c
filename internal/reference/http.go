package reference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
)

const maxDocumentSize = 64 << 10

type HTTPProvider struct {
	url        string
	httpClient *http.Client
	logger     logger.Logger
}

func NewHTTPProvider(url string, timeout time.Duration, l logger.Logger) *HTTPProvider {
	return &HTTPProvider{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: l,
	}
}

func (p *HTTPProvider) Locate(ctx context.Context) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("reference location request failed", "url", p.url, "error", err)
		return Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return decodeLocation(raw)
}
