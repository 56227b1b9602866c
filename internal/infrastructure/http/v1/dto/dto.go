package dto

import (
	"github.com/dustin/go-humanize"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/chart"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/registry"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/prunelog"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/usecase"
)

type NamespaceStatus struct {
	Bytes int64  `json:"bytes"`
	Size  string `json:"size"`
	Files int    `json:"files"`
}

type CacheStatusResponse struct {
	TotalBytes  int64                      `json:"totalBytes"`
	TotalSize   string                     `json:"totalSize"`
	Files       int                        `json:"files"`
	Namespaces  map[string]NamespaceStatus `json:"namespaces"`
	Charts      []string                   `json:"charts"`
	BudgetBytes int64                      `json:"budgetBytes"`
	BudgetSize  string                     `json:"budgetSize"`
	LastPrune   *prunelog.Run              `json:"lastPrune,omitempty"`
	BackupBytes int64                      `json:"backupBytes"`
	BackupSize  string                     `json:"backupSize"`
	BackupFiles int                        `json:"backupFiles"`
}

func NewCacheStatusResponse(s usecase.CacheStatus) CacheStatusResponse {
	resp := CacheStatusResponse{
		TotalBytes:  s.TotalBytes,
		TotalSize:   humanize.IBytes(uint64(s.TotalBytes)),
		Files:       s.Files,
		Namespaces:  make(map[string]NamespaceStatus, len(s.Namespaces)),
		Charts:      s.Charts,
		BudgetBytes: s.BudgetBytes,
		BudgetSize:  humanize.IBytes(uint64(s.BudgetBytes)),
		LastPrune:   s.LastPrune,
		BackupBytes: s.BackupBytes,
		BackupSize:  humanize.IBytes(uint64(s.BackupBytes)),
		BackupFiles: s.BackupFiles,
	}
	for ns, st := range s.Namespaces {
		resp.Namespaces[ns] = NamespaceStatus{
			Bytes: st.Bytes,
			Size:  humanize.IBytes(uint64(st.Bytes)),
			Files: st.Files,
		}
	}
	return resp
}

type ClearCacheRequest struct {
	Backup    bool   `json:"backup"`
	Namespace string `json:"namespace" validate:"omitempty,tileid"`
}

type ClearCacheResponse struct {
	Namespace string `json:"namespace,omitempty"`
	BackupDir string `json:"backupDir,omitempty"`
}

type ChartResponse struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	Paletted bool         `json:"paletted"`
	Bounds   chart.Bounds `json:"bounds"`
	// Coverage is [west, south, east, north] in degrees.
	Coverage [4]float64 `json:"coverage"`
}

func NewChartResponse(c *chart.Chart) ChartResponse {
	return ChartResponse{
		ID:       c.ID,
		Name:     c.Name,
		Width:    c.Width,
		Height:   c.Height,
		Paletted: c.Palette != nil,
		Bounds:   c.Bounds,
		Coverage: [4]float64{c.Coverage.Left(), c.Coverage.Bottom(), c.Coverage.Right(), c.Coverage.Top()},
	}
}

type LayerResponse struct {
	ID        string `json:"id"`
	Class     string `json:"class"`
	Cacheable bool   `json:"cacheable"`
	TMS       bool   `json:"tms"`
}

func NewLayerResponse(l registry.Layer) LayerResponse {
	return LayerResponse{
		ID:        l.ID,
		Class:     string(l.Class),
		Cacheable: l.Cacheable,
		TMS:       l.TMS,
	}
}

type LayersResponse struct {
	DefaultLayer string          `json:"defaultLayer,omitempty"`
	Layers       []LayerResponse `json:"layers"`
}

type HealthResponse struct {
	Status string   `json:"status"`
	Charts []string `json:"charts"`
	Layers int      `json:"layers"`
}
