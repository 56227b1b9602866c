package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/tilemath"
)

var (
	ErrInvalidKey             = errors.New("invalid tile key")
	ErrUnsupportedContentType = errors.New("content type cannot be cached")
	ErrEmptyTile              = errors.New("empty tile")
)

// TileKey addresses one tile of one namespace (a layer or chart id).
type TileKey struct {
	Namespace string
	Z         int
	X         int
	Y         int
}

func (k TileKey) Valid() bool {
	if k.Namespace == "" || strings.HasPrefix(k.Namespace, ".") || strings.ContainsAny(k.Namespace, `/\`) {
		return false
	}
	return tilemath.Valid(k.Z, k.X, k.Y)
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Namespace, k.Z, k.X, k.Y)
}

// Meta is the sidecar record stored next to each tile.
type Meta struct {
	SourceURL   string    `json:"sourceUrl,omitempty"`
	ChartID     string    `json:"chartId,omitempty"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
	SizeBytes   int64     `json:"sizeBytes"`
}

type Tile struct {
	Data        []byte
	ContentType string
}

type NamespaceStatus struct {
	Bytes int64 `json:"bytes"`
	Files int   `json:"files"`
}

// Status covers the tile tree. Backups left by Clear are reported apart
// and are not part of TotalBytes, so they never count against the budget.
type Status struct {
	TotalBytes  int64
	Files       int
	Namespaces  map[string]NamespaceStatus
	BackupBytes int64
	BackupFiles int
}

// Entry is a cached tile found by a tree walk. Size counts the tile and
// its sidecar.
type Entry struct {
	Key     TileKey
	Path    string
	Size    int64
	ModTime time.Time
}

type TileCache interface {
	Get(TileKey) (Tile, bool, error)
	Put(TileKey, []byte, Meta) error
}

// Store is the full disk cache surface used by maintenance jobs.
type Store interface {
	TileCache
	Status(ctx context.Context) (Status, error)
	Entries(ctx context.Context) ([]Entry, error)
	Delete(Entry) error
	Clear(namespace string, backup bool) (string, error)
}

var extensions = []struct {
	ext         string
	contentType string
}{
	{"png", "image/png"},
	{"jpg", "image/jpeg"},
	{"webp", "image/webp"},
	{"gif", "image/gif"},
}

func extensionFor(contentType string) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	for _, e := range extensions {
		if e.contentType == ct {
			return e.ext, true
		}
	}
	return "", false
}

func contentTypeFor(ext string) string {
	for _, e := range extensions {
		if e.ext == ext {
			return e.contentType
		}
	}
	return "application/octet-stream"
}
