package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/peterbourgon/diskv/v3"
)

const (
	tempDirName      = ".tmp"
	backupDirName    = ".backups"
	sidecarSuffix    = ".meta.json"
	backupTimeLayout = "20060102T150405.000Z"
)

// DiskCache stores tiles as {dir}/{ns}/{z}/{x}/{y}.{ext} with a
// {y}.meta.json sidecar. Writes go through a temp file under {dir}/.tmp and
// are renamed into place, so readers never see a partial tile.
type DiskCache struct {
	dir    string
	store  *diskv.Diskv
	logger logger.Logger
	now    func() time.Time
}

var _ Store = (*DiskCache)(nil)

func NewDiskCache(dir string, l logger.Logger) (*DiskCache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	tmp := filepath.Join(abs, tempDirName)
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	c := &DiskCache{
		dir:    abs,
		logger: l,
		now:    time.Now,
		store: diskv.New(diskv.Options{
			BasePath:          abs,
			AdvancedTransform: keyToPathKey,
			InverseTransform:  pathKeyToKey,
			TempDir:           tmp,
			PathPerm:          0o755,
			FilePerm:          0o644,
		}),
	}

	l.Info("disk cache initialized", "dir", abs)

	return c, nil
}

func keyToPathKey(key string) *diskv.PathKey {
	parts := strings.Split(key, "/")
	last := len(parts) - 1
	return &diskv.PathKey{
		Path:     parts[:last],
		FileName: parts[last],
	}
}

func pathKeyToKey(pk *diskv.PathKey) string {
	parts := make([]string, 0, len(pk.Path)+1)
	parts = append(parts, pk.Path...)
	return strings.Join(append(parts, pk.FileName), "/")
}

func sidecarKey(k TileKey) string {
	return k.String() + sidecarSuffix
}

func (c *DiskCache) Dir() string {
	return c.dir
}

// Get probes the known tile extensions. A tile deleted between the probe
// and the read is reported as a miss.
func (c *DiskCache) Get(k TileKey) (Tile, bool, error) {
	if !k.Valid() {
		return Tile{}, false, ErrInvalidKey
	}

	for _, e := range extensions {
		data, err := c.store.Read(k.String() + "." + e.ext)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			c.logger.Error("disk cache get failed", "key", k.String(), "error", err)
			return Tile{}, false, err
		}

		c.logger.Debug("disk cache hit", "key", k.String(), "size", len(data))
		return Tile{Data: data, ContentType: e.contentType}, true, nil
	}

	return Tile{}, false, nil
}

func (c *DiskCache) Put(k TileKey, data []byte, m Meta) error {
	if !k.Valid() {
		return ErrInvalidKey
	}
	if len(data) == 0 {
		return ErrEmptyTile
	}

	ext, ok := extensionFor(m.ContentType)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedContentType, m.ContentType)
	}

	if err := c.store.Write(k.String()+"."+ext, data); err != nil {
		return fmt.Errorf("failed to write tile %s: %w", k, err)
	}

	m.SizeBytes = int64(len(data))
	if m.CreatedAt.IsZero() {
		m.CreatedAt = c.now().UTC()
	}
	sidecar, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := c.store.Write(sidecarKey(k), sidecar); err != nil {
		return fmt.Errorf("failed to write sidecar for %s: %w", k, err)
	}

	c.logger.Debug("disk cache put", "key", k.String(), "size", len(data))

	return nil
}

// Meta reads the sidecar of a tile.
func (c *DiskCache) Meta(k TileKey) (Meta, bool, error) {
	if !k.Valid() {
		return Meta{}, false, ErrInvalidKey
	}

	raw, err := c.store.Read(sidecarKey(k))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Meta{}, false, nil
		}
		return Meta{}, false, err
	}

	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return Meta{}, false, fmt.Errorf("corrupt sidecar for %s: %w", k, err)
	}
	return m, true, nil
}

// Status walks the whole tree. The result is never cached.
func (c *DiskCache) Status(ctx context.Context) (Status, error) {
	entries, err := c.Entries(ctx)
	if err != nil {
		return Status{}, err
	}

	s := Status{Namespaces: make(map[string]NamespaceStatus)}
	for _, e := range entries {
		ns := s.Namespaces[e.Key.Namespace]
		ns.Bytes += e.Size
		s.TotalBytes += e.Size
		if e.Path != "" {
			ns.Files++
			s.Files++
		}
		s.Namespaces[e.Key.Namespace] = ns
	}

	s.BackupBytes, s.BackupFiles, err = c.backupUsage(ctx)
	if err != nil {
		return Status{}, err
	}

	return s, nil
}

// backupUsage sums every regular file under the backup directory.
func (c *DiskCache) backupUsage(ctx context.Context) (int64, int, error) {
	var (
		size  int64
		files int
	)
	err := filepath.WalkDir(filepath.Join(c.dir, backupDirName), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		size += info.Size()
		files++
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("walk backups: %w", err)
	}
	return size, files, nil
}

// Entries returns every tile in the tree. A sidecar whose tile is gone is
// returned as an entry with an empty Path so it can still be evicted.
func (c *DiskCache) Entries(ctx context.Context) ([]Entry, error) {
	byKey := make(map[TileKey]*Entry)
	var order []TileKey

	get := func(k TileKey) *Entry {
		e, ok := byKey[k]
		if !ok {
			e = &Entry{Key: k}
			byKey[k] = e
			order = append(order, k)
		}
		return e
	}

	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == c.dir {
			return nil
		}

		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")

		if strings.HasPrefix(parts[0], ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || len(parts) != 4 {
			return nil
		}

		k, sidecar, ok := parseTilePath(parts)
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// removed by a concurrent prune or clear
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		e := get(k)
		e.Size += info.Size()
		if sidecar {
			if e.ModTime.IsZero() {
				e.ModTime = info.ModTime()
			}
			return nil
		}
		e.Path = path
		e.ModTime = info.ModTime()
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out, nil
}

// parseTilePath parses ns/z/x/{y.ext | y.meta.json}.
func parseTilePath(parts []string) (TileKey, bool, bool) {
	name := parts[3]
	sidecar := strings.HasSuffix(name, sidecarSuffix)

	var yStr string
	if sidecar {
		yStr = strings.TrimSuffix(name, sidecarSuffix)
	} else {
		dot := strings.LastIndexByte(name, '.')
		if dot < 0 {
			return TileKey{}, false, false
		}
		if contentTypeFor(name[dot+1:]) == "application/octet-stream" {
			return TileKey{}, false, false
		}
		yStr = name[:dot]
	}

	z, errZ := strconv.Atoi(parts[1])
	x, errX := strconv.Atoi(parts[2])
	y, errY := strconv.Atoi(yStr)
	if errZ != nil || errX != nil || errY != nil {
		return TileKey{}, false, false
	}

	k := TileKey{Namespace: parts[0], Z: z, X: x, Y: y}
	if !k.Valid() {
		return TileKey{}, false, false
	}
	return k, sidecar, true
}

// Delete removes a tile and its sidecar. Files already gone are ignored.
func (c *DiskCache) Delete(e Entry) error {
	var keys []string
	if e.Path != "" {
		rel, err := filepath.Rel(c.dir, e.Path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
	}
	keys = append(keys, sidecarKey(e.Key))

	for _, key := range keys {
		if err := c.store.Erase(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

// Clear removes one namespace, or every namespace when ns is empty. With
// backup the subtrees are renamed under {dir}/.backups/{timestamp} and the
// backup directory is returned.
func (c *DiskCache) Clear(ns string, backup bool) (string, error) {
	var targets []string
	if ns != "" {
		if !(TileKey{Namespace: ns}).Valid() {
			return "", ErrInvalidKey
		}
		targets = []string{ns}
	} else {
		dirEntries, err := os.ReadDir(c.dir)
		if err != nil {
			return "", err
		}
		for _, d := range dirEntries {
			if !strings.HasPrefix(d.Name(), ".") {
				targets = append(targets, d.Name())
			}
		}
	}

	var backupDir string
	if backup {
		backupDir = filepath.Join(c.dir, backupDirName, c.now().UTC().Format(backupTimeLayout))
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create backup dir: %w", err)
		}
	}

	for _, name := range targets {
		src := filepath.Join(c.dir, name)
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if backup {
			if err := os.Rename(src, filepath.Join(backupDir, name)); err != nil {
				return "", fmt.Errorf("failed to back up %s: %w", name, err)
			}
			continue
		}
		if err := os.RemoveAll(src); err != nil {
			return "", fmt.Errorf("failed to clear %s: %w", name, err)
		}
	}

	c.logger.Info("disk cache cleared", "namespace", ns, "backup", backupDir, "namespaces", len(targets))

	return backupDir, nil
}
