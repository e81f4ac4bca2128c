// Package assets finds media in a package and relocates it to blob storage.
package assets

import (
	"bytes"
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/courseimport/internal/metrics"
	"github.com/mind-engage/courseimport/internal/scorm/archive"
	"github.com/mind-engage/courseimport/internal/storage"
)

// DefaultMaxAssets is how many assets one import relocates.
const DefaultMaxAssets = 20

type MediaType string

const (
	Image    MediaType = "image"
	Video    MediaType = "video"
	Audio    MediaType = "audio"
	Document MediaType = "document"
)

var extensions = map[string]MediaType{
	".png": Image, ".jpg": Image, ".jpeg": Image, ".gif": Image, ".svg": Image,
	".webp": Image, ".bmp": Image, ".ico": Image,
	".mp4": Video, ".webm": Video, ".ogv": Video, ".mov": Video, ".m4v": Video, ".avi": Video,
	".mp3": Audio, ".wav": Audio, ".ogg": Audio, ".oga": Audio, ".m4a": Audio, ".aac": Audio,
	".pdf": Document, ".doc": Document, ".docx": Document, ".ppt": Document,
	".pptx": Document, ".xls": Document, ".xlsx": Document,
}

// Classify reports the media type of p by extension.
func Classify(p string) (MediaType, bool) {
	t, ok := extensions[strings.ToLower(path.Ext(p))]
	return t, ok
}

type Asset struct {
	Path string    `json:"path"`
	Type MediaType `json:"type"`
	Size int64     `json:"size"`
}

// Discover lists media files in archive order.
func Discover(a *archive.Archive) []Asset {
	var out []Asset
	for _, p := range a.Files() {
		if t, ok := Classify(p); ok {
			out = append(out, Asset{Path: p, Type: t, Size: a.Size(p)})
		}
	}
	return out
}

// Result of one relocation run. URLs maps archive path to public URL and only
// holds assets that were stored.
type Result struct {
	URLs     map[string]string
	Uploaded int
	Failed   int
	Skipped  int // beyond the cap
}

// FirstImage returns the URL of the first relocated image in discovery order.
func (r Result) FirstImage(found []Asset) string {
	for _, a := range found {
		if a.Type != Image {
			continue
		}
		if u, ok := r.URLs[a.Path]; ok {
			return u
		}
	}
	return ""
}

type Processor struct {
	Store     storage.BlobStore
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	MaxAssets int
	Workers   int
}

// Relocate stores up to MaxAssets of found under the import's asset prefix.
// A failing asset is logged and left out of the map. The only error returned
// is ctx's.
func (p *Processor) Relocate(ctx context.Context, a *archive.Archive, found []Asset, orgID, importID string, stamp time.Time) (Result, error) {
	limit := p.MaxAssets
	if limit <= 0 {
		limit = DefaultMaxAssets
	}
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	res := Result{URLs: make(map[string]string)}
	batch := found
	if len(batch) > limit {
		res.Skipped = len(batch) - limit
		batch = batch[:limit]
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, as := range batch {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			u, err := p.relocateOne(gctx, a, as, orgID, importID, stamp)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				p.Metrics.AssetRelocated("failed")
				log.Warn("asset relocation failed",
					zap.String("asset.path", as.Path), zap.Error(err))
				return nil
			}
			res.URLs[as.Path] = u
			res.Uploaded++
			p.Metrics.AssetRelocated("uploaded")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if res.Skipped > 0 {
		p.Metrics.AssetsSkipped(res.Skipped)
		log.Info("asset cap reached", zap.Int("skipped", res.Skipped), zap.Int("cap", limit))
	}
	return res, nil
}

func (p *Processor) relocateOne(ctx context.Context, a *archive.Archive, as Asset, orgID, importID string, stamp time.Time) (string, error) {
	b, err := a.ReadBytes(as.Path)
	if err != nil {
		return "", err
	}
	key, err := p.Store.Put(ctx, storage.AssetKey(orgID, importID, as.Path, stamp), bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	return p.Store.URL(key)
}
