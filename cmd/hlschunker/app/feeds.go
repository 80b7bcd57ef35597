package app

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/streamrec/hlschunker/pkg/pull"
)

// FeedSpec is one configured source feed with its metadata.
type FeedSpec struct {
	ID        string
	SourceURL string
	Metadata  map[string]any
}

// ParseFeeds normalizes the raw feeds configuration. Entries are either
// a source URL string or a mapping with source_feed, an optional id,
// and arbitrary extra metadata. A feed without an explicit id gets the
// md5 hex digest of its source URL. Feeds with no valid source URL or a
// duplicated id are skipped with a warning. Only feeds listed in active
// (by id or source URL) are kept, so recording is opt-in per feed.
func ParseFeeds(raw []any, active []string) []FeedSpec {
	activeSet := make(map[string]bool, len(active))
	for _, a := range active {
		activeSet[a] = true
	}
	ids := make(map[string]bool)
	var specs []FeedSpec
	for i, entry := range raw {
		var src, id string
		var extra map[string]any
		switch e := entry.(type) {
		case string:
			src = e
		case map[string]any:
			src, _ = e["source_feed"].(string)
			id, _ = e["id"].(string)
			extra = e
		}
		if src == "" {
			slog.Warn("skipping feed configuration: no valid source feed url", "index", i)
			continue
		}
		if id == "" {
			id = fmt.Sprintf("%x", md5.Sum([]byte(src)))
		}
		if !activeSet[id] && !activeSet[src] {
			continue
		}
		if ids[id] {
			slog.Warn("duplicated feed id, skipping", "index", i, "id", id)
			continue
		}
		ids[id] = true
		metadata := map[string]any{"source_feed": src}
		for k, v := range extra {
			metadata[k] = v
		}
		metadata["id"] = id
		slog.Info("adding feed", "index", i, "id", id, "source", src)
		specs = append(specs, FeedSpec{ID: id, SourceURL: src, Metadata: metadata})
	}
	return specs
}

// FeedSet owns one pull pipeline per configured feed.
type FeedSet struct {
	specs   []FeedSpec
	pullers map[string]*pull.Puller
	wg      sync.WaitGroup
}

func NewFeedSet(cfg *ServerConfig, specs []FeedSpec) *FeedSet {
	fs := &FeedSet{
		specs:   specs,
		pullers: make(map[string]*pull.Puller, len(specs)),
	}
	for _, spec := range specs {
		fs.pullers[spec.ID] = pull.New(pull.Config{
			URL:               spec.SourceURL,
			Root:              filepath.Join(cfg.DataDir, spec.ID),
			FeedID:            spec.ID,
			Metadata:          spec.Metadata,
			NotifyEndpoint:    cfg.ChunkMetadataEndpoint,
			ChunkDuration:     time.Duration(cfg.ChunkSizeS) * time.Second,
			Ext:               cfg.ChunkExtension,
			ParallelDownloads: cfg.ParallelDownloads,
		})
	}
	return fs
}

// Start launches one recording goroutine per feed.
func (fs *FeedSet) Start(ctx context.Context, runForever bool) {
	for _, spec := range fs.specs {
		p := fs.pullers[spec.ID]
		fs.wg.Add(1)
		go func(id string) {
			defer fs.wg.Done()
			if err := p.Run(ctx, runForever); err != nil {
				slog.Error("feed pull ended with error", "feed", id, "err", err)
				return
			}
			slog.Info("feed pull finished", "feed", id)
		}(spec.ID)
	}
}

// Stop signals every pipeline to stop.
func (fs *FeedSet) Stop() {
	for _, p := range fs.pullers {
		p.Stop()
	}
}

// Wait blocks until every pipeline has drained and closed its manifests.
func (fs *FeedSet) Wait() {
	fs.wg.Wait()
}

func (fs *FeedSet) Specs() []FeedSpec {
	return fs.specs
}

// Get returns the spec and puller for a feed id.
func (fs *FeedSet) Get(id string) (FeedSpec, *pull.Puller, bool) {
	for _, spec := range fs.specs {
		if spec.ID == id {
			return spec, fs.pullers[id], true
		}
	}
	return FeedSpec{}, nil, false
}
