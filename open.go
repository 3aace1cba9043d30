package vidtensor

import (
	"fmt"

	"github.com/five82/vidtensor/internal/config"
	"github.com/five82/vidtensor/internal/demux"
	"github.com/five82/vidtensor/internal/index"
	"github.com/five82/vidtensor/internal/taropen"
	"github.com/five82/vidtensor/internal/tarfs"
	"github.com/five82/vidtensor/internal/tensor"
)

// TarEntryFilter selects which entries inside a tar archive are treated as
// videos.
type TarEntryFilter func(name string, size int64) bool

// OpenVideo opens a single video file from the local filesystem.
func OpenVideo(path string, opts ...Option) (*Video, error) {
	cfg := config.NewConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool := tensor.NewBufferPool()
	cache, err := openCache(cfg)
	if err != nil {
		return nil, err
	}

	return newVideo(path, demux.OpenerForFile(path), pool, newResolvedOptions(cfg), cache)
}

// OpenVideoTar opens every video selected by filter inside a tar archive.
// maxThreads == 1 probes entries one at a time over a single
// shared archive handle; maxThreads > 1 fans the probe step out across that
// many workers, each with its own private byte-range view; maxThreads <= 0
// is a caller error. All opened videos share a single tensor buffer pool so
// batches of the same shape reuse memory across videos.
func OpenVideoTar(path string, filter TarEntryFilter, maxThreads int, opts ...Option) ([]*Video, error) {
	cfg := config.NewConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var tfilter taropen.Filter
	if filter != nil {
		tfilter = func(e tarfs.Entry) bool { return filter(e.Name, e.Size) }
	}

	opened, err := taropen.Open(path, tfilter, maxThreads)
	if err != nil {
		return nil, err
	}

	pool := tensor.NewBufferPool()
	cache, err := openCache(cfg)
	if err != nil {
		return nil, err
	}

	videos := make([]*Video, len(opened))
	for i, o := range opened {
		name := fmt.Sprintf("%s!%s", path, o.Name)
		v, err := newVideo(name, o.Opener, pool, newResolvedOptions(cfg), cache)
		if err != nil {
			return nil, err
		}
		videos[i] = v
	}
	return videos, nil
}

func openCache(cfg *config.Config) (*index.Cache, error) {
	if cfg.IndexCachePath == "" {
		return nil, nil
	}
	return index.NewCache(cfg.IndexCachePath)
}
