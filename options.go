package vidtensor

import (
	"time"

	"github.com/five82/vidtensor/internal/config"
)

// resolvedOptions holds the subset of configuration that individual videos
// need at decode time, separate from the DatasetLoader-only scheduler
// tuning in config.Config.
type resolvedOptions struct {
	respectRotation bool
	indexCachePath  string
}

// Option configures a DatasetLoader (and the videos it opens).
type Option func(*config.Config)

func newResolvedOptions(cfg *config.Config) *resolvedOptions {
	return &resolvedOptions{
		respectRotation: cfg.RespectRotation,
		indexCachePath:  cfg.IndexCachePath,
	}
}

// WithMaxPreload bounds how many batches may be decoded ahead of the
// consumer.
func WithMaxPreload(n int) Option {
	return func(c *config.Config) { c.MaxPreload = n }
}

// WithWarmupDuration sets how long every worker runs unconditionally after
// Start before the adaptive scheduler starts throttling them.
func WithWarmupDuration(d time.Duration) Option {
	return func(c *config.Config) { c.WarmupDuration = d }
}

// WithConsumeSpeedWindow sets the sliding window used to estimate consumer
// drain speed.
func WithConsumeSpeedWindow(d time.Duration) Option {
	return func(c *config.Config) { c.ConsumeSpeedWindow = d }
}

// WithLoadSpeedWindow sets the sliding window used to estimate a single
// worker's production speed.
func WithLoadSpeedWindow(d time.Duration) Option {
	return func(c *config.Config) { c.LoadSpeedWindow = d }
}

// WithRespectRotation toggles whether rotated streams get transposed and
// width/height swapped to match display orientation. Enabled by default.
func WithRespectRotation(respect bool) Option {
	return func(c *config.Config) { c.RespectRotation = respect }
}

// WithIndexCache enables a disk-backed packet index cache rooted at dir, so
// repeated opens of the same file skip the full forward scan.
func WithIndexCache(dir string) Option {
	return func(c *config.Config) { c.IndexCachePath = dir }
}

// WithVerbose enables debug-level logging for the diagnostic tooling built
// on top of this package.
func WithVerbose(v bool) Option {
	return func(c *config.Config) { c.Verbose = v }
}
