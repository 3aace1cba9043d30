package vidtensor

import (
	"github.com/five82/vidtensor/internal/config"
	"github.com/five82/vidtensor/internal/loader"
)

// DatasetLoader runs a Schedule through a fixed pool of worker goroutines,
// decoding ahead of the consumer by at most Config.MaxPreload videos, and
// delivers batches through GetNextBatch strictly in schedule order.
// Within a batch, tensor positions follow the schedule's
// video order regardless of which worker finished decoding them first.
type DatasetLoader struct {
	inner *loader.DatasetLoader
}

// NewDatasetLoader builds a loader over schedule. Nothing is decoded until
// Start is called.
func NewDatasetLoader(schedule Schedule, opts ...Option) *DatasetLoader {
	cfg := config.NewConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	slotCounts := make([]int, len(schedule))
	var tasks []loader.Task
	for b, batch := range schedule {
		slotCounts[b] = len(batch)
		for s, req := range batch {
			tasks = append(tasks, loader.Task{
				BatchIndex: b,
				SlotIndex:  s,
				Video:      req.Video,
				Indices:    req.Indices,
			})
		}
	}

	return &DatasetLoader{inner: loader.New(tasks, slotCounts, cfg)}
}

// Start launches n worker goroutines and the adaptive scaling loop that
// grows or shrinks how many of them are active to track measured
// consumption speed. Calling Start while already running is a LogicError.
func (l *DatasetLoader) Start(n int) error {
	return l.inner.Start(n)
}

// Stop signals every worker to exit and waits for them. Restarting after
// Stop is allowed.
func (l *DatasetLoader) Stop() {
	l.inner.Stop()
}

// GetNextBatch blocks until the next batch in schedule order is complete
// and returns its tensors in schedule order. The caller owns every returned
// tensor and must call Release on each once done.
func (l *DatasetLoader) GetNextBatch() (Batch, error) {
	return l.inner.GetNextBatch()
}

// GetNextScaledBatch is not implemented; on-the-fly rescaling of delivered
// batches is out of scope for this loader.
func (l *DatasetLoader) GetNextScaledBatch() (Batch, error) {
	return l.inner.GetNextScaledBatch()
}
