package vidtensor

import "github.com/five82/vidtensor/internal/tensor"

// FrameRequest asks for one video's worth of frames within a single batch.
// Indices are given in the exact order the output tensor's rows should
// take; duplicates and out-of-order indices are allowed, the per-video
// scheduler coalesces and reorders internally.
type FrameRequest struct {
	Video   *Video
	Indices []int
}

// BatchSpec is one batch: an ordered list of per-video frame requests.
// Delivered tensor i corresponds to BatchSpec[i]: position i in the batch
// holds the tensor decoded from BatchSpec[i].Video.
type BatchSpec []FrameRequest

// Schedule is the ordered list of batches a DatasetLoader will produce.
// GetNextBatch delivers results in this exact order regardless of which
// worker actually decoded each entry, or the order entries within a batch
// finished decoding.
type Schedule []BatchSpec

// Batch is one delivered batch: packed RGB24 tensors in the same order as
// the BatchSpec that produced it. Callers must call Release on each tensor
// once done with it.
type Batch []*tensor.Buffer
