package vidtensor

import (
	"sync"

	"github.com/five82/vidtensor/internal/avbridge"
	"github.com/five82/vidtensor/internal/decode"
	"github.com/five82/vidtensor/internal/demux"
	"github.com/five82/vidtensor/internal/index"
	"github.com/five82/vidtensor/internal/tensor"
)

// Video is a single opened video: a sleepable demuxer, its packet index, and
// a decode pipeline. A Video is safe for concurrent GetBatch calls; they are
// serialized internally since a single demuxer/decoder pair can only follow
// one seek plan at a time.
type Video struct {
	mu   sync.Mutex
	name string

	demux *demux.Demuxer
	idx   *index.Index
	pipe  *decode.Pipeline
	pool  *tensor.BufferPool
	info  avbridge.StreamInfo
	cfg   *resolvedOptions
}

func newVideo(name string, opener demux.Opener, pool *tensor.BufferPool, cfg *resolvedOptions, cache *index.Cache) (*Video, error) {
	d := demux.New(opener)
	info, err := d.Info()
	if err != nil {
		return nil, err
	}

	v := &Video{
		name:  name,
		demux: d,
		pipe:  decode.New(d),
		pool:  pool,
		info:  info,
		cfg:   cfg,
	}

	if err := v.buildIndex(cache); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Video) buildIndex(cache *index.Cache) error {
	if cache != nil {
		if cached, err := cache.Load(v.name); err == nil && cached != nil {
			v.idx = cached
			return nil
		}
	}

	idx, err := index.Build(v.demux)
	if err != nil {
		return err
	}
	v.idx = idx

	if cache != nil {
		_ = cache.Store(v.name, idx)
	}
	return nil
}

// Name returns the path or tar-entry name this video was opened from.
func (v *Video) Name() string { return v.name }

// NumFrames returns the number of frames recorded in this video's packet
// index.
func (v *Video) NumFrames() int {
	return v.idx.NumFrames()
}

// AverageFrameRate returns the container-reported average frame rate as a
// num/den pair.
func (v *Video) AverageFrameRate() (num, den int) {
	return v.info.FrameRateNum, v.info.FrameRateDen
}

// Duration returns the container-reported duration in seconds.
func (v *Video) Duration() float64 { return v.info.Duration }

// BitRate returns the container-reported bit rate in bits per second.
func (v *Video) BitRate() int64 { return v.info.BitRate }

// dims returns the frame width/height GetBatch will pack, swapping width and
// height for a 90/270 degree rotated stream when RespectRotation is set.
func (v *Video) dims() (width, height int) {
	width, height = v.info.Width, v.info.Height
	if v.cfg.respectRotation && (v.info.Rotation == 90 || v.info.Rotation == 270) {
		width, height = height, width
	}
	return
}

// IsSleeping reports whether this video currently holds no demuxer/decoder
// resources.
func (v *Video) IsSleeping() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.demux.IsSleeping()
}

// Sleep releases the video's demuxer and decoder resources, keeping only
// its cached metadata and packet index.
func (v *Video) Sleep() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.pipe.Close(); err != nil {
		return err
	}
	return v.demux.Sleep()
}

// Wake reopens the video's demuxer, ready for a subsequent GetBatch.
func (v *Video) Wake() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.demux.Wake()
}

// GetBatch decodes the frames at indices (in the order given) into a single
// packed RGB24 tensor buffer shaped len(indices) x width x height x 3. A
// frame index may appear more than once; every occurrence gets its own
// tensor position, filled from a single decode. An empty request decodes
// nothing and returns an empty tensor. The caller owns the returned buffer
// and must call Release on it.
func (v *Video) GetBatch(indices []int) (*tensor.Buffer, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	width, height := v.dims()
	if len(indices) == 0 {
		return tensor.NewBuffer(0, width, height), nil
	}

	steps, err := v.idx.Plan(indices)
	if err != nil {
		return nil, err
	}

	buf, err := v.pool.Get(len(indices), width, height)
	if err != nil {
		return nil, err
	}

	slotsOf := make(map[int][]int, len(indices))
	for slot, frame := range indices {
		slotsOf[frame] = append(slotsOf[frame], slot)
	}

	rotation := 0
	if v.cfg.respectRotation {
		rotation = v.info.Rotation
	}

	err = v.pipe.DecodeInto(
		steps, v.idx.Entries,
		v.info.Width, v.info.Height, v.info.PixFmt,
		v.info.TimeBaseNum, v.info.TimeBaseDen, rotation,
		buf,
		func(frame int) []int { return slotsOf[frame] },
	)
	if err != nil {
		buf.Release()
		return nil, err
	}
	return buf, nil
}
