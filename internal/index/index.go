// Package index builds the per-video packet index and seek-plan scheduler:
// a one-time forward scan records each frame's presentation order, PTS, and
// key-frame flag, and later frame requests are turned into a minimal
// sequence of key-frame-anchored seeks plus forward-decode runs.
package index

import (
	"io"
	"sort"

	"github.com/five82/vidtensor/internal/avbridge"
	"github.com/five82/vidtensor/internal/errs"
)

// Entry is one frame's position in a video's packet stream. PacketOrder is
// the packet's position as the demuxer emitted it (decode order), which can
// differ from the entry's sorted presentation-order position when B-frames
// reorder the stream.
type Entry struct {
	PTS         int64
	KeyFrame    bool
	PacketOrder int
}

// Index is the full, PTS-sorted packet index of a single video stream.
// Entry i is the i-th frame in presentation order; KeyFrameIdx[i] is the
// index of the nearest key frame at or before i.
type Index struct {
	Entries     []Entry
	KeyFrameIdx []int
}

// demuxer is the minimal surface index needs from demux.Demuxer, narrowed so
// tests can fake it without standing up real media.
type demuxer interface {
	SeekToPTS(pts int64) error
	ReadPacket(p *avbridge.Packet) error
}

// Build performs the one-time forward scan: seek to the very start, read
// every packet belonging to the video stream, and record its decode-order
// PTS and key-frame flag, then sort into presentation order.
func Build(d demuxer) (*Index, error) {
	if err := d.SeekToPTS(0); err != nil {
		return nil, err
	}

	pkt := avbridge.NewPacket()
	defer pkt.Free()

	type decodeOrder struct {
		pts      int64
		keyFrame bool
	}
	var entries []decodeOrder

	for {
		err := d.ReadPacket(pkt)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, decodeOrder{pts: pkt.PTS, keyFrame: pkt.KeyFrame})
	}

	if len(entries) > 0 && !entries[0].keyFrame {
		return nil, errs.NewFormatError("index: first packet in decode order is not a key frame")
	}

	// Anchors are computed in decode order first: the nearest preceding
	// key frame in the demuxed packet stream is what a seek-and-decode-
	// forward run must restart from, which is not necessarily the frame
	// nearest in presentation order once B-frame reordering is in play.
	decodeKeyAnchor := make([]int, len(entries))
	lastKey := 0
	for i, e := range entries {
		if e.keyFrame {
			lastKey = i
		}
		decodeKeyAnchor[i] = lastKey
	}

	// perm[k] is the decode-order index of the frame that ends up at
	// sorted position k.
	perm := make([]int, len(entries))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return entries[perm[i]].pts < entries[perm[j]].pts })

	sortedPosOf := make([]int, len(entries))
	for k, decodeIdx := range perm {
		sortedPosOf[decodeIdx] = k
	}

	idx := &Index{
		Entries:     make([]Entry, len(entries)),
		KeyFrameIdx: make([]int, len(entries)),
	}
	for k, decodeIdx := range perm {
		e := entries[decodeIdx]
		idx.Entries[k] = Entry{PTS: e.pts, KeyFrame: e.keyFrame, PacketOrder: decodeIdx}
		idx.KeyFrameIdx[k] = sortedPosOf[decodeKeyAnchor[decodeIdx]]
	}

	return idx, nil
}

// NumFrames returns the number of frames recorded in the index.
func (idx *Index) NumFrames() int {
	return len(idx.Entries)
}

// SeekStep is one step of a seek plan: seek to the key frame at KeyFrameIdx,
// then forward-decode through DecodeThrough (inclusive), in presentation
// order, yielding the frames listed in Yield in the order they should be
// collected.
type SeekStep struct {
	KeyFrameIdx   int
	DecodeThrough int
	Yield         []int
}

// Plan builds a minimal seek plan for the (possibly unsorted, possibly
// duplicated) requested frame indices. Requests sharing a key-frame anchor
// land in the same forward-decode run, and two runs merge when the later
// run's key frame is the packet immediately after the earlier run's last
// needed packet in decode order: seeking there would only rewind into
// packets the demuxer is about to hand over anyway. Yield lists each frame
// once even when it was requested more than once.
func (idx *Index) Plan(requested []int) ([]SeekStep, error) {
	if len(requested) == 0 {
		return nil, nil
	}

	frames := make([]int, 0, len(requested))
	for _, f := range requested {
		if f < 0 || f >= idx.NumFrames() {
			return nil, errs.NewOutOfRangeError(f, idx.NumFrames())
		}
		frames = append(frames, f)
	}
	sort.Ints(frames)

	var steps []SeekStep
	lastOrder := -2 // decode-order position of the previous run's last needed packet
	i := 0
	for i < len(frames) {
		anchor := idx.KeyFrameIdx[frames[i]]
		run := SeekStep{KeyFrameIdx: anchor}
		runMax := idx.Entries[anchor].PacketOrder
		for i < len(frames) && idx.KeyFrameIdx[frames[i]] == anchor {
			f := frames[i]
			if n := len(run.Yield); n == 0 || run.Yield[n-1] != f {
				run.Yield = append(run.Yield, f)
				run.DecodeThrough = f
				if o := idx.Entries[f].PacketOrder; o > runMax {
					runMax = o
				}
			}
			i++
		}

		if len(steps) > 0 && idx.Entries[anchor].PacketOrder-1 == lastOrder {
			prev := &steps[len(steps)-1]
			prev.Yield = append(prev.Yield, run.Yield...)
			prev.DecodeThrough = run.DecodeThrough
		} else {
			steps = append(steps, run)
		}
		lastOrder = runMax
	}

	return steps, nil
}
