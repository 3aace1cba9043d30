package index

import (
	"io"
	"testing"

	"github.com/five82/vidtensor/internal/avbridge"
)

// fakeDemuxer feeds a fixed, decode-order packet sequence to Build without
// touching any real media.
type fakeDemuxer struct {
	packets []avbridge.Packet
	pos     int
}

func (f *fakeDemuxer) SeekToPTS(pts int64) error {
	f.pos = 0
	return nil
}

func (f *fakeDemuxer) ReadPacket(p *avbridge.Packet) error {
	if f.pos >= len(f.packets) {
		return io.EOF
	}
	*p = f.packets[f.pos]
	f.pos++
	return nil
}

func TestBuildSortsByPTSAndTracksKeyFrames(t *testing.T) {
	// Decode order has frame 2 before frame 1 (a common B-frame reorder
	// pattern); PTS order should recover presentation order 0,1,2,3.
	d := &fakeDemuxer{packets: []avbridge.Packet{
		{PTS: 0, KeyFrame: true},
		{PTS: 2, KeyFrame: false},
		{PTS: 1, KeyFrame: false},
		{PTS: 3, KeyFrame: false},
	}}

	idx, err := Build(d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.NumFrames() != 4 {
		t.Fatalf("NumFrames() = %d, want 4", idx.NumFrames())
	}
	for i, e := range idx.Entries {
		if e.PTS != int64(i) {
			t.Errorf("Entries[%d].PTS = %d, want %d", i, e.PTS, i)
		}
	}
	wantOrder := []int{0, 2, 1, 3}
	for i, e := range idx.Entries {
		if e.PacketOrder != wantOrder[i] {
			t.Errorf("Entries[%d].PacketOrder = %d, want %d", i, e.PacketOrder, wantOrder[i])
		}
	}
	for _, anchor := range idx.KeyFrameIdx {
		if anchor != 0 {
			t.Errorf("KeyFrameIdx = %d, want 0 (only frame 0 is a key frame)", anchor)
		}
	}
}

func TestBuildRemapsKeyFrameAnchorsAcrossReorder(t *testing.T) {
	// Two GOPs, each with one B-frame reordered ahead of its predecessor in
	// decode order. Decode order: key(pts=0), pts=2, pts=1, key(pts=4),
	// pts=6, pts=5. After sorting by PTS: 0,1,2,4,5,6 at sorted positions
	// 0..5, where sorted positions 3,4,5 (pts 4,5,6) belong to the second
	// GOP and must anchor to sorted position 3 (the second key frame), not
	// sorted position 0 just because it's "nearest" in the wrong order.
	d := &fakeDemuxer{packets: []avbridge.Packet{
		{PTS: 0, KeyFrame: true},
		{PTS: 2, KeyFrame: false},
		{PTS: 1, KeyFrame: false},
		{PTS: 4, KeyFrame: true},
		{PTS: 6, KeyFrame: false},
		{PTS: 5, KeyFrame: false},
	}}

	idx, err := Build(d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantPTS := []int64{0, 1, 2, 4, 5, 6}
	for i, e := range idx.Entries {
		if e.PTS != wantPTS[i] {
			t.Fatalf("Entries[%d].PTS = %d, want %d", i, e.PTS, wantPTS[i])
		}
	}

	wantAnchor := []int{0, 0, 0, 3, 3, 3}
	for i, a := range idx.KeyFrameIdx {
		if a != wantAnchor[i] {
			t.Errorf("KeyFrameIdx[%d] = %d, want %d", i, a, wantAnchor[i])
		}
	}
}

// twoGOPIndex is a five-frame stream with key frames at sorted positions 0
// and 3 and no B-frame reordering, so packet order equals sorted position.
func twoGOPIndex() *Index {
	return &Index{
		Entries: []Entry{
			{PTS: 0, KeyFrame: true, PacketOrder: 0},
			{PTS: 1, PacketOrder: 1},
			{PTS: 2, PacketOrder: 2},
			{PTS: 3, KeyFrame: true, PacketOrder: 3},
			{PTS: 4, PacketOrder: 4},
		},
		KeyFrameIdx: []int{0, 0, 0, 3, 3},
	}
}

func TestPlanMergesAdjacentRuns(t *testing.T) {
	// Frame 2's packet is immediately followed by the second key frame
	// (packet orders 2 and 3), so decoding should flow straight through
	// both GOPs without a second seek.
	steps, err := twoGOPIndex().Plan([]int{2, 0, 4})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1 (runs are packet-order adjacent)", len(steps))
	}
	if steps[0].KeyFrameIdx != 0 || steps[0].DecodeThrough != 4 {
		t.Errorf("step = %+v, want anchor 0 through frame 4", steps[0])
	}
	wantYield := []int{0, 2, 4}
	if len(steps[0].Yield) != len(wantYield) {
		t.Fatalf("Yield = %v, want %v", steps[0].Yield, wantYield)
	}
	for i, f := range wantYield {
		if steps[0].Yield[i] != f {
			t.Errorf("Yield[%d] = %d, want %d", i, steps[0].Yield[i], f)
		}
	}
}

func TestPlanSeeksAgainAcrossAPacketGap(t *testing.T) {
	// Only frame 0 is needed from the first GOP; the second key frame is
	// at packet order 3, not 1, so a second seek is cheaper than decoding
	// through packets 1 and 2.
	steps, err := twoGOPIndex().Plan([]int{0, 4})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2 (runs are not packet-order adjacent)", len(steps))
	}
	if steps[0].KeyFrameIdx != 0 || steps[0].DecodeThrough != 0 {
		t.Errorf("step 0 = %+v, want anchor 0 through frame 0", steps[0])
	}
	if steps[1].KeyFrameIdx != 3 || steps[1].DecodeThrough != 4 {
		t.Errorf("step 1 = %+v, want anchor 3 through frame 4", steps[1])
	}
}

func TestPlanDeduplicatesRepeatedIndices(t *testing.T) {
	steps, err := twoGOPIndex().Plan([]int{1, 1, 1})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(steps))
	}
	if len(steps[0].Yield) != 1 || steps[0].Yield[0] != 1 {
		t.Errorf("Yield = %v, want [1] (each frame decoded once)", steps[0].Yield)
	}
}

func TestPlanRejectsOutOfRangeIndex(t *testing.T) {
	idx := &Index{
		Entries:     []Entry{{PTS: 0, KeyFrame: true}},
		KeyFrameIdx: []int{0},
	}
	if _, err := idx.Plan([]int{5}); err == nil {
		t.Fatalf("expected an error for an out-of-range frame index")
	}
}
