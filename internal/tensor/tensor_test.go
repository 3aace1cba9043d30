package tensor

import "testing"

func TestStrides4D(t *testing.T) {
	s := Strides4D(4, 3)
	want := [4]int{4 * 3 * 3, 3, 4 * 3, 1}
	if s != want {
		t.Fatalf("Strides4D(4,3) = %v, want %v", s, want)
	}
}

func TestNewBufferSizedCorrectly(t *testing.T) {
	b := NewBuffer(2, 4, 3)
	want := 2 * 4 * 3 * 3
	if len(b.Data) != want {
		t.Fatalf("len(Data) = %d, want %d", len(b.Data), want)
	}
}

func TestBufferPoolGetRejectsNonPositiveDims(t *testing.T) {
	p := NewBufferPool()
	if _, err := p.Get(0, 4, 4); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
	if _, err := p.Get(1, 0, 4); err == nil {
		t.Fatalf("expected error for zero width")
	}
}

func TestBufferPoolReusesReleasedBuffer(t *testing.T) {
	p := NewBufferPool()

	b1, err := p.Get(1, 8, 8)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data1 := &b1.Data[0]
	b1.Release()

	b2, err := p.Get(1, 8, 8)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data2 := &b2.Data[0]

	if data1 != data2 {
		t.Fatalf("expected Get after Release to reuse the same backing array")
	}
}

func TestBufferRefCounting(t *testing.T) {
	p := NewBufferPool()
	b, err := p.Get(1, 4, 4)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	b.Retain()
	b.Release() // refs: 2 -> 1, should not return to pool yet

	// A second Get for the same bucket should allocate fresh memory since
	// the first buffer is still held.
	b2, err := p.Get(1, 4, 4)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if &b.Data[0] == &b2.Data[0] {
		t.Fatalf("expected a still-retained buffer not to be reused")
	}

	b.Release()
	b2.Release()
}
