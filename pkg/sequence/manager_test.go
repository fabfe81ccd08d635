package sequence

import (
	"testing"

	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshtype"
)

func TestAllocateFindUnique(t *testing.T) {
	codec, _ := handle.NewCodec(64)
	mgr := NewTypeSequenceManager(meshtype.Triangle, codec, 4)

	seq, err := mgr.Allocate(5, meshtype.NodesPerElement(meshtype.Triangle))
	if err != nil {
		t.Fatal(err)
	}

	for h := seq.Start; h <= seq.End; h++ {
		found, err := mgr.Find(h)
		if err != nil {
			t.Fatalf("Find(%d): %v", h, err)
		}
		if found != seq {
			t.Errorf("Find(%d) returned a different sequence than the one it was allocated in", h)
		}
	}
}

func TestFreeShrinksSequence(t *testing.T) {
	codec, _ := handle.NewCodec(64)
	mgr := NewTypeSequenceManager(meshtype.Vertex, codec, 4)

	seq, err := mgr.Allocate(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	first := seq.Start

	if err := mgr.Free(first); err != nil {
		t.Fatal(err)
	}
	if mgr.Contains(first) {
		t.Error("freed handle still reported as contained")
	}
	if !mgr.Contains(first + 1) {
		t.Error("surviving handle no longer found after sibling free")
	}
}

func TestIterateYieldsOverlappingRanges(t *testing.T) {
	codec, _ := handle.NewCodec(64)
	mgr := NewTypeSequenceManager(meshtype.Vertex, codec, 4)

	seqA, _ := mgr.Allocate(5, 0)
	seqB, _ := mgr.Allocate(5, 0)

	var seen []Range
	err := mgr.Iterate(seqA.Start, seqB.End, func(r Range) error {
		seen = append(seen, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(seen))
	}
}

func TestConnectivityLengthMismatchRejected(t *testing.T) {
	codec, _ := handle.NewCodec(64)
	mgr := NewTypeSequenceManager(meshtype.Triangle, codec, 4)
	seq, err := mgr.Allocate(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.SetConnectivity(seq.Start, []handle.Handle{1, 2}); err == nil {
		t.Error("expected error for wrong connectivity length")
	}
}

func TestVertexCoordinatesRoundTrip(t *testing.T) {
	codec, _ := handle.NewCodec(64)
	mgr := NewTypeSequenceManager(meshtype.Vertex, codec, 4)
	seq, err := mgr.Allocate(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := [3]float64{1.5, -2.0, 3.25}
	if err := seq.SetCoordinates(seq.Start, want); err != nil {
		t.Fatal(err)
	}
	got, err := seq.Coordinates(seq.Start)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Coordinates = %v, want %v", got, want)
	}
}

func TestSplitThenMergeAdjacentRestoresSequence(t *testing.T) {
	codec, _ := handle.NewCodec(64)
	mgr := NewTypeSequenceManager(meshtype.Quad, codec, 4)

	seq, err := mgr.Allocate(10, meshtype.NodesPerElement(meshtype.Quad))
	if err != nil {
		t.Fatal(err)
	}
	mid := seq.Start + 5
	tail, err := seq.Split(mid)
	if err != nil {
		t.Fatal(err)
	}
	if seq.End != mid-1 || tail.Start != mid {
		t.Fatalf("split ranges [%d,%d] / [%d,%d] do not meet at %d", seq.Start, seq.End, tail.Start, tail.End, mid)
	}
	mgr.mu.Lock()
	mgr.insertLocked(tail)
	mgr.mu.Unlock()

	mgr.MergeAdjacent()
	all := mgr.All()
	if len(all) != 1 {
		t.Fatalf("expected one sequence after merge, got %d", len(all))
	}
	if all[0].Size() != 10 {
		t.Errorf("merged sequence size = %d, want 10", all[0].Size())
	}
}

func TestPopFrontBackShrinkWithoutReleasingData(t *testing.T) {
	codec, _ := handle.NewCodec(64)
	mgr := NewTypeSequenceManager(meshtype.Edge, codec, 4)

	seq, err := mgr.Allocate(6, meshtype.NodesPerElement(meshtype.Edge))
	if err != nil {
		t.Fatal(err)
	}
	data := seq.Data
	first, last := seq.Start, seq.End

	if err := seq.PopFront(2); err != nil {
		t.Fatal(err)
	}
	if err := seq.PopBack(1); err != nil {
		t.Fatal(err)
	}
	if seq.Start != first+2 || seq.End != last-1 {
		t.Errorf("after pops, range = [%d,%d], want [%d,%d]", seq.Start, seq.End, first+2, last-1)
	}
	if seq.Data != data || data.Size() != 6 {
		t.Error("pop must not resize or replace the backing SequenceData")
	}
	if seq.UsingEntireData() {
		t.Error("popped sequence no longer covers its entire SequenceData")
	}
	if err := seq.PopFront(seq.Size()); err == nil {
		t.Error("popping the whole sequence should be rejected")
	}
}

func TestAllocateHintedSkipsToRequestedID(t *testing.T) {
	codec, _ := handle.NewCodec(64)
	mgr := NewTypeSequenceManager(meshtype.Vertex, codec, 4)

	seq, err := mgr.AllocateHinted(3, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if got := codec.IDOf(seq.Start); got != 100 {
		t.Errorf("hinted allocation starts at id %d, want 100", got)
	}

	// A hint below the high-water mark falls forward to the next free id.
	seq2, err := mgr.AllocateHinted(1, 0, 50)
	if err != nil {
		t.Fatal(err)
	}
	if got := codec.IDOf(seq2.Start); got != 103 {
		t.Errorf("stale hint allocated id %d, want next free id 103", got)
	}
}

func TestVariableConnectivityDepositAndRead(t *testing.T) {
	codec, _ := handle.NewCodec(64)
	mgr := NewTypeSequenceManager(meshtype.Polygon, codec, 4)

	seq, err := mgr.Allocate(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	pentagon := []handle.Handle{11, 12, 13, 14, 15}
	quad := []handle.Handle{15, 16, 17, 18}

	// Out-of-order deposit is rejected; the index list is append-only.
	if err := seq.SetVariableConnectivity(seq.Start+1, quad); err == nil {
		t.Fatal("expected out-of-order variable connectivity deposit to fail")
	}
	if err := seq.SetVariableConnectivity(seq.Start, pentagon); err != nil {
		t.Fatal(err)
	}
	if err := seq.SetVariableConnectivity(seq.Start+1, quad); err != nil {
		t.Fatal(err)
	}

	got, err := seq.VariableConnectivity(seq.Start)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 || got[0] != 11 || got[4] != 15 {
		t.Errorf("pentagon connectivity = %v, want %v", got, pentagon)
	}
	got, err = seq.VariableConnectivity(seq.Start + 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got[0] != 15 || got[3] != 18 {
		t.Errorf("quad connectivity = %v, want %v", got, quad)
	}
}
