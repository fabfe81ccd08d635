package tagserver

import (
	"testing"

	"github.com/judajake/meshdb/pkg/handle"
)

// fakeDense is a minimal DenseAllocator standing in for a real
// sequence.TypeSequenceManager-backed SequenceData, enough to exercise Server's
// dispatch to the dense path.
type fakeDense struct {
	columns map[uint32]map[handle.Handle][]byte
}

func newFakeDense() *fakeDense {
	return &fakeDense{columns: make(map[uint32]map[handle.Handle][]byte)}
}

func (f *fakeDense) CreateDenseColumn(h handle.Handle, tagID uint32, bytesPerEnt int, initial []byte) error {
	col, ok := f.columns[tagID]
	if !ok {
		col = make(map[handle.Handle][]byte)
		f.columns[tagID] = col
	}
	v := make([]byte, bytesPerEnt)
	copy(v, initial)
	col[h] = v
	return nil
}

func (f *fakeDense) DenseSlot(h handle.Handle, tagID uint32) ([]byte, error) {
	return f.columns[tagID][h], nil
}

func (f *fakeDense) ReleaseDenseColumn(tagID uint32) error {
	delete(f.columns, tagID)
	return nil
}

// Dense double tag, default 0, write 1.0 on three vertices.
func TestDenseTagDefaultAndWrite(t *testing.T) {
	dense := newFakeDense()
	s := New(dense, 4, 8)

	tag, err := s.CreateTag("area", Dense, 8, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}

	v1, v2, v3 := handle.Handle(1), handle.Handle(2), handle.Handle(3)
	one := []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f} // float64(1.0) little-endian
	for _, v := range []handle.Handle{v1, v2, v3} {
		if err := s.SetData(tag, v, one); err != nil {
			t.Fatal(err)
		}
	}
	for _, v := range []handle.Handle{v1, v2, v3} {
		got, err := s.Data(tag, v)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(one) {
			t.Errorf("Data(%d) = %v, want %v", v, got, one)
		}
	}
}

func TestSparseTagDefaultValue(t *testing.T) {
	dense := newFakeDense()
	s := New(dense, 4, 8)
	tag, err := s.CreateTag("weight", Sparse, 4, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}

	h := handle.Handle(7)
	got, err := s.Data(tag, h)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(tag.DefaultValue) {
		t.Errorf("unset sparse tag = %v, want default %v", got, tag.DefaultValue)
	}

	if err := s.SetData(tag, h, []byte{9, 9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	got, err = s.Data(tag, h)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "\x09\x09\x09\x09" {
		t.Errorf("set sparse tag = %v, want 9,9,9,9", got)
	}
}

// Variable-length integer tag round-trip.
func TestVariableLengthTagRoundTrip(t *testing.T) {
	dense := newFakeDense()
	s := New(dense, 4, 8)
	tag, err := s.CreateTag("neighbors", VariableLength, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	h := handle.Handle(3)
	want := []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0}
	if err := s.SetData(tag, h, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.Data(tag, h)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Errorf("variable-length round trip = %v, want %v", got, want)
	}
}

func TestBitTagWidthBoundary(t *testing.T) {
	dense := newFakeDense()
	s := New(dense, 4, 8)
	if _, err := s.CreateTag("flags0", Bit, 0, nil); err == nil {
		t.Error("expected error for bit-tag width 0")
	}
	if _, err := s.CreateTag("flags9", Bit, 9, nil); err == nil {
		t.Error("expected error for bit-tag width > 8")
	}
	if _, err := s.CreateTag("flags1", Bit, 1, []byte{0}); err != nil {
		t.Errorf("width 1 should be accepted: %v", err)
	}
}

func TestBitTagSetGet(t *testing.T) {
	dense := newFakeDense()
	s := New(dense, 4, 8)
	tag, err := s.CreateTag("ghost", Bit, 1, []byte{0})
	if err != nil {
		t.Fatal(err)
	}
	h := handle.Handle(100)
	if err := s.SetData(tag, h, []byte{1}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Data(tag, h)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 {
		t.Errorf("bit tag = %v, want 1", got)
	}
}

func TestCreateTagConflictingShapeRejected(t *testing.T) {
	dense := newFakeDense()
	s := New(dense, 4, 8)
	if _, err := s.CreateTag("x", Sparse, 4, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTag("x", Sparse, 8, nil); err == nil {
		t.Error("expected ErrAlreadyAllocated for conflicting re-creation")
	}
	if again, err := s.CreateTag("x", Sparse, 4, nil); err != nil || again == nil {
		t.Errorf("identical re-creation should return the existing tag, got err=%v", err)
	}
}

func TestRemoveTagClearsData(t *testing.T) {
	dense := newFakeDense()
	s := New(dense, 4, 8)
	tag, _ := s.CreateTag("temp", Sparse, 4, nil)
	h := handle.Handle(1)
	_ = s.SetData(tag, h, []byte{1, 1, 1, 1})
	if err := s.RemoveTag("temp"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTag("temp"); err == nil {
		t.Error("expected tag to be gone after RemoveTag")
	}
}

func TestDataManySparseBulkRead(t *testing.T) {
	s := New(newFakeDense(), 4, 8)
	tag, err := s.CreateTag("part", Sparse, 2, []byte{0xee, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetData(tag, 10, []byte{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetData(tag, 30, []byte{3, 0}); err != nil {
		t.Fatal(err)
	}

	got, err := s.DataMany(tag, []handle.Handle{10, 20, 30})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("DataMany returned %d values, want 3", len(got))
	}
	if got[0][0] != 1 || got[2][0] != 3 {
		t.Errorf("stored values = %v, %v, want 1 and 3", got[0], got[2])
	}
	if got[1][0] != 0xee || got[1][1] != 0xff {
		t.Errorf("unset entity value = %v, want the registered default", got[1])
	}

	noDefault, err := s.CreateTag("bare", Sparse, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.DataMany(noDefault, []handle.Handle{10}); err == nil {
		t.Error("bulk read of an unset, defaultless sparse tag should fail")
	}
}
