package handle

import (
	"testing"

	"github.com/judajake/meshdb/pkg/meshtype"
)

func TestMakeRoundTrip(t *testing.T) {
	codec, err := NewCodec(64)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		typ meshtype.Type
		id  uint64
	}{
		{meshtype.Vertex, 1},
		{meshtype.Triangle, 42},
		{meshtype.Hex, codec.MaxID()},
	}
	for _, c := range cases {
		h, err := codec.Make(c.typ, c.id)
		if err != nil {
			t.Fatalf("Make(%v, %d): %v", c.typ, c.id, err)
		}
		if got := codec.TypeOf(h); got != c.typ {
			t.Errorf("TypeOf = %v, want %v", got, c.typ)
		}
		if got := codec.IDOf(h); got != c.id {
			t.Errorf("IDOf = %d, want %d", got, c.id)
		}
	}
}

func TestMakeRejectsOutOfRangeID(t *testing.T) {
	codec, err := NewCodec(32)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Make(meshtype.Vertex, 0); err == nil {
		t.Error("expected error for id 0")
	}
	if _, err := codec.Make(meshtype.Vertex, codec.MaxID()+1); err == nil {
		t.Error("expected error for id beyond MaxID")
	}
}

func TestMakeRejectsOutOfRangeType(t *testing.T) {
	codec, _ := NewCodec(64)
	if _, err := codec.Make(meshtype.MaxType, 1); err == nil {
		t.Error("expected error for type >= MaxType")
	}
}

func TestNewCodecRejectsBadWidth(t *testing.T) {
	if _, err := NewCodec(48); err == nil {
		t.Error("expected error for non-32/64 width")
	}
}

func TestFirstLastHandle(t *testing.T) {
	codec, _ := NewCodec(64)
	first, err := codec.FirstHandle(meshtype.Edge)
	if err != nil {
		t.Fatal(err)
	}
	if codec.IDOf(first) != StartID {
		t.Errorf("first handle id = %d, want %d", codec.IDOf(first), StartID)
	}
	last, err := codec.LastHandle(meshtype.Edge)
	if err != nil {
		t.Fatal(err)
	}
	if codec.IDOf(last) != codec.MaxID() {
		t.Errorf("last handle id = %d, want %d", codec.IDOf(last), codec.MaxID())
	}
}
