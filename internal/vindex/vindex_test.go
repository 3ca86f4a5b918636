package vindex

import (
	"bytes"
	"io"
	"testing"
)

type seekRecorder struct {
	*bytes.Reader
}

func TestGotoObject(t *testing.T) {
	data := make([]byte, 100)
	x := New([]int64{0, 10, 25, 40}, nil, seekRecorder{bytes.NewReader(data)})
	if err := x.GotoObject(2); err != nil {
		t.Fatalf("GotoObject(2): %v", err)
	}
	pos, _ := x.seeker.(seekRecorder).Seek(0, io.SeekCurrent)
	if pos != 25 {
		t.Fatalf("position = %d, want 25", pos)
	}
	if err := x.GotoObject(4); err == nil {
		t.Fatal("expected error for out-of-range object index")
	}
}

func TestGotoGroup(t *testing.T) {
	x := New([]int64{0, 10, 25, 40, 55}, []int64{0, 2, 4}, seekRecorder{bytes.NewReader(make([]byte, 100))})
	n, err := x.GotoGroup(1)
	if err != nil {
		t.Fatalf("GotoGroup(1): %v", err)
	}
	if n != 2 {
		t.Fatalf("group size = %d, want 2", n)
	}
	pos, _ := x.seeker.(seekRecorder).Seek(0, io.SeekCurrent)
	if pos != 25 {
		t.Fatalf("position = %d, want 25", pos)
	}
	if _, err := x.GotoGroup(2); err == nil {
		t.Fatal("expected error for out-of-range group index")
	}
}
