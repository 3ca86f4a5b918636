package onecode

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/vgp-tools/onecode/internal/footer"
	"github.com/vgp-tools/onecode/internal/record"
	"github.com/vgp-tools/onecode/internal/schema"
)

func testFileType(t *testing.T) *schema.FileType {
	t.Helper()
	ft := schema.New("seq", 1, 0)
	if err := ft.Define('S', []schema.FieldKind{schema.String}, 0, 1, false); err != nil {
		t.Fatal(err)
	}
	if err := ft.SetDNAList('S'); err != nil {
		t.Fatal(err)
	}
	if err := ft.Define('L', []schema.FieldKind{schema.IntList}, 0, 8, true); err != nil {
		t.Fatal(err)
	}
	if err := ft.Define('g', []schema.FieldKind{schema.Int}, -1, 0, false); err != nil {
		t.Fatal(err)
	}
	ft.SetObject('S')
	ft.SetGroup('g')
	return ft
}

func TestBinaryFileRoundTripWithGroupsAndRandomAccess(t *testing.T) {
	ft := testFileType(t)
	path := filepath.Join(t.TempDir(), "out.1seq")

	f, err := Create(path, ft, footer.Header{}, true, false, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	objects := [][]byte{[]byte("acgt"), []byte("ggcc"), []byte("ttaa")}
	if err := f.WriteLine(&record.Line{Code: 'g', Fields: []record.Field{{Int: 0}}}); err != nil {
		t.Fatalf("write group 1: %v", err)
	}
	for _, seq := range objects[:2] {
		if err := f.WriteLine(&record.Line{Code: 'S', Str: seq}); err != nil {
			t.Fatalf("write object: %v", err)
		}
	}
	if err := f.WriteLine(&record.Line{Code: 'g', Fields: []record.Field{{Int: 1}}}); err != nil {
		t.Fatalf("write group 2: %v", err)
	}
	if err := f.WriteLine(&record.Line{Code: 'S', Str: objects[2]}); err != nil {
		t.Fatalf("write object: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path, ft, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.ObjectCount() != 3 {
		t.Fatalf("ObjectCount = %d, want 3", r.ObjectCount())
	}
	if r.GroupCount() != 2 {
		t.Fatalf("GroupCount = %d, want 2", r.GroupCount())
	}

	var got [][]byte
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		if line.Code == 'S' {
			got = append(got, line.Str)
		}
	}
	if len(got) != 3 {
		t.Fatalf("read %d objects, want 3", len(got))
	}
	for i, want := range objects {
		if string(got[i]) != string(want) {
			t.Fatalf("object %d = %q, want %q", i, got[i], want)
		}
	}

	n, err := r.GotoGroup(0)
	if err != nil {
		t.Fatalf("GotoGroup(0): %v", err)
	}
	if n != 2 {
		t.Fatalf("group 0 size = %d, want 2", n)
	}
	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine after GotoGroup: %v", err)
	}
	if string(line.Str) != string(objects[0]) {
		t.Fatalf("first object of group 0 = %q, want %q", line.Str, objects[0])
	}

	if err := r.GotoObject(2); err != nil {
		t.Fatalf("GotoObject(2): %v", err)
	}
	line, err = r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine after GotoObject: %v", err)
	}
	if string(line.Str) != string(objects[2]) {
		t.Fatalf("object 2 = %q, want %q", line.Str, objects[2])
	}

	s := r.Stats('S')
	if s.Count != 3 {
		t.Fatalf("Stats('S').Count = %d, want 3", s.Count)
	}
	g := r.GroupStats('S')
	if g.Count != 2 || g.Total != 8 {
		t.Fatalf("GroupStats('S') = %+v, want the larger group's count=2 total=8", g)
	}
}

func TestASCIIFileRoundTripWithComment(t *testing.T) {
	ft := testFileType(t)
	path := filepath.Join(t.TempDir(), "out.ascii.1seq")

	f, err := Create(path, ft, footer.Header{}, false, false, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.WriteLine(&record.Line{Code: 'S', Str: []byte("acgt")}); err != nil {
		t.Fatalf("write object: %v", err)
	}
	if err := f.WriteLine(&record.Line{Code: schema.CommentLine, Comment: "a note"}); err != nil {
		t.Fatalf("write comment: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path, ft, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(line.Str) != "acgt" {
		t.Fatalf("Str = %q, want %q", line.Str, "acgt")
	}
	if line.Comment != "a note" {
		t.Fatalf("Comment = %q, want %q", line.Comment, "a note")
	}

	if _, err := r.ReadLine(); err != io.EOF {
		t.Fatalf("expected io.EOF after the only object, got %v", err)
	}
}

func TestParallelWriteMergesShards(t *testing.T) {
	ft := testFileType(t)
	path := filepath.Join(t.TempDir(), "out.parallel.1seq")

	f, err := CreateParallel(path, ft, footer.Header{}, true, false, 3, 64, nil)
	if err != nil {
		t.Fatalf("CreateParallel: %v", err)
	}

	shardObjects := [][]byte{[]byte("aaaa"), []byte("cccc"), []byte("gggg")}
	for i, seq := range shardObjects {
		if err := f.WriteLineToShard(i, &record.Line{Code: 'S', Str: seq}); err != nil {
			t.Fatalf("shard %d write: %v", i, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path, ft, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.ObjectCount() != 3 {
		t.Fatalf("ObjectCount = %d, want 3", r.ObjectCount())
	}
	var got []string
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		got = append(got, string(line.Str))
	}
	if len(got) != 3 {
		t.Fatalf("read %d objects, want 3: %v", len(got), got)
	}
}
