package gzopen

import (
	"bytes"
	"testing"
)

func TestSniffGzip(t *testing.T) {
	data := []byte{0x1f, 0x8b, 0x08, 0x00, 0, 0, 0, 0}
	k, err := Sniff(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if k != Gzip {
		t.Fatalf("kind = %v, want Gzip", k)
	}
}

func TestSniffXz(t *testing.T) {
	data := []byte("\xfd7zXZ\x00\x00\x00")
	k, err := Sniff(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if k != Xz {
		t.Fatalf("kind = %v, want Xz", k)
	}
}

func TestSniffZstd(t *testing.T) {
	data := []byte{0x28, 0xb5, 0x2f, 0xfd, 0, 0, 0, 0}
	k, err := Sniff(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if k != Zstd {
		t.Fatalf("kind = %v, want Zstd", k)
	}
}

func TestSniffPlain(t *testing.T) {
	data := []byte("1seq 1 0\n")
	k, err := Sniff(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if k != None {
		t.Fatalf("kind = %v, want None", k)
	}
}

func TestSniffEmpty(t *testing.T) {
	k, err := Sniff(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if k != None {
		t.Fatalf("kind = %v, want None", k)
	}
}
