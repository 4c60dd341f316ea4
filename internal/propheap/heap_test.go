package propheap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func tempBase(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "propheap-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "props.heap")
}

func TestWriteReadRoundTrip(t *testing.T) {
	h, err := Open(tempBase(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	blob := []byte("hello property payload")
	off, err := h.Write(blob, 3, -1)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	got, hdr, err := h.Read(off)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("payload mismatch: %q", got)
	}
	if !hdr.Valid || hdr.CreateEpoch != 3 || hdr.PrevOffset != -1 {
		t.Fatalf("header mismatch: %+v", hdr)
	}
}

func TestVersionChainViaPrevOffset(t *testing.T) {
	h, err := Open(tempBase(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	v1, err := h.Write([]byte("v1"), 1, -1)
	if err != nil {
		t.Fatalf("write v1: %v", err)
	}
	v2, err := h.Write([]byte("v2"), 2, v1)
	if err != nil {
		t.Fatalf("write v2: %v", err)
	}

	blob, hdr, err := h.Read(v2)
	if err != nil {
		t.Fatalf("read v2: %v", err)
	}
	if string(blob) != "v2" || hdr.PrevOffset != v1 {
		t.Fatalf("expected v2 chained to v1, got %q prev=%d", blob, hdr.PrevOffset)
	}

	prev, prevHdr, err := h.Read(hdr.PrevOffset)
	if err != nil {
		t.Fatalf("read chained v1: %v", err)
	}
	if string(prev) != "v1" || prevHdr.CreateEpoch != 1 {
		t.Fatalf("chain walk mismatch: %q %+v", prev, prevHdr)
	}
}

func TestTombstoneMarksInvalid(t *testing.T) {
	h, err := Open(tempBase(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	off, err := h.Write([]byte("doomed"), 1, -1)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := h.Tombstone(off, 9); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	blob, hdr, err := h.Read(off)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if hdr.Valid {
		t.Fatalf("expected record to be invalid after tombstone")
	}
	if hdr.DeleteEpoch != 9 {
		t.Fatalf("expected delete epoch 9, got %d", hdr.DeleteEpoch)
	}
	// The payload itself stays readable; GC reclaims it later.
	if string(blob) != "doomed" {
		t.Fatalf("payload clobbered: %q", blob)
	}
}

func TestReopenContinuesOffsets(t *testing.T) {
	base := tempBase(t)
	h, err := Open(base)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	off1, err := h.Write([]byte("first"), 1, -1)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	h2, err := Open(base)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()

	blob, _, err := h2.Read(off1)
	if err != nil || string(blob) != "first" {
		t.Fatalf("pre-reopen write unreadable: %q %v", blob, err)
	}
	off2, err := h2.Write([]byte("second"), 2, -1)
	if err != nil {
		t.Fatalf("write after reopen: %v", err)
	}
	if off2 <= off1 {
		t.Fatalf("offsets must stay monotonic across reopen: %d then %d", off1, off2)
	}
	blob2, _, err := h2.Read(off2)
	if err != nil || string(blob2) != "second" {
		t.Fatalf("post-reopen write unreadable: %q %v", blob2, err)
	}
}

func TestIteratorWalksEveryRecord(t *testing.T) {
	h, err := Open(tempBase(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	want := map[string]bool{}
	for _, s := range []string{"a", "bb", "ccc"} {
		if _, err := h.Write([]byte(s), 1, -1); err != nil {
			t.Fatalf("write %q: %v", s, err)
		}
		want[s] = true
	}

	it, err := h.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()

	seen := map[string]bool{}
	for {
		blob, _, _, err := it.Next()
		if err != nil {
			break
		}
		if blob == nil {
			break
		}
		seen[string(blob)] = true
	}
	for s := range want {
		if !seen[s] {
			t.Fatalf("iterator missed %q (saw %v)", s, seen)
		}
	}
}
