package walog

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hivellm/nexus/internal/config"
)

func TestEntryHeaderEncodeDecodeRoundTrip(t *testing.T) {
	e := NewEntry(EntryPutNode, 7, []byte("payload"))
	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var got Header
	got.Decode(buf.Bytes()[:HeaderSize])
	if got.Magic != Magic {
		t.Fatalf("expected magic to round-trip, got %x", got.Magic)
	}
	if got.EntryType != uint8(EntryPutNode) {
		t.Fatalf("expected entry type to round-trip, got %d", got.EntryType)
	}
	if got.LSN != 7 {
		t.Fatalf("expected LSN 7, got %d", got.LSN)
	}
	if got.PayloadLen != uint32(len("payload")) {
		t.Fatalf("expected payload len %d, got %d", len("payload"), got.PayloadLen)
	}
	if got.CRC32 != CalculateCRC32([]byte("payload")) {
		t.Fatalf("expected checksum to match payload")
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	cfg := config.WALConfig{SyncMode: config.SyncFsync, MaxBatchSize: 8, MaxBatchAge: 2 * time.Millisecond, BufferBytes: 4096}
	w, err := NewWriter(path, cfg, nil)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	payload, err := EncodeNodePut(NodePutPayload{NodeID: 1, Labels: []uint32{0}, Props: []byte{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEntry(NewEntry(EntryPutNode, 1, payload)); err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if err := w.WriteEntry(NewEntry(EntryCommit, 1, nil)); err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	first, err := r.ReadEntry()
	if err != nil {
		t.Fatalf("ReadEntry failed: %v", err)
	}
	if EntryType(first.Header.EntryType) != EntryPutNode {
		t.Fatalf("expected first entry to be PutNode, got %d", first.Header.EntryType)
	}
	decoded, err := DecodeNodePut(first.Payload)
	if err != nil {
		t.Fatalf("DecodeNodePut failed: %v", err)
	}
	if decoded.NodeID != 1 {
		t.Fatalf("expected node id 1, got %d", decoded.NodeID)
	}

	second, err := r.ReadEntry()
	if err != nil {
		t.Fatalf("ReadEntry failed: %v", err)
	}
	if EntryType(second.Header.EntryType) != EntryCommit {
		t.Fatalf("expected second entry to be Commit, got %d", second.Header.EntryType)
	}

	if _, err := r.ReadEntry(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of log, got %v", err)
	}
}

func TestReaderRejectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.wal")

	e := NewEntry(EntryPutNode, 1, []byte("hello"))
	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	corrupted := buf.Bytes()
	corrupted[HeaderSize] ^= 0xFF // flip a payload byte after the checksum was computed

	if err := os.WriteFile(path, corrupted, 0644); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.ReadEntry(); err != ErrChecksumMismatch {
		t.Fatalf("expected checksum mismatch error, got %v", err)
	}
}

func TestReaderRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "badmagic.wal")
	if err := os.WriteFile(path, make([]byte, HeaderSize), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.ReadEntry(); err != ErrInvalidMagic {
		t.Fatalf("expected invalid magic error, got %v", err)
	}
}

func TestWriterRejectsWritesAfterClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "closed.wal")
	cfg := config.WALConfig{SyncMode: config.SyncNone, MaxBatchSize: 8, MaxBatchAge: time.Millisecond, BufferBytes: 4096}
	w, err := NewWriter(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEntry(NewEntry(EntryCommit, 1, nil)); err == nil {
		t.Fatalf("expected write after close to fail")
	}
}

func TestTombstonePayloadRoundTrip(t *testing.T) {
	data, err := EncodeTombstone(99)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeTombstone(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 99 {
		t.Fatalf("expected id 99, got %d", got.ID)
	}
}
