// Package propheap is the segmented, append-only byte-blob store that
// backs every node and relationship's property payload (a BSON document).
// It generalizes a document-heap design: the per-record header shape
// (length/valid/createEpoch/deleteEpoch/prevOffset forming an MVCC
// version chain) and the segment-rotation scheme are renamed from
// "document heap" to "property blob heap" since
// Nexus stores fixed-width node/relationship records elsewhere
// (internal/recordstore) and only the variable-length property bag lives
// here.
package propheap

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	Magic             = 0x50524f50 // "PROP"
	FormatVersion     = 1
	fileHeaderSize    = 14 // magic(4) + version(2) + nextOffset(8)
	RecordHeaderSize  = 29 // len(4) + valid(1) + createEpoch(8) + deleteEpoch(8) + prevOffset(8)
	DefaultSegmentCap = 64 * 1024 * 1024
)

// RecordHeader describes one stored blob's MVCC envelope. PrevOffset
// chains to the previous version of the same logical property payload
// (-1 terminates the chain), letting a reader walk backward to the
// newest version visible at its snapshot epoch.
type RecordHeader struct {
	Valid       bool
	CreateEpoch uint64
	DeleteEpoch uint64
	PrevOffset  int64
}

type segment struct {
	id          int
	path        string
	startOffset int64
	size        int64
	file        *os.File
}

// Heap is a segmented append-only store of variable-length blobs,
// addressed by a global, monotonically increasing byte offset.
type Heap struct {
	mu             sync.RWMutex
	basePath       string
	segments       []*segment
	active         *segment
	nextOffset     int64
	maxSegmentSize int64
}

// Open opens (or creates) the segment chain rooted at basePath, i.e.
// files named "<basePath>_NNN.blob".
func Open(basePath string) (*Heap, error) {
	h := &Heap{basePath: basePath, maxSegmentSize: DefaultSegmentCap}

	var globalOffset int64
	for id := 1; ; id++ {
		segPath := fmt.Sprintf("%s_%03d.blob", basePath, id)
		f, err := os.OpenFile(segPath, os.O_RDWR, 0o644)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("open segment %s: %w", segPath, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		seg := &segment{id: id, path: segPath, startOffset: globalOffset, size: info.Size(), file: f}
		h.segments = append(h.segments, seg)
		globalOffset += info.Size()
	}

	if len(h.segments) == 0 {
		return h, h.createSegment(1, 0)
	}
	h.active = h.segments[len(h.segments)-1]
	return h, h.loadActiveState()
}

func (h *Heap) createSegment(id int, startOffset int64) error {
	segPath := fmt.Sprintf("%s_%03d.blob", h.basePath, id)
	f, err := os.OpenFile(segPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", segPath, err)
	}
	seg := &segment{id: id, path: segPath, startOffset: startOffset, file: f}
	h.segments = append(h.segments, seg)
	h.active = seg

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(Magic)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint16(FormatVersion)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, int64(fileHeaderSize)); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	seg.size = int64(fileHeaderSize)
	h.nextOffset = startOffset + int64(fileHeaderSize)
	return nil
}

func (h *Heap) loadActiveState() error {
	f := h.active.file
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var magic uint32
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return err
	}
	if magic != Magic {
		return fmt.Errorf("propheap: bad magic in segment %d", h.active.id)
	}
	var version uint16
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != FormatVersion {
		return fmt.Errorf("propheap: unsupported version %d", version)
	}
	var localNext int64
	if err := binary.Read(f, binary.LittleEndian, &localNext); err != nil {
		return err
	}
	h.nextOffset = h.active.startOffset + localNext

	if info, err := f.Stat(); err == nil && info.Size() > localNext {
		h.nextOffset = h.active.startOffset + info.Size()
		_ = h.persistNextOffset()
	}
	return nil
}

func (h *Heap) persistNextOffset() error {
	seg := h.active
	if _, err := seg.file.Seek(6, io.SeekStart); err != nil {
		return err
	}
	local := h.nextOffset - seg.startOffset
	return binary.Write(seg.file, binary.LittleEndian, local)
}

// Write appends a blob and returns its global offset. prevOffset chains to
// the blob it supersedes, or -1 if this is a new chain.
func (h *Heap) Write(blob []byte, createEpoch uint64, prevOffset int64) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	needed := int64(RecordHeaderSize + len(blob))
	localOffset := h.nextOffset - h.active.startOffset
	if localOffset+needed > h.maxSegmentSize {
		if err := h.createSegment(h.active.id+1, h.nextOffset); err != nil {
			return 0, fmt.Errorf("rotate segment: %w", err)
		}
		localOffset = fileHeaderSize
	}

	offset := h.nextOffset
	seg := h.active
	local := offset - seg.startOffset

	if _, err := seg.file.Seek(local, io.SeekStart); err != nil {
		return 0, err
	}
	if err := binary.Write(seg.file, binary.LittleEndian, uint32(len(blob))); err != nil {
		return 0, err
	}
	if err := binary.Write(seg.file, binary.LittleEndian, uint8(1)); err != nil {
		return 0, err
	}
	if err := binary.Write(seg.file, binary.LittleEndian, createEpoch); err != nil {
		return 0, err
	}
	if err := binary.Write(seg.file, binary.LittleEndian, uint64(0)); err != nil {
		return 0, err
	}
	if err := binary.Write(seg.file, binary.LittleEndian, prevOffset); err != nil {
		return 0, err
	}
	if _, err := seg.file.Write(blob); err != nil {
		return 0, err
	}

	h.nextOffset += int64(RecordHeaderSize + len(blob))
	seg.size = h.nextOffset - seg.startOffset
	if err := h.persistNextOffset(); err != nil {
		return 0, err
	}
	return offset, nil
}

func (h *Heap) segmentFor(offset int64) (*segment, error) {
	for _, seg := range h.segments {
		if offset >= seg.startOffset && offset < seg.startOffset+seg.size {
			return seg, nil
		}
	}
	if offset < h.nextOffset && h.active != nil && offset >= h.active.startOffset {
		return h.active, nil
	}
	return nil, fmt.Errorf("propheap: no segment for offset %d", offset)
}

// Read returns the blob stored at offset and its MVCC header.
func (h *Heap) Read(offset int64) ([]byte, *RecordHeader, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seg, err := h.segmentFor(offset)
	if err != nil {
		return nil, nil, err
	}
	local := offset - seg.startOffset
	if _, err := seg.file.Seek(local, io.SeekStart); err != nil {
		return nil, nil, err
	}

	var blobLen uint32
	var valid uint8
	var createEpoch, deleteEpoch uint64
	var prevOffset int64
	for _, r := range []struct {
		v interface{}
	}{{&blobLen}, {&valid}, {&createEpoch}, {&deleteEpoch}, {&prevOffset}} {
		if err := binary.Read(seg.file, binary.LittleEndian, r.v); err != nil {
			return nil, nil, err
		}
	}

	blob := make([]byte, blobLen)
	if _, err := io.ReadFull(seg.file, blob); err != nil {
		return nil, nil, err
	}

	return blob, &RecordHeader{Valid: valid == 1, CreateEpoch: createEpoch, DeleteEpoch: deleteEpoch, PrevOffset: prevOffset}, nil
}

// Tombstone marks the blob at offset deleted as of deleteEpoch, in place
// (the version chain entry itself never moves; a newer Write supersedes it
// via prevOffset instead).
func (h *Heap) Tombstone(offset int64, deleteEpoch uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	seg, err := h.segmentFor(offset)
	if err != nil {
		return err
	}
	local := offset - seg.startOffset
	validOffset := local + 4
	deleteEpochOffset := local + 4 + 1 + 8

	if _, err := seg.file.Seek(validOffset, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(seg.file, binary.LittleEndian, uint8(0)); err != nil {
		return err
	}
	if _, err := seg.file.Seek(deleteEpochOffset, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(seg.file, binary.LittleEndian, deleteEpoch)
}

func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for _, seg := range h.segments {
		if err := seg.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Iterator walks every record across every segment in offset order.
type Iterator struct {
	h          *Heap
	segmentIdx int
	file       *os.File
	pos        int64
}

func (h *Heap) NewIterator() (*Iterator, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.segments) == 0 {
		return nil, fmt.Errorf("propheap: no segments")
	}
	f, err := os.Open(h.segments[0].path)
	if err != nil {
		return nil, err
	}
	return &Iterator{h: h, file: f, pos: fileHeaderSize}, nil
}

func (it *Iterator) Next() ([]byte, *RecordHeader, int64, error) {
	for {
		it.h.mu.RLock()
		if it.segmentIdx >= len(it.h.segments) {
			it.h.mu.RUnlock()
			return nil, nil, 0, io.EOF
		}
		seg := it.h.segments[it.segmentIdx]
		start := seg.startOffset
		it.h.mu.RUnlock()

		global := start + it.pos
		if _, err := it.file.Seek(it.pos, io.SeekStart); err != nil {
			return nil, nil, 0, err
		}

		hdr := make([]byte, RecordHeaderSize)
		if _, err := io.ReadFull(it.file, hdr); err != nil {
			if err == io.EOF {
				if err := it.nextSegment(); err != nil {
					return nil, nil, 0, err
				}
				continue
			}
			return nil, nil, 0, err
		}

		blobLen := binary.LittleEndian.Uint32(hdr[0:4])
		valid := hdr[4]
		createEpoch := binary.LittleEndian.Uint64(hdr[5:13])
		deleteEpoch := binary.LittleEndian.Uint64(hdr[13:21])
		prevOffset := int64(binary.LittleEndian.Uint64(hdr[21:29]))

		blob := make([]byte, blobLen)
		if _, err := io.ReadFull(it.file, blob); err != nil {
			return nil, nil, 0, err
		}
		it.pos += int64(RecordHeaderSize) + int64(blobLen)

		return blob, &RecordHeader{Valid: valid == 1, CreateEpoch: createEpoch, DeleteEpoch: deleteEpoch, PrevOffset: prevOffset}, global, nil
	}
}

func (it *Iterator) nextSegment() error {
	it.file.Close()
	it.segmentIdx++
	it.h.mu.RLock()
	defer it.h.mu.RUnlock()
	if it.segmentIdx >= len(it.h.segments) {
		return io.EOF
	}
	f, err := os.Open(it.h.segments[it.segmentIdx].path)
	if err != nil {
		return err
	}
	it.file = f
	it.pos = fileHeaderSize
	return nil
}

func (it *Iterator) Close() {
	if it.file != nil {
		it.file.Close()
	}
}
