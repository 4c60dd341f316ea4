// Package recordstore holds Nexus's two fixed-width, memory-mapped record
// files (nodes.rec, rels.rec). Records are fixed width and addressed by a
// dense integer id, so the store maps id -> offset by simple
// multiplication rather than walking variable-length segments. The
// header-page layout (magic/version/counters) and open-or-create-then-
// validate flow mirror an append-log heap manager; the memory-mapping
// itself uses edsrzf/mmap-go.
package recordstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/hivellm/nexus/internal/nerrors"
)

const (
	fixedMagic   = 0x4e585253 // "NXRS"
	fixedVersion = 1
	headerPage   = 4096 // one page reserved for the store header
)

// header mirrors the first headerPage bytes of the file.
type header struct {
	Magic        uint32
	Version      uint32
	RecordSize   uint32
	_            uint32
	NextID       uint64
	LiveCount    uint64
	CheckpointLSN uint64
}

const headerEncodedSize = 4 + 4 + 4 + 4 + 8 + 8 + 8

// Store is a growable, memory-mapped array of fixed-width records indexed
// by a dense uint64 id starting at 0.
type Store struct {
	mu         sync.RWMutex
	file       *os.File
	mapping    mmap.MMap
	recordSize int
	growStep   int64
	path       string

	nextID    uint64
	liveCount uint64
}

// Open opens or creates the record file at path with the given fixed
// record size. growStep controls how many bytes are added to the mapping
// each time it needs to grow (rounded up to a whole number of records).
func Open(path string, recordSize int, growStep int64) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &nerrors.IOError{Path: path, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &nerrors.IOError{Path: path, Err: err}
	}

	s := &Store{file: f, recordSize: recordSize, growStep: growStep, path: path}

	if info.Size() < int64(headerPage) {
		if err := f.Truncate(int64(headerPage)); err != nil {
			f.Close()
			return nil, err
		}
		if err := s.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := s.mapFile(); err != nil {
		f.Close()
		return nil, err
	}
	if err := s.readHeader(); err != nil {
		s.mapping.Unmap()
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) mapFile() error {
	m, err := mmap.Map(s.file, mmap.RDWR, 0)
	if err != nil {
		return &nerrors.IOError{Path: s.path, Err: err}
	}
	s.mapping = m
	return nil
}

func (s *Store) writeHeader() error {
	var buf [headerEncodedSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], fixedMagic)
	binary.LittleEndian.PutUint32(buf[4:8], fixedVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.recordSize))
	binary.LittleEndian.PutUint64(buf[16:24], 0)
	binary.LittleEndian.PutUint64(buf[24:32], 0)
	binary.LittleEndian.PutUint64(buf[32:40], 0)
	if _, err := s.file.WriteAt(buf[:], 0); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *Store) readHeader() error {
	magic := binary.LittleEndian.Uint32(s.mapping[0:4])
	if magic != fixedMagic {
		return &nerrors.CorruptRecordError{Store: s.path, Offset: 0, Reason: "bad magic"}
	}
	version := binary.LittleEndian.Uint32(s.mapping[4:8])
	if version != fixedVersion {
		return &nerrors.CorruptRecordError{Store: s.path, Offset: 0, Reason: "unsupported version"}
	}
	recSize := binary.LittleEndian.Uint32(s.mapping[8:12])
	if int(recSize) != s.recordSize {
		return &nerrors.CorruptRecordError{Store: s.path, Offset: 0, Reason: "record size mismatch"}
	}
	s.nextID = binary.LittleEndian.Uint64(s.mapping[16:24])
	s.liveCount = binary.LittleEndian.Uint64(s.mapping[24:32])
	return nil
}

func (s *Store) persistCounters() {
	binary.LittleEndian.PutUint64(s.mapping[16:24], s.nextID)
	binary.LittleEndian.PutUint64(s.mapping[24:32], s.liveCount)
}

// AllocateID reserves and returns the next dense id, growing the mapping if
// the new id would fall past the current capacity.
func (s *Store) AllocateID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	if err := s.ensureCapacityLocked(id + 1); err != nil {
		return 0, err
	}
	s.nextID++
	s.liveCount++
	s.persistCounters()
	return id, nil
}

func (s *Store) capacity() uint64 {
	return uint64(len(s.mapping)-headerPage) / uint64(s.recordSize)
}

func (s *Store) ensureCapacityLocked(minIDs uint64) error {
	if minIDs <= s.capacity() {
		return nil
	}
	recordsPerGrow := s.growStep / int64(s.recordSize)
	if recordsPerGrow < 1 {
		recordsPerGrow = 1
	}
	newRecordCount := s.capacity() + uint64(recordsPerGrow)
	for newRecordCount < minIDs {
		newRecordCount += uint64(recordsPerGrow)
	}
	newSize := int64(headerPage) + int64(newRecordCount)*int64(s.recordSize)

	if err := s.mapping.Unmap(); err != nil {
		return err
	}
	if err := s.file.Truncate(newSize); err != nil {
		return err
	}
	return s.mapFile()
}

// WriteRecord writes raw bytes (len(data) must equal recordSize) at id.
func (s *Store) WriteRecord(id uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureCapacityLocked(id + 1); err != nil {
		return err
	}
	off := int64(headerPage) + int64(id)*int64(s.recordSize)
	copy(s.mapping[off:off+int64(s.recordSize)], data)
	return nil
}

// ReadRecord copies the raw record bytes at id into dst (len(dst) must
// equal recordSize).
func (s *Store) ReadRecord(id uint64, dst []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id >= s.capacity() {
		return &nerrors.NotFoundError{What: "record", ID: fmt.Sprintf("%d", id)}
	}
	off := int64(headerPage) + int64(id)*int64(s.recordSize)
	copy(dst, s.mapping[off:off+int64(s.recordSize)])
	return nil
}

// NextID returns the id that will be handed out by the next AllocateID
// call, i.e. one past the highest allocated id — used by iteration.
func (s *Store) NextID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// EnsureNextID raises the next-id counter to at least id+1, growing
// capacity if needed. WAL replay at recovery calls this before writing a
// replayed record: the header's persisted counters are only as durable as
// the last successful Flush, so a crash between AllocateID and the next
// checkpoint can leave nextID trailing the ids the WAL already committed.
func (s *Store) EnsureNextID(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureCapacityLocked(id + 1); err != nil {
		return err
	}
	if id+1 > s.nextID {
		s.nextID = id + 1
	}
	s.persistCounters()
	return nil
}

func (s *Store) DecrementLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveCount--
	s.persistCounters()
}

// Flush syncs the mapping and header to disk.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping.Flush()
}

// FlushAsync asks the OS to start writing dirty pages back without
// blocking the caller. Durability still comes from the WAL's own fsync
// discipline; this only shortens the next checkpoint's sync.
func (s *Store) FlushAsync() {
	go func() { _ = s.Flush() }()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mapping.Flush(); err != nil {
		s.mapping.Unmap()
		s.file.Close()
		return err
	}
	if err := s.mapping.Unmap(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *Store) RecordSize() int { return s.recordSize }
