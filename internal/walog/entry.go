// Package walog is Nexus's write-ahead log: a 24-byte binary header per
// entry (magic/version/entry-type/LSN/payload-len/crc32) followed by a
// BSON payload, group-committed by a single background writer goroutine.
// The header shape and sync.Pool recycling are carried over from the
// teacher's pkg/wal; the payload codec (BSON, not protobuf) and the
// batched-channel writer are new, since Nexus is multi-writer where the
// teacher's storage engine was not.
package walog

import (
	"encoding/binary"
	"io"
)

const (
	HeaderSize = 24
	Version    = 1
	Magic      = 0xDEADBEEF
)

// EntryType tags what a WAL entry represents. PutNode/DelNode/PutRel/DelRel
// carry a BSON-encoded payload describing the mutation; Begin/Commit/Abort
// are zero-payload transaction markers. CatalogBump is declared but never
// written: catalog allocations are made durable by the catalog's own
// snapshot file, and recovery skips this entry type.
type EntryType uint8

const (
	EntryPutNode EntryType = iota + 1
	EntryDelNode
	EntryPutRel
	EntryDelRel
	EntryBegin
	EntryCommit
	EntryAbort
	EntryCatalogBump
)

type Header struct {
	Magic      uint32
	Version    uint8
	EntryType  uint8
	Reserved   uint16
	LSN        uint64
	PayloadLen uint32
	CRC32      uint32
}

func (h *Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.EntryType
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.LSN)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC32)
}

func (h *Header) Decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.EntryType = buf[5]
	h.Reserved = binary.LittleEndian.Uint16(buf[6:8])
	h.LSN = binary.LittleEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	h.CRC32 = binary.LittleEndian.Uint32(buf[20:24])
}

type Entry struct {
	Header  Header
	Payload []byte
}

// NewEntry builds a checksummed entry ready for Writer.WriteEntry. Callers
// never hand-roll a Header: the checksum has to be computed over the exact
// payload bytes being written, so construction and checksumming stay in one
// place.
func NewEntry(entryType EntryType, lsn uint64, payload []byte) *Entry {
	return &Entry{
		Header: Header{
			Magic:      Magic,
			Version:    Version,
			EntryType:  uint8(entryType),
			LSN:        lsn,
			PayloadLen: uint32(len(payload)),
			CRC32:      CalculateCRC32(payload),
		},
		Payload: payload,
	}
}

func (e *Entry) WriteTo(w io.Writer) (int64, error) {
	var hbuf [HeaderSize]byte
	e.Header.Encode(hbuf[:])
	n, err := w.Write(hbuf[:])
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(e.Payload)
	return int64(n + m), err
}
