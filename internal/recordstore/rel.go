package recordstore

import "encoding/binary"

// RelRecordSize: createEpoch(8) + deleteEpoch(8) + flags(1) + pad(3) +
// typeID(4) + sourceID(8) + targetID(8) + propertyOffset(8) = 48.
const RelRecordSize = 48

const (
	relFlagAllocated uint8 = 1 << 0
	relFlagTombstone uint8 = 1 << 1
)

// RelRecord is the fixed-width on-disk shape of one relationship.
type RelRecord struct {
	CreateEpoch    uint64
	DeleteEpoch    uint64
	Tombstone      bool
	TypeID         uint32
	SourceID       uint64
	TargetID       uint64
	PropertyOffset int64
}

func (r *RelRecord) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], r.CreateEpoch)
	binary.LittleEndian.PutUint64(buf[8:16], r.DeleteEpoch)
	var flags uint8 = relFlagAllocated
	if r.Tombstone {
		flags |= relFlagTombstone
	}
	buf[16] = flags
	binary.LittleEndian.PutUint32(buf[20:24], r.TypeID)
	binary.LittleEndian.PutUint64(buf[24:32], r.SourceID)
	binary.LittleEndian.PutUint64(buf[32:40], r.TargetID)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(r.PropertyOffset))
}

func (r *RelRecord) decode(buf []byte) (allocated bool) {
	r.CreateEpoch = binary.LittleEndian.Uint64(buf[0:8])
	r.DeleteEpoch = binary.LittleEndian.Uint64(buf[8:16])
	flags := buf[16]
	allocated = flags&relFlagAllocated != 0
	r.Tombstone = flags&relFlagTombstone != 0
	r.TypeID = binary.LittleEndian.Uint32(buf[20:24])
	r.SourceID = binary.LittleEndian.Uint64(buf[24:32])
	r.TargetID = binary.LittleEndian.Uint64(buf[32:40])
	r.PropertyOffset = int64(binary.LittleEndian.Uint64(buf[40:48]))
	return allocated
}

// DecodeRelRecord is DecodeNodeRecord's counterpart for relationship
// record buffers.
func DecodeRelRecord(buf []byte) (*RelRecord, bool) {
	rec := &RelRecord{}
	allocated := rec.decode(buf)
	return rec, allocated
}

// RelStore is the Store specialization for relationship records.
type RelStore struct {
	*Store
}

func OpenRelStore(path string, growStep int64) (*RelStore, error) {
	s, err := Open(path, RelRecordSize, growStep)
	if err != nil {
		return nil, err
	}
	return &RelStore{s}, nil
}

func (rs *RelStore) Put(id uint64, rec *RelRecord) error {
	var buf [RelRecordSize]byte
	rec.encode(buf[:])
	return rs.WriteRecord(id, buf[:])
}

func (rs *RelStore) Get(id uint64) (*RelRecord, bool, error) {
	var buf [RelRecordSize]byte
	if err := rs.ReadRecord(id, buf[:]); err != nil {
		return nil, false, err
	}
	rec := &RelRecord{}
	allocated := rec.decode(buf[:])
	return rec, allocated, nil
}
