package recordstore

import "encoding/binary"

// NodeRecordSize: createEpoch(8) + deleteEpoch(8) + flags(1) +
// inlineLabelCount(1) + pad(2) + inlineLabels(4*4=16) + propertyOffset(8)
// = 44, rounded to 48 for alignment headroom. deleteEpoch is kept apart
// from createEpoch (rather than overwriting it on delete) since a reader
// snapshotted between the two epochs must still see the node as live.
const NodeRecordSize = 48

const (
	nodeFlagAllocated uint8 = 1 << 0
	nodeFlagTombstone uint8 = 1 << 1
	nodeFlagOverflow  uint8 = 1 << 2 // more labels than fit inline; consult the label bitmap index
)

const maxInlineLabels = 4

// NodeRecord is the fixed-width on-disk shape of one node. Up to
// maxInlineLabels label ids are carried inline as a fast path for the
// common single/double-label case; a node with more labels sets the
// overflow flag and the Label Bitmap Index becomes the source of truth
// for its full label set.
type NodeRecord struct {
	CreateEpoch      uint64
	DeleteEpoch      uint64
	Tombstone        bool
	Overflow         bool
	InlineLabels     [maxInlineLabels]uint32
	InlineLabelCount uint8
	PropertyOffset   int64
}

func (r *NodeRecord) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], r.CreateEpoch)
	binary.LittleEndian.PutUint64(buf[8:16], r.DeleteEpoch)
	var flags uint8 = nodeFlagAllocated
	if r.Tombstone {
		flags |= nodeFlagTombstone
	}
	if r.Overflow {
		flags |= nodeFlagOverflow
	}
	buf[16] = flags
	buf[17] = r.InlineLabelCount
	for i := 0; i < maxInlineLabels; i++ {
		binary.LittleEndian.PutUint32(buf[20+i*4:24+i*4], r.InlineLabels[i])
	}
	binary.LittleEndian.PutUint64(buf[36:44], uint64(r.PropertyOffset))
}

func (r *NodeRecord) decode(buf []byte) (allocated bool) {
	r.CreateEpoch = binary.LittleEndian.Uint64(buf[0:8])
	r.DeleteEpoch = binary.LittleEndian.Uint64(buf[8:16])
	flags := buf[16]
	allocated = flags&nodeFlagAllocated != 0
	r.Tombstone = flags&nodeFlagTombstone != 0
	r.Overflow = flags&nodeFlagOverflow != 0
	r.InlineLabelCount = buf[17]
	for i := 0; i < maxInlineLabels; i++ {
		r.InlineLabels[i] = binary.LittleEndian.Uint32(buf[20+i*4 : 24+i*4])
	}
	r.PropertyOffset = int64(binary.LittleEndian.Uint64(buf[36:44]))
	return allocated
}

// DecodeNodeRecord decodes a raw record buffer into a NodeRecord,
// reporting whether the slot was ever allocated. Page-cache hits hand the
// executor raw bytes it never read through the store itself, so the
// decode step has to be reachable from outside the package.
func DecodeNodeRecord(buf []byte) (*NodeRecord, bool) {
	rec := &NodeRecord{}
	allocated := rec.decode(buf)
	return rec, allocated
}

// NodeStore is the Store specialization for node records.
type NodeStore struct {
	*Store
}

func OpenNodeStore(path string, growStep int64) (*NodeStore, error) {
	s, err := Open(path, NodeRecordSize, growStep)
	if err != nil {
		return nil, err
	}
	return &NodeStore{s}, nil
}

func (ns *NodeStore) Put(id uint64, rec *NodeRecord) error {
	var buf [NodeRecordSize]byte
	rec.encode(buf[:])
	return ns.WriteRecord(id, buf[:])
}

// Get returns the record at id and whether it has ever been allocated.
func (ns *NodeStore) Get(id uint64) (*NodeRecord, bool, error) {
	var buf [NodeRecordSize]byte
	if err := ns.ReadRecord(id, buf[:]); err != nil {
		return nil, false, err
	}
	rec := &NodeRecord{}
	allocated := rec.decode(buf[:])
	return rec, allocated, nil
}
