package walog

import "go.mongodb.org/mongo-driver/v2/bson"

// NodePutPayload carries everything a PutNode entry's replay needs to
// reconstruct a node record and every index touched by its creation or
// property rewrite, without consulting the record store (which may be the
// very thing recovery is rebuilding).
type NodePutPayload struct {
	NodeID uint64   `bson:"node_id"`
	Labels []uint32 `bson:"labels"`
	Props  []byte   `bson:"props"` // gvalue.MarshalProperties output
}

// RelPutPayload is PutRel's replay counterpart.
type RelPutPayload struct {
	RelID  uint64 `bson:"rel_id"`
	TypeID uint32 `bson:"type_id"`
	Source uint64 `bson:"source"`
	Target uint64 `bson:"target"`
	Props  []byte `bson:"props"`
}

// TombstonePayload is shared by DelNode and DelRel: deletion only needs the
// id, since the record itself is already durable and only its tombstone
// flag and delete-epoch change.
type TombstonePayload struct {
	ID uint64 `bson:"id"`
}

func EncodeNodePut(p NodePutPayload) ([]byte, error)  { return bson.Marshal(p) }
func DecodeNodePut(data []byte) (NodePutPayload, error) {
	var p NodePutPayload
	err := bson.Unmarshal(data, &p)
	return p, err
}

func EncodeRelPut(p RelPutPayload) ([]byte, error) { return bson.Marshal(p) }
func DecodeRelPut(data []byte) (RelPutPayload, error) {
	var p RelPutPayload
	err := bson.Unmarshal(data, &p)
	return p, err
}

func EncodeTombstone(id uint64) ([]byte, error) { return bson.Marshal(TombstonePayload{ID: id}) }
func DecodeTombstone(data []byte) (TombstonePayload, error) {
	var p TombstonePayload
	err := bson.Unmarshal(data, &p)
	return p, err
}
