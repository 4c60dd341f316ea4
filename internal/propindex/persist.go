package propindex

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hivellm/nexus/internal/btreeindex"
	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/checkpoint"
	"github.com/hivellm/nexus/internal/gvalue"
)

// encodeSnapshot lays out a node-id count, the node ids themselves, then
// the BSON-encoded value blob — the composite tree key (label/key/value/
// node) isn't itself a gvalue.Value, so checkpoint.Manager's gvalue-only
// key codec (internal/checkpoint) can't serialize it directly; this flat
// layout sidesteps that rather than teaching the shared checkpoint codec
// a second key shape only this package needs.
func encodeSnapshot(valuesBlob []byte, nodes []uint64) ([]byte, error) {
	buf := make([]byte, 4+8*len(nodes)+len(valuesBlob))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(nodes)))
	for i, n := range nodes {
		binary.LittleEndian.PutUint64(buf[4+8*i:12+8*i], n)
	}
	copy(buf[4+8*len(nodes):], valuesBlob)
	return buf, nil
}

func decodeSnapshot(data []byte) ([]byte, []uint64, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("propindex: truncated snapshot")
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	nodes := make([]uint64, count)
	for i := range nodes {
		if off+8 > len(data) {
			return nil, nil, fmt.Errorf("propindex: truncated node list")
		}
		nodes[i] = binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
	}
	return data[off:], nodes, nil
}

func fileName(dir string, key catalog.IndexKey) string {
	return filepath.Join(dir, fmt.Sprintf("propindex_%d_%d.bson", key.LabelID, key.PropID))
}

// Snapshot walks idx's tree in key order and returns every (value, node)
// pair it holds, for persistence or for rebuilding an equivalent tree.
func (idx *Index) Snapshot() []struct {
	Value gvalue.Value
	Node  uint64
} {
	var out []struct {
		Value gvalue.Value
		Node  uint64
	}
	c := btreeindex.NewCursor(idx.tree)
	defer c.Close()
	for c.Seek(compositeKey{label: idx.Label, key: idx.Key}); c.Valid(); c.Next() {
		ck, ok := c.Key().(compositeKey)
		if !ok || ck.label != idx.Label || ck.key != idx.Key {
			break
		}
		out = append(out, struct {
			Value gvalue.Value
			Node  uint64
		}{Value: ck.value, Node: ck.node})
	}
	return out
}

// SaveAll snapshots every index in the registry to dir, one file per
// (label, key) pair, using checkpoint.WriteAtomic for crash-safe writes.
func (r *Registry) SaveAll(dir string) error {
	for key, idx := range r.All() {
		entries := idx.Snapshot()
		props := make(gvalue.PropertyMap, len(entries))
		nodes := make([]uint64, len(entries))
		for i, e := range entries {
			props[uint32(i)] = e.Value
			nodes[i] = e.Node
		}
		valuesBlob, err := gvalue.MarshalProperties(props)
		if err != nil {
			return fmt.Errorf("propindex: marshal values for %v: %w", key, err)
		}
		data, err := encodeSnapshot(valuesBlob, nodes)
		if err != nil {
			return fmt.Errorf("propindex: encode snapshot for %v: %w", key, err)
		}
		if err := checkpoint.WriteAtomic(fileName(dir, key), data); err != nil {
			return fmt.Errorf("propindex: write %v: %w", key, err)
		}
	}
	return nil
}

// LoadAll restores every index snapshot found under dir for the
// (label, key) pairs catalog declares, rebuilding each Index's tree from
// its stored (value, node) pairs. Indexes with no snapshot file (never
// checkpointed, or created after the last checkpoint) start empty, the
// same as a fresh Create.
func (r *Registry) LoadAll(dir string, specs []catalog.IndexSpec) error {
	for _, spec := range specs {
		idx := r.Create(spec.Key.LabelID, spec.Key.PropID)
		path := fileName(dir, spec.Key)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("propindex: read %v: %w", spec.Key, err)
		}
		valuesBlob, nodes, err := decodeSnapshot(data)
		if err != nil {
			return fmt.Errorf("propindex: decode %v: %w", spec.Key, err)
		}
		props, err := gvalue.UnmarshalProperties(valuesBlob)
		if err != nil {
			return fmt.Errorf("propindex: unmarshal values for %v: %w", spec.Key, err)
		}
		for i, node := range nodes {
			if err := idx.Add(props[uint32(i)], node); err != nil {
				return fmt.Errorf("propindex: restore %v node %d: %w", spec.Key, node, err)
			}
		}
	}
	return nil
}
