package nexus

import (
	"io"
	"os"

	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/executor"
	"github.com/hivellm/nexus/internal/gvalue"
	"github.com/hivellm/nexus/internal/nerrors"
	"github.com/hivellm/nexus/internal/recordstore"
	"github.com/hivellm/nexus/internal/walog"
)

// nodeRecoverState and relRecoverState track a record's latest replayed
// shape across the WAL scan, keyed by id. They carry the full label/type
// list the original WAL payload held (not the record's inline-4 slots),
// so recovery never has to resolve a node's overflowed label set through
// the label bitmap index the replay itself is in the middle of rebuilding.
type nodeRecoverState struct {
	labels      []catalog.ID
	props       gvalue.PropertyMap
	propOffset  int64
	createEpoch uint64
}

type relRecoverState struct {
	typeID      catalog.ID
	source      uint64
	target      uint64
	createEpoch uint64
}

// recover replays walPath's committed transactions into the record
// stores and rebuilds every in-memory index over the result: scan the
// whole WAL segment from its first entry, and for each entry whose tx_id
// has a matching Commit record, re-apply its mutations; uncommitted
// transactions are discarded. Replay does not start at the last
// checkpoint: the checkpoint epoch recorded in meta.json is not read here. It returns the highest epoch seen so Open
// can fast-forward the transaction manager's counter past it.
func (e *Engine) recover(walPath string) (uint64, error) {
	// A fresh database has a CURRENT pointer but no segment yet; the
	// writer creates it on first append.
	if _, err := os.Stat(walPath); os.IsNotExist(err) {
		return 0, nil
	}
	committed, maxEpoch, err := scanCommittedEpochs(walPath)
	if err != nil {
		return 0, err
	}
	if len(committed) == 0 {
		return maxEpoch, nil
	}

	r, err := walog.NewReader(walPath)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	nodes := make(map[uint64]*nodeRecoverState)
	rels := make(map[uint64]*relRecoverState)

	for {
		entry, err := r.ReadEntry()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return 0, &nerrors.CorruptRecordError{Store: "wal", Reason: err.Error()}
		}
		epoch := entry.Header.LSN
		if !committed[epoch] {
			continue
		}
		switch walog.EntryType(entry.Header.EntryType) {
		case walog.EntryPutNode:
			if err := e.replayPutNode(entry, epoch, nodes); err != nil {
				return 0, err
			}
		case walog.EntryDelNode:
			if err := e.replayDelNode(entry, epoch, nodes); err != nil {
				return 0, err
			}
		case walog.EntryPutRel:
			if err := e.replayPutRel(entry, epoch, rels); err != nil {
				return 0, err
			}
		case walog.EntryDelRel:
			if err := e.replayDelRel(entry, epoch, rels); err != nil {
				return 0, err
			}
		}
	}

	for id, st := range nodes {
		executor.RebuildNode(e.rt, id, st.labels, st.props)
	}
	for id, st := range rels {
		executor.RebuildRelationship(e.rt, id, st.typeID, st.source, st.target)
	}
	return maxEpoch, nil
}

// scanCommittedEpochs does a first pass over the log to learn which
// epochs have a matching EntryCommit marker, so the replay pass below
// never applies a mutation whose owning transaction never durably
// finished. A torn tail (io.ErrUnexpectedEOF) just stops the scan; the
// partial entry and everything the writer never got to are discarded.
func scanCommittedEpochs(path string) (map[uint64]bool, uint64, error) {
	r, err := walog.NewReader(path)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	committed := make(map[uint64]bool)
	var maxEpoch uint64
	for {
		entry, err := r.ReadEntry()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, 0, &nerrors.CorruptRecordError{Store: "wal", Reason: err.Error()}
		}
		if entry.Header.LSN > maxEpoch {
			maxEpoch = entry.Header.LSN
		}
		if walog.EntryType(entry.Header.EntryType) == walog.EntryCommit {
			committed[entry.Header.LSN] = true
		}
	}
	return committed, maxEpoch, nil
}

func (e *Engine) replayPutNode(entry *walog.Entry, epoch uint64, nodes map[uint64]*nodeRecoverState) error {
	p, err := walog.DecodeNodePut(entry.Payload)
	if err != nil {
		return err
	}
	props, err := gvalue.UnmarshalProperties(p.Props)
	if err != nil {
		return err
	}
	labelIDs := make([]catalog.ID, len(p.Labels))
	for i, l := range p.Labels {
		labelIDs[i] = catalog.ID(l)
	}

	createEpoch := epoch
	if st, ok := nodes[p.NodeID]; ok {
		createEpoch = st.createEpoch
	}

	if err := e.nodes.EnsureNextID(p.NodeID); err != nil {
		return err
	}
	propOffset := int64(-1)
	if len(props) > 0 {
		off, err := e.props.Write(p.Props, epoch, -1)
		if err != nil {
			return err
		}
		propOffset = off
	}
	rec := &recordstore.NodeRecord{CreateEpoch: createEpoch, PropertyOffset: propOffset}
	if len(labelIDs) <= 4 {
		rec.InlineLabelCount = uint8(len(labelIDs))
		copy(rec.InlineLabels[:], labelIDs)
	} else {
		rec.Overflow = true
	}
	if err := e.nodes.Put(p.NodeID, rec); err != nil {
		return err
	}
	nodes[p.NodeID] = &nodeRecoverState{labels: labelIDs, props: props, propOffset: propOffset, createEpoch: createEpoch}
	return nil
}

func (e *Engine) replayDelNode(entry *walog.Entry, epoch uint64, nodes map[uint64]*nodeRecoverState) error {
	t, err := walog.DecodeTombstone(entry.Payload)
	if err != nil {
		return err
	}
	createEpoch := epoch
	propOffset := int64(-1)
	if st, ok := nodes[t.ID]; ok {
		createEpoch = st.createEpoch
		propOffset = st.propOffset
	}
	rec := &recordstore.NodeRecord{CreateEpoch: createEpoch, DeleteEpoch: epoch, Tombstone: true, PropertyOffset: propOffset}
	if err := e.nodes.Put(t.ID, rec); err != nil {
		return err
	}
	delete(nodes, t.ID)
	return nil
}

func (e *Engine) replayPutRel(entry *walog.Entry, epoch uint64, rels map[uint64]*relRecoverState) error {
	p, err := walog.DecodeRelPut(entry.Payload)
	if err != nil {
		return err
	}
	createEpoch := epoch
	if st, ok := rels[p.RelID]; ok {
		createEpoch = st.createEpoch
	}
	if err := e.rels.EnsureNextID(p.RelID); err != nil {
		return err
	}
	propOffset := int64(-1)
	if len(p.Props) > 0 {
		off, err := e.props.Write(p.Props, epoch, -1)
		if err != nil {
			return err
		}
		propOffset = off
	}
	rec := &recordstore.RelRecord{
		CreateEpoch: createEpoch, TypeID: p.TypeID, SourceID: p.Source, TargetID: p.Target, PropertyOffset: propOffset,
	}
	if err := e.rels.Put(p.RelID, rec); err != nil {
		return err
	}
	rels[p.RelID] = &relRecoverState{typeID: p.TypeID, source: p.Source, target: p.Target, createEpoch: createEpoch}
	return nil
}

func (e *Engine) replayDelRel(entry *walog.Entry, epoch uint64, rels map[uint64]*relRecoverState) error {
	t, err := walog.DecodeTombstone(entry.Payload)
	if err != nil {
		return err
	}
	var typeID catalog.ID
	var src, dst uint64
	createEpoch := epoch
	if st, ok := rels[t.ID]; ok {
		typeID, src, dst = st.typeID, st.source, st.target
		createEpoch = st.createEpoch
	}
	rec := &recordstore.RelRecord{
		CreateEpoch: createEpoch, DeleteEpoch: epoch, Tombstone: true, TypeID: typeID, SourceID: src, TargetID: dst,
		PropertyOffset: -1,
	}
	if err := e.rels.Put(t.ID, rec); err != nil {
		return err
	}
	delete(rels, t.ID)
	return nil
}
