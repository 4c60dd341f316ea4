package catalog

import (
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hivellm/nexus/internal/checkpoint"
)

const snapshotFile = "catalog.bson"

type nameID struct {
	Name string `bson:"name"`
	ID   ID     `bson:"id"`
}

type indexSnap struct {
	LabelID ID   `bson:"label_id"`
	PropID  ID   `bson:"prop_id"`
	Unique  bool `bson:"unique"`
}

// snapshot is the durable shape of a Catalog: the three name<->id maps
// plus declared index specs. Per-label/per-type counts are NOT persisted
// here — they're rebuilt when the engine facade's recovery replays the
// WAL, the same way adjacency and label-bitmap membership are, so a
// counter can never drift from what the log holds.
type snapshot struct {
	Labels   []nameID    `bson:"labels"`
	Types    []nameID    `bson:"types"`
	PropKeys []nameID    `bson:"prop_keys"`
	Indexes  []indexSnap `bson:"indexes"`
}

// Save durably snapshots the name<->id tables and declared indexes under
// dir, using the shared write-temp-then-rename primitive every other
// persisted structure in Nexus goes through.
func (c *Catalog) Save(dir string) error {
	c.mu.RLock()
	snap := snapshot{}
	for name, id := range c.labelNameToID {
		snap.Labels = append(snap.Labels, nameID{Name: name, ID: id})
	}
	for name, id := range c.typeNameToID {
		snap.Types = append(snap.Types, nameID{Name: name, ID: id})
	}
	for name, id := range c.propKeyNameToID {
		snap.PropKeys = append(snap.PropKeys, nameID{Name: name, ID: id})
	}
	for _, spec := range c.indexes {
		snap.Indexes = append(snap.Indexes, indexSnap{LabelID: spec.Key.LabelID, PropID: spec.Key.PropID, Unique: spec.Unique})
	}
	c.mu.RUnlock()

	data, err := bson.Marshal(snap)
	if err != nil {
		return err
	}
	return checkpoint.WriteAtomic(filepath.Join(dir, snapshotFile), data)
}

// Load restores a Catalog from a snapshot written by Save. A missing
// snapshot file is not an error — it means a fresh database with no
// schema allocated yet, and New's zero-valued counters are already
// correct for that case.
func (c *Catalog) Load(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap snapshot
	if err := bson.Unmarshal(data, &snap); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range snap.Labels {
		c.labelNameToID[e.Name] = e.ID
		c.labelIDToName[e.ID] = e.Name
		c.labelCounts[e.ID] = new(int64)
		if e.ID >= c.nextLabelID {
			c.nextLabelID = e.ID + 1
		}
	}
	for _, e := range snap.Types {
		c.typeNameToID[e.Name] = e.ID
		c.typeIDToName[e.ID] = e.Name
		c.typeCounts[e.ID] = new(int64)
		if e.ID >= c.nextTypeID {
			c.nextTypeID = e.ID + 1
		}
	}
	for _, e := range snap.PropKeys {
		c.propKeyNameToID[e.Name] = e.ID
		c.propKeyIDToName[e.ID] = e.Name
		if e.ID >= c.nextPropKeyID {
			c.nextPropKeyID = e.ID + 1
		}
	}
	for _, e := range snap.Indexes {
		key := IndexKey{LabelID: e.LabelID, PropID: e.PropID}
		c.indexes[key] = IndexSpec{Key: key, Unique: e.Unique}
	}
	return nil
}
