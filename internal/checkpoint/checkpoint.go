// Package checkpoint holds the one durability primitive every persisted
// structure in Nexus shares: atomic write-temp-then-rename, so a crash
// mid-write never leaves a half-written snapshot visible to the next
// Open. Each structure brings its own encoding (BSON for the catalog, WAL
// payloads and HNSW embeddings, roaring's wire format for label bitmaps,
// a flat node-id list followed by a BSON values blob for the property
// index); what they share is only the rename discipline.
package checkpoint

import (
	"fmt"
	"os"
)

// WriteAtomic writes data to path via a sibling temp file and rename.
func WriteAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	return os.Rename(tmp, path)
}
