package importers

import (
	"github.com/google/uuid"

	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
)

// chunkState buffers everything one chunk computes. Session-wide state (ID
// maps, name cache, summary counters) must only change after the chunk's
// transaction commits; a rolled-back chunk that leaked IDs would let later
// importers resolve references to entities that were never written.
type chunkState struct {
	entity  string
	done    []int64
	failed  map[int64]string
	ids     map[int64]uuid.UUID
	names   map[string]uuid.UUID
	created int
	mapped  int
	skipped int
	details []string
}

func newChunkState(entity string) *chunkState {
	return &chunkState{
		entity: entity,
		failed: make(map[int64]string),
		ids:    make(map[int64]uuid.UUID),
		names:  make(map[string]uuid.UUID),
	}
}

// skip records a row-level skip: the cause lands both on the staging row and
// in the summary details.
func (c *chunkState) skip(rowID int64, cause string) {
	c.skipped++
	c.details = append(c.details, cause)
	c.failed[rowID] = cause
}

// commit folds the chunk's outcome into the session. Called only after the
// chunk transaction has committed.
func (c *chunkState) commit(rc *RunContext, summary *EntitySummary) repositories.BatchResult {
	for src, id := range c.ids {
		rc.IDMaps.Set(c.entity, src, id)
	}
	for name, id := range c.names {
		rc.Names.Put(c.entity, name, id)
	}
	summary.Total += c.created + c.mapped + c.skipped
	summary.Created += c.created
	summary.Mapped += c.mapped
	summary.Skipped += c.skipped
	summary.Details = append(summary.Details, c.details...)
	return repositories.BatchResult{Done: c.done, Failed: c.failed}
}
