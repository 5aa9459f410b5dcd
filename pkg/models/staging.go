package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StagedRow is a durably persisted copy of one source row, pending
// transformation into the target schema. RowIndex is monotonic per dataset
// and ordering is preserved through staging and cursor re-reads.
type StagedRow struct {
	ID        int64           `json:"id"`
	JobID     uuid.UUID       `json:"job_id"`
	Dataset   string          `json:"dataset"`
	RowIndex  int             `json:"row_index"`
	Data      json.RawMessage `json:"data"`
	Processed bool            `json:"processed"`
	Error     string          `json:"error,omitempty"`

	// Denormalized scalar columns pulled out of specific dataset shapes so
	// the apply phase can scan them without re-parsing large JSON payloads.
	FieldName  string `json:"field_name,omitempty"`
	FieldValue string `json:"field_value,omitempty"`
	Text1      string `json:"text1,omitempty"`
	Text2      string `json:"text2,omitempty"`
	Text3      string `json:"text3,omitempty"`
	Text4      string `json:"text4,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// StageRow is the write-side shape handed to the staging store by the
// extractor: the row's position in its dataset plus the raw payload.
type StageRow struct {
	Index int
	Data  json.RawMessage
}

// MappingTargetType distinguishes whether an entity mapping points at an
// entity that already existed (map) or one the apply phase created (create).
type MappingTargetType string

const (
	MappingTargetMap    MappingTargetType = "map"
	MappingTargetCreate MappingTargetType = "create"
)

// EntityMapping is a persisted source-id to target-id correspondence for one
// entity type within one job. Upserted on (job, entity type, source id);
// later apply sessions resolve previously created targets through it instead
// of re-deriving them.
type EntityMapping struct {
	ID         int64             `json:"id"`
	JobID      uuid.UUID         `json:"job_id"`
	EntityType string            `json:"entity_type"`
	SourceID   int64             `json:"source_id"`
	TargetID   *uuid.UUID        `json:"target_id,omitempty"`
	TargetType MappingTargetType `json:"target_type"`
	Metadata   json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
