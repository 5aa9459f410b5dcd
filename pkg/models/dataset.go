package models

import "encoding/json"

// Well-known dataset names in the source export. The extractor discovers
// datasets structurally; these names are only interpreted downstream when
// deciding which datasets to preserve and which importer consumes them.
const (
	DatasetWorkflows      = "workflows"
	DatasetStatuses       = "statuses"
	DatasetRoles          = "roles"
	DatasetGroups         = "groups"
	DatasetTags           = "tags"
	DatasetUsers          = "users"
	DatasetConfigurations = "configurations"
	DatasetTemplates      = "templates"
	DatasetTemplateFields = "template_fields"
	DatasetCaseFields     = "case_fields"
	DatasetCases          = "repository_cases"
	DatasetRuns           = "runs"
	DatasetResults        = "run_results"
	DatasetIssues         = "issues"
)

// DatasetSummary describes one logical dataset discovered in the export.
// Truncated is true whenever not every row was retained in memory.
type DatasetSummary struct {
	Name       string            `json:"name"`
	RowCount   int               `json:"row_count"`
	Schema     json.RawMessage   `json:"schema,omitempty"`
	SampleRows []json.RawMessage `json:"sample_rows"`
	Truncated  bool              `json:"truncated"`
}

// ExtractMeta aggregates counters across all datasets of one extraction.
type ExtractMeta struct {
	TotalRows  int  `json:"total_rows"`
	StagedRows int  `json:"staged_rows"`
	Truncated  bool `json:"truncated"`
	Datasets   int  `json:"datasets"`
}

// DatasetPreview is the operator-facing read model derived from a
// DatasetSummary, served by the job status API.
type DatasetPreview struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	RowCount       int               `json:"row_count"`
	SampleRowCount int               `json:"sample_row_count"`
	Truncated      bool              `json:"truncated"`
	Schema         json.RawMessage   `json:"schema,omitempty"`
	SampleRows     []json.RawMessage `json:"sample_rows"`
	AllRows        []json.RawMessage `json:"all_rows,omitempty"`
}

// PreviewFromSummary projects a DatasetSummary into its API read model.
func PreviewFromSummary(jobID string, s *DatasetSummary) *DatasetPreview {
	return &DatasetPreview{
		ID:             jobID + "/" + s.Name,
		Name:           s.Name,
		RowCount:       s.RowCount,
		SampleRowCount: len(s.SampleRows),
		Truncated:      s.Truncated,
		Schema:         s.Schema,
		SampleRows:     s.SampleRows,
	}
}
