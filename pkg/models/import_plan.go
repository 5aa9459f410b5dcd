package models

// ImportPlan is the analyzer's output: what the export contains, whether the
// operator must configure anything before apply, per-category candidate
// suggestions, and a snapshot of the existing target catalog so the operator
// can choose map-vs-create without a second round trip.
type ImportPlan struct {
	RequiresConfiguration bool            `json:"requires_configuration"`
	Counts                map[string]int  `json:"counts"`
	Suggestions           Suggestions     `json:"suggestions"`
	Catalog               CatalogSnapshot `json:"catalog"`
}

// Suggestions holds per-category candidate entities derived from source rows.
// Every distinct source id appears once, even when names collide.
type Suggestions struct {
	Workflows      []WorkflowSuggestion      `json:"workflows,omitempty"`
	Statuses       []StatusSuggestion        `json:"statuses,omitempty"`
	Roles          []RoleSuggestion          `json:"roles,omitempty"`
	Groups         []GroupSuggestion         `json:"groups,omitempty"`
	Tags           []TagSuggestion           `json:"tags,omitempty"`
	Users          []UserSuggestion          `json:"users,omitempty"`
	Configurations []ConfigurationSuggestion `json:"configurations,omitempty"`
	Templates      []TemplateSuggestion      `json:"templates,omitempty"`
	Fields         []FieldSuggestion         `json:"fields,omitempty"`
}

// WorkflowSuggestion proposes a target workflow for a source workflow row,
// with the lifecycle phase inferred from the workflow's name.
type WorkflowSuggestion struct {
	SourceID int64         `json:"source_id"`
	Name     string        `json:"name"`
	Phase    WorkflowPhase `json:"phase"`
	Color    string        `json:"color,omitempty"`
}

// StatusSuggestion proposes a target status for a source status row.
type StatusSuggestion struct {
	SourceID    int64  `json:"source_id"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	IsCompleted bool   `json:"is_completed"`
}

// RoleSuggestion proposes a target role for a source role row.
type RoleSuggestion struct {
	SourceID    int64    `json:"source_id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

// GroupSuggestion proposes a target group for a source group row.
type GroupSuggestion struct {
	SourceID int64  `json:"source_id"`
	Name     string `json:"name"`
}

// TagSuggestion proposes a target tag for a source tag row.
type TagSuggestion struct {
	SourceID int64  `json:"source_id"`
	Name     string `json:"name"`
}

// UserSuggestion proposes a target user for a source user row.
type UserSuggestion struct {
	SourceID int64  `json:"source_id"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// ConfigurationSuggestion proposes a target configuration group.
type ConfigurationSuggestion struct {
	SourceID int64            `json:"source_id"`
	Name     string           `json:"name"`
	Options  []DropdownOption `json:"options,omitempty"`
}

// TemplateSuggestion proposes a target case template.
type TemplateSuggestion struct {
	SourceID int64  `json:"source_id"`
	Name     string `json:"name"`
}

// FieldSuggestion proposes a target custom field. A field assigned to several
// templates appears once, with Templates holding the union of source
// template ids referencing it.
type FieldSuggestion struct {
	SourceID   int64            `json:"source_id,omitempty"`
	Name       string           `json:"name"`
	SystemName string           `json:"system_name,omitempty"`
	Type       FieldType        `json:"type,omitempty"`
	Scope      FieldScope       `json:"scope"`
	Required   bool             `json:"required"`
	Options    []DropdownOption `json:"options,omitempty"`
	Templates  []int64          `json:"templates,omitempty"`
}

// CatalogSnapshot is the existing target catalog, one list per category.
type CatalogSnapshot struct {
	Workflows    []*Workflow    `json:"workflows"`
	Statuses     []*Status      `json:"statuses"`
	Roles        []*Role        `json:"roles"`
	Groups       []*Group       `json:"groups"`
	Tags         []*Tag         `json:"tags"`
	Users        []*User        `json:"users"`
	ConfigGroups []*ConfigGroup `json:"config_groups"`
	Templates    []*Template    `json:"templates"`
	Fields       []*CaseField   `json:"fields"`
}
