package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MappingAction is the operator decision for one source entity.
type MappingAction string

const (
	ActionMap    MappingAction = "map"
	ActionCreate MappingAction = "create"
)

// WorkflowPhase is the target lifecycle phase a source workflow maps onto.
type WorkflowPhase string

const (
	PhaseNotStarted WorkflowPhase = "not-started"
	PhaseInProgress WorkflowPhase = "in-progress"
	PhaseDone       WorkflowPhase = "done"
)

// FieldScope qualifies whether a custom field attaches to cases or results.
type FieldScope string

const (
	ScopeCase   FieldScope = "case"
	ScopeResult FieldScope = "result"
)

// FieldType is the closed set of supported custom-field types.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeDropdown    FieldType = "dropdown"
	FieldTypeMultiselect FieldType = "multiselect"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeInteger     FieldType = "integer"
	FieldTypeDate        FieldType = "date"
	FieldTypeURL         FieldType = "url"
	FieldTypeUser        FieldType = "user"
)

// ValidFieldType reports whether t is one of the supported field types.
func ValidFieldType(t FieldType) bool {
	switch t {
	case FieldTypeText, FieldTypeTextarea, FieldTypeDropdown, FieldTypeMultiselect,
		FieldTypeCheckbox, FieldTypeInteger, FieldTypeDate, FieldTypeURL, FieldTypeUser:
		return true
	}
	return false
}

// DropdownOption is the canonical shape of one dropdown/multiselect option.
// Exactly one option in a set carries IsDefault.
type DropdownOption struct {
	Name        string `json:"name"`
	IconID      *int64 `json:"icon_id,omitempty"`
	IconColorID *int64 `json:"icon_color_id,omitempty"`
	IsEnabled   bool   `json:"is_enabled"`
	IsDefault   bool   `json:"is_default"`
	Order       int    `json:"order"`
}

// MappingRef is the part every per-entity mapping record shares. For a map
// action exactly one of MappedTo (an existing target entity) or
// MappedToSource (a sibling source entity created earlier in the same run)
// is set; for a create action both are nil.
type MappingRef struct {
	Action         MappingAction `json:"action"`
	MappedTo       *uuid.UUID    `json:"mapped_to,omitempty"`
	MappedToSource *int64        `json:"mapped_to_source,omitempty"`
}

// HasTarget reports whether a map action carries a resolvable reference.
func (r *MappingRef) HasTarget() bool {
	return r.MappedTo != nil || r.MappedToSource != nil
}

// WorkflowMapping configures one source workflow.
type WorkflowMapping struct {
	MappingRef
	Name      string        `json:"name,omitempty"`
	Phase     WorkflowPhase `json:"phase,omitempty"`
	Color     string        `json:"color,omitempty"`
	IsDefault bool          `json:"is_default,omitempty"`
}

// StatusMapping configures one source status.
type StatusMapping struct {
	MappingRef
	Name        string `json:"name,omitempty"`
	Color       string `json:"color,omitempty"`
	IsCompleted bool   `json:"is_completed,omitempty"`
	IsDefault   bool   `json:"is_default,omitempty"`
}

// RoleMapping configures one source role.
type RoleMapping struct {
	MappingRef
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// GroupMapping configures one source group.
type GroupMapping struct {
	MappingRef
	Name string `json:"name,omitempty"`
}

// TagMapping configures one source tag.
type TagMapping struct {
	MappingRef
	Name string `json:"name,omitempty"`
}

// UserMapping configures one source user.
type UserMapping struct {
	MappingRef
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	IsActive bool   `json:"is_active,omitempty"`
}

// ConfigurationMapping configures one source configuration group.
type ConfigurationMapping struct {
	MappingRef
	Name    string           `json:"name,omitempty"`
	Options []DropdownOption `json:"options,omitempty"`
}

// TemplateMapping configures one source case template.
type TemplateMapping struct {
	MappingRef
	Name      string `json:"name,omitempty"`
	IsDefault bool   `json:"is_default,omitempty"`
}

// FieldMapping configures one source custom field.
type FieldMapping struct {
	MappingRef
	Name       string           `json:"name,omitempty"`
	SystemName string           `json:"system_name,omitempty"`
	Type       FieldType        `json:"type,omitempty"`
	Scope      FieldScope       `json:"scope,omitempty"`
	Required   bool             `json:"required,omitempty"`
	Options    []DropdownOption `json:"options,omitempty"`
	Templates  []int64          `json:"templates,omitempty"`
}

// MappingConfig is the operator-approved, fully-typed table of map/create
// decisions driving the apply engine, keyed by entity-type collection and
// source id.
type MappingConfig struct {
	Workflows      map[int64]*WorkflowMapping      `json:"workflows,omitempty"`
	Statuses       map[int64]*StatusMapping        `json:"statuses,omitempty"`
	Roles          map[int64]*RoleMapping          `json:"roles,omitempty"`
	Groups         map[int64]*GroupMapping         `json:"groups,omitempty"`
	Tags           map[int64]*TagMapping           `json:"tags,omitempty"`
	Users          map[int64]*UserMapping          `json:"users,omitempty"`
	Configurations map[int64]*ConfigurationMapping `json:"configurations,omitempty"`
	Templates      map[int64]*TemplateMapping      `json:"templates,omitempty"`
	Fields         map[int64]*FieldMapping         `json:"fields,omitempty"`
}

// Clone returns a deep structural copy via JSON round-trip. The mapping
// configuration exchange format is JSON, so this is lossless by construction.
func (c *MappingConfig) Clone() (*MappingConfig, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize mapping config: %w", err)
	}
	out := &MappingConfig{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to deserialize mapping config: %w", err)
	}
	return out, nil
}
