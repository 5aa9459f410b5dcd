// Package models contains domain types for caseflow-engine.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Project is the tenancy root every migrated entity belongs to.
type Project struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Workflow is a target lifecycle workflow (e.g. "Draft", "In Review").
type Workflow struct {
	ID        uuid.UUID     `json:"id"`
	ProjectID uuid.UUID     `json:"project_id"`
	Name      string        `json:"name"`
	Phase     WorkflowPhase `json:"phase"`
	Color     string        `json:"color,omitempty"`
	IsDefault bool          `json:"is_default"`
	CreatedAt time.Time     `json:"created_at"`
}

// Status is a target result status (e.g. "Passed", "Failed").
type Status struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	Name        string    `json:"name"`
	Color       string    `json:"color,omitempty"`
	IsCompleted bool      `json:"is_completed"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role is a target permission role.
type Role struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// Group is a target user group.
type Group struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag is a target tag.
type Tag struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a target user account.
type User struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ConfigGroup is a target configuration dimension (e.g. "Browser") with its
// selectable options.
type ConfigGroup struct {
	ID        uuid.UUID        `json:"id"`
	ProjectID uuid.UUID        `json:"project_id"`
	Name      string           `json:"name"`
	Options   []DropdownOption `json:"options"`
	CreatedAt time.Time        `json:"created_at"`
}

// Template is a target case template.
type Template struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// CaseField is a target custom field, attached to one or more templates.
type CaseField struct {
	ID          uuid.UUID        `json:"id"`
	ProjectID   uuid.UUID        `json:"project_id"`
	Name        string           `json:"name"`
	SystemName  string           `json:"system_name"`
	Type        FieldType        `json:"type"`
	Scope       FieldScope       `json:"scope"`
	Required    bool             `json:"required"`
	Options     []DropdownOption `json:"options,omitempty"`
	TemplateIDs []uuid.UUID      `json:"template_ids,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// TestCase is a target test case.
type TestCase struct {
	ID             uuid.UUID       `json:"id"`
	ProjectID      uuid.UUID       `json:"project_id"`
	TemplateID     *uuid.UUID      `json:"template_id,omitempty"`
	Title          string          `json:"title"`
	Classification string          `json:"classification,omitempty"` // e.g. automation class/package
	Steps          string          `json:"steps,omitempty"`
	ExpectedResult string          `json:"expected_result,omitempty"`
	Preconditions  string          `json:"preconditions,omitempty"`
	Description    string          `json:"description,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TestRun is a target test run.
type TestRun struct {
	ID            uuid.UUID  `json:"id"`
	ProjectID     uuid.UUID  `json:"project_id"`
	Name          string     `json:"name"`
	ConfigGroupID *uuid.UUID `json:"config_group_id,omitempty"`
	ConfigOption  string     `json:"config_option,omitempty"`
	IsClosed      bool       `json:"is_closed"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TestResult is a target test result linking a run and a case.
type TestResult struct {
	ID          uuid.UUID       `json:"id"`
	ProjectID   uuid.UUID       `json:"project_id"`
	RunID       uuid.UUID       `json:"run_id"`
	CaseID      uuid.UUID       `json:"case_id"`
	StatusID    *uuid.UUID      `json:"status_id,omitempty"`
	ExecutedBy  *uuid.UUID      `json:"executed_by,omitempty"`
	Comment     string          `json:"comment,omitempty"`
	Elapsed     *int64          `json:"elapsed_seconds,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ExecutedAt  *time.Time      `json:"executed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IssueProvider identifies an external issue tracker. The set is closed;
// unknown providers are rejected during normalization.
type IssueProvider string

const (
	ProviderJira   IssueProvider = "jira"
	ProviderGitHub IssueProvider = "github"
	ProviderGitLab IssueProvider = "gitlab"
	ProviderAzure  IssueProvider = "azure_devops"
)

// ValidIssueProvider reports whether p is a supported issue provider.
func ValidIssueProvider(p IssueProvider) bool {
	switch p {
	case ProviderJira, ProviderGitHub, ProviderGitLab, ProviderAzure:
		return true
	}
	return false
}

// IssueLink links a migrated case or result to an external issue.
type IssueLink struct {
	ID         uuid.UUID     `json:"id"`
	ProjectID  uuid.UUID     `json:"project_id"`
	CaseID     *uuid.UUID    `json:"case_id,omitempty"`
	ResultID   *uuid.UUID    `json:"result_id,omitempty"`
	Provider   IssueProvider `json:"provider"`
	ExternalID string        `json:"external_id"`
	URL        string        `json:"url,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}
