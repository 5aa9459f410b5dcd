package services

import (
	"strings"

	"github.com/google/uuid"

	"github.com/caseflow-io/caseflow-engine/pkg/jsonutil"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// The normalizers in this file are total: any input, however malformed,
// produces a structurally valid record with safe defaults. Whether a record
// is actually usable (e.g. a create with an empty name) is decided later by
// the apply engine, which has the complete picture.

// NormalizeMappingConfig coerces an arbitrary decoded JSON value into a fully
// typed MappingConfig. Unknown categories are ignored; unparseable source id
// keys are dropped.
func NormalizeMappingConfig(raw any) *models.MappingConfig {
	cfg := &models.MappingConfig{}
	obj, ok := jsonutil.AsObject(raw)
	if !ok {
		return cfg
	}

	cfg.Workflows = normalizeCategory(obj, "workflows", NormalizeWorkflowMapping)
	cfg.Statuses = normalizeCategory(obj, "statuses", NormalizeStatusMapping)
	cfg.Roles = normalizeCategory(obj, "roles", NormalizeRoleMapping)
	cfg.Groups = normalizeCategory(obj, "groups", NormalizeGroupMapping)
	cfg.Tags = normalizeCategory(obj, "tags", NormalizeTagMapping)
	cfg.Users = normalizeCategory(obj, "users", NormalizeUserMapping)
	cfg.Configurations = normalizeCategory(obj, "configurations", NormalizeConfigurationMapping)
	cfg.Templates = normalizeCategory(obj, "templates", NormalizeTemplateMapping)
	cfg.Fields = normalizeCategory(obj, "fields", NormalizeFieldMapping)
	return cfg
}

// normalizeCategory applies a per-record normalizer to every entry of one
// category's source-id keyed map.
func normalizeCategory[T any](obj map[string]any, key string, fn func(any) *T) map[int64]*T {
	raw, ok := obj[key]
	if !ok {
		return nil
	}
	entries, ok := jsonutil.AsObject(raw)
	if !ok {
		return nil
	}

	out := make(map[int64]*T, len(entries))
	for k, v := range entries {
		id, ok := jsonutil.Int64(k)
		if !ok {
			continue
		}
		out[id] = fn(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeRef extracts the shared action/target part. The action defaults to
// create when missing or unknown. A mapped target given as a UUID string
// references an existing catalog entity; a numeric target references a
// sibling source entity from the same import.
func normalizeRef(obj map[string]any) models.MappingRef {
	ref := models.MappingRef{Action: models.ActionCreate}

	if action, ok := jsonutil.StringKey(obj, "action"); ok {
		switch models.MappingAction(strings.ToLower(strings.TrimSpace(action))) {
		case models.ActionMap:
			ref.Action = models.ActionMap
		case models.ActionCreate:
			ref.Action = models.ActionCreate
		}
	}

	if ref.Action != models.ActionMap {
		return ref
	}

	target, ok := jsonutil.FirstKey(obj, "mappedTo", "mapped_to", "targetId", "target_id")
	if !ok {
		return ref
	}
	if s, isString := target.(string); isString {
		if id, err := uuid.Parse(strings.TrimSpace(s)); err == nil {
			ref.MappedTo = &id
			return ref
		}
	}
	if srcID, ok := jsonutil.Int64(target); ok {
		ref.MappedToSource = &srcID
	}
	return ref
}

// NormalizeWorkflowMapping coerces one workflow mapping record.
func NormalizeWorkflowMapping(v any) *models.WorkflowMapping {
	m := &models.WorkflowMapping{MappingRef: models.MappingRef{Action: models.ActionCreate}}
	obj, ok := jsonutil.AsObject(v)
	if !ok {
		return m
	}

	m.MappingRef = normalizeRef(obj)
	if m.Action == models.ActionMap {
		return m
	}

	m.Name, _ = jsonutil.StringKey(obj, "name", "label", "title")
	m.Color, _ = jsonutil.StringKey(obj, "color")
	m.IsDefault, _ = jsonutil.BoolKey(obj, "isDefault", "is_default", "default")
	if phase, ok := jsonutil.StringKey(obj, "phase", "state"); ok {
		switch models.WorkflowPhase(strings.ToLower(strings.TrimSpace(phase))) {
		case models.PhaseNotStarted:
			m.Phase = models.PhaseNotStarted
		case models.PhaseInProgress:
			m.Phase = models.PhaseInProgress
		case models.PhaseDone:
			m.Phase = models.PhaseDone
		}
	}
	return m
}

// NormalizeStatusMapping coerces one status mapping record.
func NormalizeStatusMapping(v any) *models.StatusMapping {
	m := &models.StatusMapping{MappingRef: models.MappingRef{Action: models.ActionCreate}}
	obj, ok := jsonutil.AsObject(v)
	if !ok {
		return m
	}

	m.MappingRef = normalizeRef(obj)
	if m.Action == models.ActionMap {
		return m
	}

	m.Name, _ = jsonutil.StringKey(obj, "name", "label", "title")
	m.Color, _ = jsonutil.StringKey(obj, "color")
	m.IsCompleted, _ = jsonutil.BoolKey(obj, "isCompleted", "is_completed", "is_final", "final")
	m.IsDefault, _ = jsonutil.BoolKey(obj, "isDefault", "is_default", "default")
	return m
}

// NormalizeRoleMapping coerces one role mapping record.
func NormalizeRoleMapping(v any) *models.RoleMapping {
	m := &models.RoleMapping{MappingRef: models.MappingRef{Action: models.ActionCreate}}
	obj, ok := jsonutil.AsObject(v)
	if !ok {
		return m
	}

	m.MappingRef = normalizeRef(obj)
	if m.Action == models.ActionMap {
		return m
	}

	m.Name, _ = jsonutil.StringKey(obj, "name", "label", "title")
	if perms, ok := jsonutil.AsArray(obj["permissions"]); ok {
		for _, p := range perms {
			if s, ok := jsonutil.String(p); ok && s != "" {
				m.Permissions = append(m.Permissions, s)
			}
		}
	}
	return m
}

// NormalizeGroupMapping coerces one group mapping record.
func NormalizeGroupMapping(v any) *models.GroupMapping {
	m := &models.GroupMapping{MappingRef: models.MappingRef{Action: models.ActionCreate}}
	obj, ok := jsonutil.AsObject(v)
	if !ok {
		return m
	}

	m.MappingRef = normalizeRef(obj)
	if m.Action == models.ActionMap {
		return m
	}

	m.Name, _ = jsonutil.StringKey(obj, "name", "label", "title")
	return m
}

// NormalizeTagMapping coerces one tag mapping record.
func NormalizeTagMapping(v any) *models.TagMapping {
	m := &models.TagMapping{MappingRef: models.MappingRef{Action: models.ActionCreate}}
	obj, ok := jsonutil.AsObject(v)
	if !ok {
		return m
	}

	m.MappingRef = normalizeRef(obj)
	if m.Action == models.ActionMap {
		return m
	}

	m.Name, _ = jsonutil.StringKey(obj, "name", "label", "title")
	return m
}

// NormalizeUserMapping coerces one user mapping record.
func NormalizeUserMapping(v any) *models.UserMapping {
	m := &models.UserMapping{MappingRef: models.MappingRef{Action: models.ActionCreate}}
	obj, ok := jsonutil.AsObject(v)
	if !ok {
		return m
	}

	m.MappingRef = normalizeRef(obj)
	if m.Action == models.ActionMap {
		return m
	}

	m.Email, _ = jsonutil.StringKey(obj, "email", "email_address")
	m.Name, _ = jsonutil.StringKey(obj, "name", "full_name", "display_name")
	m.IsActive = true
	if b, ok := jsonutil.BoolKey(obj, "isActive", "is_active", "active"); ok {
		m.IsActive = b
	}
	return m
}

// NormalizeConfigurationMapping coerces one configuration group mapping record.
func NormalizeConfigurationMapping(v any) *models.ConfigurationMapping {
	m := &models.ConfigurationMapping{MappingRef: models.MappingRef{Action: models.ActionCreate}}
	obj, ok := jsonutil.AsObject(v)
	if !ok {
		return m
	}

	m.MappingRef = normalizeRef(obj)
	if m.Action == models.ActionMap {
		return m
	}

	m.Name, _ = jsonutil.StringKey(obj, "name", "label", "title")
	if opts, ok := jsonutil.FirstKey(obj, "options", "values", "items"); ok {
		m.Options = NormalizeOptions(opts)
	}
	return m
}

// NormalizeTemplateMapping coerces one case template mapping record.
func NormalizeTemplateMapping(v any) *models.TemplateMapping {
	m := &models.TemplateMapping{MappingRef: models.MappingRef{Action: models.ActionCreate}}
	obj, ok := jsonutil.AsObject(v)
	if !ok {
		return m
	}

	m.MappingRef = normalizeRef(obj)
	if m.Action == models.ActionMap {
		return m
	}

	m.Name, _ = jsonutil.StringKey(obj, "name", "label", "title")
	m.IsDefault, _ = jsonutil.BoolKey(obj, "isDefault", "is_default", "default")
	return m
}

// NormalizeFieldMapping coerces one custom field mapping record.
func NormalizeFieldMapping(v any) *models.FieldMapping {
	m := &models.FieldMapping{
		MappingRef: models.MappingRef{Action: models.ActionCreate},
		Scope:      models.ScopeCase,
	}
	obj, ok := jsonutil.AsObject(v)
	if !ok {
		return m
	}

	m.MappingRef = normalizeRef(obj)
	if m.Action == models.ActionMap {
		m.Scope = ""
		return m
	}

	m.Name, _ = jsonutil.StringKey(obj, "name", "label", "title")
	m.SystemName, _ = jsonutil.StringKey(obj, "systemName", "system_name")
	m.Required, _ = jsonutil.BoolKey(obj, "required", "is_required")

	if t, ok := jsonutil.StringKey(obj, "type", "field_type"); ok {
		ft := models.FieldType(strings.ToLower(strings.TrimSpace(t)))
		if models.ValidFieldType(ft) {
			m.Type = ft
		}
	}
	if s, ok := jsonutil.StringKey(obj, "scope", "target"); ok {
		switch models.FieldScope(strings.ToLower(strings.TrimSpace(s))) {
		case models.ScopeResult:
			m.Scope = models.ScopeResult
		case models.ScopeCase:
			m.Scope = models.ScopeCase
		}
	}
	if opts, ok := jsonutil.FirstKey(obj, "options", "values", "items"); ok {
		m.Options = NormalizeOptions(opts)
	}
	if templates, ok := jsonutil.AsArray(obj["templates"]); ok {
		for _, t := range templates {
			if id, ok := jsonutil.Int64(t); ok {
				m.Templates = append(m.Templates, id)
			}
		}
	}
	return m
}
