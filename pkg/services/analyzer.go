package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/jsonutil"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
)

// AnalyzerService turns a completed extraction into an ImportPlan: per-category
// counts, candidate suggestions derived from the staged rows, and a snapshot
// of the existing target catalog so the operator can map without a second
// round trip.
type AnalyzerService interface {
	BuildPlan(ctx context.Context, projectID, jobID uuid.UUID, datasets []*models.DatasetSummary) (*models.ImportPlan, error)
}

type analyzerService struct {
	staging      repositories.StagingRepository
	workflows    repositories.WorkflowRepository
	statuses     repositories.StatusRepository
	roles        repositories.RoleRepository
	groups       repositories.GroupRepository
	tags         repositories.TagRepository
	users        repositories.UserRepository
	configGroups repositories.ConfigGroupRepository
	templates    repositories.TemplateRepository
	fields       repositories.CaseFieldRepository
	logger       *zap.Logger
}

// NewAnalyzerService creates a new analyzer.
func NewAnalyzerService(
	staging repositories.StagingRepository,
	workflows repositories.WorkflowRepository,
	statuses repositories.StatusRepository,
	roles repositories.RoleRepository,
	groups repositories.GroupRepository,
	tags repositories.TagRepository,
	users repositories.UserRepository,
	configGroups repositories.ConfigGroupRepository,
	templates repositories.TemplateRepository,
	fields repositories.CaseFieldRepository,
	logger *zap.Logger,
) AnalyzerService {
	return &analyzerService{
		staging:      staging,
		workflows:    workflows,
		statuses:     statuses,
		roles:        roles,
		groups:       groups,
		tags:         tags,
		users:        users,
		configGroups: configGroups,
		templates:    templates,
		fields:       fields,
		logger:       logger.Named("analyzer"),
	}
}

var _ AnalyzerService = (*analyzerService)(nil)

func (s *analyzerService) BuildPlan(ctx context.Context, projectID, jobID uuid.UUID, datasets []*models.DatasetSummary) (*models.ImportPlan, error) {
	plan := &models.ImportPlan{Counts: make(map[string]int)}

	for _, ds := range datasets {
		plan.Counts[ds.Name] = ds.RowCount
	}

	rowsFor := func(dataset string) ([]map[string]any, error) {
		staged, err := s.staging.FetchAll(ctx, jobID, dataset)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s rows for analysis: %w", dataset, err)
		}
		out := make([]map[string]any, 0, len(staged))
		for _, row := range staged {
			var obj map[string]any
			if err := json.Unmarshal(row.Data, &obj); err != nil {
				s.logger.Warn("skipping unparseable staged row",
					zap.String("dataset", dataset),
					zap.Int("row_index", row.RowIndex))
				continue
			}
			out = append(out, obj)
		}
		return out, nil
	}

	var err error
	if plan.Suggestions.Workflows, err = s.suggestWorkflows(rowsFor); err != nil {
		return nil, err
	}
	if plan.Suggestions.Statuses, err = s.suggestStatuses(rowsFor); err != nil {
		return nil, err
	}
	if plan.Suggestions.Roles, err = s.suggestRoles(rowsFor); err != nil {
		return nil, err
	}
	if plan.Suggestions.Groups, err = s.suggestGroups(rowsFor); err != nil {
		return nil, err
	}
	if plan.Suggestions.Tags, err = s.suggestTags(rowsFor); err != nil {
		return nil, err
	}
	if plan.Suggestions.Users, err = s.suggestUsers(rowsFor); err != nil {
		return nil, err
	}
	if plan.Suggestions.Configurations, err = s.suggestConfigurations(rowsFor); err != nil {
		return nil, err
	}
	if plan.Suggestions.Templates, err = s.suggestTemplates(rowsFor); err != nil {
		return nil, err
	}
	if plan.Suggestions.Fields, err = s.suggestFields(rowsFor); err != nil {
		return nil, err
	}

	plan.RequiresConfiguration = len(plan.Suggestions.Workflows) > 0 ||
		len(plan.Suggestions.Statuses) > 0 ||
		len(plan.Suggestions.Roles) > 0 ||
		len(plan.Suggestions.Groups) > 0 ||
		len(plan.Suggestions.Tags) > 0 ||
		len(plan.Suggestions.Users) > 0 ||
		len(plan.Suggestions.Configurations) > 0 ||
		len(plan.Suggestions.Templates) > 0 ||
		len(plan.Suggestions.Fields) > 0

	if err := s.snapshotCatalog(ctx, projectID, &plan.Catalog); err != nil {
		return nil, err
	}

	return plan, nil
}

type rowLoader func(dataset string) ([]map[string]any, error)

// InferWorkflowPhase maps a source workflow name onto a target lifecycle
// phase via keyword heuristics. "Rejected" reads like an active state but is
// terminal in every source system we have seen, so it is special-cased.
func InferWorkflowPhase(name string) models.WorkflowPhase {
	n := strings.ToLower(name)

	if strings.Contains(n, "reject") {
		return models.PhaseDone
	}
	for _, kw := range []string{"done", "complete", "closed", "finish", "resolved", "approved"} {
		if strings.Contains(n, kw) {
			return models.PhaseDone
		}
	}
	for _, kw := range []string{"progress", "review", "active", "testing", "working"} {
		if strings.Contains(n, kw) {
			return models.PhaseInProgress
		}
	}
	for _, kw := range []string{"draft", "new", "todo", "open", "backlog", "untested"} {
		if strings.Contains(n, kw) {
			return models.PhaseNotStarted
		}
	}
	return models.PhaseNotStarted
}

func (s *analyzerService) suggestWorkflows(load rowLoader) ([]models.WorkflowSuggestion, error) {
	rows, err := load(models.DatasetWorkflows)
	if err != nil {
		return nil, err
	}

	var out []models.WorkflowSuggestion
	for _, row := range rows {
		id, ok := jsonutil.Int64Key(row, "id", "workflow_id")
		if !ok {
			continue
		}
		name, _ := jsonutil.StringKey(row, "name", "label", "title")
		color, _ := jsonutil.StringKey(row, "color")
		out = append(out, models.WorkflowSuggestion{
			SourceID: id,
			Name:     name,
			Phase:    InferWorkflowPhase(name),
			Color:    color,
		})
	}
	return out, nil
}

func (s *analyzerService) suggestStatuses(load rowLoader) ([]models.StatusSuggestion, error) {
	rows, err := load(models.DatasetStatuses)
	if err != nil {
		return nil, err
	}

	var out []models.StatusSuggestion
	for _, row := range rows {
		id, ok := jsonutil.Int64Key(row, "id", "status_id")
		if !ok {
			continue
		}
		name, _ := jsonutil.StringKey(row, "name", "label", "title")
		color, _ := jsonutil.StringKey(row, "color")
		completed, _ := jsonutil.BoolKey(row, "is_completed", "is_final", "final")
		out = append(out, models.StatusSuggestion{
			SourceID:    id,
			Name:        name,
			Color:       color,
			IsCompleted: completed,
		})
	}
	return out, nil
}

func (s *analyzerService) suggestRoles(load rowLoader) ([]models.RoleSuggestion, error) {
	rows, err := load(models.DatasetRoles)
	if err != nil {
		return nil, err
	}

	var out []models.RoleSuggestion
	for _, row := range rows {
		id, ok := jsonutil.Int64Key(row, "id", "role_id")
		if !ok {
			continue
		}
		name, _ := jsonutil.StringKey(row, "name", "label")
		sug := models.RoleSuggestion{SourceID: id, Name: name}
		if perms, ok := jsonutil.AsArray(row["permissions"]); ok {
			for _, p := range perms {
				if str, ok := jsonutil.String(p); ok && str != "" {
					sug.Permissions = append(sug.Permissions, str)
				}
			}
		}
		out = append(out, sug)
	}
	return out, nil
}

func (s *analyzerService) suggestGroups(load rowLoader) ([]models.GroupSuggestion, error) {
	rows, err := load(models.DatasetGroups)
	if err != nil {
		return nil, err
	}

	var out []models.GroupSuggestion
	for _, row := range rows {
		id, ok := jsonutil.Int64Key(row, "id", "group_id")
		if !ok {
			continue
		}
		name, _ := jsonutil.StringKey(row, "name", "label")
		out = append(out, models.GroupSuggestion{SourceID: id, Name: name})
	}
	return out, nil
}

func (s *analyzerService) suggestTags(load rowLoader) ([]models.TagSuggestion, error) {
	rows, err := load(models.DatasetTags)
	if err != nil {
		return nil, err
	}

	var out []models.TagSuggestion
	for _, row := range rows {
		id, ok := jsonutil.Int64Key(row, "id", "tag_id")
		if !ok {
			continue
		}
		name, _ := jsonutil.StringKey(row, "name", "label", "title")
		out = append(out, models.TagSuggestion{SourceID: id, Name: name})
	}
	return out, nil
}

func (s *analyzerService) suggestUsers(load rowLoader) ([]models.UserSuggestion, error) {
	rows, err := load(models.DatasetUsers)
	if err != nil {
		return nil, err
	}

	var out []models.UserSuggestion
	for _, row := range rows {
		id, ok := jsonutil.Int64Key(row, "id", "user_id")
		if !ok {
			continue
		}
		email, _ := jsonutil.StringKey(row, "email", "email_address")
		name, _ := jsonutil.StringKey(row, "name", "full_name", "display_name")
		active := true
		if b, ok := jsonutil.BoolKey(row, "is_active", "active"); ok {
			active = b
		}
		out = append(out, models.UserSuggestion{
			SourceID: id,
			Email:    email,
			Name:     name,
			IsActive: active,
		})
	}
	return out, nil
}

// suggestConfigurations handles both configuration row shapes: a group row
// that carries its own options array, and flat option rows that reference
// their group by id. Flat rows are folded into one suggestion per group.
func (s *analyzerService) suggestConfigurations(load rowLoader) ([]models.ConfigurationSuggestion, error) {
	rows, err := load(models.DatasetConfigurations)
	if err != nil {
		return nil, err
	}

	var out []models.ConfigurationSuggestion
	index := make(map[int64]int)

	for _, row := range rows {
		if opts, ok := jsonutil.FirstKey(row, "options", "configs", "values"); ok {
			id, idOK := jsonutil.Int64Key(row, "id", "group_id")
			if !idOK {
				continue
			}
			name, _ := jsonutil.StringKey(row, "name", "group_name")
			out = append(out, models.ConfigurationSuggestion{
				SourceID: id,
				Name:     name,
				Options:  NormalizeOptions(opts),
			})
			index[id] = len(out) - 1
			continue
		}

		// Flat option row: group identity comes from group_id, the option
		// text from value/option.
		groupID, ok := jsonutil.Int64Key(row, "group_id", "config_group_id", "id")
		if !ok {
			continue
		}
		groupName, _ := jsonutil.StringKey(row, "group_name", "name")
		option, optOK := jsonutil.StringKey(row, "value", "option", "config")

		i, seen := index[groupID]
		if !seen {
			out = append(out, models.ConfigurationSuggestion{SourceID: groupID, Name: groupName})
			i = len(out) - 1
			index[groupID] = i
		}
		if out[i].Name == "" {
			out[i].Name = groupName
		}
		if optOK && option != "" {
			out[i].Options = append(out[i].Options, models.DropdownOption{Name: option, IsEnabled: true})
		}
	}

	for i := range out {
		out[i].Options = finalizeOptions(out[i].Options)
	}
	return out, nil
}

func (s *analyzerService) suggestTemplates(load rowLoader) ([]models.TemplateSuggestion, error) {
	rows, err := load(models.DatasetTemplates)
	if err != nil {
		return nil, err
	}

	var out []models.TemplateSuggestion
	for _, row := range rows {
		id, ok := jsonutil.Int64Key(row, "id", "template_id")
		if !ok {
			continue
		}
		name, _ := jsonutil.StringKey(row, "name", "label", "title")
		out = append(out, models.TemplateSuggestion{SourceID: id, Name: name})
	}
	return out, nil
}

// fieldIdentity is the composite reconciliation key for a custom field: the
// source field id when present, else the normalized system name, else the
// normalized display name, each qualified by the case/result scope.
type fieldIdentity struct {
	scope models.FieldScope
	key   string
}

func normalizeFieldName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

func identityFor(scope models.FieldScope, sourceID int64, systemName, name string) (fieldIdentity, bool) {
	switch {
	case sourceID != 0:
		return fieldIdentity{scope, fmt.Sprintf("id:%d", sourceID)}, true
	case systemName != "":
		return fieldIdentity{scope, "sys:" + normalizeFieldName(systemName)}, true
	case name != "":
		return fieldIdentity{scope, "name:" + normalizeFieldName(name)}, true
	}
	return fieldIdentity{}, false
}

// suggestFields reconciles the two field-related datasets: field definitions
// and per-template field assignments. The same logical field appears once per
// template it is attached to, so duplicates are merged by composite key,
// template references unioned, and for every optional attribute the most
// complete value across duplicates wins.
func (s *analyzerService) suggestFields(load rowLoader) ([]models.FieldSuggestion, error) {
	definitions, err := load(models.DatasetCaseFields)
	if err != nil {
		return nil, err
	}
	assignments, err := load(models.DatasetTemplateFields)
	if err != nil {
		return nil, err
	}

	var order []fieldIdentity
	merged := make(map[fieldIdentity]*models.FieldSuggestion)

	absorb := func(row map[string]any) {
		sourceID, _ := jsonutil.Int64Key(row, "id", "field_id")
		name, _ := jsonutil.StringKey(row, "name", "label", "title")
		systemName, _ := jsonutil.StringKey(row, "system_name", "systemName")

		scope := models.ScopeCase
		if str, ok := jsonutil.StringKey(row, "scope", "target"); ok &&
			models.FieldScope(strings.ToLower(str)) == models.ScopeResult {
			scope = models.ScopeResult
		}

		ident, ok := identityFor(scope, sourceID, systemName, name)
		if !ok {
			return
		}

		sug, seen := merged[ident]
		if !seen {
			sug = &models.FieldSuggestion{Scope: scope}
			merged[ident] = sug
			order = append(order, ident)
		}

		// Keep the most complete value for every attribute across duplicates.
		if sug.SourceID == 0 {
			sug.SourceID = sourceID
		}
		if sug.Name == "" {
			sug.Name = name
		}
		if sug.SystemName == "" {
			sug.SystemName = systemName
		}
		if sug.Type == "" {
			if t, ok := jsonutil.StringKey(row, "type", "field_type"); ok {
				ft := models.FieldType(strings.ToLower(strings.TrimSpace(t)))
				if models.ValidFieldType(ft) {
					sug.Type = ft
				}
			}
		}
		if !sug.Required {
			sug.Required, _ = jsonutil.BoolKey(row, "required", "is_required")
		}
		if len(sug.Options) == 0 {
			if opts, ok := jsonutil.FirstKey(row, "options", "values", "items"); ok {
				sug.Options = NormalizeOptions(opts)
			}
		}
		if templateID, ok := jsonutil.Int64Key(row, "template_id"); ok {
			duplicate := false
			for _, existing := range sug.Templates {
				if existing == templateID {
					duplicate = true
					break
				}
			}
			if !duplicate {
				sug.Templates = append(sug.Templates, templateID)
			}
		}
	}

	for _, row := range definitions {
		absorb(row)
	}
	for _, row := range assignments {
		absorb(row)
	}

	out := make([]models.FieldSuggestion, 0, len(order))
	for _, ident := range order {
		out = append(out, *merged[ident])
	}
	return out, nil
}

func (s *analyzerService) snapshotCatalog(ctx context.Context, projectID uuid.UUID, snap *models.CatalogSnapshot) error {
	var err error
	if snap.Workflows, err = s.workflows.List(ctx, projectID); err != nil {
		return fmt.Errorf("failed to snapshot workflows: %w", err)
	}
	if snap.Statuses, err = s.statuses.List(ctx, projectID); err != nil {
		return fmt.Errorf("failed to snapshot statuses: %w", err)
	}
	if snap.Roles, err = s.roles.List(ctx, projectID); err != nil {
		return fmt.Errorf("failed to snapshot roles: %w", err)
	}
	if snap.Groups, err = s.groups.List(ctx, projectID); err != nil {
		return fmt.Errorf("failed to snapshot groups: %w", err)
	}
	if snap.Tags, err = s.tags.List(ctx, projectID); err != nil {
		return fmt.Errorf("failed to snapshot tags: %w", err)
	}
	if snap.Users, err = s.users.List(ctx, projectID); err != nil {
		return fmt.Errorf("failed to snapshot users: %w", err)
	}
	if snap.ConfigGroups, err = s.configGroups.List(ctx, projectID); err != nil {
		return fmt.Errorf("failed to snapshot config groups: %w", err)
	}
	if snap.Templates, err = s.templates.List(ctx, projectID); err != nil {
		return fmt.Errorf("failed to snapshot templates: %w", err)
	}
	if snap.Fields, err = s.fields.List(ctx, projectID); err != nil {
		return fmt.Errorf("failed to snapshot case fields: %w", err)
	}
	return nil
}
