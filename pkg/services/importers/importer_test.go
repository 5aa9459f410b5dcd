package importers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
)

type nopReporter struct{}

func (nopReporter) Report(int) {}
func (nopReporter) Final(int)  {}

// recMappings records stored entity mappings in memory.
type recMappings struct {
	stored []*models.EntityMapping
}

var _ repositories.MappingRepository = (*recMappings)(nil)

func (r *recMappings) Store(ctx context.Context, m *models.EntityMapping) error {
	r.stored = append(r.stored, m)
	return nil
}

func (r *recMappings) StoreBatch(ctx context.Context, ms []*models.EntityMapping) error {
	r.stored = append(r.stored, ms...)
	return nil
}

func (r *recMappings) Lookup(ctx context.Context, jobID uuid.UUID, entityType string, sourceID int64) (*models.EntityMapping, error) {
	for _, m := range r.stored {
		if m.EntityType == entityType && m.SourceID == sourceID {
			return m, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *recMappings) ListByType(ctx context.Context, jobID uuid.UUID, entityType string) ([]*models.EntityMapping, error) {
	var out []*models.EntityMapping
	for _, m := range r.stored {
		if m.EntityType == entityType {
			out = append(out, m)
		}
	}
	return out, nil
}

// memStatuses is an in-memory StatusRepository.
type memStatuses struct {
	byID          map[uuid.UUID]*models.Status
	created       int
	clearDefaults int
}

var _ repositories.StatusRepository = (*memStatuses)(nil)

func newMemStatuses() *memStatuses {
	return &memStatuses{byID: make(map[uuid.UUID]*models.Status)}
}

func (r *memStatuses) Create(ctx context.Context, s *models.Status) error {
	r.byID[s.ID] = s
	r.created++
	return nil
}

func (r *memStatuses) GetByID(ctx context.Context, id uuid.UUID) (*models.Status, error) {
	s, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s, nil
}

func (r *memStatuses) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Status, error) {
	for _, s := range r.byID {
		if s.ProjectID == projectID && s.Name == name {
			return s, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memStatuses) List(ctx context.Context, projectID uuid.UUID) ([]*models.Status, error) {
	var out []*models.Status
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out, nil
}

func (r *memStatuses) ClearDefault(ctx context.Context, projectID uuid.UUID) error {
	r.clearDefaults++
	for _, s := range r.byID {
		s.IsDefault = false
	}
	return nil
}

// memTemplates is an in-memory TemplateRepository.
type memTemplates struct {
	byID map[uuid.UUID]*models.Template
}

var _ repositories.TemplateRepository = (*memTemplates)(nil)

func newMemTemplates() *memTemplates {
	return &memTemplates{byID: make(map[uuid.UUID]*models.Template)}
}

func (r *memTemplates) Create(ctx context.Context, t *models.Template) error {
	r.byID[t.ID] = t
	return nil
}

func (r *memTemplates) GetByID(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return t, nil
}

func (r *memTemplates) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Template, error) {
	for _, t := range r.byID {
		if t.ProjectID == projectID && t.Name == name {
			return t, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memTemplates) List(ctx context.Context, projectID uuid.UUID) ([]*models.Template, error) {
	var out []*models.Template
	for _, t := range r.byID {
		out = append(out, t)
	}
	return out, nil
}

func (r *memTemplates) ClearDefault(ctx context.Context, projectID uuid.UUID) error { return nil }

// memFields is an in-memory CaseFieldRepository.
type memFields struct {
	byID map[uuid.UUID]*models.CaseField
}

var _ repositories.CaseFieldRepository = (*memFields)(nil)

func newMemFields() *memFields {
	return &memFields{byID: make(map[uuid.UUID]*models.CaseField)}
}

func (r *memFields) Create(ctx context.Context, f *models.CaseField) error {
	r.byID[f.ID] = f
	return nil
}

func (r *memFields) GetByID(ctx context.Context, id uuid.UUID) (*models.CaseField, error) {
	f, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return f, nil
}

func (r *memFields) FindByKey(ctx context.Context, projectID uuid.UUID, systemName string, scope models.FieldScope) (*models.CaseField, error) {
	for _, f := range r.byID {
		if f.ProjectID == projectID && f.SystemName == systemName && f.Scope == scope {
			return f, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memFields) List(ctx context.Context, projectID uuid.UUID) ([]*models.CaseField, error) {
	var out []*models.CaseField
	for _, f := range r.byID {
		out = append(out, f)
	}
	return out, nil
}

func (r *memFields) UpdateTemplates(ctx context.Context, id uuid.UUID, templateIDs []uuid.UUID) error {
	f, ok := r.byID[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	f.TemplateIDs = templateIDs
	return nil
}

func newRunContext(cfg *models.MappingConfig, catalog Catalog, mappings *recMappings) *RunContext {
	return &RunContext{
		Job:         &models.ImportJob{ID: uuid.New()},
		ProjectID:   uuid.New(),
		Config:      cfg,
		IDMaps:      NewIDMaps(),
		Names:       NewNameCache(),
		Mappings:    mappings,
		Catalog:     catalog,
		NewReporter: func(string, int) Reporter { return nopReporter{} },
	}
}

func TestEngineOrderRespectsDependencies(t *testing.T) {
	engine, err := NewEngine(zap.NewNop())
	require.NoError(t, err)

	position := make(map[string]int)
	for i, entity := range engine.Order() {
		position[entity] = i
	}

	for _, imp := range engine.importers {
		for _, dep := range imp.DependsOn() {
			assert.Less(t, position[dep], position[imp.Entity()],
				"%s must run after %s", imp.Entity(), dep)
		}
	}

	assert.Equal(t, EntityWorkflows, engine.Order()[0])
	assert.Equal(t, EntityIssueLinks, engine.Order()[len(engine.Order())-1])
}

func TestValidateOrderRejectsBrokenSequence(t *testing.T) {
	// Results before the runs they depend on.
	err := validateOrder([]Importer{&resultImporter{}, &runImporter{}})
	assert.Error(t, err)

	err = validateOrder([]Importer{&workflowImporter{}, &workflowImporter{}})
	assert.Error(t, err)
}

func TestStatusImporterCreateMapAndFold(t *testing.T) {
	statuses := newMemStatuses()
	mappings := &recMappings{}

	one := int64(1)
	cfg := &models.MappingConfig{
		Statuses: map[int64]*models.StatusMapping{
			1: {MappingRef: models.MappingRef{Action: models.ActionCreate}, Name: "Passed"},
			2: {MappingRef: models.MappingRef{Action: models.ActionMap, MappedToSource: &one}},
			3: {MappingRef: models.MappingRef{Action: models.ActionCreate}, Name: "Failed"},
		},
	}
	rc := newRunContext(cfg, Catalog{Statuses: statuses}, mappings)

	summary, err := (&statusImporter{}).Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Mapped)
	assert.Equal(t, 2, statuses.created)

	// Source 2 resolved to the same target as source 1.
	id1, ok := rc.IDMaps.Get(EntityStatuses, 1)
	require.True(t, ok)
	id2, ok := rc.IDMaps.Get(EntityStatuses, 2)
	require.True(t, ok)
	assert.Equal(t, id1, id2)

	assert.Len(t, mappings.stored, 3)
}

func TestStatusImporterSecondRunCreatesNothing(t *testing.T) {
	statuses := newMemStatuses()
	cfg := &models.MappingConfig{
		Statuses: map[int64]*models.StatusMapping{
			1: {MappingRef: models.MappingRef{Action: models.ActionCreate}, Name: "Passed"},
		},
	}

	rc := newRunContext(cfg, Catalog{Statuses: statuses}, &recMappings{})
	_, err := (&statusImporter{}).Run(context.Background(), rc)
	require.NoError(t, err)
	require.Equal(t, 1, statuses.created)

	// A fresh session against the same target store folds into the existing
	// status by name instead of creating a duplicate.
	again := newRunContext(cfg, Catalog{Statuses: statuses}, &recMappings{})
	again.ProjectID = rc.ProjectID
	summary, err := (&statusImporter{}).Run(context.Background(), again)
	require.NoError(t, err)

	assert.Equal(t, 1, statuses.created, "no new status created")
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 1, summary.Mapped)
}

func TestStatusImporterMapToMissingTargetIsConfigError(t *testing.T) {
	gone := uuid.New()
	cfg := &models.MappingConfig{
		Statuses: map[int64]*models.StatusMapping{
			1: {MappingRef: models.MappingRef{Action: models.ActionMap, MappedTo: &gone}},
		},
	}
	rc := newRunContext(cfg, Catalog{Statuses: newMemStatuses()}, &recMappings{})

	_, err := (&statusImporter{}).Run(context.Background(), rc)
	var cfgErr *apperrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, EntityStatuses, cfgErr.EntityType)
	assert.Equal(t, int64(1), cfgErr.SourceID)
}

func TestStatusImporterMapToUnresolvedSiblingIsConfigError(t *testing.T) {
	missing := int64(99)
	cfg := &models.MappingConfig{
		Statuses: map[int64]*models.StatusMapping{
			1: {MappingRef: models.MappingRef{Action: models.ActionMap, MappedToSource: &missing}},
		},
	}
	rc := newRunContext(cfg, Catalog{Statuses: newMemStatuses()}, &recMappings{})

	_, err := (&statusImporter{}).Run(context.Background(), rc)
	var cfgErr *apperrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestStatusImporterDefaultCleared(t *testing.T) {
	statuses := newMemStatuses()
	existing := &models.Status{ID: uuid.New(), Name: "Old Default", IsDefault: true}
	statuses.byID[existing.ID] = existing

	cfg := &models.MappingConfig{
		Statuses: map[int64]*models.StatusMapping{
			1: {MappingRef: models.MappingRef{Action: models.ActionCreate}, Name: "Passed", IsDefault: true},
		},
	}
	rc := newRunContext(cfg, Catalog{Statuses: statuses}, &recMappings{})

	_, err := (&statusImporter{}).Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, 1, statuses.clearDefaults)
	assert.False(t, existing.IsDefault)

	defaults := 0
	for _, s := range statuses.byID {
		if s.IsDefault {
			defaults++
			assert.Equal(t, "Passed", s.Name)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestFieldImporterResolvesTemplates(t *testing.T) {
	fields := newMemFields()
	mappings := &recMappings{}

	cfg := &models.MappingConfig{
		Fields: map[int64]*models.FieldMapping{
			1: {
				MappingRef: models.MappingRef{Action: models.ActionCreate},
				Name:       "Severity",
				Type:       models.FieldTypeDropdown,
				Templates:  []int64{10},
			},
		},
	}
	rc := newRunContext(cfg, Catalog{Fields: fields, Templates: newMemTemplates()}, mappings)

	tplID := uuid.New()
	rc.IDMaps.Set(EntityTemplates, 10, tplID)

	summary, err := (&fieldImporter{}).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	require.Len(t, fields.byID, 1)
	for _, f := range fields.byID {
		assert.Equal(t, "severity", f.SystemName)
		assert.Equal(t, models.ScopeCase, f.Scope)
		assert.Equal(t, []uuid.UUID{tplID}, f.TemplateIDs)
	}
}

func TestFieldImporterUnresolvedTemplateIsConfigError(t *testing.T) {
	cfg := &models.MappingConfig{
		Fields: map[int64]*models.FieldMapping{
			1: {
				MappingRef: models.MappingRef{Action: models.ActionCreate},
				Name:       "Severity",
				Templates:  []int64{10},
			},
		},
	}
	rc := newRunContext(cfg, Catalog{Fields: newMemFields()}, &recMappings{})

	_, err := (&fieldImporter{}).Run(context.Background(), rc)
	var cfgErr *apperrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, EntityFields, cfgErr.EntityType)
}

func TestFieldImporterFoldUnionsTemplates(t *testing.T) {
	fields := newMemFields()
	rc := newRunContext(&models.MappingConfig{}, Catalog{Fields: fields}, &recMappings{})

	existingTpl := uuid.New()
	existing := &models.CaseField{
		ID:          uuid.New(),
		ProjectID:   rc.ProjectID,
		Name:        "Severity",
		SystemName:  "severity",
		Scope:       models.ScopeCase,
		TemplateIDs: []uuid.UUID{existingTpl},
	}
	fields.byID[existing.ID] = existing

	newTpl := uuid.New()
	rc.IDMaps.Set(EntityTemplates, 10, newTpl)
	rc.Config.Fields = map[int64]*models.FieldMapping{
		1: {
			MappingRef: models.MappingRef{Action: models.ActionCreate},
			Name:       "Severity",
			Templates:  []int64{10},
		},
	}

	summary, err := (&fieldImporter{}).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 1, summary.Mapped)
	assert.ElementsMatch(t, []uuid.UUID{existingTpl, newTpl}, existing.TemplateIDs)
}

func TestSystemNameFor(t *testing.T) {
	assert.Equal(t, "automation_type", systemNameFor("Automation Type"))
	assert.Equal(t, "estimate_h", systemNameFor("  Estimate (h) "))
	assert.Equal(t, "severity", systemNameFor("severity"))
}

func TestIDMapsIsolation(t *testing.T) {
	a := NewIDMaps()
	b := NewIDMaps()
	id := uuid.New()
	a.Set(EntityCases, 1, id)

	_, ok := b.Get(EntityCases, 1)
	assert.False(t, ok, "sessions must not share state")

	got, ok := a.Get(EntityCases, 1)
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, 1, a.Count(EntityCases))
	assert.Equal(t, 0, b.Count(EntityCases))
}
