package importers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

type fieldImporter struct{}

func (i *fieldImporter) Entity() string      { return EntityFields }
func (i *fieldImporter) DependsOn() []string { return []string{EntityTemplates} }

// Run materializes custom case fields. Template references in a field's
// configuration are source template ids and must already be resolved; a
// dangling one is a configuration error. When a field folds into an existing
// one with the same system name and scope, the template attachments are
// unioned so the existing field covers both sets.
func (i *fieldImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary
	reporter := rc.NewReporter(EntityFields, len(rc.Config.Fields))

	for _, sourceID := range sortedKeys(rc.Config.Fields) {
		m := rc.Config.Fields[sourceID]

		templateIDs, err := i.resolveTemplates(rc, sourceID, m.Templates)
		if err != nil {
			return summary, err
		}

		systemName := m.SystemName
		if systemName == "" {
			systemName = systemNameFor(m.Name)
		}
		scope := m.Scope
		if scope == "" {
			scope = models.ScopeCase
		}

		id, created, err := resolveEntity(ctx, rc, EntityFields, sourceID, m.MappingRef, resolver{
			exists: func(ctx context.Context, id uuid.UUID) error {
				_, err := rc.Catalog.Fields.GetByID(ctx, id)
				return err
			},
			findByKey: func(ctx context.Context) (uuid.UUID, error) {
				existing, err := rc.Catalog.Fields.FindByKey(ctx, rc.ProjectID, systemName, scope)
				if err != nil {
					return uuid.Nil, err
				}
				return existing.ID, nil
			},
			create: func(ctx context.Context) (uuid.UUID, error) {
				field := &models.CaseField{
					ID:          uuid.New(),
					ProjectID:   rc.ProjectID,
					Name:        m.Name,
					SystemName:  systemName,
					Type:        m.Type,
					Scope:       scope,
					Required:    m.Required,
					Options:     m.Options,
					TemplateIDs: templateIDs,
				}
				if err := rc.Catalog.Fields.Create(ctx, field); err != nil {
					return uuid.Nil, err
				}
				return field.ID, nil
			},
		})
		if err != nil {
			return summary, err
		}

		if !created && len(templateIDs) > 0 {
			if err := i.mergeTemplates(ctx, rc, id, templateIDs); err != nil {
				return summary, err
			}
		}

		summary.Total++
		if created {
			summary.Created++
		} else {
			summary.Mapped++
		}
		reporter.Report(summary.Total)
	}

	reporter.Final(summary.Total)
	return summary, nil
}

func (i *fieldImporter) resolveTemplates(rc *RunContext, sourceID int64, templates []int64) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(templates))
	for _, tplSource := range templates {
		id, ok := rc.IDMaps.Get(EntityTemplates, tplSource)
		if !ok {
			return nil, &apperrors.ConfigError{
				EntityType: EntityFields,
				SourceID:   sourceID,
				Reason:     fmt.Sprintf("references template source id %d which has not been resolved", tplSource),
			}
		}
		out = append(out, id)
	}
	return out, nil
}

func (i *fieldImporter) mergeTemplates(ctx context.Context, rc *RunContext, id uuid.UUID, incoming []uuid.UUID) error {
	field, err := rc.Catalog.Fields.GetByID(ctx, id)
	if err != nil {
		return err
	}

	have := make(map[uuid.UUID]bool, len(field.TemplateIDs))
	for _, tpl := range field.TemplateIDs {
		have[tpl] = true
	}

	merged := field.TemplateIDs
	for _, tpl := range incoming {
		if have[tpl] {
			continue
		}
		merged = append(merged, tpl)
	}

	if len(merged) == len(field.TemplateIDs) {
		return nil
	}
	return rc.Catalog.Fields.UpdateTemplates(ctx, id, merged)
}

// systemNameFor derives a machine name from a display name: lowercase, runs
// of non-alphanumerics collapsed to single underscores.
func systemNameFor(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
