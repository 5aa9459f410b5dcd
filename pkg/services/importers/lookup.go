package importers

import (
	"context"

	"github.com/google/uuid"

	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// The lookup importers below materialize the low-volume catalog entity types
// directly from the mapping configuration. Every decision in a category is
// applied in ascending source-id order; staged rows are not re-read because
// the configuration already carries the normalized attributes.

type workflowImporter struct{}

func (i *workflowImporter) Entity() string      { return EntityWorkflows }
func (i *workflowImporter) DependsOn() []string { return nil }

func (i *workflowImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary
	reporter := rc.NewReporter(EntityWorkflows, len(rc.Config.Workflows))

	clearedDefault := false
	for _, sourceID := range sortedKeys(rc.Config.Workflows) {
		m := rc.Config.Workflows[sourceID]

		if m.Action == models.ActionCreate && m.IsDefault && !clearedDefault {
			if err := rc.Catalog.Workflows.ClearDefault(ctx, rc.ProjectID); err != nil {
				return summary, err
			}
			clearedDefault = true
		}

		_, created, err := resolveEntity(ctx, rc, EntityWorkflows, sourceID, m.MappingRef, resolver{
			exists: func(ctx context.Context, id uuid.UUID) error {
				_, err := rc.Catalog.Workflows.GetByID(ctx, id)
				return err
			},
			findByKey: func(ctx context.Context) (uuid.UUID, error) {
				existing, err := rc.Catalog.Workflows.FindByName(ctx, rc.ProjectID, m.Name)
				if err != nil {
					return uuid.Nil, err
				}
				return existing.ID, nil
			},
			create: func(ctx context.Context) (uuid.UUID, error) {
				wf := &models.Workflow{
					ID:        uuid.New(),
					ProjectID: rc.ProjectID,
					Name:      m.Name,
					Phase:     m.Phase,
					Color:     m.Color,
					IsDefault: m.IsDefault,
				}
				if err := rc.Catalog.Workflows.Create(ctx, wf); err != nil {
					return uuid.Nil, err
				}
				return wf.ID, nil
			},
		})
		if err != nil {
			return summary, err
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

type statusImporter struct{}

func (i *statusImporter) Entity() string      { return EntityStatuses }
func (i *statusImporter) DependsOn() []string { return nil }

func (i *statusImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary
	reporter := rc.NewReporter(EntityStatuses, len(rc.Config.Statuses))

	clearedDefault := false
	for _, sourceID := range sortedKeys(rc.Config.Statuses) {
		m := rc.Config.Statuses[sourceID]

		if m.Action == models.ActionCreate && m.IsDefault && !clearedDefault {
			if err := rc.Catalog.Statuses.ClearDefault(ctx, rc.ProjectID); err != nil {
				return summary, err
			}
			clearedDefault = true
		}

		_, created, err := resolveEntity(ctx, rc, EntityStatuses, sourceID, m.MappingRef, resolver{
			exists: func(ctx context.Context, id uuid.UUID) error {
				_, err := rc.Catalog.Statuses.GetByID(ctx, id)
				return err
			},
			findByKey: func(ctx context.Context) (uuid.UUID, error) {
				existing, err := rc.Catalog.Statuses.FindByName(ctx, rc.ProjectID, m.Name)
				if err != nil {
					return uuid.Nil, err
				}
				return existing.ID, nil
			},
			create: func(ctx context.Context) (uuid.UUID, error) {
				st := &models.Status{
					ID:          uuid.New(),
					ProjectID:   rc.ProjectID,
					Name:        m.Name,
					Color:       m.Color,
					IsCompleted: m.IsCompleted,
					IsDefault:   m.IsDefault,
				}
				if err := rc.Catalog.Statuses.Create(ctx, st); err != nil {
					return uuid.Nil, err
				}
				return st.ID, nil
			},
		})
		if err != nil {
			return summary, err
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

type roleImporter struct{}

func (i *roleImporter) Entity() string      { return EntityRoles }
func (i *roleImporter) DependsOn() []string { return nil }

func (i *roleImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary
	reporter := rc.NewReporter(EntityRoles, len(rc.Config.Roles))

	for _, sourceID := range sortedKeys(rc.Config.Roles) {
		m := rc.Config.Roles[sourceID]

		_, created, err := resolveEntity(ctx, rc, EntityRoles, sourceID, m.MappingRef, resolver{
			exists: func(ctx context.Context, id uuid.UUID) error {
				_, err := rc.Catalog.Roles.GetByID(ctx, id)
				return err
			},
			findByKey: func(ctx context.Context) (uuid.UUID, error) {
				existing, err := rc.Catalog.Roles.FindByName(ctx, rc.ProjectID, m.Name)
				if err != nil {
					return uuid.Nil, err
				}
				return existing.ID, nil
			},
			create: func(ctx context.Context) (uuid.UUID, error) {
				role := &models.Role{
					ID:          uuid.New(),
					ProjectID:   rc.ProjectID,
					Name:        m.Name,
					Permissions: m.Permissions,
				}
				if err := rc.Catalog.Roles.Create(ctx, role); err != nil {
					return uuid.Nil, err
				}
				return role.ID, nil
			},
		})
		if err != nil {
			return summary, err
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

type groupImporter struct{}

func (i *groupImporter) Entity() string      { return EntityGroups }
func (i *groupImporter) DependsOn() []string { return nil }

func (i *groupImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary
	reporter := rc.NewReporter(EntityGroups, len(rc.Config.Groups))

	for _, sourceID := range sortedKeys(rc.Config.Groups) {
		m := rc.Config.Groups[sourceID]

		_, created, err := resolveEntity(ctx, rc, EntityGroups, sourceID, m.MappingRef, resolver{
			exists: func(ctx context.Context, id uuid.UUID) error {
				_, err := rc.Catalog.Groups.GetByID(ctx, id)
				return err
			},
			findByKey: func(ctx context.Context) (uuid.UUID, error) {
				existing, err := rc.Catalog.Groups.FindByName(ctx, rc.ProjectID, m.Name)
				if err != nil {
					return uuid.Nil, err
				}
				return existing.ID, nil
			},
			create: func(ctx context.Context) (uuid.UUID, error) {
				group := &models.Group{
					ID:        uuid.New(),
					ProjectID: rc.ProjectID,
					Name:      m.Name,
				}
				if err := rc.Catalog.Groups.Create(ctx, group); err != nil {
					return uuid.Nil, err
				}
				return group.ID, nil
			},
		})
		if err != nil {
			return summary, err
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

type tagImporter struct{}

func (i *tagImporter) Entity() string      { return EntityTags }
func (i *tagImporter) DependsOn() []string { return nil }

func (i *tagImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary
	reporter := rc.NewReporter(EntityTags, len(rc.Config.Tags))

	for _, sourceID := range sortedKeys(rc.Config.Tags) {
		m := rc.Config.Tags[sourceID]

		_, created, err := resolveEntity(ctx, rc, EntityTags, sourceID, m.MappingRef, resolver{
			exists: func(ctx context.Context, id uuid.UUID) error {
				_, err := rc.Catalog.Tags.GetByID(ctx, id)
				return err
			},
			findByKey: func(ctx context.Context) (uuid.UUID, error) {
				existing, err := rc.Catalog.Tags.FindByName(ctx, rc.ProjectID, m.Name)
				if err != nil {
					return uuid.Nil, err
				}
				return existing.ID, nil
			},
			create: func(ctx context.Context) (uuid.UUID, error) {
				tag := &models.Tag{
					ID:        uuid.New(),
					ProjectID: rc.ProjectID,
					Name:      m.Name,
				}
				if err := rc.Catalog.Tags.Create(ctx, tag); err != nil {
					return uuid.Nil, err
				}
				return tag.ID, nil
			},
		})
		if err != nil {
			return summary, err
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

type userImporter struct{}

func (i *userImporter) Entity() string      { return EntityUsers }
func (i *userImporter) DependsOn() []string { return nil }

// Run resolves users by email when one is present, falling back to the
// display name for accounts the export anonymized.
func (i *userImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary
	reporter := rc.NewReporter(EntityUsers, len(rc.Config.Users))

	for _, sourceID := range sortedKeys(rc.Config.Users) {
		m := rc.Config.Users[sourceID]

		_, created, err := resolveEntity(ctx, rc, EntityUsers, sourceID, m.MappingRef, resolver{
			exists: func(ctx context.Context, id uuid.UUID) error {
				_, err := rc.Catalog.Users.GetByID(ctx, id)
				return err
			},
			findByKey: func(ctx context.Context) (uuid.UUID, error) {
				if m.Email != "" {
					existing, err := rc.Catalog.Users.FindByEmail(ctx, rc.ProjectID, m.Email)
					if err != nil {
						return uuid.Nil, err
					}
					return existing.ID, nil
				}
				existing, err := rc.Catalog.Users.FindByName(ctx, rc.ProjectID, m.Name)
				if err != nil {
					return uuid.Nil, err
				}
				return existing.ID, nil
			},
			create: func(ctx context.Context) (uuid.UUID, error) {
				user := &models.User{
					ID:        uuid.New(),
					ProjectID: rc.ProjectID,
					Email:     m.Email,
					Name:      m.Name,
					IsActive:  m.IsActive,
				}
				if err := rc.Catalog.Users.Create(ctx, user); err != nil {
					return uuid.Nil, err
				}
				return user.ID, nil
			},
		})
		if err != nil {
			return summary, err
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

type configurationImporter struct{}

func (i *configurationImporter) Entity() string      { return EntityConfigurations }
func (i *configurationImporter) DependsOn() []string { return nil }

// Run creates or maps configuration groups. When a group folds into an
// existing one, options from the configuration that the existing group lacks
// are appended so mapped groups still gain the export's option values.
func (i *configurationImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary
	reporter := rc.NewReporter(EntityConfigurations, len(rc.Config.Configurations))

	for _, sourceID := range sortedKeys(rc.Config.Configurations) {
		m := rc.Config.Configurations[sourceID]

		id, created, err := resolveEntity(ctx, rc, EntityConfigurations, sourceID, m.MappingRef, resolver{
			exists: func(ctx context.Context, id uuid.UUID) error {
				_, err := rc.Catalog.ConfigGroups.GetByID(ctx, id)
				return err
			},
			findByKey: func(ctx context.Context) (uuid.UUID, error) {
				existing, err := rc.Catalog.ConfigGroups.FindByName(ctx, rc.ProjectID, m.Name)
				if err != nil {
					return uuid.Nil, err
				}
				return existing.ID, nil
			},
			create: func(ctx context.Context) (uuid.UUID, error) {
				group := &models.ConfigGroup{
					ID:        uuid.New(),
					ProjectID: rc.ProjectID,
					Name:      m.Name,
					Options:   m.Options,
				}
				if err := rc.Catalog.ConfigGroups.Create(ctx, group); err != nil {
					return uuid.Nil, err
				}
				return group.ID, nil
			},
		})
		if err != nil {
			return summary, err
		}

		if !created && len(m.Options) > 0 {
			if err := i.mergeOptions(ctx, rc, id, m.Options); err != nil {
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

func (i *configurationImporter) mergeOptions(ctx context.Context, rc *RunContext, id uuid.UUID, incoming []models.DropdownOption) error {
	group, err := rc.Catalog.ConfigGroups.GetByID(ctx, id)
	if err != nil {
		return err
	}

	have := make(map[string]bool, len(group.Options))
	for _, opt := range group.Options {
		have[opt.Name] = true
	}

	merged := group.Options
	for _, opt := range incoming {
		if have[opt.Name] {
			continue
		}
		opt.Order = len(merged)
		opt.IsDefault = false
		merged = append(merged, opt)
	}

	if len(merged) == len(group.Options) {
		return nil
	}
	return rc.Catalog.ConfigGroups.UpdateOptions(ctx, id, merged)
}

type templateImporter struct{}

func (i *templateImporter) Entity() string      { return EntityTemplates }
func (i *templateImporter) DependsOn() []string { return nil }

func (i *templateImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary
	reporter := rc.NewReporter(EntityTemplates, len(rc.Config.Templates))

	clearedDefault := false
	for _, sourceID := range sortedKeys(rc.Config.Templates) {
		m := rc.Config.Templates[sourceID]

		if m.Action == models.ActionCreate && m.IsDefault && !clearedDefault {
			if err := rc.Catalog.Templates.ClearDefault(ctx, rc.ProjectID); err != nil {
				return summary, err
			}
			clearedDefault = true
		}

		_, created, err := resolveEntity(ctx, rc, EntityTemplates, sourceID, m.MappingRef, resolver{
			exists: func(ctx context.Context, id uuid.UUID) error {
				_, err := rc.Catalog.Templates.GetByID(ctx, id)
				return err
			},
			findByKey: func(ctx context.Context) (uuid.UUID, error) {
				existing, err := rc.Catalog.Templates.FindByName(ctx, rc.ProjectID, m.Name)
				if err != nil {
					return uuid.Nil, err
				}
				return existing.ID, nil
			},
			create: func(ctx context.Context) (uuid.UUID, error) {
				tpl := &models.Template{
					ID:        uuid.New(),
					ProjectID: rc.ProjectID,
					Name:      m.Name,
					IsDefault: m.IsDefault,
				}
				if err := rc.Catalog.Templates.Create(ctx, tpl); err != nil {
					return uuid.Nil, err
				}
				return tpl.ID, nil
			},
		})
		if err != nil {
			return summary, err
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
