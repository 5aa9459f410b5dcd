package importers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/database"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
)

// EntitySummary is the per-entity-type outcome of an apply run. Total always
// equals created+mapped+skipped so operators can see exactly how much of a
// category was migrated versus dropped.
type EntitySummary struct {
	Entity  string   `json:"entity"`
	Total   int      `json:"total"`
	Created int      `json:"created"`
	Mapped  int      `json:"mapped"`
	Skipped int      `json:"skipped"`
	Details []string `json:"details,omitempty"`
}

// Reporter receives throttled progress observations for one entity type.
type Reporter interface {
	Report(processed int)
	Final(processed int)
}

// Catalog bundles the target-store repositories the importers write through.
type Catalog struct {
	Workflows    repositories.WorkflowRepository
	Statuses     repositories.StatusRepository
	Roles        repositories.RoleRepository
	Groups       repositories.GroupRepository
	Tags         repositories.TagRepository
	Users        repositories.UserRepository
	ConfigGroups repositories.ConfigGroupRepository
	Templates    repositories.TemplateRepository
	Fields       repositories.CaseFieldRepository
	Cases        repositories.CaseRepository
	Runs         repositories.RunRepository
	Results      repositories.ResultRepository
	IssueLinks   repositories.IssueLinkRepository
}

// RunContext carries everything one apply session shares across importers.
// The caches are explicit per-run objects, never globals, so concurrent jobs
// cannot cross-contaminate and tests reset them by constructing a new run.
type RunContext struct {
	Job       *models.ImportJob
	ProjectID uuid.UUID
	Config    *models.MappingConfig

	// Scope runs chunk transactions on the session's scoped connection.
	Scope TxRunner

	IDMaps *IDMaps
	Names  *NameCache

	Staging  repositories.StagingRepository
	Mappings repositories.MappingRepository
	Catalog  Catalog

	ChunkSize    int
	ChunkTimeout time.Duration

	// NewReporter builds a throttled progress reporter for one entity type.
	NewReporter func(entity string, total int) Reporter

	// OnEntityDone is invoked after each importer finishes, in order.
	OnEntityDone func(summary EntitySummary)
}

// TxRunner opens one bounded transaction per chunk on an RLS-scoped
// connection. *database.ProjectScope satisfies it.
type TxRunner interface {
	InTx(ctx context.Context, timeout time.Duration, fn func(txCtx context.Context) error) error
}

var _ TxRunner = (*database.ProjectScope)(nil)

// Importer applies one entity type. DependsOn names entity types whose ID
// maps must be populated before Run is called.
type Importer interface {
	Entity() string
	DependsOn() []string
	Run(ctx context.Context, rc *RunContext) (EntitySummary, error)
}

// Entity type names, shared between ID maps, entity mappings and summaries.
const (
	EntityWorkflows      = "workflows"
	EntityStatuses       = "statuses"
	EntityRoles          = "roles"
	EntityGroups         = "groups"
	EntityTags           = "tags"
	EntityUsers          = "users"
	EntityConfigurations = "configurations"
	EntityTemplates      = "templates"
	EntityFields         = "fields"
	EntityCases          = "cases"
	EntityRuns           = "runs"
	EntityResults        = "results"
	EntityIssueLinks     = "issue_links"
)

// IDMaps holds the source-id to target-id correspondences accumulated during
// one apply session, keyed by entity type.
type IDMaps struct {
	m map[string]map[int64]uuid.UUID
}

// NewIDMaps creates an empty set of ID maps.
func NewIDMaps() *IDMaps {
	return &IDMaps{m: make(map[string]map[int64]uuid.UUID)}
}

// Set records a correspondence.
func (im *IDMaps) Set(entity string, sourceID int64, targetID uuid.UUID) {
	byID, ok := im.m[entity]
	if !ok {
		byID = make(map[int64]uuid.UUID)
		im.m[entity] = byID
	}
	byID[sourceID] = targetID
}

// Get resolves a source id for an entity type.
func (im *IDMaps) Get(entity string, sourceID int64) (uuid.UUID, bool) {
	id, ok := im.m[entity][sourceID]
	return id, ok
}

// Count returns how many correspondences exist for an entity type.
func (im *IDMaps) Count(entity string) int {
	return len(im.m[entity])
}

// NameCache is a read-through name-to-id cache scoped to one apply session.
// Entries are idempotent lookups, safe to recompute, never authoritative
// state.
type NameCache struct {
	m map[string]map[string]uuid.UUID
}

// NewNameCache creates an empty cache.
func NewNameCache() *NameCache {
	return &NameCache{m: make(map[string]map[string]uuid.UUID)}
}

func nameKey(name string) string {
	return strings.TrimSpace(name)
}

// Get looks up a cached id by entity type and name.
func (c *NameCache) Get(entity, name string) (uuid.UUID, bool) {
	id, ok := c.m[entity][nameKey(name)]
	return id, ok
}

// Put caches an id under an entity type and name.
func (c *NameCache) Put(entity, name string, id uuid.UUID) {
	byName, ok := c.m[entity]
	if !ok {
		byName = make(map[string]uuid.UUID)
		c.m[entity] = byName
	}
	byName[nameKey(name)] = id
}

// Engine runs every registered importer in dependency order.
type Engine struct {
	importers []Importer
	logger    *zap.Logger
}

// NewEngine creates the apply engine with the full importer sequence. The
// declared order is validated against each importer's dependencies at
// construction, so a reordering mistake fails fast instead of surfacing as
// unresolved ID maps mid-run.
func NewEngine(logger *zap.Logger) (*Engine, error) {
	sequence := []Importer{
		&workflowImporter{},
		&statusImporter{},
		&roleImporter{},
		&groupImporter{},
		&tagImporter{},
		&userImporter{},
		&configurationImporter{},
		&templateImporter{},
		&fieldImporter{},
		&caseImporter{},
		&runImporter{},
		&resultImporter{},
		&issueLinkImporter{},
	}
	if err := validateOrder(sequence); err != nil {
		return nil, err
	}
	return &Engine{importers: sequence, logger: logger.Named("apply")}, nil
}

// validateOrder checks that every importer's dependencies appear earlier in
// the sequence.
func validateOrder(sequence []Importer) error {
	seen := make(map[string]bool, len(sequence))
	for _, imp := range sequence {
		for _, dep := range imp.DependsOn() {
			if !seen[dep] {
				return fmt.Errorf("importer %s depends on %s which does not run before it", imp.Entity(), dep)
			}
		}
		if seen[imp.Entity()] {
			return fmt.Errorf("importer %s is registered twice", imp.Entity())
		}
		seen[imp.Entity()] = true
	}
	return nil
}

// Order returns the entity types in execution order.
func (e *Engine) Order() []string {
	out := make([]string, len(e.importers))
	for i, imp := range e.importers {
		out[i] = imp.Entity()
	}
	return out
}

// Run executes every importer in order. A configuration error or cancellation
// aborts the run; summaries of entity types that completed before the abort
// are returned alongside the error, and their committed work stands.
func (e *Engine) Run(ctx context.Context, rc *RunContext) ([]EntitySummary, error) {
	var summaries []EntitySummary

	for _, imp := range e.importers {
		if err := ctx.Err(); err != nil {
			return summaries, fmt.Errorf("%w: apply stopped before %s", apperrors.ErrCanceled, imp.Entity())
		}

		e.logger.Info("applying entity type", zap.String("entity", imp.Entity()))
		summary, err := imp.Run(ctx, rc)
		if err != nil {
			return summaries, fmt.Errorf("apply failed on %s: %w", imp.Entity(), err)
		}

		summary.Entity = imp.Entity()
		summaries = append(summaries, summary)
		if rc.OnEntityDone != nil {
			rc.OnEntityDone(summary)
		}

		e.logger.Info("entity type applied",
			zap.String("entity", summary.Entity),
			zap.Int("total", summary.Total),
			zap.Int("created", summary.Created),
			zap.Int("mapped", summary.Mapped),
			zap.Int("skipped", summary.Skipped))
	}

	return summaries, nil
}
