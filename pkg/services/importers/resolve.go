package importers

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// resolver supplies the per-entity-type probes resolveEntity needs. exists
// and findByKey return apperrors.ErrNotFound when the target is absent;
// create inserts and returns the new id.
type resolver struct {
	exists    func(ctx context.Context, id uuid.UUID) error
	findByKey func(ctx context.Context) (uuid.UUID, error)
	create    func(ctx context.Context) (uuid.UUID, error)
}

// resolveEntity applies one map/create decision. Map actions validate the
// referenced target (an existing catalog entity or a sibling source id
// already resolved in this run); a dangling reference is a configuration
// error and aborts the apply. Create actions probe the natural key first so
// re-running a job folds into the prior run's entities instead of
// duplicating them.
func resolveEntity(ctx context.Context, rc *RunContext, entity string, sourceID int64, ref models.MappingRef, r resolver) (id uuid.UUID, created bool, err error) {
	if existing, ok := rc.IDMaps.Get(entity, sourceID); ok {
		return existing, false, nil
	}

	targetType := models.MappingTargetCreate

	switch {
	case ref.Action == models.ActionMap && ref.MappedTo != nil:
		if err := r.exists(ctx, *ref.MappedTo); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return uuid.Nil, false, &apperrors.ConfigError{
					EntityType: entity,
					SourceID:   sourceID,
					Reason:     fmt.Sprintf("mapped target %s does not exist", *ref.MappedTo),
				}
			}
			return uuid.Nil, false, err
		}
		id = *ref.MappedTo
		targetType = models.MappingTargetMap

	case ref.Action == models.ActionMap && ref.MappedToSource != nil:
		sibling, ok := rc.IDMaps.Get(entity, *ref.MappedToSource)
		if !ok {
			return uuid.Nil, false, &apperrors.ConfigError{
				EntityType: entity,
				SourceID:   sourceID,
				Reason:     fmt.Sprintf("mapped to source id %d which has not been resolved", *ref.MappedToSource),
			}
		}
		id = sibling
		targetType = models.MappingTargetMap

	case ref.Action == models.ActionMap:
		return uuid.Nil, false, &apperrors.ConfigError{
			EntityType: entity,
			SourceID:   sourceID,
			Reason:     "map action without a target",
		}

	default:
		// Create, folding into an existing entity with the same natural
		// key when one is already present in the target store.
		id, err = r.findByKey(ctx)
		switch {
		case err == nil:
			targetType = models.MappingTargetMap
		case errors.Is(err, apperrors.ErrNotFound):
			id, err = r.create(ctx)
			if err != nil {
				return uuid.Nil, false, fmt.Errorf("failed to create %s for source id %d: %w", entity, sourceID, err)
			}
			created = true
		default:
			return uuid.Nil, false, err
		}
	}

	if err := rc.Mappings.Store(ctx, &models.EntityMapping{
		JobID:      rc.Job.ID,
		EntityType: entity,
		SourceID:   sourceID,
		TargetID:   &id,
		TargetType: targetType,
	}); err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to record %s mapping for source id %d: %w", entity, sourceID, err)
	}
	rc.IDMaps.Set(entity, sourceID, id)

	return id, created, nil
}

// sortedKeys returns the source ids of a configuration category in ascending
// order so apply runs are deterministic.
func sortedKeys[T any](m map[int64]*T) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
