// Package repositories provides data access for the migration engine: the
// staging store, entity mapping records, import jobs, and the target catalog.
package repositories

import (
	"context"
	"fmt"

	"github.com/caseflow-io/caseflow-engine/pkg/database"
)

// scopeQ pulls the project-scoped querier from context. Inside an apply-phase
// chunk this is the open transaction; elsewhere it is the scoped connection.
func scopeQ(ctx context.Context) (database.Querier, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}
	return scope.Q(), nil
}

// nullString returns nil if the string is empty, otherwise returns the string pointer.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// jsonbValue converts a value to JSONB format for database insertion.
// Returns nil for nil/empty slices to store NULL in the database.
func jsonbValue(v any) any {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return nil
		}
		return val
	case []byte:
		if len(val) == 0 {
			return nil
		}
		return val
	default:
		return v
	}
}
