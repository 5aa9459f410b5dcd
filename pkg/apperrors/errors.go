package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrCanceled    = errors.New("import canceled")
	ErrJobNotReady = errors.New("import job is not awaiting configuration")
	ErrJobRunning  = errors.New("import job is still running")
)

// ConfigError reports a fatal mapping-configuration problem: a map action
// pointing at a target that no longer exists, or a create action missing a
// field required to construct the entity. Importers always fail the run on
// one of these; skipping would silently break referential integrity.
type ConfigError struct {
	EntityType string
	SourceID   int64
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mapping configuration error for %s/%d: %s", e.EntityType, e.SourceID, e.Reason)
}

// NewConfigError builds a ConfigError for the given entity type and source id.
func NewConfigError(entityType string, sourceID int64, format string, args ...any) *ConfigError {
	return &ConfigError{
		EntityType: entityType,
		SourceID:   sourceID,
		Reason:     fmt.Sprintf(format, args...),
	}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
