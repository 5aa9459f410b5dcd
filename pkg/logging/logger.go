package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the process logger. Local environments get the human-readable
// development encoder; everything else gets production JSON.
func New(env string) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	if env == "local" || env == "test" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}
