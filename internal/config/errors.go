package config

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPort         = errors.New("port must not be empty")
	ErrEmptyDataFile     = errors.New("data_file must not be empty")
	ErrNegativeRateLimit = errors.New("bulk_rate_limit must not be negative")
	ErrNegativeRetention = errors.New("backup_retention_days must not be negative")
	ErrInvalidInterval   = errors.New("archive_interval must be positive")
)

func wrap(op string, err error) error {
	return fmt.Errorf("config: %s: %w", op, err)
}
