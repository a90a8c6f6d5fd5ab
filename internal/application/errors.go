package application

import (
	"errors"
	"fmt"
)

var (
	// ErrThresholdViolation marks a run whose coverage misses a threshold.
	ErrThresholdViolation = errors.New("coverage threshold not met")
	// ErrTestsFailed marks a run whose partials report failing tests.
	ErrTestsFailed = errors.New("tests failed")
)

// ConfigError is an invalid option, pattern, reporter or threshold.
// It aborts a run before aggregation.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ReportWriteError is the failure of one reporter.
type ReportWriteError struct {
	Reporter ReporterName
	Err      error
}

func (e *ReportWriteError) Error() string {
	return fmt.Sprintf("reporter %s: %v", e.Reporter, e.Err)
}

func (e *ReportWriteError) Unwrap() error { return e.Err }

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsReportWriteError reports whether err carries a ReportWriteError.
func IsReportWriteError(err error) bool {
	var rw *ReportWriteError
	return errors.As(err, &rw)
}
