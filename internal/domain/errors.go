package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrQuotaExceeded signals that the catalog API refused further requests for the day.
var ErrQuotaExceeded = errors.New("catalog api quota exceeded")

// TransientFetchError is a retryable failure isolated to one API call.
type TransientFetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// MalformedRecordError excludes a single record; the run continues.
type MalformedRecordError struct {
	EntityID string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	if e.EntityID == "" {
		return "malformed record: " + e.Reason
	}
	return fmt.Sprintf("malformed record %s: %s", e.EntityID, e.Reason)
}

// ConsistencyError reports observations of one entity disagreeing on an immutable field.
type ConsistencyError struct {
	EntityID string
	Field    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("entity %s: observations disagree on %s", e.EntityID, e.Field)
}

// SchemaValidationError is fatal and names every offending column.
type SchemaValidationError struct {
	Stage   Stage
	Columns []string
	Reason  string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s: schema validation failed on column(s) %s: %s",
		e.Stage, strings.Join(e.Columns, ", "), e.Reason)
}

// InsufficientDataError is fatal and names the violated threshold.
type InsufficientDataError struct {
	Stage     Stage
	Threshold string
	Observed  float64
	Required  float64
	Detail    string
}

func (e *InsufficientDataError) Error() string {
	msg := fmt.Sprintf("%s: threshold %s violated: observed %s, required %s",
		e.Stage, e.Threshold, formatCount(e.Observed), formatCount(e.Required))
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// StageError wraps the failure that moved a run into the failed state.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func formatCount(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.4f", v)
}
