package dynaquery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for use with errors.Is. ErrNotFound is returned as is;
// OptimisticLockFailure and ScanNotPermitted unwrap to ErrOptimisticLock
// and ErrScanNotPermitted. The other error types below wrap no sentinel.
var (
	// ErrNotFound is returned by Get and FindOne when no item matches.
	ErrNotFound = errors.New("dynaquery: item not found")

	// ErrOptimisticLock is returned by Save when a version-annotated write
	// loses its compare-and-swap race.
	ErrOptimisticLock = errors.New("dynaquery: optimistic lock failed")

	// ErrScanNotPermitted is returned when a derived plan requires a Scan
	// but the repository or method has not enabled it.
	ErrScanNotPermitted = errors.New("dynaquery: scan not permitted")

	// errCanceled is the Cause recorded on BatchWriteFailed when a context
	// is canceled mid-retry.
	errCanceled = errors.New("dynaquery: canceled during batch retry backoff")
)

// MetadataError reports a problem extracting entity metadata from a user
// type: no partition key, multiple partition, sort or version keys, key
// attributes aliasing the same wire name, a malformed or incomplete index
// declaration, or an index declared on a non-scalar field.
type MetadataError struct {
	Type   string
	Reason string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("dynaquery: metadata error on type %s: %s", e.Type, e.Reason)
}

// ParseError reports an unrecognized method name, unknown property, or
// unsupported keyword (Or, IgnoreCase, First, Top, Like) encountered while
// parsing a finder method name.
type ParseError struct {
	MethodName string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dynaquery: cannot parse method %q: %s", e.MethodName, e.Reason)
}

// UnsupportedOperator reports an operator disallowed for the inferred
// plan: a non-EQ operator (CONTAINS included) on the partition key, two
// sort clauses, criteria spanning two GSIs, a sort request on a
// non-range-key property, or a strongly consistent read on a GSI.
// IgnoreCase is rejected earlier, as a ParseError.
type UnsupportedOperator struct {
	Operator string
	Property string
	Reason   string
}

func (e *UnsupportedOperator) Error() string {
	return fmt.Sprintf("dynaquery: operator %s on %s is not supported: %s",
		e.Operator, e.Property, e.Reason)
}

// AmbiguousIndex reports that criteria matched more than one index
// exactly, with no way to disambiguate other than narrowing the finder.
type AmbiguousIndex struct {
	Candidates []string
}

func (e *AmbiguousIndex) Error() string {
	return fmt.Sprintf("dynaquery: criteria match multiple indexes exactly: %v", e.Candidates)
}

// OptimisticLockFailure reports a failed conditional write on a
// version-annotated entity.
type OptimisticLockFailure struct {
	Table           string
	ExpectedVersion int64
}

func (e *OptimisticLockFailure) Error() string {
	return fmt.Sprintf("dynaquery: optimistic lock failed on table %s, expected version %d",
		e.Table, e.ExpectedVersion)
}

func (e *OptimisticLockFailure) Unwrap() error { return ErrOptimisticLock }

// ScanNotPermitted reports that a derived plan required a full-table Scan
// but the invocation's scanEnabled permission was false.
type ScanNotPermitted struct {
	MethodName string
}

func (e *ScanNotPermitted) Error() string {
	return fmt.Sprintf("dynaquery: method %q requires a scan, which is not permitted", e.MethodName)
}

func (e *ScanNotPermitted) Unwrap() error { return ErrScanNotPermitted }

// BatchWriteFailed is returned when batch write retries are exhausted or a
// cancellation interrupts a backoff sleep. UnprocessedItems carries the
// items of the failing batch that never made it to the table, in the
// order supplied by the caller, so they can be retried or persisted for
// later reconciliation. Items of later batches in the same BatchSave call
// are never sent and are not listed.
type BatchWriteFailed struct {
	UnprocessedItems []interface{}
	Attempts         int
	Cause            error
}

func (e *BatchWriteFailed) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dynaquery: batch write failed after %d attempts, %d items unprocessed: %v",
			e.Attempts, len(e.UnprocessedItems), e.Cause)
	}
	return fmt.Sprintf("dynaquery: batch write failed after %d attempts, %d items unprocessed",
		e.Attempts, len(e.UnprocessedItems))
}

func (e *BatchWriteFailed) Unwrap() error { return e.Cause }

// TransportError wraps an error returned by the transport collaborator
// (the DynamoDB client) that this package does not otherwise recognize.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dynaquery: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ArgumentError reports a mismatch between a finder's operator shape and
// the variadic arguments supplied to it: wrong count, or an IN argument
// that is not a slice or array.
type ArgumentError struct {
	MethodName string
	Property   string
	Reason     string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("dynaquery: bad arguments for %q on property %s: %s",
		e.MethodName, e.Property, e.Reason)
}

// ErrIndexNotViable explains why a single candidate index could not serve
// an expression, in the style of the teacher library's index scoring
// diagnostics (autoquery.ErrIndexNotViable).
type ErrIndexNotViable struct {
	IndexName        string   `json:"indexName"`
	NotViableReasons []string `json:"notViableReasons,omitempty"`
}

func (e ErrIndexNotViable) Error() string {
	bytes, _ := json.Marshal(e)
	return fmt.Sprintf("index not viable: %s", string(bytes))
}

// retryDelay computes the backoff delay for attempt i (zero-based) under
// policy p: min(maxDelay, baseDelay * 2^i), scaled by a uniform random in
// [0.5, 1.0] when jitter is enabled.
func retryDelay(p RetryPolicy, attempt int, rand func() float64) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay <= 0 || delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if !p.Jitter {
		return delay
	}
	scale := 0.5 + 0.5*rand()
	return time.Duration(float64(delay) * scale)
}
