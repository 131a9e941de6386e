package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies failures for containment and reporting.
type ErrorKind int

const (
	// ErrorKindStorage indicates an I/O failure in a memory store or the global repository.
	ErrorKindStorage ErrorKind = iota

	// ErrorKindValidation indicates a malformed pattern or snapshot.
	ErrorKindValidation

	// ErrorKindDelivery indicates ingestion into a recipient failed.
	ErrorKindDelivery

	// ErrorKindConfiguration indicates invalid thresholds or paths. Fatal.
	ErrorKindConfiguration

	// ErrorKindUnknown is the fallback for unclassified errors.
	ErrorKindUnknown
)

// String returns the kind name.
func (k ErrorKind) String() string {
	names := []string{
		"storage",
		"validation",
		"delivery",
		"configuration",
		"unknown",
	}
	if k >= 0 && int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Prefix returns the display prefix for this error kind.
func (k ErrorKind) Prefix() string {
	prefixes := []string{
		"[STORAGE]",
		"[VALIDATION]",
		"[DELIVERY]",
		"[CONFIG]",
		"[ERROR]",
	}
	if k >= 0 && int(k) < len(prefixes) {
		return prefixes[k]
	}
	return "[ERROR]"
}

// Fatal reports whether errors of this kind abort a process.
func (k ErrorKind) Fatal() bool {
	return k == ErrorKindConfiguration
}

// Error wraps an underlying failure with its kind, the operation that
// failed and the subject (agent, pattern or path) it failed on.
type Error struct {
	Kind    ErrorKind
	Op      string
	Subject string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Prefix())
	if e.Op != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Op)
	}
	if e.Subject != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Subject))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the original error for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Err
}

// StorageError wraps err as a storage failure.
func StorageError(op, subject string, err error) error {
	return &Error{Kind: ErrorKindStorage, Op: op, Subject: subject, Err: err}
}

// ValidationError wraps err as a validation failure.
func ValidationError(op, subject string, err error) error {
	return &Error{Kind: ErrorKindValidation, Op: op, Subject: subject, Err: err}
}

// DeliveryError wraps err as a delivery failure.
func DeliveryError(op, subject string, err error) error {
	return &Error{Kind: ErrorKindDelivery, Op: op, Subject: subject, Err: err}
}

// ConfigurationError wraps err as a configuration failure.
func ConfigurationError(op, subject string, err error) error {
	return &Error{Kind: ErrorKindConfiguration, Op: op, Subject: subject, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain,
// or ErrorKindUnknown when none is present.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// =============================================================================
// ERROR SUMMARY
// =============================================================================

// ErrorSummary aggregates contained errors by kind for a curation cycle.
type ErrorSummary struct {
	Counts   map[string]int `json:"counts"`
	Messages []string       `json:"messages,omitempty"`
}

// maxSummaryMessages bounds the retained messages so a noisy cycle stays readable.
const maxSummaryMessages = 20

// NewErrorSummary returns an empty summary.
func NewErrorSummary() ErrorSummary {
	return ErrorSummary{Counts: make(map[string]int)}
}

// Add records err under its kind. Nil errors are ignored.
func (s *ErrorSummary) Add(err error) {
	if err == nil {
		return
	}
	if s.Counts == nil {
		s.Counts = make(map[string]int)
	}
	s.Counts[KindOf(err).String()]++
	if len(s.Messages) < maxSummaryMessages {
		s.Messages = append(s.Messages, err.Error())
	}
}

// Merge folds other into s.
func (s *ErrorSummary) Merge(other ErrorSummary) {
	if s.Counts == nil {
		s.Counts = make(map[string]int)
	}
	for k, v := range other.Counts {
		s.Counts[k] += v
	}
	for _, m := range other.Messages {
		if len(s.Messages) >= maxSummaryMessages {
			break
		}
		s.Messages = append(s.Messages, m)
	}
}

// Count returns the number of errors recorded for kind.
func (s ErrorSummary) Count(kind ErrorKind) int {
	return s.Counts[kind.String()]
}

// Total returns the number of errors recorded across all kinds.
func (s ErrorSummary) Total() int {
	total := 0
	for _, v := range s.Counts {
		total += v
	}
	return total
}

// String renders the counts in a stable order.
func (s ErrorSummary) String() string {
	if s.Total() == 0 {
		return "no errors"
	}
	kinds := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.Counts[k]))
	}
	return strings.Join(parts, " ")
}
