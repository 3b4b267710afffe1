// Package errors provides a lightweight structured error type (PkgBuildError)
// for category-based classification of graph, build and dispatch failures.
package errors

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCategory represents the category of a pkgbuild error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryManifest   ErrorCategory = "manifest"

	// Dependency graph errors
	CategoryGraph ErrorCategory = "graph"

	// Build and processing errors
	CategoryBuild      ErrorCategory = "build"
	CategorySandbox    ErrorCategory = "sandbox"
	CategoryProcess    ErrorCategory = "process"
	CategoryFileSystem ErrorCategory = "filesystem"

	// Command dispatch errors
	CategoryDispatch ErrorCategory = "dispatch"

	// Runtime and infrastructure errors
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// Kind names one entry of the failure taxonomy. Callers match on Kind rather
// than on message text.
type Kind string

const (
	KindUnresolvedDependency         Kind = "UnresolvedDependency"
	KindCyclicDependency             Kind = "CyclicDependency"
	KindSandboxCreationFailed        Kind = "SandboxCreationFailed"
	KindBuildFailed                  Kind = "BuildFailed"
	KindSkippedDueToFailedDependency Kind = "SkippedDueToFailedDependency"
	KindPackageNotBuilt              Kind = "PackageNotBuilt"
	KindBinaryNotFound               Kind = "BinaryNotFound"
	KindProcessSpawnFailed           Kind = "ProcessSpawnFailed"
	KindManifestInvalid              Kind = "ManifestInvalid"
	KindPackageNotFound              Kind = "PackageNotFound"
	KindAmbiguousPackage             Kind = "AmbiguousPackage"
)

// PkgBuildError is a structured error with category, kind and context
type PkgBuildError struct {
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Kind     Kind          `json:"kind,omitempty"`
	Message  string        `json:"message"`
	Cause    error         `json:"cause,omitempty"`
	Context  ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for PkgBuildError
type ContextFields map[string]any

// Error implements the error interface. Context fields are appended in key
// order so messages are stable.
func (e *PkgBuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %s", e.Category, e.Severity, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, " "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *PkgBuildError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *PkgBuildError) WithContext(key string, value any) *PkgBuildError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// WithKind tags the error with a taxonomy kind.
func (e *PkgBuildError) WithKind(kind Kind) *PkgBuildError {
	e.Kind = kind
	return e
}

// New creates a new PkgBuildError
func New(category ErrorCategory, severity ErrorSeverity, message string) *PkgBuildError {
	return &PkgBuildError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new PkgBuildError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *PkgBuildError {
	return &PkgBuildError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// As finds the first PkgBuildError in err's chain.
func As(err error) (*PkgBuildError, bool) {
	var pbe *PkgBuildError
	if stdErrors.As(err, &pbe) {
		return pbe, true
	}
	return nil, false
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if pbe, ok := As(err); ok {
		return pbe.Category == category
	}
	return false
}

// IsKind checks if an error (or any error it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var pbe *PkgBuildError
		if !stdErrors.As(err, &pbe) {
			return false
		}
		if pbe.Kind == kind {
			return true
		}
		err = pbe.Cause
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a PkgBuildError
func GetCategory(err error) ErrorCategory {
	if pbe, ok := As(err); ok {
		return pbe.Category
	}
	return CategoryInternal
}

// ValidationError creates a new validation error
func ValidationError(message string) *PkgBuildError {
	return New(CategoryValidation, SeverityWarning, message)
}

// WrapError wraps an existing error with a new PkgBuildError
func WrapError(err error, category ErrorCategory, message string) *PkgBuildError {
	return Wrap(err, category, SeverityError, message)
}
