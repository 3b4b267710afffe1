package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	out     io.Writer
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
		out:     os.Stderr,
	}
}

// WithOutput redirects user-facing messages, which go to stderr by default.
func (a *CLIErrorAdapter) WithOutput(w io.Writer) *CLIErrorAdapter {
	if w != nil {
		a.out = w
	}
	return a
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	if pbe, ok := As(err); ok {
		return a.exitCodeFromPkgBuild(pbe)
	}

	return 1
}

// exitCodeFromPkgBuild maps PkgBuildError to exit codes.
func (a *CLIErrorAdapter) exitCodeFromPkgBuild(err *PkgBuildError) int {
	switch err.Category {
	case CategoryValidation:
		return 2 // Invalid usage
	case CategoryConfig, CategoryManifest:
		return 7 // Configuration error
	case CategoryGraph:
		return 9 // Dependency graph error
	case CategoryBuild, CategorySandbox, CategoryFileSystem:
		return 11 // Build error
	case CategoryProcess, CategoryRuntime:
		return 12 // Runtime error
	case CategoryDispatch:
		return 13 // Nothing to run
	case CategoryInternal:
		return 10 // Internal error
	default:
		return 1 // General error
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	if pbe, ok := As(err); ok {
		return a.formatPkgBuild(pbe)
	}

	return fmt.Sprintf("Error: %v", err)
}

// formatPkgBuild formats a PkgBuildError for display. Context fields such as
// the package and the missing artifact are always shown.
func (a *CLIErrorAdapter) formatPkgBuild(err *PkgBuildError) string {
	if a.verbose {
		return err.Error()
	}

	short := &PkgBuildError{
		Category: err.Category,
		Severity: err.Severity,
		Message:  err.Message,
		Context:  err.Context,
	}
	switch err.Category {
	case CategoryConfig, CategoryValidation, CategoryManifest:
		return short.Error()
	default:
		if err.Kind != "" {
			return fmt.Sprintf("%s: %s", err.Kind, short.Error())
		}
		return short.Error()
	}
}

// Report logs and prints the error and returns the exit code without exiting.
func (a *CLIErrorAdapter) Report(err error) int {
	if err == nil {
		return 0
	}

	if a.shouldLog(err) {
		a.logError(err)
	}

	fmt.Fprintf(a.out, "%s\n", a.FormatError(err))
	return a.ExitCodeFor(err)
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	os.Exit(a.Report(err))
}

// shouldLog determines if an error should be logged.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}

	if pbe, ok := As(err); ok {
		return pbe.Category == CategoryInternal ||
			pbe.Category == CategoryRuntime
	}

	return true
}

// logError logs an error with appropriate level and context.
func (a *CLIErrorAdapter) logError(err error) {
	if pbe, ok := As(err); ok {
		level := a.slogLevelFromSeverity(pbe.Severity)
		attrs := []slog.Attr{
			slog.String("category", string(pbe.Category)),
		}
		if pbe.Kind != "" {
			attrs = append(attrs, slog.String("kind", string(pbe.Kind)))
		}
		for k, v := range pbe.Context {
			attrs = append(attrs, slog.Any(k, v))
		}
		if pbe.Cause != nil {
			attrs = append(attrs, slog.String("cause", pbe.Cause.Error()))
		}

		a.logger.LogAttrs(context.Background(), level, pbe.Message, attrs...)
		return
	}

	a.logger.Error("Unclassified error", "error", err)
}

// slogLevelFromSeverity converts PkgBuildError severity to slog level.
func (a *CLIErrorAdapter) slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
