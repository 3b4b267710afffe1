package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyPackage     = "package"
	KeyVersion     = "version"
	KeyFingerprint = "fingerprint"
	KeyBuildStatus = "build_status"
	KeyRunID       = "run_id"
	KeyPath        = "path"
	KeyCommand     = "command"
	KeyBinary      = "binary"
	KeyExitCode    = "exit_code"
	KeyWorkers     = "workers"
	KeyCount       = "count"
	KeyDurationMS  = "duration_ms"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Package(id string) slog.Attr        { return slog.String(KeyPackage, id) }
func Version(v string) slog.Attr         { return slog.String(KeyVersion, v) }
func Fingerprint(fp string) slog.Attr    { return slog.String(KeyFingerprint, short(fp)) }
func BuildStatus(s string) slog.Attr     { return slog.String(KeyBuildStatus, s) }
func RunID(id string) slog.Attr          { return slog.String(KeyRunID, id) }
func Path(p string) slog.Attr            { return slog.String(KeyPath, p) }
func Command(c string) slog.Attr         { return slog.String(KeyCommand, c) }
func Binary(b string) slog.Attr          { return slog.String(KeyBinary, b) }
func ExitCode(code int) slog.Attr        { return slog.Int(KeyExitCode, code) }
func Workers(n int) slog.Attr            { return slog.Int(KeyWorkers, n) }
func Count(n int) slog.Attr              { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr    { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// short trims fingerprints to a readable prefix.
func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
