package logfields

import (
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"Package", KeyPackage, "dep@1.0.0", Package("dep@1.0.0")},
		{"Version", KeyVersion, "1.0.0", Version("1.0.0")},
		{"BuildStatus", KeyBuildStatus, "success", BuildStatus("success")},
		{"RunID", KeyRunID, "r1", RunID("r1")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Command", KeyCommand, "make", Command("make")},
		{"Binary", KeyBinary, "dep", Binary("dep")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestNumericHelpers verifies keys for numeric & float helpers.
func TestNumericHelpers(t *testing.T) {
	if v := ExitCode(2); v.Key != KeyExitCode || v.Value.Int64() != 2 {
		t.Fatalf("ExitCode mismatch: %v", v)
	}
	if v := Workers(4); v.Key != KeyWorkers {
		t.Fatalf("Workers key mismatch: %s", v.Key)
	}
	if v := DurationMS(12.5); v.Key != KeyDurationMS {
		t.Fatalf("DurationMS key mismatch: %s", v.Key)
	}
}

func TestFingerprintIsShortened(t *testing.T) {
	attr := Fingerprint("0123456789abcdef0123")
	if attr.Value.String() != "0123456789ab" {
		t.Fatalf("expected 12-char prefix, got %s", attr.Value.String())
	}
	if Fingerprint("abc").Value.String() != "abc" {
		t.Fatal("short fingerprints must be kept as is")
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError {
		t.Fatalf("Error key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "" {
		t.Fatalf("Expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errTest{})
	if attr.Value.String() != "err-test" {
		t.Fatalf("Expected 'err-test', got %s", attr.Value.String())
	}
}

type errTest struct{}

func (e errTest) Error() string { return "err-test" }
