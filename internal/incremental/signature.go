// Package incremental computes build fingerprints so that unchanged packages
// are not rebuilt.
package incremental

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
)

// DependencyFingerprint is the fingerprint of one direct dependency.
type DependencyFingerprint struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
}

// BuildSignature holds every input that determines a package's build output.
type BuildSignature struct {
	Package      string                  `json:"package"`
	Build        [][]string              `json:"build"`
	Install      [][]string              `json:"install"`
	Env          map[string]string       `json:"env"`
	Bin          string                  `json:"bin"`
	Dependencies []DependencyFingerprint `json:"dependencies"`
	SourceHash   string                  `json:"source_hash"`
	Fingerprint  string                  `json:"-"`
}

// ComputeSignature builds the signature of desc. depFingerprints must follow
// the declared dependency order. The fingerprint is stable across runs for
// identical inputs; map keys are ordered by the JSON encoder.
func ComputeSignature(desc *descriptor.PackageDescriptor, depFingerprints []DependencyFingerprint, sourceHash string) (*BuildSignature, error) {
	if desc == nil {
		return nil, fmt.Errorf("descriptor cannot be nil")
	}

	sig := &BuildSignature{
		Package:      desc.ID.String(),
		Build:        desc.BuildCommand,
		Install:      desc.InstallCommand,
		Env:          desc.ExportedEnv,
		Bin:          desc.DefaultBinary(),
		Dependencies: depFingerprints,
		SourceHash:   sourceHash,
	}
	if sig.Build == nil {
		sig.Build = [][]string{}
	}
	if sig.Install == nil {
		sig.Install = [][]string{}
	}
	if sig.Env == nil {
		sig.Env = map[string]string{}
	}
	if sig.Dependencies == nil {
		sig.Dependencies = []DependencyFingerprint{}
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signature: %w", err)
	}
	hash := sha256.Sum256(data)
	sig.Fingerprint = hex.EncodeToString(hash[:])
	return sig, nil
}

// Fingerprinter computes package fingerprints, hashing source trees once per
// path. It is not safe for concurrent use.
type Fingerprinter struct {
	exclude []string
	sources map[string]string
}

// NewFingerprinter creates a fingerprinter. exclude lists extra ignore
// patterns applied to every source tree.
func NewFingerprinter(exclude ...string) *Fingerprinter {
	return &Fingerprinter{exclude: exclude, sources: make(map[string]string)}
}

// Fingerprint returns the fingerprint of desc given its dependencies'
// fingerprints in declared order.
func (f *Fingerprinter) Fingerprint(desc *descriptor.PackageDescriptor, deps []DependencyFingerprint) (string, error) {
	src, ok := f.sources[desc.SourcePath]
	if !ok {
		var err error
		src, err = SourceHash(desc.SourcePath, f.exclude...)
		if err != nil {
			return "", fmt.Errorf("hash source of %s: %w", desc.ID, err)
		}
		f.sources[desc.SourcePath] = src
	}
	sig, err := ComputeSignature(desc, deps, src)
	if err != nil {
		return "", err
	}
	return sig.Fingerprint, nil
}
