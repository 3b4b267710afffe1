package incremental

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnoreFileName is read in every directory of a source tree.
const IgnoreFileName = ".gitignore"

// SourceHash computes a content hash over a package source tree. File paths,
// contents, the executable bit and symlink targets contribute to the hash.
// VCS metadata and paths excluded by .gitignore files are skipped, as are the
// extra paths given in exclude (relative, slash separated).
func SourceHash(root string, exclude ...string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}

	var patterns []gitignore.Pattern
	for _, e := range exclude {
		patterns = append(patterns, gitignore.ParsePattern(e, nil))
	}

	var entries []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			patterns = append(patterns, readIgnoreFile(p, nil)...)
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")

		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if len(patterns) > 0 && gitignore.NewMatcher(patterns).Match(parts, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case d.IsDir():
			patterns = append(patterns, readIgnoreFile(p, parts)...)
			return nil
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", p, err)
			}
			entries = append(entries, fmt.Sprintf("%s:link:%s", filepath.ToSlash(rel), target))
			return nil
		case !d.Type().IsRegular():
			return nil
		}

		sum, err := fileHash(p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		mode := "f"
		if fi.Mode().Perm()&0o111 != 0 {
			mode = "x"
		}
		entries = append(entries, fmt.Sprintf("%s:%s:%s", filepath.ToSlash(rel), mode, sum))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(entries)
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readIgnoreFile parses the ignore file in dir. Patterns are scoped to domain.
func readIgnoreFile(dir string, domain []string) []gitignore.Pattern {
	// #nosec G304 - dir is inside the package source tree being walked
	f, err := os.Open(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var ps []gitignore.Pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(line, domain))
	}
	return ps
}

func fileHash(path string) (string, error) {
	// #nosec G304 - path comes from WalkDir within the source tree
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
