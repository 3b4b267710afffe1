package sandbox

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Env is a process environment keyed by variable name.
type Env map[string]string

// BaseEnv captures the current process environment. When allowlist is not
// empty only the listed variables are kept; entries ending in '*' match by
// prefix.
func BaseEnv(allowlist []string) Env {
	return ParseEnv(os.Environ(), allowlist)
}

// ParseEnv converts KEY=VALUE pairs into an Env, applying allowlist as BaseEnv
// does.
func ParseEnv(pairs []string, allowlist []string) Env {
	env := make(Env, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		if len(allowlist) > 0 && !allowed(k, allowlist) {
			continue
		}
		env[k] = v
	}
	return env
}

func allowed(key string, allowlist []string) bool {
	for _, a := range allowlist {
		if prefix, ok := strings.CutSuffix(a, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
			continue
		}
		if key == a {
			return true
		}
	}
	return false
}

// Merge copies every entry of src into e, overriding existing keys.
func (e Env) Merge(src map[string]string) {
	for k, v := range src {
		e[k] = v
	}
}

// Clone returns a copy of e.
func (e Env) Clone() Env {
	out := make(Env, len(e))
	out.Merge(e)
	return out
}

// List renders e as sorted KEY=VALUE pairs.
func (e Env) List() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+e[k])
	}
	return out
}

// PrependPath puts dirs in front of the PATH entry, in the order given.
func (e Env) PrependPath(dirs ...string) {
	parts := make([]string, 0, len(dirs)+1)
	parts = append(parts, dirs...)
	if cur := e["PATH"]; cur != "" {
		parts = append(parts, cur)
	}
	e["PATH"] = strings.Join(parts, string(os.PathListSeparator))
}

// ReservedName converts a package name into the prefix used by reserved
// variables. Characters that are not valid in shell identifiers become '_'.
func ReservedName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// BinDir returns the bin directory of an install root.
func BinDir(installPath string) string {
	return filepath.Join(installPath, "bin")
}
