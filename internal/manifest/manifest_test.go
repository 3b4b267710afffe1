package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
)

func writeManifest(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.yaml"), []byte(body), 0o600))
}

func TestParse_CommandForms(t *testing.T) {
	f, err := Parse([]byte(`
name: app
build: make all
install: [make, install]
`))
	require.NoError(t, err)
	require.Equal(t, Commands{{"sh", "-c", "make all"}}, f.Build)
	require.Equal(t, Commands{{"make", "install"}}, f.Install)

	f, err = Parse([]byte(`
name: app
build:
  - [./configure]
  - [make, -j4]
`))
	require.NoError(t, err)
	require.Equal(t, Commands{{"./configure"}, {"make", "-j4"}}, f.Build)
}

func TestParse_DependenciesKeepDeclaredOrder(t *testing.T) {
	f, err := Parse([]byte(`
name: app
dependencies:
  zeta: ../zeta
  alpha: ../alpha
  mid: ../mid
`))
	require.NoError(t, err)
	require.Equal(t, Dependencies{
		{Name: "zeta", Path: "../zeta"},
		{Name: "alpha", Path: "../alpha"},
		{Name: "mid", Path: "../mid"},
	}, f.Dependencies)

	f, err = Parse([]byte(`
name: app
dependencies:
  - name: b
    path: vendor/b
  - name: a
`))
	require.NoError(t, err)
	require.Equal(t, Dependencies{{Name: "b", Path: "vendor/b"}, {Name: "a"}}, f.Dependencies)
}

func TestLoad_MergesEnvFileUnderEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("A=from-file\nB=file-only\n"), 0o600))
	writeManifest(t, dir, `
name: dep
version: 1.0.0
build: "true"
env:
  A: from-manifest
envFile: .env
`)

	desc, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, descriptor.PackageID{Name: "dep", Version: "1.0.0"}, desc.ID)
	require.Equal(t, map[string]string{"A": "from-manifest", "B": "file-only"}, desc.ExportedEnv)
	require.Equal(t, dir, desc.SourcePath)
}

func TestLoad_MissingManifest(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	require.True(t, perrors.IsKind(err, perrors.KindManifestInvalid))
}

func TestLoad_InvalidName(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "name: \"\"\nbuild: \"true\"\n")
	_, err := Load(dir)
	require.True(t, perrors.IsKind(err, perrors.KindManifestInvalid))
}

func TestDirResolver(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "app"), "name: app\nbuild: \"true\"\ndependencies:\n  dep: ../dep\n")
	writeManifest(t, filepath.Join(root, "dep"), "name: dep\nbuild: \"true\"\n")
	writeManifest(t, filepath.Join(root, "liar"), "name: other\nbuild: \"true\"\n")

	app, err := Load(filepath.Join(root, "app"))
	require.NoError(t, err)

	r := NewDirResolver()
	dep, err := r.Resolve(app, app.DependencyRefs[0])
	require.NoError(t, err)
	require.Equal(t, "dep", dep.ID.Name)

	again, err := r.Resolve(app, descriptor.DependencyRef{Name: "dep"})
	require.NoError(t, err)
	require.Same(t, dep, again, "sibling default path hits the cache")

	_, err = r.Resolve(app, descriptor.DependencyRef{Name: "liar", Path: "../liar"})
	require.ErrorContains(t, err, "expected \"liar\"")

	_, err = r.Resolve(app, descriptor.DependencyRef{Name: "missing", Path: "../missing"})
	require.Error(t, err)
}
