package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := s.Get(t.Context(), descriptor.PackageID{Name: "dep", Version: "1"})
			require.NoError(t, err)
			require.Nil(t, rec)
		})
	}
}

func TestStore_UpsertOneRecordPerPackage(t *testing.T) {
	id := descriptor.PackageID{Name: "dep", Version: "1.0.0"}
	ts := time.Unix(1700000000, 0)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.Put(ctx, &BuildRecord{PackageID: id, Fingerprint: "a", Status: StatusBuilding, Timestamp: ts}))
			require.NoError(t, s.Put(ctx, &BuildRecord{PackageID: id, Fingerprint: "a", Status: StatusFailed, ExitCode: 2, RunID: "run-1", Error: "boom", Timestamp: ts}))

			rec, err := s.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, StatusFailed, rec.Status)
			require.Equal(t, 2, rec.ExitCode)
			require.Equal(t, "run-1", rec.RunID)
			require.Equal(t, "boom", rec.Error)
			require.True(t, rec.Timestamp.Equal(ts))

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	id := descriptor.PackageID{Name: "dep", Version: "1.0.0"}
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.Put(ctx, &BuildRecord{PackageID: id, Fingerprint: "a", Status: StatusPending}))
			require.NoError(t, s.Delete(ctx, id))

			rec, err := s.Get(ctx, id)
			require.NoError(t, err)
			require.Nil(t, rec)
			require.NoError(t, s.Delete(ctx, id))
		})
	}
}

func TestStore_PutPending(t *testing.T) {
	id := descriptor.PackageID{Name: "dep", Version: "1.0.0"}
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			queue := func(fp string) bool {
				ok, err := s.PutPending(ctx, &BuildRecord{PackageID: id, Fingerprint: fp, RunID: "run-2"})
				require.NoError(t, err)
				return ok
			}

			require.True(t, queue("a"), "missing record")
			rec, err := s.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, StatusPending, rec.Status)
			require.Equal(t, "run-2", rec.RunID)

			require.NoError(t, s.Put(ctx, &BuildRecord{PackageID: id, Fingerprint: "a", Status: StatusBuilding}))
			require.False(t, queue("a"), "building record")

			require.NoError(t, s.Put(ctx, &BuildRecord{PackageID: id, Fingerprint: "a", Status: StatusSuccess}))
			require.False(t, queue("a"), "fresh success")
			rec, err = s.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, StatusSuccess, rec.Status)

			require.True(t, queue("b"), "stale success")

			require.NoError(t, s.Put(ctx, &BuildRecord{PackageID: id, Fingerprint: "b", Status: StatusFailed, ExitCode: 3, Error: "boom"}))
			require.True(t, queue("b"), "failed record")
			rec, err = s.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, StatusPending, rec.Status)
			require.Zero(t, rec.ExitCode)
			require.Empty(t, rec.Error)
		})
	}
}

func TestStore_ListOrdered(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			for _, n := range []string{"zeta", "alpha", "mid"} {
				require.NoError(t, s.Put(ctx, &BuildRecord{PackageID: descriptor.PackageID{Name: n, Version: "1"}, Status: StatusSuccess}))
			}
			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Equal(t, "alpha", all[0].PackageID.Name)
			require.Equal(t, "mid", all[1].PackageID.Name)
			require.Equal(t, "zeta", all[2].PackageID.Name)
		})
	}
}

func TestStore_RejectsInvalid(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.Error(t, s.Put(t.Context(), &BuildRecord{Status: StatusSuccess}))
			require.Error(t, s.Put(t.Context(), &BuildRecord{PackageID: descriptor.PackageID{Name: "a", Version: "1"}, Status: "done"}))
		})
	}
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	id := descriptor.PackageID{Name: "no-deps", Version: "src-abc"}

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(t.Context(), &BuildRecord{PackageID: id, Fingerprint: "fp", Status: StatusSuccess}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	rec, err := s.Get(t.Context(), id)
	require.NoError(t, err)
	require.True(t, rec.Fresh("fp"))
	require.False(t, rec.Fresh("other"))
}
