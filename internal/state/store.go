package state

import (
	"context"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
)

// Store persists BuildRecords keyed by PackageID.
type Store interface {
	// Get returns the record for id, or nil when none exists.
	Get(ctx context.Context, id descriptor.PackageID) (*BuildRecord, error)

	// Put inserts or replaces the record for rec.PackageID.
	Put(ctx context.Context, rec *BuildRecord) error

	// PutPending stores rec with status Pending unless the current record is
	// Building or is a Success with the same fingerprint. It reports whether
	// rec was stored.
	PutPending(ctx context.Context, rec *BuildRecord) (bool, error)

	// Delete removes the record for id. Deleting a missing record is not an
	// error.
	Delete(ctx context.Context, id descriptor.PackageID) error

	// List returns all records ordered by package id.
	List(ctx context.Context) ([]BuildRecord, error)

	// Close releases resources held by the store.
	Close() error
}
