package service

import (
	"context"
	"errors"

	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/repository"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// VersionClock is a library's monotonic counter, read once per write transaction and advanced at most once.
type VersionClock struct {
	tx      repository.LibraryTx
	current int64
	touched bool
}

// OpenVersionClock reads the current library version inside tx.
func OpenVersionClock(ctx context.Context, tx repository.LibraryTx) (*VersionClock, error) {
	current, err := tx.LibraryVersion(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read library version")
	}
	return &VersionClock{tx: tx, current: current}, nil
}

// Current is the version committed before this request.
func (c *VersionClock) Current() int64 { return c.current }

// Next is the version every mutation in this request is stamped with.
func (c *VersionClock) Next() int64 { return c.current + 1 }

// Touch records that at least one object or setting changed.
func (c *VersionClock) Touch() { c.touched = true }

// Touched reports whether Advance will move the clock.
func (c *VersionClock) Touched() bool { return c.touched }

// Advance stages the new version when something changed and returns the resulting library version.
func (c *VersionClock) Advance(ctx context.Context) (int64, error) {
	if !c.touched {
		return c.current, nil
	}
	if err := c.tx.SetLibraryVersion(ctx, c.current, c.Next()); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return 0, appErrors.Clone(appErrors.ErrConflict, "Library version changed during write")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance library version")
	}
	return c.Next(), nil
}

// checkLibraryPrecondition compares If-Unmodified-Since-Version against the library clock.
func checkLibraryPrecondition(header *int64, current int64) error {
	if header == nil || *header == current {
		return nil
	}
	return appErrors.Clonef(appErrors.ErrPreconditionFailed, "Library has been modified since specified version (expected %d, found %d)", *header, current)
}

// checkObjectVersion applies the per-object optimistic lock.
// proof is the caller's expected version; required is set when a missing proof must fail.
func checkObjectVersion(objectType models.ObjectType, existing *models.Object, proof *int64, required bool) error {
	if proof == nil {
		if required && existing != nil {
			return appErrors.Clonef(appErrors.ErrPreconditionRequired,
				"Either If-Unmodified-Since-Version or object version property must be provided for key-based writes")
		}
		if required {
			return appErrors.Clone(appErrors.ErrPreconditionRequired, "If-Unmodified-Since-Version not provided")
		}
		return nil
	}
	if existing == nil {
		if *proof != 0 {
			return appErrors.Clonef(appErrors.ErrNotFound, "%s doesn't exist (expected version %d; use 0 instead)", objectType.Title(), *proof)
		}
		return nil
	}
	if *proof != existing.Version {
		return appErrors.Clonef(appErrors.ErrPreconditionFailed, "%s has been modified since specified version (expected %d, found %d)",
			objectType.Title(), *proof, existing.Version)
	}
	return nil
}
