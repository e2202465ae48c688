package repository

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/libsync-api/internal/models"
)

var (
	// ErrNotFound is returned when a keyed record is absent.
	ErrNotFound = errors.New("repository: not found")
	// ErrVersionConflict is returned when the library clock moved underneath a transaction.
	ErrVersionConflict = errors.New("repository: library version conflict")
	// ErrTxDone is returned when a finished transaction is reused.
	ErrTxDone = errors.New("repository: transaction already finished")
)

// ObjectFilter narrows ListObjects. Empty fields do not filter.
type ObjectFilter struct {
	Type       models.ObjectType
	Since      int64
	Keys       []string
	ParentKeys []string
}

// LibraryTx is a unit of work against a single library. Writes become visible on Commit.
type LibraryTx interface {
	Library() models.Library
	LibraryVersion(ctx context.Context) (int64, error)
	SetLibraryVersion(ctx context.Context, expected, next int64) error

	GetObject(ctx context.Context, objectType models.ObjectType, key string) (*models.Object, error)
	ListObjects(ctx context.Context, filter ObjectFilter) ([]*models.Object, error)
	PutObject(ctx context.Context, obj *models.Object) error
	DeleteObject(ctx context.Context, objectType models.ObjectType, key string, version int64) error
	ListRelationsTo(ctx context.Context, uris []string) ([]models.RelationEdge, error)

	ListSettings(ctx context.Context, since int64) ([]*models.Setting, error)
	GetSetting(ctx context.Context, name string) (*models.Setting, error)
	PutSetting(ctx context.Context, setting *models.Setting) error
	DeleteSetting(ctx context.Context, name string, version int64, logged bool) error
	PurgeSettingEverywhere(ctx context.Context, name string) error

	ListDeletions(ctx context.Context, since int64) ([]models.Deletion, error)
	LogDeletion(ctx context.Context, deletion models.Deletion) error

	Commit() error
	Rollback() error
}

// Store opens library transactions.
type Store interface {
	// Begin opens a write transaction. Callers serialise writers per library with a Locker.
	Begin(ctx context.Context, lib models.Library) (LibraryTx, error)
	// Snapshot opens a consistent read-only view.
	Snapshot(ctx context.Context, lib models.Library) (LibraryTx, error)
}

// Locker serialises writers of the same library while leaving other libraries independent.
type Locker interface {
	Lock(ctx context.Context, lib models.Library) (unlock func(), err error)
}

// QueryObserver receives storage timings.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
