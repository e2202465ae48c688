package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/libsync-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

type recordingObserver struct {
	labels []string
}

func (r *recordingObserver) ObserveDBQuery(label string, _ time.Duration) {
	r.labels = append(r.labels, label)
}

func TestSQLLibraryVersionDefaultsToZero(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	observer := &recordingObserver{}
	store := NewSQLStore(db, observer)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM libraries WHERE library = ?").
		WithArgs("u1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	tx, err := store.Snapshot(context.Background(), models.UserLibrary(1))
	require.NoError(t, err)
	version, err := tx.LibraryVersion(context.Background())
	require.NoError(t, err)
	assert.Zero(t, version)
	require.NoError(t, tx.Rollback())

	assert.Equal(t, []string{"library_version"}, observer.labels)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSetLibraryVersionConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := NewSQLStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO libraries").
		WithArgs("g3", int64(8), int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := store.Begin(context.Background(), models.GroupLibrary(3))
	require.NoError(t, err)
	err = tx.SetLibraryVersion(context.Background(), 6, 8)
	assert.ErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGetObjectDecodesRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := NewSQLStore(db, nil)

	rows := sqlmock.NewRows([]string{"id", "object_type", "object_key", "version", "parent_key", "deleted", "date_added", "date_modified", "data"}).
		AddRow(7, "item", "ABCD2345", 4, "", 1, 1700000000, 1700000100, `{"itemType":"book","fields":{"title":"T"},"relations":{"dc:relation":"x"}}`)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, object_type, object_key, version, parent_key, deleted, date_added, date_modified, data FROM objects WHERE library = \\? AND object_type = \\? AND object_key = \\?").
		WithArgs("u1", "item", "ABCD2345").
		WillReturnRows(rows)
	mock.ExpectCommit()

	tx, err := store.Begin(context.Background(), models.UserLibrary(1))
	require.NoError(t, err)
	obj, err := tx.GetObject(context.Background(), models.ObjectItem, "ABCD2345")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(7), obj.ID)
	assert.True(t, obj.Deleted)
	assert.Equal(t, "T", obj.Field("title"))
	assert.Equal(t, []string{"x"}, obj.Data.Relations["dc:relation"])
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), obj.DateModified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGetObjectNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := NewSQLStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM objects WHERE").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	tx, err := store.Begin(context.Background(), models.UserLibrary(1))
	require.NoError(t, err)
	_, err = tx.GetObject(context.Background(), models.ObjectCollection, "ABCD2345")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPutObjectRewritesRelations(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := NewSQLStore(db, nil)

	obj := item("ABCD2345", 5)
	obj.Data.Relations = models.Relations{"dc:relation": {"http://zotero.org/users/1/items/EFGH6789"}}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO objects").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec("DELETE FROM relations WHERE library = \\? AND owner_type = \\? AND owner_key = \\?").
		WithArgs("u1", "item", "ABCD2345").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO relations").
		WithArgs("u1", "item", "ABCD2345", "dc:relation", "http://zotero.org/users/1/items/EFGH6789").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM deletions").
		WithArgs("u1", "items", "ABCD2345").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := store.Begin(context.Background(), models.UserLibrary(1))
	require.NoError(t, err)
	require.NoError(t, tx.PutObject(context.Background(), obj))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(11), obj.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSnapshotRejectsWrites(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := NewSQLStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := store.Snapshot(context.Background(), models.UserLibrary(1))
	require.NoError(t, err)
	assert.Error(t, tx.PutObject(context.Background(), item("ABCD2345", 1)))
	assert.Error(t, tx.DeleteSetting(context.Background(), "tagColors", 1, true))
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
