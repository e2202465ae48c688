package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/libsync-api/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS libraries (
	library TEXT PRIMARY KEY,
	version BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS objects (
	id BIGSERIAL PRIMARY KEY,
	library TEXT NOT NULL,
	object_type TEXT NOT NULL,
	object_key TEXT NOT NULL,
	version BIGINT NOT NULL,
	parent_key TEXT NOT NULL DEFAULT '',
	deleted INTEGER NOT NULL DEFAULT 0,
	date_added BIGINT NOT NULL,
	date_modified BIGINT NOT NULL,
	data TEXT NOT NULL,
	UNIQUE (library, object_type, object_key)
);
CREATE INDEX IF NOT EXISTS objects_version_idx ON objects (library, object_type, version);
CREATE INDEX IF NOT EXISTS objects_parent_idx ON objects (library, parent_key);
CREATE TABLE IF NOT EXISTS relations (
	library TEXT NOT NULL,
	owner_type TEXT NOT NULL,
	owner_key TEXT NOT NULL,
	predicate TEXT NOT NULL,
	object TEXT NOT NULL,
	PRIMARY KEY (library, owner_type, owner_key, predicate, object)
);
CREATE INDEX IF NOT EXISTS relations_object_idx ON relations (library, object);
CREATE TABLE IF NOT EXISTS deletions (
	library TEXT NOT NULL,
	kind TEXT NOT NULL,
	object_key TEXT NOT NULL,
	version BIGINT NOT NULL,
	PRIMARY KEY (library, kind, object_key)
);
CREATE TABLE IF NOT EXISTS settings (
	library TEXT NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	version BIGINT NOT NULL,
	PRIMARY KEY (library, name)
);
`

// sqliteSchema differs only in the identity column.
var sqliteSchema = strings.Replace(postgresSchema, "id BIGSERIAL PRIMARY KEY", "id INTEGER PRIMARY KEY AUTOINCREMENT", 1)

const objectColumns = `id, object_type, object_key, version, parent_key, deleted, date_added, date_modified, data`

type objectRow struct {
	ID           int64  `db:"id"`
	Library      string `db:"library"`
	Type         string `db:"object_type"`
	Key          string `db:"object_key"`
	Version      int64  `db:"version"`
	ParentKey    string `db:"parent_key"`
	Deleted      int    `db:"deleted"`
	DateAdded    int64  `db:"date_added"`
	DateModified int64  `db:"date_modified"`
	Data         string `db:"data"`
}

func (r objectRow) toModel(lib models.Library) (*models.Object, error) {
	obj := &models.Object{
		ID:           r.ID,
		Library:      lib,
		Type:         models.ObjectType(r.Type),
		Key:          r.Key,
		Version:      r.Version,
		ParentKey:    r.ParentKey,
		Deleted:      r.Deleted != 0,
		DateAdded:    fromUnix(r.DateAdded),
		DateModified: fromUnix(r.DateModified),
	}
	if err := json.Unmarshal([]byte(r.Data), &obj.Data); err != nil {
		return nil, fmt.Errorf("decode object %s: %w", r.Key, err)
	}
	return obj, nil
}

func newObjectRow(lib models.Library, obj *models.Object) (objectRow, error) {
	payload, err := json.Marshal(obj.Data)
	if err != nil {
		return objectRow{}, fmt.Errorf("encode object %s: %w", obj.Key, err)
	}
	deleted := 0
	if obj.Deleted {
		deleted = 1
	}
	return objectRow{
		Library:      lib.String(),
		Type:         string(obj.Type),
		Key:          obj.Key,
		Version:      obj.Version,
		ParentKey:    obj.ParentKey,
		Deleted:      deleted,
		DateAdded:    unixOrZero(obj.DateAdded),
		DateModified: unixOrZero(obj.DateModified),
		Data:         string(payload),
	}, nil
}

// SQLStore persists libraries through sqlx. Queries are written with ? placeholders and rebound per driver.
type SQLStore struct {
	db       *sqlx.DB
	observer QueryObserver
}

// NewSQLStore wraps an open database. observer may be nil.
func NewSQLStore(db *sqlx.DB, observer QueryObserver) *SQLStore {
	return &SQLStore{db: db, observer: observer}
}

// Migrate creates the schema if missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.db.DriverName() == "sqlite" {
		schema = sqliteSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Begin opens a write transaction.
func (s *SQLStore) Begin(ctx context.Context, lib models.Library) (LibraryTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqlTx{tx: tx, lib: lib, observer: s.observer}, nil
}

// Snapshot opens a repeatable-read transaction where the driver supports it.
func (s *SQLStore) Snapshot(ctx context.Context, lib models.Library) (LibraryTx, error) {
	var opts *sql.TxOptions
	if s.db.DriverName() == "postgres" {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	return &sqlTx{tx: tx, lib: lib, observer: s.observer, readOnly: true}, nil
}

type sqlTx struct {
	tx       *sqlx.Tx
	lib      models.Library
	observer QueryObserver
	readOnly bool
}

func (t *sqlTx) Library() models.Library { return t.lib }

func (t *sqlTx) observe(label string, start time.Time) {
	if t.observer != nil {
		t.observer.ObserveDBQuery(label, time.Since(start))
	}
}

func (t *sqlTx) LibraryVersion(ctx context.Context) (int64, error) {
	defer t.observe("library_version", time.Now())
	var version int64
	err := t.tx.GetContext(ctx, &version, t.tx.Rebind(`SELECT version FROM libraries WHERE library = ?`), t.lib.String())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("library version: %w", err)
	}
	return version, nil
}

func (t *sqlTx) SetLibraryVersion(ctx context.Context, expected, next int64) error {
	defer t.observe("set_library_version", time.Now())
	const query = `INSERT INTO libraries (library, version) VALUES (?, ?)
ON CONFLICT (library) DO UPDATE SET version = excluded.version WHERE libraries.version = ?`
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), t.lib.String(), next, expected)
	if err != nil {
		return fmt.Errorf("set library version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set library version: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (t *sqlTx) GetObject(ctx context.Context, objectType models.ObjectType, key string) (*models.Object, error) {
	defer t.observe("get_object", time.Now())
	query := t.tx.Rebind(`SELECT ` + objectColumns + ` FROM objects WHERE library = ? AND object_type = ? AND object_key = ?`)
	var row objectRow
	if err := t.tx.GetContext(ctx, &row, query, t.lib.String(), string(objectType), key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return row.toModel(t.lib)
}

func (t *sqlTx) ListObjects(ctx context.Context, filter ObjectFilter) ([]*models.Object, error) {
	defer t.observe("list_objects", time.Now())
	if (filter.Keys != nil && len(filter.Keys) == 0) || (filter.ParentKeys != nil && len(filter.ParentKeys) == 0) {
		return nil, nil
	}

	conditions := []string{"library = ?", "version > ?"}
	args := []interface{}{t.lib.String(), filter.Since}
	if filter.Type != "" {
		conditions = append(conditions, "object_type = ?")
		args = append(args, string(filter.Type))
	}
	if len(filter.Keys) > 0 {
		conditions = append(conditions, "object_key IN (?)")
		args = append(args, filter.Keys)
	}
	if len(filter.ParentKeys) > 0 {
		conditions = append(conditions, "parent_key IN (?)")
		args = append(args, filter.ParentKeys)
	}

	query := `SELECT ` + objectColumns + ` FROM objects WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY id`
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	var rows []objectRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	out := make([]*models.Object, 0, len(rows))
	for _, row := range rows {
		obj, err := row.toModel(t.lib)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (t *sqlTx) PutObject(ctx context.Context, obj *models.Object) error {
	if t.readOnly {
		return errReadOnly
	}
	defer t.observe("put_object", time.Now())
	row, err := newObjectRow(t.lib, obj)
	if err != nil {
		return err
	}

	const upsert = `INSERT INTO objects (library, object_type, object_key, version, parent_key, deleted, date_added, date_modified, data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (library, object_type, object_key) DO UPDATE SET
	version = excluded.version,
	parent_key = excluded.parent_key,
	deleted = excluded.deleted,
	date_added = excluded.date_added,
	date_modified = excluded.date_modified,
	data = excluded.data
RETURNING id`
	var id int64
	if err := t.tx.GetContext(ctx, &id, t.tx.Rebind(upsert),
		row.Library, row.Type, row.Key, row.Version, row.ParentKey, row.Deleted, row.DateAdded, row.DateModified, row.Data,
	); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	obj.ID = id

	if err := t.replaceRelations(ctx, obj); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM deletions WHERE library = ? AND kind = ? AND object_key = ?`),
		row.Library, string(models.DeletionKindFor(obj.Type)), obj.Key); err != nil {
		return fmt.Errorf("clear deletion: %w", err)
	}
	return nil
}

func (t *sqlTx) replaceRelations(ctx context.Context, obj *models.Object) error {
	lib := t.lib.String()
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM relations WHERE library = ? AND owner_type = ? AND owner_key = ?`),
		lib, string(obj.Type), obj.Key); err != nil {
		return fmt.Errorf("clear relations: %w", err)
	}
	for predicate, uris := range obj.Data.Relations {
		for _, uri := range uris {
			if _, err := t.tx.ExecContext(ctx,
				t.tx.Rebind(`INSERT INTO relations (library, owner_type, owner_key, predicate, object) VALUES (?, ?, ?, ?, ?)`),
				lib, string(obj.Type), obj.Key, predicate, uri); err != nil {
				return fmt.Errorf("insert relation: %w", err)
			}
		}
	}
	return nil
}

func (t *sqlTx) DeleteObject(ctx context.Context, objectType models.ObjectType, key string, version int64) error {
	if t.readOnly {
		return errReadOnly
	}
	defer t.observe("delete_object", time.Now())
	lib := t.lib.String()
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM objects WHERE library = ? AND object_type = ? AND object_key = ?`),
		lib, string(objectType), key); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM relations WHERE library = ? AND owner_type = ? AND owner_key = ?`),
		lib, string(objectType), key); err != nil {
		return fmt.Errorf("delete relations: %w", err)
	}
	return t.LogDeletion(ctx, models.Deletion{Kind: models.DeletionKindFor(objectType), Key: key, Version: version})
}

func (t *sqlTx) ListRelationsTo(ctx context.Context, uris []string) ([]models.RelationEdge, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	defer t.observe("list_relations_to", time.Now())
	query, args, err := sqlx.In(`SELECT owner_type, owner_key, predicate, object FROM relations WHERE library = ? AND object IN (?) ORDER BY owner_key, predicate, object`,
		t.lib.String(), uris)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	var edges []models.RelationEdge
	if err := t.tx.SelectContext(ctx, &edges, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	return edges, nil
}

type settingRow struct {
	Name    string `db:"name"`
	Value   string `db:"value"`
	Version int64  `db:"version"`
}

func (r settingRow) toModel() *models.Setting {
	return &models.Setting{Name: r.Name, Value: json.RawMessage(r.Value), Version: r.Version}
}

func (t *sqlTx) ListSettings(ctx context.Context, since int64) ([]*models.Setting, error) {
	defer t.observe("list_settings", time.Now())
	var rows []settingRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(`SELECT name, value, version FROM settings WHERE library = ? AND version > ? ORDER BY name`),
		t.lib.String(), since); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make([]*models.Setting, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (t *sqlTx) GetSetting(ctx context.Context, name string) (*models.Setting, error) {
	defer t.observe("get_setting", time.Now())
	var row settingRow
	if err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`SELECT name, value, version FROM settings WHERE library = ? AND name = ?`),
		t.lib.String(), name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return row.toModel(), nil
}

func (t *sqlTx) PutSetting(ctx context.Context, setting *models.Setting) error {
	if t.readOnly {
		return errReadOnly
	}
	defer t.observe("put_setting", time.Now())
	const upsert = `INSERT INTO settings (library, name, value, version) VALUES (?, ?, ?, ?)
ON CONFLICT (library, name) DO UPDATE SET value = excluded.value, version = excluded.version`
	lib := t.lib.String()
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(upsert), lib, setting.Name, string(setting.Value), setting.Version); err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM deletions WHERE library = ? AND kind = ? AND object_key = ?`),
		lib, string(models.DeletedSetting), setting.Name); err != nil {
		return fmt.Errorf("clear setting deletion: %w", err)
	}
	return nil
}

func (t *sqlTx) DeleteSetting(ctx context.Context, name string, version int64, logged bool) error {
	if t.readOnly {
		return errReadOnly
	}
	defer t.observe("delete_setting", time.Now())
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM settings WHERE library = ? AND name = ?`), t.lib.String(), name); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	if !logged {
		return nil
	}
	return t.LogDeletion(ctx, models.Deletion{Kind: models.DeletedSetting, Key: name, Version: version})
}

func (t *sqlTx) PurgeSettingEverywhere(ctx context.Context, name string) error {
	if t.readOnly {
		return errReadOnly
	}
	defer t.observe("purge_setting", time.Now())
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM settings WHERE name = ?`), name); err != nil {
		return fmt.Errorf("purge setting: %w", err)
	}
	return nil
}

func (t *sqlTx) ListDeletions(ctx context.Context, since int64) ([]models.Deletion, error) {
	defer t.observe("list_deletions", time.Now())
	var out []models.Deletion
	if err := t.tx.SelectContext(ctx, &out, t.tx.Rebind(`SELECT kind, object_key, version FROM deletions WHERE library = ? AND version > ? ORDER BY kind, object_key`),
		t.lib.String(), since); err != nil {
		return nil, fmt.Errorf("list deletions: %w", err)
	}
	return out, nil
}

func (t *sqlTx) LogDeletion(ctx context.Context, deletion models.Deletion) error {
	if t.readOnly {
		return errReadOnly
	}
	const upsert = `INSERT INTO deletions (library, kind, object_key, version) VALUES (?, ?, ?, ?)
ON CONFLICT (library, kind, object_key) DO UPDATE SET version = excluded.version`
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(upsert), t.lib.String(), string(deletion.Kind), deletion.Key, deletion.Version); err != nil {
		return fmt.Errorf("log deletion: %w", err)
	}
	return nil
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
