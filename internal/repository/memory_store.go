package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/noah-isme/libsync-api/internal/models"
)

var errReadOnly = errors.New("repository: snapshot is read-only")

type objKey struct {
	t   models.ObjectType
	key string
}

type edgeKey struct {
	t         models.ObjectType
	key       string
	predicate string
}

type delKey struct {
	kind models.DeletionKind
	key  string
}

type memoryLibrary struct {
	version   int64
	objects   map[objKey]*models.Object
	reverse   map[string]map[edgeKey]struct{}
	settings  map[string]*models.Setting
	deletions map[delKey]models.Deletion
}

func newMemoryLibrary() *memoryLibrary {
	return &memoryLibrary{
		objects:   make(map[objKey]*models.Object),
		reverse:   make(map[string]map[edgeKey]struct{}),
		settings:  make(map[string]*models.Setting),
		deletions: make(map[delKey]models.Deletion),
	}
}

// clone copies the maps; stored values are never mutated in place so they can be shared.
func (l *memoryLibrary) clone() *memoryLibrary {
	out := &memoryLibrary{
		version:   l.version,
		objects:   make(map[objKey]*models.Object, len(l.objects)),
		reverse:   make(map[string]map[edgeKey]struct{}, len(l.reverse)),
		settings:  make(map[string]*models.Setting, len(l.settings)),
		deletions: make(map[delKey]models.Deletion, len(l.deletions)),
	}
	for k, v := range l.objects {
		out.objects[k] = v
	}
	for uri, edges := range l.reverse {
		copied := make(map[edgeKey]struct{}, len(edges))
		for e := range edges {
			copied[e] = struct{}{}
		}
		out.reverse[uri] = copied
	}
	for k, v := range l.settings {
		out.settings[k] = v
	}
	for k, v := range l.deletions {
		out.deletions[k] = v
	}
	return out
}

func (l *memoryLibrary) put(obj *models.Object) {
	k := objKey{obj.Type, obj.Key}
	l.unindex(k)
	l.objects[k] = obj
	for predicate, uris := range obj.Data.Relations {
		for _, uri := range uris {
			edges, ok := l.reverse[uri]
			if !ok {
				edges = make(map[edgeKey]struct{})
				l.reverse[uri] = edges
			}
			edges[edgeKey{obj.Type, obj.Key, predicate}] = struct{}{}
		}
	}
	delete(l.deletions, delKey{models.DeletionKindFor(obj.Type), obj.Key})
}

func (l *memoryLibrary) remove(k objKey) {
	l.unindex(k)
	delete(l.objects, k)
}

func (l *memoryLibrary) unindex(k objKey) {
	existing, ok := l.objects[k]
	if !ok {
		return
	}
	for predicate, uris := range existing.Data.Relations {
		for _, uri := range uris {
			edges := l.reverse[uri]
			delete(edges, edgeKey{k.t, k.key, predicate})
			if len(edges) == 0 {
				delete(l.reverse, uri)
			}
		}
	}
}

// MemoryStore keeps every library in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	libraries map[models.Library]*memoryLibrary
	seq       int64
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{libraries: make(map[models.Library]*memoryLibrary)}
}

// Begin opens a write transaction that stages changes until Commit.
func (s *MemoryStore) Begin(ctx context.Context, lib models.Library) (LibraryTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{
		store:     s,
		lib:       lib,
		objects:   make(map[objKey]*models.Object),
		settings:  make(map[string]*models.Setting),
		deletions: make(map[delKey]models.Deletion),
	}, nil
}

// Snapshot returns a frozen copy of the library.
func (s *MemoryStore) Snapshot(ctx context.Context, lib models.Library) (LibraryTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	frozen := newMemoryLibrary()
	if existing, ok := s.libraries[lib]; ok {
		frozen = existing.clone()
	}
	return &memoryTx{store: s, lib: lib, frozen: frozen}, nil
}

func (s *MemoryStore) nextID() int64 {
	return atomic.AddInt64(&s.seq, 1)
}

type memoryTx struct {
	store *MemoryStore
	lib   models.Library

	// frozen is set for snapshots; reads come from it and writes fail.
	frozen *memoryLibrary

	objects   map[objKey]*models.Object
	settings  map[string]*models.Setting
	deletions map[delKey]models.Deletion
	purges    []string

	versionSet bool
	expected   int64
	next       int64

	done bool
}

func (t *memoryTx) Library() models.Library { return t.lib }

// view runs fn against the base library state.
func (t *memoryTx) view(fn func(l *memoryLibrary)) {
	if t.frozen != nil {
		fn(t.frozen)
		return
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	l, ok := t.store.libraries[t.lib]
	if !ok {
		l = newMemoryLibrary()
	}
	fn(l)
}

func (t *memoryTx) writable() error {
	if t.done {
		return ErrTxDone
	}
	if t.frozen != nil {
		return errReadOnly
	}
	return nil
}

func (t *memoryTx) LibraryVersion(ctx context.Context) (int64, error) {
	if t.versionSet {
		return t.next, nil
	}
	var version int64
	t.view(func(l *memoryLibrary) { version = l.version })
	return version, nil
}

func (t *memoryTx) SetLibraryVersion(ctx context.Context, expected, next int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if !t.versionSet {
		t.expected = expected
	}
	t.next = next
	t.versionSet = true
	return nil
}

func (t *memoryTx) GetObject(ctx context.Context, objectType models.ObjectType, key string) (*models.Object, error) {
	k := objKey{objectType, key}
	if staged, ok := t.objects[k]; ok {
		if staged == nil {
			return nil, ErrNotFound
		}
		return staged.Clone(), nil
	}
	var found *models.Object
	t.view(func(l *memoryLibrary) { found = l.objects[k] })
	if found == nil {
		return nil, ErrNotFound
	}
	return found.Clone(), nil
}

func (t *memoryTx) ListObjects(ctx context.Context, filter ObjectFilter) ([]*models.Object, error) {
	match := objectMatcher(filter)
	var out []*models.Object
	t.view(func(l *memoryLibrary) {
		for k, obj := range l.objects {
			if _, staged := t.objects[k]; staged {
				continue
			}
			if match(obj) {
				out = append(out, obj.Clone())
			}
		}
	})
	for _, obj := range t.objects {
		if obj != nil && match(obj) {
			out = append(out, obj.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func objectMatcher(filter ObjectFilter) func(*models.Object) bool {
	var keys, parents map[string]struct{}
	if filter.Keys != nil {
		keys = toSet(filter.Keys)
	}
	if filter.ParentKeys != nil {
		parents = toSet(filter.ParentKeys)
	}
	return func(obj *models.Object) bool {
		if filter.Type != "" && obj.Type != filter.Type {
			return false
		}
		if obj.Version <= filter.Since {
			return false
		}
		if keys != nil {
			if _, ok := keys[obj.Key]; !ok {
				return false
			}
		}
		if parents != nil {
			if _, ok := parents[obj.ParentKey]; !ok {
				return false
			}
		}
		return true
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func (t *memoryTx) PutObject(ctx context.Context, obj *models.Object) error {
	if err := t.writable(); err != nil {
		return err
	}
	k := objKey{obj.Type, obj.Key}
	stored := obj.Clone()
	stored.Library = t.lib
	if stored.ID == 0 {
		if existing, ok := t.objects[k]; ok && existing != nil {
			stored.ID = existing.ID
		} else {
			t.view(func(l *memoryLibrary) {
				if existing, ok := l.objects[k]; ok {
					stored.ID = existing.ID
				}
			})
		}
		if stored.ID == 0 {
			stored.ID = t.store.nextID()
		}
		obj.ID = stored.ID
	}
	t.objects[k] = stored
	delete(t.deletions, delKey{models.DeletionKindFor(obj.Type), obj.Key})
	return nil
}

func (t *memoryTx) DeleteObject(ctx context.Context, objectType models.ObjectType, key string, version int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.objects[objKey{objectType, key}] = nil
	kind := models.DeletionKindFor(objectType)
	t.deletions[delKey{kind, key}] = models.Deletion{Kind: kind, Key: key, Version: version}
	return nil
}

func (t *memoryTx) ListRelationsTo(ctx context.Context, uris []string) ([]models.RelationEdge, error) {
	var out []models.RelationEdge
	t.view(func(l *memoryLibrary) {
		for _, uri := range uris {
			for e := range l.reverse[uri] {
				if _, staged := t.objects[objKey{e.t, e.key}]; staged {
					continue
				}
				out = append(out, models.RelationEdge{OwnerType: e.t, OwnerKey: e.key, Predicate: e.predicate, Object: uri})
			}
		}
	})
	wanted := toSet(uris)
	for k, obj := range t.objects {
		if obj == nil {
			continue
		}
		for predicate, values := range obj.Data.Relations {
			for _, uri := range values {
				if _, ok := wanted[uri]; ok {
					out = append(out, models.RelationEdge{OwnerType: k.t, OwnerKey: k.key, Predicate: predicate, Object: uri})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerKey != out[j].OwnerKey {
			return out[i].OwnerKey < out[j].OwnerKey
		}
		if out[i].Predicate != out[j].Predicate {
			return out[i].Predicate < out[j].Predicate
		}
		return out[i].Object < out[j].Object
	})
	return out, nil
}

func (t *memoryTx) ListSettings(ctx context.Context, since int64) ([]*models.Setting, error) {
	var out []*models.Setting
	t.view(func(l *memoryLibrary) {
		for name, setting := range l.settings {
			if _, staged := t.settings[name]; staged {
				continue
			}
			if setting.Version > since {
				copied := *setting
				out = append(out, &copied)
			}
		}
	})
	for _, setting := range t.settings {
		if setting != nil && setting.Version > since {
			copied := *setting
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memoryTx) GetSetting(ctx context.Context, name string) (*models.Setting, error) {
	if staged, ok := t.settings[name]; ok {
		if staged == nil {
			return nil, ErrNotFound
		}
		copied := *staged
		return &copied, nil
	}
	var found *models.Setting
	t.view(func(l *memoryLibrary) { found = l.settings[name] })
	if found == nil {
		return nil, ErrNotFound
	}
	copied := *found
	return &copied, nil
}

func (t *memoryTx) PutSetting(ctx context.Context, setting *models.Setting) error {
	if err := t.writable(); err != nil {
		return err
	}
	copied := *setting
	t.settings[setting.Name] = &copied
	delete(t.deletions, delKey{models.DeletedSetting, setting.Name})
	return nil
}

func (t *memoryTx) DeleteSetting(ctx context.Context, name string, version int64, logged bool) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.settings[name] = nil
	if logged {
		t.deletions[delKey{models.DeletedSetting, name}] = models.Deletion{Kind: models.DeletedSetting, Key: name, Version: version}
	}
	return nil
}

func (t *memoryTx) PurgeSettingEverywhere(ctx context.Context, name string) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.settings[name] = nil
	t.purges = append(t.purges, name)
	return nil
}

func (t *memoryTx) ListDeletions(ctx context.Context, since int64) ([]models.Deletion, error) {
	var out []models.Deletion
	t.view(func(l *memoryLibrary) {
		for k, d := range l.deletions {
			if _, staged := t.deletions[k]; staged {
				continue
			}
			if t.restaged(k) {
				continue
			}
			if d.Version > since {
				out = append(out, d)
			}
		}
	})
	for _, d := range t.deletions {
		if d.Version > since {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// restaged reports whether a staged write recreates a deleted key, which clears its log entry.
func (t *memoryTx) restaged(k delKey) bool {
	if k.kind == models.DeletedSetting {
		s, ok := t.settings[k.key]
		return ok && s != nil
	}
	for _, objectType := range models.ObjectTypes {
		if models.DeletionKindFor(objectType) != k.kind {
			continue
		}
		obj, ok := t.objects[objKey{objectType, k.key}]
		return ok && obj != nil
	}
	return false
}

func (t *memoryTx) LogDeletion(ctx context.Context, deletion models.Deletion) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.deletions[delKey{deletion.Kind, deletion.Key}] = deletion
	return nil
}

func (t *memoryTx) Commit() error {
	if err := t.writable(); err != nil {
		return err
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.libraries[t.lib]
	if !ok {
		l = newMemoryLibrary()
	}
	if t.versionSet && l.version != t.expected {
		return ErrVersionConflict
	}
	s.libraries[t.lib] = l

	for _, name := range t.purges {
		for _, other := range s.libraries {
			delete(other.settings, name)
		}
	}
	for k, obj := range t.objects {
		if obj == nil {
			l.remove(k)
			continue
		}
		l.put(obj)
	}
	for name, setting := range t.settings {
		if setting == nil {
			delete(l.settings, name)
			continue
		}
		l.settings[name] = setting
		delete(l.deletions, delKey{models.DeletedSetting, name})
	}
	for k, d := range t.deletions {
		l.deletions[k] = d
	}
	if t.versionSet {
		l.version = t.next
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return nil
}
