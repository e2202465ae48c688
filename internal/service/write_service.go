package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/repository"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// Write outcomes reported to the observer.
const (
	OutcomeSuccessful = "successful"
	OutcomeUnchanged  = "unchanged"
	OutcomeFailed     = "failed"
	OutcomeDeleted    = "deleted"
)

// WriteObserver receives write outcomes for instrumentation.
type WriteObserver interface {
	RecordWrite(objectType string, outcome string, count int)
	RecordVersionAdvance(lib models.Library)
}

// TextIndexer receives committed item changes for full-text indexing.
type TextIndexer interface {
	IndexItems(lib models.Library, items []*models.Object)
	RemoveItems(lib models.Library, keys []string)
}

// VersionCache forgets cached responses of superseded library versions.
type VersionCache interface {
	ForgetVersion(ctx context.Context, lib models.Library, version int64)
}

// WriteConfig tunes batch limits.
type WriteConfig struct {
	MaxBatch int
}

// WriteHooks are notified after a write commits. Any of them may be nil.
type WriteHooks struct {
	Indexer  TextIndexer
	Observer WriteObserver
	Cache    VersionCache
}

// WriteService reconciles object writes and deletions against a library's version clock.
type WriteService struct {
	store     repository.Store
	locker    repository.Locker
	mirror    *RelationMirror
	presenter *ObjectPresenter
	hooks     WriteHooks
	validate  *validator.Validate
	logger    *zap.Logger
	maxBatch  int
	now       func() time.Time
}

// NewWriteService wires the reconciler.
func NewWriteService(
	store repository.Store,
	locker repository.Locker,
	mirror *RelationMirror,
	presenter *ObjectPresenter,
	cfg WriteConfig,
	hooks WriteHooks,
	validate *validator.Validate,
	logger *zap.Logger,
) *WriteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if locker == nil {
		locker = repository.NewLocalLocker()
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 50
	}
	return &WriteService{
		store:     store,
		locker:    locker,
		mirror:    mirror,
		presenter: presenter,
		hooks:     hooks,
		validate:  validate,
		logger:    logger,
		maxBatch:  cfg.MaxBatch,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// writeSession is one locked write transaction against a library.
type writeSession struct {
	svc       *WriteService
	ctx       context.Context
	tx        repository.LibraryTx
	clock     *VersionClock
	scope     models.RequestScope
	validator *graphValidator
	now       time.Time

	indexed []*models.Object
	removed []string
	counts  map[string]map[string]int
}

// begin locks the library and opens a transaction. The returned release must always be called.
func (s *WriteService) begin(ctx context.Context, scope models.RequestScope) (*writeSession, func(), error) {
	if !scope.CanWrite() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "Write access denied")
	}
	unlock, err := s.locker.Lock(ctx, scope.Library)
	if err != nil {
		if errors.Is(err, repository.ErrLockTimeout) {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "Library is busy")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock library")
	}
	tx, err := s.store.Begin(ctx, scope.Library)
	if err != nil {
		unlock()
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	release := func() {
		_ = tx.Rollback()
		unlock()
	}
	clock, err := OpenVersionClock(ctx, tx)
	if err != nil {
		release()
		return nil, nil, err
	}
	return &writeSession{
		svc:       s,
		ctx:       ctx,
		tx:        tx,
		clock:     clock,
		scope:     scope,
		validator: newGraphValidator(tx, s.validate),
		now:       s.now(),
		counts:    map[string]map[string]int{},
	}, release, nil
}

// commit advances the clock once if anything changed and makes the transaction visible.
func (w *writeSession) commit() (int64, error) {
	version, err := w.clock.Advance(w.ctx)
	if err != nil {
		return w.clock.Current(), err
	}
	if err := w.tx.Commit(); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return w.clock.Current(), appErrors.Clone(appErrors.ErrConflict, "Library version changed during write")
		}
		return w.clock.Current(), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit write")
	}
	w.svc.afterCommit(w, version)
	return version, nil
}

func (w *writeSession) count(t models.ObjectType, outcome string) {
	byOutcome := w.counts[string(t)]
	if byOutcome == nil {
		byOutcome = map[string]int{}
		w.counts[string(t)] = byOutcome
	}
	byOutcome[outcome]++
}

func (s *WriteService) afterCommit(w *writeSession, version int64) {
	lib := w.scope.Library
	if indexer := s.hooks.Indexer; indexer != nil {
		if len(w.indexed) > 0 {
			indexer.IndexItems(lib, w.indexed)
		}
		if len(w.removed) > 0 {
			indexer.RemoveItems(lib, w.removed)
		}
	}
	if observer := s.hooks.Observer; observer != nil {
		for t, byOutcome := range w.counts {
			for outcome, n := range byOutcome {
				observer.RecordWrite(t, outcome, n)
			}
		}
		if w.clock.Touched() {
			observer.RecordVersionAdvance(lib)
		}
	}
	if w.clock.Touched() {
		if s.hooks.Cache != nil {
			s.hooks.Cache.ForgetVersion(w.ctx, lib, w.clock.Current())
		}
		s.logger.Info("library version advanced",
			zap.String("library", lib.String()),
			zap.Int64("version", version),
		)
	}
}

// WriteBatch applies a JSON array of objects. Each element succeeds, stays unchanged or fails on its own.
func (s *WriteService) WriteBatch(ctx context.Context, scope models.RequestScope, objectType models.ObjectType, body []byte, precondition *int64) (*dto.WriteResult, int64, error) {
	elements, err := decodeBatch(body)
	if err != nil {
		return nil, 0, err
	}
	if len(elements) > s.maxBatch {
		return nil, 0, tooLargeError("Only %d objects can be written in a single request", s.maxBatch)
	}

	w, release, err := s.begin(ctx, scope)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	if err := checkLibraryPrecondition(precondition, w.clock.Current()); err != nil {
		return nil, w.clock.Current(), err
	}

	result := dto.NewWriteResult()
	payloads := make([]*objectPayload, len(elements))
	for i, raw := range elements {
		p, err := decodeElement(objectType, i, raw)
		if err != nil {
			result.Failed[strconv.Itoa(i)] = failedWrite("", err)
			w.count(objectType, OutcomeFailed)
			continue
		}
		payloads[i] = p
	}

	written := map[int]*models.Object{}
	for _, i := range batchOrder(objectType, payloads) {
		p := payloads[i]
		index := strconv.Itoa(i)
		// Existing objects need a per-object version unless the whole library was pinned.
		obj, changed, err := w.write(objectType, p, p.key, false, p.version, false, precondition == nil)
		if err != nil {
			if appErr := appErrors.FromError(err); appErr.Status >= 500 {
				return nil, w.clock.Current(), err
			}
			result.Failed[index] = failedWrite(p.key, err)
			w.count(objectType, OutcomeFailed)
			continue
		}
		if !changed {
			result.Unchanged[index] = obj.Key
			w.count(objectType, OutcomeUnchanged)
			continue
		}
		written[i] = obj
		w.count(objectType, OutcomeSuccessful)
	}

	version, err := w.commit()
	if err != nil {
		return nil, version, err
	}
	for i, obj := range written {
		index := strconv.Itoa(i)
		result.Successful[index] = s.presenter.View(obj, nil, true)
		result.Success[index] = obj.Key
	}
	return result, version, nil
}

// WriteOne handles PUT (replace) and PATCH (merge) of a single object.
// The If-Unmodified-Since-Version header takes precedence over a version in the body.
func (s *WriteService) WriteOne(ctx context.Context, scope models.RequestScope, objectType models.ObjectType, key string, body []byte, precondition *int64, replace bool) (int64, error) {
	p, err := decodeSingle(objectType, body)
	if err != nil {
		return 0, err
	}
	if p.key != "" && p.key != key {
		return 0, validationError("Key '%s' does not match key '%s' from URI", p.key, key)
	}
	proof := precondition
	if proof == nil {
		proof = p.version
	}

	w, release, err := s.begin(ctx, scope)
	if err != nil {
		return 0, err
	}
	defer release()

	_, changed, err := w.write(objectType, p, key, replace, proof, true, true)
	if err != nil {
		return w.clock.Current(), err
	}
	if changed {
		w.count(objectType, OutcomeSuccessful)
	} else {
		w.count(objectType, OutcomeUnchanged)
	}
	return w.commit()
}

// write applies one payload inside the session and returns the visible object and whether it changed.
func (w *writeSession) write(objectType models.ObjectType, p *objectPayload, key string, replace bool, proof *int64, requireForNew, requireForExisting bool) (*models.Object, bool, error) {
	var existing *models.Object
	if key != "" {
		found, err := w.tx.GetObject(w.ctx, objectType, key)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load object")
		}
		existing = found
	}
	required := requireForNew
	if existing != nil {
		required = requireForExisting
	}
	if err := checkObjectVersion(objectType, existing, proof, required); err != nil {
		return nil, false, err
	}

	target := &models.Object{Library: w.scope.Library, Type: objectType, Key: key}
	if existing != nil {
		target = existing.Clone()
	} else if target.Key == "" {
		target.Key = models.GenerateKey()
	}
	if err := applyPayload(target, p, replace || existing == nil); err != nil {
		return nil, false, err
	}
	if objectType != models.ObjectItem {
		normalizeContainer(target)
	}

	mirroredByID, err := w.svc.mirror.Mirrored(w.ctx, w.tx, []*models.Object{target})
	if err != nil {
		return nil, false, err
	}
	mirrored := mirroredByID[objectID(objectType, target.Key)]
	var previouslyStored models.Relations
	if existing != nil {
		previouslyStored = existing.Data.Relations
	}
	plan := w.svc.mirror.planRelations(w.scope.Library, target, target.Data.Relations, previouslyStored, mirrored, p.present["relations"])

	if err := w.validator.Validate(w.ctx, target, existing, p); err != nil {
		return nil, false, err
	}

	if existing == nil {
		target.DateAdded = w.now
		if p.dateAdded != nil {
			target.DateAdded = *p.dateAdded
		}
	} else {
		before := withRelations(existing, mergeRelations(existing.Data.Relations, mirrored))
		after := withRelations(target, plan.effective)
		if before.Equal(after) {
			return before, false, nil
		}
	}

	if objectType == models.ObjectCollection && target.ParentKey != "" && (existing == nil || existing.ParentKey != target.ParentKey) {
		if err := w.breakCollectionCycle(target); err != nil {
			return nil, false, err
		}
	}

	target.Version = w.clock.Next()
	target.DateModified = w.now
	if p.dateModified != nil && (existing == nil || !p.dateModified.Equal(existing.DateModified)) {
		target.DateModified = *p.dateModified
	}
	target.Data.Relations = plan.stored
	if err := w.tx.PutObject(w.ctx, target); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save object")
	}
	w.clock.Touch()
	if err := unlinkOwners(w.ctx, w.tx, plan.dropped, w.clock.Next(), w.stamp); err != nil {
		return nil, false, err
	}
	if objectType == models.ObjectItem {
		w.indexed = append(w.indexed, target.Clone())
	}
	return withRelations(target, plan.effective), true, nil
}

func (w *writeSession) stamp(obj *models.Object) {
	obj.DateModified = w.now
}

// breakCollectionCycle promotes target's new parent to the root when it is one of target's descendants.
func (w *writeSession) breakCollectionCycle(target *models.Object) error {
	seen := map[string]struct{}{}
	for current := target.ParentKey; current != ""; {
		if current == target.Key {
			parent, err := w.tx.GetObject(w.ctx, models.ObjectCollection, target.ParentKey)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load collection")
			}
			parent.ParentKey = ""
			parent.Version = w.clock.Next()
			w.stamp(parent)
			if err := w.tx.PutObject(w.ctx, parent); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save collection")
			}
			w.svc.logger.Debug("collection promoted to root to break cycle",
				zap.String("library", w.scope.Library.String()),
				zap.String("key", parent.Key),
			)
			return nil
		}
		if _, ok := seen[current]; ok {
			return nil
		}
		seen[current] = struct{}{}
		node, err := w.tx.GetObject(w.ctx, models.ObjectCollection, current)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load collection")
		}
		current = node.ParentKey
	}
	return nil
}

// batchOrder returns element indices with in-batch parents ahead of their children.
func batchOrder(objectType models.ObjectType, payloads []*objectPayload) []int {
	field := objectType.ParentField()
	byKey := map[string]int{}
	for i, p := range payloads {
		if p != nil && p.key != "" {
			byKey[p.key] = i
		}
	}
	depth := make([]int, len(payloads))
	for i, p := range payloads {
		if p == nil || field == "" {
			continue
		}
		current := p
		for steps := 0; steps < len(payloads); steps++ {
			parent, err := parentProperty(current.raw, field)
			if err != nil || parent == "" {
				break
			}
			j, ok := byKey[parent]
			if !ok || j == i {
				break
			}
			depth[i]++
			current = payloads[j]
		}
	}
	order := make([]int, 0, len(payloads))
	for i, p := range payloads {
		if p != nil {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return depth[order[a]] < depth[order[b]] })
	return order
}

func failedWrite(key string, err error) dto.FailedWrite {
	appErr := appErrors.FromError(err)
	return dto.FailedWrite{Key: key, Code: appErr.Status, Message: appErr.Message, Data: appErr.Data}
}

// DeleteOne removes a single object. The header must carry the object's current version.
func (s *WriteService) DeleteOne(ctx context.Context, scope models.RequestScope, objectType models.ObjectType, key string, precondition *int64) (int64, error) {
	if precondition == nil {
		return 0, appErrors.Clone(appErrors.ErrPreconditionRequired, "If-Unmodified-Since-Version not provided")
	}
	w, release, err := s.begin(ctx, scope)
	if err != nil {
		return 0, err
	}
	defer release()

	existing, err := w.tx.GetObject(ctx, objectType, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return w.clock.Current(), appErrors.Clonef(appErrors.ErrNotFound, "%s not found", objectType.Title())
		}
		return w.clock.Current(), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load object")
	}
	if err := checkObjectVersion(objectType, existing, precondition, true); err != nil {
		return w.clock.Current(), err
	}
	if err := w.deleteObjects(objectType, []*models.Object{existing}); err != nil {
		return w.clock.Current(), err
	}
	return w.commit()
}

// DeleteMany removes the listed keys. Unknown keys are ignored; the header pins the library version.
func (s *WriteService) DeleteMany(ctx context.Context, scope models.RequestScope, objectType models.ObjectType, keys []string, precondition *int64) (int64, error) {
	if len(keys) > s.maxBatch {
		return 0, tooLargeError("Cannot delete more than %d %s in a single request", s.maxBatch, objectType.Plural())
	}
	if precondition == nil {
		return 0, appErrors.Clone(appErrors.ErrPreconditionRequired, "If-Unmodified-Since-Version not provided")
	}
	w, release, err := s.begin(ctx, scope)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := checkLibraryPrecondition(precondition, w.clock.Current()); err != nil {
		return w.clock.Current(), err
	}
	var targets []*models.Object
	for _, key := range keys {
		obj, err := w.tx.GetObject(ctx, objectType, key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return w.clock.Current(), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load object")
		}
		targets = append(targets, obj)
	}
	if err := w.deleteObjects(objectType, targets); err != nil {
		return w.clock.Current(), err
	}
	return w.commit()
}

// deleteObjects hard-deletes objs and their dependents at the next version.
func (w *writeSession) deleteObjects(objectType models.ObjectType, objs []*models.Object) error {
	if len(objs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(objs))
	for _, obj := range objs {
		keys = append(keys, obj.Key)
	}
	switch objectType {
	case models.ObjectItem:
		all, err := w.descendants(models.ObjectItem, keys)
		if err != nil {
			return err
		}
		keys = all
	case models.ObjectCollection:
		all, err := w.descendants(models.ObjectCollection, keys)
		if err != nil {
			return err
		}
		keys = all
		if err := w.detachItems(keys); err != nil {
			return err
		}
	}

	version := w.clock.Next()
	for _, key := range keys {
		if err := w.tx.DeleteObject(w.ctx, objectType, key, version); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete object")
		}
		w.count(objectType, OutcomeDeleted)
		if objectType == models.ObjectItem {
			if err := w.purgeItemSettings(key, version); err != nil {
				return err
			}
			w.removed = append(w.removed, key)
		}
	}
	w.clock.Touch()
	return nil
}

// descendants expands roots breadth-first without recursion depth limits.
func (w *writeSession) descendants(objectType models.ObjectType, roots []string) ([]string, error) {
	seen := make(map[string]struct{}, len(roots))
	all := make([]string, 0, len(roots))
	frontier := make([]string, 0, len(roots))
	for _, key := range roots {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		all = append(all, key)
		frontier = append(frontier, key)
	}
	for len(frontier) > 0 {
		children, err := w.tx.ListObjects(w.ctx, repository.ObjectFilter{Type: objectType, ParentKeys: frontier})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load child objects")
		}
		frontier = frontier[:0:0]
		for _, child := range children {
			if _, ok := seen[child.Key]; ok {
				continue
			}
			seen[child.Key] = struct{}{}
			all = append(all, child.Key)
			frontier = append(frontier, child.Key)
		}
	}
	return all, nil
}

// detachItems removes deleted collections from item memberships, bumping the affected items.
func (w *writeSession) detachItems(collectionKeys []string) error {
	removed := make(map[string]struct{}, len(collectionKeys))
	for _, key := range collectionKeys {
		removed[key] = struct{}{}
	}
	items, err := w.tx.ListObjects(w.ctx, repository.ObjectFilter{Type: models.ObjectItem})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load items")
	}
	for _, item := range items {
		kept := item.Data.Collections[:0:0]
		for _, key := range item.Data.Collections {
			if _, gone := removed[key]; !gone {
				kept = append(kept, key)
			}
		}
		if len(kept) == len(item.Data.Collections) {
			continue
		}
		if len(kept) == 0 {
			kept = nil
		}
		item.Data.Collections = kept
		item.Version = w.clock.Next()
		w.stamp(item)
		if err := w.tx.PutObject(w.ctx, item); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update item")
		}
	}
	return nil
}

// purgeItemSettings drops per-attachment settings of a deleted item without logging them as deletions.
func (w *writeSession) purgeItemSettings(key string, version int64) error {
	lib := w.scope.Library
	var err error
	switch lib.Type {
	case models.LibraryUser:
		err = w.tx.DeleteSetting(w.ctx, models.LastPageIndexName("u", key), version, false)
	case models.LibraryGroup:
		scope := "g" + strconv.FormatInt(lib.ID, 10)
		if err = w.tx.PurgeSettingEverywhere(w.ctx, models.LastPageIndexName(scope, key)); err == nil {
			err = w.tx.PurgeSettingEverywhere(w.ctx, "lastRead_"+scope+"_"+key)
		}
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove item settings")
	}
	return nil
}
