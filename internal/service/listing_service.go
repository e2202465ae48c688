package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/repository"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// Quick-search modes.
const (
	QModeTitleCreatorYear = "titleCreatorYear"
	QModeEverything       = "everything"
)

// FullTextSearcher answers which items match words through the full-text index.
type FullTextSearcher interface {
	Search(lib models.Library, words []string) map[string]struct{}
}

// ListingConfig bounds page sizes.
type ListingConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// ListRequest describes one listing call.
type ListRequest struct {
	Scope           models.RequestScope
	List            dto.ListScope
	Query           dto.ListQuery
	Format          dto.Format
	IfModifiedSince *int64
}

// ListPage is a sorted, paginated listing. Objects carry mirrored relations.
type ListPage struct {
	Objects []*models.Object
	Meta    map[string]map[string]interface{}
	Total   int
	Start   int
	// Limit is zero when the page holds every match.
	Limit   int
	Version int64
}

// ListingService answers object reads, sync-cursor listings and the deletion log.
type ListingService struct {
	store    repository.Store
	mirror   *RelationMirror
	fulltext FullTextSearcher
	validate *validator.Validate
	logger   *zap.Logger
	cfg      ListingConfig
}

// NewListingService constructs the listing engine. fulltext may be nil.
func NewListingService(store repository.Store, mirror *RelationMirror, fulltext FullTextSearcher, cfg ListingConfig, validate *validator.Validate, logger *zap.Logger) *ListingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 25
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	return &ListingService{store: store, mirror: mirror, fulltext: fulltext, validate: validate, logger: logger, cfg: cfg}
}

func (s *ListingService) snapshot(ctx context.Context, scope models.RequestScope) (repository.LibraryTx, int64, error) {
	if !scope.CanRead() {
		return nil, 0, appErrors.ErrForbidden
	}
	tx, err := s.store.Snapshot(ctx, scope.Library)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open library")
	}
	version, err := tx.LibraryVersion(ctx)
	if err != nil {
		_ = tx.Rollback()
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read library version")
	}
	return tx, version, nil
}

// LibraryVersion returns the current version of the scoped library.
func (s *ListingService) LibraryVersion(ctx context.Context, scope models.RequestScope) (int64, error) {
	tx, version, err := s.snapshot(ctx, scope)
	if err != nil {
		return 0, err
	}
	_ = tx.Rollback()
	return version, nil
}

// Get returns one object with mirrored relations and its meta block.
func (s *ListingService) Get(ctx context.Context, scope models.RequestScope, objectType models.ObjectType, key string, ifModifiedSince *int64) (*models.Object, map[string]interface{}, int64, error) {
	tx, version, err := s.snapshot(ctx, scope)
	if err != nil {
		return nil, nil, 0, err
	}
	defer tx.Rollback()

	obj, err := tx.GetObject(ctx, objectType, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, version, appErrors.Clonef(appErrors.ErrNotFound, "%s not found", objectType.Title())
		}
		return nil, nil, version, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load object")
	}
	if obj.Data.ItemType == models.ItemTypeNote && !scope.CanReadNotes() {
		return nil, nil, version, appErrors.ErrForbidden
	}
	if ifModifiedSince != nil && obj.Version <= *ifModifiedSince {
		return nil, nil, version, appErrors.ErrNotModified
	}
	effective, err := s.mirror.EffectiveOne(ctx, tx, obj)
	if err != nil {
		return nil, nil, version, err
	}
	meta, err := s.meta(ctx, tx, scope, []*models.Object{effective})
	if err != nil {
		return nil, nil, version, err
	}
	return effective, meta[effective.Key], version, nil
}

// List runs a listing request.
func (s *ListingService) List(ctx context.Context, req ListRequest) (*ListPage, error) {
	if err := s.validate.Struct(req.Query); err != nil {
		return nil, validationError("Invalid query parameters: %s", err.Error())
	}
	tx, version, err := s.snapshot(ctx, req.Scope)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if req.IfModifiedSince != nil && version <= *req.IfModifiedSince {
		return &ListPage{Version: version}, appErrors.ErrNotModified
	}

	matches, err := s.matching(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := sortObjects(matches, req.Query, req.Format); err != nil {
		return nil, err
	}

	page := &ListPage{Total: len(matches), Start: req.Query.Start, Version: version}
	if req.Query.Limit != nil {
		page.Limit = *req.Query.Limit
		if page.Limit > s.cfg.MaxLimit {
			page.Limit = s.cfg.MaxLimit
		}
	} else if !req.Format.Unbounded() {
		page.Limit = s.cfg.DefaultLimit
	}
	window := matches
	if page.Start >= len(window) {
		window = nil
	} else {
		window = window[page.Start:]
	}
	if page.Limit > 0 && len(window) > page.Limit {
		window = window[:page.Limit]
	}

	page.Objects, err = s.mirror.Effective(ctx, tx, window)
	if err != nil {
		return nil, err
	}
	if req.Format == dto.FormatJSON || req.Format == dto.FormatAtom {
		if page.Meta, err = s.meta(ctx, tx, req.Scope, page.Objects); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// matching loads every object of the listing scope that passes the filters, unsorted.
func (s *ListingService) matching(ctx context.Context, tx repository.LibraryTx, req ListRequest) ([]*models.Object, error) {
	scope := req.List
	query := req.Query
	filter := repository.ObjectFilter{Type: scope.Type, Since: query.SinceVersion(), Keys: query.KeysFor(scope.Type)}

	if scope.ParentKey != "" {
		parentType := scope.Type
		if _, err := tx.GetObject(ctx, parentType, scope.ParentKey); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, appErrors.Clonef(appErrors.ErrNotFound, "%s not found", parentType.Title())
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent")
		}
		filter.ParentKeys = []string{scope.ParentKey}
	}
	if scope.CollectionKey != "" {
		if _, err := tx.GetObject(ctx, models.ObjectCollection, scope.CollectionKey); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "Collection not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load collection")
		}
	}

	candidates, err := tx.ListObjects(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list objects")
	}

	tags := ParseBooleanFilter(query.Tag)
	itemTypes := ParseBooleanFilter(nonEmpty(query.ItemType))
	search := ParseQuickSearch(query.Q)
	var hits map[string]struct{}
	if !search.Empty() {
		hits, err = s.searchHits(ctx, tx, req, search)
		if err != nil {
			return nil, err
		}
	}

	out := make([]*models.Object, 0, len(candidates))
	for _, obj := range candidates {
		if scope.Trash != obj.Deleted && !(query.IncludeTrashed && obj.Deleted) {
			continue
		}
		if scope.Top && obj.ParentKey != "" {
			continue
		}
		if scope.CollectionKey != "" && !containsString(obj.Data.Collections, scope.CollectionKey) {
			continue
		}
		if obj.Type == models.ObjectItem {
			if obj.Data.ItemType == models.ItemTypeNote && !req.Scope.CanReadNotes() {
				continue
			}
			if !itemTypes.MatchValue(obj.Data.ItemType) || !tags.MatchTags(obj.Data.Tags) {
				continue
			}
		}
		if hits != nil {
			if _, ok := hits[obj.Key]; !ok {
				continue
			}
		}
		out = append(out, obj)
	}
	return out, nil
}

// searchHits evaluates q. For top-level listings a matching child selects its top-level ancestor.
func (s *ListingService) searchHits(ctx context.Context, tx repository.LibraryTx, req ListRequest, search QuickSearch) (map[string]struct{}, error) {
	all, err := tx.ListObjects(ctx, repository.ObjectFilter{Type: req.List.Type})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list objects")
	}
	var indexed map[string]struct{}
	if req.Query.QMode == QModeEverything && s.fulltext != nil && req.List.Type == models.ObjectItem {
		indexed = s.fulltext.Search(req.Scope.Library, search.Words())
	}
	parents := make(map[string]string, len(all))
	for _, obj := range all {
		parents[obj.Key] = obj.ParentKey
	}
	hits := map[string]struct{}{}
	for _, obj := range all {
		_, fullText := indexed[obj.Key]
		if !fullText && !search.Match(searchHaystacks(obj, req.Query.QMode)...) {
			continue
		}
		hits[obj.Key] = struct{}{}
		if req.List.Top {
			key := obj.Key
			for steps := 0; parents[key] != "" && steps < len(all); steps++ {
				key = parents[key]
			}
			hits[key] = struct{}{}
		}
	}
	return hits, nil
}

func searchHaystacks(obj *models.Object, mode string) []string {
	haystacks := []string{obj.Data.Name, obj.Field("title"), parsedDate(obj)}
	for _, c := range obj.Data.Creators {
		haystacks = append(haystacks, c.FirstName+" "+c.LastName, c.Name)
	}
	if note := obj.Field("note"); note != "" {
		haystacks = append(haystacks, noteText(note))
	}
	if mode == QModeEverything {
		for field, value := range obj.Data.Fields {
			if field != "note" {
				haystacks = append(haystacks, value)
			}
		}
		for _, t := range obj.Data.Tags {
			haystacks = append(haystacks, t.Tag)
		}
	}
	return haystacks
}

// meta computes the meta block of each object, keyed by object key.
func (s *ListingService) meta(ctx context.Context, tx repository.LibraryTx, scope models.RequestScope, objs []*models.Object) (map[string]map[string]interface{}, error) {
	out := make(map[string]map[string]interface{}, len(objs))
	if len(objs) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(objs))
	for _, obj := range objs {
		keys = append(keys, obj.Key)
	}
	objectType := objs[0].Type
	switch objectType {
	case models.ObjectItem:
		children, err := tx.ListObjects(ctx, repository.ObjectFilter{Type: models.ObjectItem, ParentKeys: keys})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count children")
		}
		counts := map[string]int{}
		for _, child := range children {
			if child.Data.ItemType == models.ItemTypeNote && !scope.CanReadNotes() {
				continue
			}
			counts[child.ParentKey]++
		}
		for _, obj := range objs {
			meta := map[string]interface{}{}
			if summary := creatorSummary(obj); summary != "" {
				meta["creatorSummary"] = summary
			}
			if date := parsedDate(obj); date != "" {
				meta["parsedDate"] = date
			}
			if obj.ParentKey == "" {
				meta["numChildren"] = counts[obj.Key]
			}
			out[obj.Key] = meta
		}
	case models.ObjectCollection:
		subcollections, err := tx.ListObjects(ctx, repository.ObjectFilter{Type: models.ObjectCollection, ParentKeys: keys})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count subcollections")
		}
		items, err := tx.ListObjects(ctx, repository.ObjectFilter{Type: models.ObjectItem})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count items")
		}
		numCollections := map[string]int{}
		for _, c := range subcollections {
			if !c.Deleted {
				numCollections[c.ParentKey]++
			}
		}
		numItems := map[string]int{}
		for _, item := range items {
			if item.Deleted {
				continue
			}
			for _, key := range item.Data.Collections {
				numItems[key]++
			}
		}
		for _, obj := range objs {
			out[obj.Key] = map[string]interface{}{
				"numCollections": numCollections[obj.Key],
				"numItems":       numItems[obj.Key],
			}
		}
	default:
		for _, obj := range objs {
			out[obj.Key] = map[string]interface{}{}
		}
	}
	return out, nil
}

// Deleted reports keys removed since a version. since is mandatory.
func (s *ListingService) Deleted(ctx context.Context, scope models.RequestScope, since *int64) (dto.DeletedView, int64, error) {
	view := dto.NewDeletedView()
	if since == nil {
		return view, 0, validationError("'since' parameter must be provided")
	}
	tx, version, err := s.snapshot(ctx, scope)
	if err != nil {
		return view, 0, err
	}
	defer tx.Rollback()

	deletions, err := tx.ListDeletions(ctx, *since)
	if err != nil {
		return view, version, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list deletions")
	}
	for _, d := range deletions {
		switch d.Kind {
		case models.DeletedCollection:
			view.Collections = append(view.Collections, d.Key)
		case models.DeletedItem:
			view.Items = append(view.Items, d.Key)
		case models.DeletedSearch:
			view.Searches = append(view.Searches, d.Key)
		case models.DeletedTag:
			view.Tags = append(view.Tags, d.Key)
		case models.DeletedSetting:
			view.Settings = append(view.Settings, d.Key)
		}
	}
	return view, version, nil
}

// sortSpec is the resolved sort field and direction of a listing.
type sortSpec struct {
	field string
	desc  bool
}

var sortableFields = map[string]struct{}{
	"title": {}, "creator": {}, "itemType": {}, "date": {}, "dateAdded": {}, "dateModified": {},
	"publisher": {}, "publicationTitle": {}, "journalAbbreviation": {}, "language": {},
	"accessDate": {}, "libraryCatalog": {}, "callNumber": {}, "rights": {}, "version": {},
}

// resolveSort applies the direction-only and legacy order/sort aliases.
func resolveSort(query dto.ListQuery, format dto.Format) (sortSpec, error) {
	field := query.Sort
	direction := query.Direction
	if query.Order != "" {
		field = query.Order
		if query.Sort == "asc" || query.Sort == "desc" {
			direction = query.Sort
		}
	} else if field == "asc" || field == "desc" {
		direction = field
		field = ""
	}
	if field == "" {
		field = "dateModified"
		if format == dto.FormatAtom {
			field = "dateAdded"
		}
	}
	if _, ok := sortableFields[field]; !ok {
		return sortSpec{}, validationError("Invalid 'sort' value '%s'", field)
	}
	if direction == "" {
		switch field {
		case "dateAdded", "dateModified", "version":
			direction = "desc"
		default:
			direction = "asc"
		}
	}
	return sortSpec{field: field, desc: direction == "desc"}, nil
}

// sortObjects orders objs in place. Empty string keys sort last in either direction; ties keep insertion order.
func sortObjects(objs []*models.Object, query dto.ListQuery, format dto.Format) error {
	spec, err := resolveSort(query, format)
	if err != nil {
		return err
	}
	tag := language.English
	if query.Locale != "" {
		if parsed, err := language.Parse(query.Locale); err == nil {
			tag = parsed
		}
	}
	collator := collate.New(tag, collate.Loose, collate.Numeric)

	switch spec.field {
	case "dateAdded", "dateModified", "version":
		sort.SliceStable(objs, func(i, j int) bool {
			a, b := numericSortKey(objs[i], spec.field), numericSortKey(objs[j], spec.field)
			if a == b {
				return objs[i].ID < objs[j].ID
			}
			if spec.desc {
				return a > b
			}
			return a < b
		})
		return nil
	}

	keys := make(map[*models.Object]string, len(objs))
	for _, obj := range objs {
		keys[obj] = stringSortKey(obj, spec.field)
	}
	sort.SliceStable(objs, func(i, j int) bool {
		a, b := keys[objs[i]], keys[objs[j]]
		switch {
		case a == "" && b == "":
			return objs[i].ID < objs[j].ID
		case a == "":
			return false
		case b == "":
			return true
		}
		cmp := collator.CompareString(a, b)
		if cmp == 0 {
			return objs[i].ID < objs[j].ID
		}
		if spec.desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return nil
}

func numericSortKey(obj *models.Object, field string) int64 {
	switch field {
	case "dateAdded":
		return unixOf(obj.DateAdded)
	case "dateModified":
		return unixOf(obj.DateModified)
	default:
		return obj.Version
	}
}

func unixOf(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func stringSortKey(obj *models.Object, field string) string {
	switch field {
	case "title":
		title := obj.Field("title")
		if obj.Type != models.ObjectItem {
			title = obj.Data.Name
		} else if obj.Data.ItemType == models.ItemTypeNote {
			title = noteTitle(obj.Field("note"))
		}
		return strings.TrimLeft(title, `"'“‘[(«`)
	case "creator":
		return creatorSortKey(obj)
	case "itemType":
		return obj.Data.ItemType
	case "date":
		return parsedDate(obj)
	default:
		return obj.Field(field)
	}
}

func creatorSortKey(obj *models.Object) string {
	var names []string
	for _, c := range obj.Data.Creators {
		names = append(names, c.SortName())
	}
	return strings.Join(names, " ")
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func nonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	return []string{value}
}
