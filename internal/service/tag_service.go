package service

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/repository"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// TagSummary is one aggregated tag of a library.
type TagSummary struct {
	Tag      string
	Type     int
	NumItems int
	// Version is the newest version among items carrying the tag.
	Version int64
}

// TagPage is a paginated tag listing.
type TagPage struct {
	Tags    []TagSummary
	Total   int
	Start   int
	Limit   int
	Version int64
}

// TagService aggregates tags from items and bulk-deletes them.
type TagService struct {
	listing *ListingService
	writes  *WriteService
}

// NewTagService constructs a tag service on top of the listing and write services.
func NewTagService(listing *ListingService, writes *WriteService) *TagService {
	return &TagService{listing: listing, writes: writes}
}

// List aggregates the tags of every item matched by req. req.Query.Tag restricts the returned tag names.
func (s *TagService) List(ctx context.Context, req ListRequest) (*TagPage, error) {
	if err := s.listing.validate.Struct(req.Query); err != nil {
		return nil, validationError("Invalid query parameters: %s", err.Error())
	}
	tx, version, err := s.listing.snapshot(ctx, req.Scope)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if req.IfModifiedSince != nil && version <= *req.IfModifiedSince {
		return &TagPage{Version: version}, appErrors.ErrNotModified
	}

	// Tag names filter the result, not the items.
	names := ParseBooleanFilter(req.Query.Tag)
	itemReq := req
	itemReq.List.Type = models.ObjectItem
	itemReq.Query.Tag = nil
	items, err := s.listing.matching(ctx, tx, itemReq)
	if err != nil {
		return nil, err
	}

	type tagKey struct {
		name string
		kind int
	}
	byKey := map[tagKey]*TagSummary{}
	for _, item := range items {
		for _, t := range item.Data.Tags {
			if !names.MatchValue(t.Tag) {
				continue
			}
			k := tagKey{t.Tag, t.Type}
			summary := byKey[k]
			if summary == nil {
				summary = &TagSummary{Tag: t.Tag, Type: t.Type}
				byKey[k] = summary
			}
			summary.NumItems++
			if item.Version > summary.Version {
				summary.Version = item.Version
			}
		}
	}

	tags := make([]TagSummary, 0, len(byKey))
	for _, summary := range byKey {
		tags = append(tags, *summary)
	}
	tag := language.English
	if req.Query.Locale != "" {
		if parsed, err := language.Parse(req.Query.Locale); err == nil {
			tag = parsed
		}
	}
	collator := collate.New(tag, collate.Loose)
	desc := req.Query.Direction == "desc"
	sort.SliceStable(tags, func(i, j int) bool {
		cmp := collator.CompareString(tags[i].Tag, tags[j].Tag)
		if cmp == 0 {
			if tags[i].Tag != tags[j].Tag {
				return tags[i].Tag < tags[j].Tag
			}
			return tags[i].Type < tags[j].Type
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})

	page := &TagPage{Total: len(tags), Start: req.Query.Start, Version: version}
	if req.Query.Limit != nil {
		page.Limit = *req.Query.Limit
		if page.Limit > s.listing.cfg.MaxLimit {
			page.Limit = s.listing.cfg.MaxLimit
		}
	} else if !req.Format.Unbounded() {
		page.Limit = s.listing.cfg.DefaultLimit
	}
	if page.Start < len(tags) {
		tags = tags[page.Start:]
	} else {
		tags = nil
	}
	if page.Limit > 0 && len(tags) > page.Limit {
		tags = tags[:page.Limit]
	}
	page.Tags = tags
	return page, nil
}

// Delete removes the named tags from every item and logs them in the deletion log.
// names uses the tag-filter syntax: "a || b" deletes both.
func (s *TagService) Delete(ctx context.Context, scope models.RequestScope, names []string, precondition *int64) (int64, error) {
	if precondition == nil {
		return 0, appErrors.Clone(appErrors.ErrPreconditionRequired, "If-Unmodified-Since-Version not provided")
	}
	wanted := map[string]struct{}{}
	for _, param := range names {
		for _, name := range strings.Split(param, "||") {
			if name = models.NormalizeTag(name); name != "" {
				wanted[name] = struct{}{}
			}
		}
	}
	if len(wanted) == 0 {
		return 0, validationError("No tags specified")
	}
	if len(wanted) > s.writes.maxBatch {
		return 0, tooLargeError("Cannot delete more than %d tags in a single request", s.writes.maxBatch)
	}

	w, release, err := s.writes.begin(ctx, scope)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := checkLibraryPrecondition(precondition, w.clock.Current()); err != nil {
		return w.clock.Current(), err
	}

	items, err := w.tx.ListObjects(ctx, repository.ObjectFilter{Type: models.ObjectItem})
	if err != nil {
		return w.clock.Current(), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load items")
	}
	found := map[string]struct{}{}
	for _, item := range items {
		kept := item.Data.Tags[:0:0]
		for _, t := range item.Data.Tags {
			if _, drop := wanted[t.Tag]; drop {
				found[t.Tag] = struct{}{}
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == len(item.Data.Tags) {
			continue
		}
		if len(kept) == 0 {
			kept = nil
		}
		item.Data.Tags = kept
		item.Version = w.clock.Next()
		w.stamp(item)
		if err := w.tx.PutObject(ctx, item); err != nil {
			return w.clock.Current(), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update item")
		}
		w.indexed = append(w.indexed, item.Clone())
		w.count(models.ObjectItem, OutcomeSuccessful)
	}

	deleted := make([]string, 0, len(found))
	for name := range found {
		deleted = append(deleted, name)
	}
	sort.Strings(deleted)
	for _, name := range deleted {
		if err := w.tx.LogDeletion(ctx, models.Deletion{Kind: models.DeletedTag, Key: name, Version: w.clock.Next()}); err != nil {
			return w.clock.Current(), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to log tag deletion")
		}
		w.clock.Touch()
	}
	return w.commit()
}
