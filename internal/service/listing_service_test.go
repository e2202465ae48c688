package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

func intPtr(v int) *int { return &v }

func (f *syncFixture) list(t *testing.T, scope dto.ListScope, query dto.ListQuery, format dto.Format) *ListPage {
	t.Helper()
	page, err := f.listing.List(context.Background(), ListRequest{Scope: f.scope, List: scope, Query: query, Format: format})
	require.NoError(t, err)
	return page
}

func pageKeys(page *ListPage) []string {
	keys := make([]string, 0, len(page.Objects))
	for _, obj := range page.Objects {
		keys = append(keys, obj.Key)
	}
	return keys
}

func TestListSinceVersion(t *testing.T) {
	f := newSyncFixture(t)
	a := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book", "title": "A"})
	b := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book", "title": "B"})
	c := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book", "title": "C"})

	page := f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Since: versionPtr(1)}, dto.FormatVersions)
	assert.ElementsMatch(t, []string{b, c}, pageKeys(page))
	assert.Equal(t, 0, page.Limit)
	assert.Equal(t, int64(3), page.Version)

	// newer is a synonym of since.
	page = f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Newer: versionPtr(2)}, dto.FormatKeys)
	assert.Equal(t, []string{c}, pageKeys(page))

	page = f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{ItemKey: a + "," + c}, dto.FormatKeys)
	assert.ElementsMatch(t, []string{a, c}, pageKeys(page))
}

func TestListNotModified(t *testing.T) {
	f := newSyncFixture(t)
	key := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book"})

	page, err := f.listing.List(context.Background(), ListRequest{
		Scope:           f.scope,
		List:            dto.ListScope{Type: models.ObjectItem},
		Format:          dto.FormatJSON,
		IfModifiedSince: versionPtr(1),
	})
	require.Error(t, err)
	assert.Equal(t, 304, appErrors.FromError(err).Status)
	assert.Equal(t, int64(1), page.Version)

	_, _, _, err = f.listing.Get(context.Background(), f.scope, models.ObjectItem, key, versionPtr(1))
	assert.Equal(t, 304, appErrors.FromError(err).Status)

	obj, _, version, err := f.listing.Get(context.Background(), f.scope, models.ObjectItem, key, versionPtr(0))
	require.NoError(t, err)
	assert.Equal(t, key, obj.Key)
	assert.Equal(t, int64(1), version)
}

func TestListDefaultSortDependsOnFormat(t *testing.T) {
	f := newSyncFixture(t)
	older := f.create(t, models.ObjectItem, map[string]interface{}{
		"itemType": "book", "dateAdded": "2020-01-01T00:00:00Z", "dateModified": "2021-01-01T00:00:00Z",
	})
	newer := f.create(t, models.ObjectItem, map[string]interface{}{
		"itemType": "book", "dateAdded": "2020-06-01T00:00:00Z", "dateModified": "2020-07-01T00:00:00Z",
	})

	page := f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{}, dto.FormatJSON)
	assert.Equal(t, []string{older, newer}, pageKeys(page))

	page = f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{}, dto.FormatAtom)
	assert.Equal(t, []string{newer, older}, pageKeys(page))

	page = f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Sort: "asc"}, dto.FormatJSON)
	assert.Equal(t, []string{newer, older}, pageKeys(page))
}

func TestListSortKeepsEmptyValuesLast(t *testing.T) {
	f := newSyncFixture(t)
	author := func(name string) map[string]interface{} {
		return map[string]interface{}{
			"itemType": "book",
			"creators": []map[string]string{{"creatorType": "author", "name": name}},
		}
	}
	zeta := f.create(t, models.ObjectItem, author("Zeta"))
	firstEmpty := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book"})
	alpha := f.create(t, models.ObjectItem, author("alpha"))
	secondEmpty := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book"})

	page := f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Sort: "creator"}, dto.FormatKeys)
	assert.Equal(t, []string{alpha, zeta, firstEmpty, secondEmpty}, pageKeys(page))

	page = f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Sort: "creator", Direction: "desc"}, dto.FormatKeys)
	assert.Equal(t, []string{zeta, alpha, firstEmpty, secondEmpty}, pageKeys(page))

	// Legacy form: order names the field and sort the direction.
	page = f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Order: "creator", Sort: "desc"}, dto.FormatKeys)
	assert.Equal(t, []string{zeta, alpha, firstEmpty, secondEmpty}, pageKeys(page))

	_, err := f.listing.List(context.Background(), ListRequest{
		Scope: f.scope, List: dto.ListScope{Type: models.ObjectItem}, Query: dto.ListQuery{Sort: "color"}, Format: dto.FormatJSON,
	})
	assert.Equal(t, 400, appErrors.FromError(err).Status)
}

func TestListPagination(t *testing.T) {
	f := newSyncFixture(t)
	for i := 0; i < 5; i++ {
		f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book"})
	}
	page := f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Start: 2, Limit: intPtr(2)}, dto.FormatJSON)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Objects, 2)
	assert.Equal(t, 2, page.Limit)

	page = f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Start: 10}, dto.FormatJSON)
	assert.Empty(t, page.Objects)
	assert.Equal(t, 5, page.Total)

	page = f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Limit: intPtr(1000)}, dto.FormatJSON)
	assert.Equal(t, 100, page.Limit)
}

func TestListTagFilters(t *testing.T) {
	f := newSyncFixture(t)
	tagged := func(names ...string) map[string]interface{} {
		tags := make([]map[string]string, 0, len(names))
		for _, n := range names {
			tags = append(tags, map[string]string{"tag": n})
		}
		return map[string]interface{}{"itemType": "book", "tags": tags}
	}
	ab := f.create(t, models.ObjectItem, tagged("a", "b"))
	bc := f.create(t, models.ObjectItem, tagged("B", "c"))
	c := f.create(t, models.ObjectItem, tagged("c"))

	cases := []struct {
		name string
		tags []string
		want []string
	}{
		{name: "or", tags: []string{"a || c"}, want: []string{ab, bc, c}},
		{name: "not", tags: []string{"-c"}, want: []string{ab}},
		{name: "and", tags: []string{"b", "-a"}, want: []string{bc}},
		{name: "case insensitive", tags: []string{"b"}, want: []string{ab, bc}},
		{name: "not or", tags: []string{"-b || c"}, want: []string{bc, c}},
		{name: "not or not", tags: []string{"-b || -c"}, want: []string{ab, c}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page := f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Tag: tc.tags}, dto.FormatKeys)
			assert.ElementsMatch(t, tc.want, pageKeys(page))
		})
	}
}

func TestListQuickSearch(t *testing.T) {
	f := newSyncFixture(t)
	first := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book", "title": "Green Apple"})
	second := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book", "title": "Apple Pie Green"})
	f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "note", "note": "<p>banana bread</p>", "parentItem": second})

	page := f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Q: "green apple"}, dto.FormatKeys)
	assert.ElementsMatch(t, []string{first, second}, pageKeys(page))

	page = f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{Q: `"green apple"`}, dto.FormatKeys)
	assert.Equal(t, []string{first}, pageKeys(page))

	// A matching child selects its top-level parent.
	page = f.list(t, dto.ListScope{Type: models.ObjectItem, Top: true}, dto.ListQuery{Q: "banana"}, dto.FormatKeys)
	assert.Equal(t, []string{second}, pageKeys(page))
}

func TestListTrashAndChildren(t *testing.T) {
	f := newSyncFixture(t)
	parent := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book"})
	child := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "note", "note": "n", "parentItem": parent})
	trashed := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book", "deleted": true})

	page := f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{}, dto.FormatKeys)
	assert.ElementsMatch(t, []string{parent, child}, pageKeys(page))

	page = f.list(t, dto.ListScope{Type: models.ObjectItem}, dto.ListQuery{IncludeTrashed: true}, dto.FormatKeys)
	assert.ElementsMatch(t, []string{parent, child, trashed}, pageKeys(page))

	page = f.list(t, dto.ListScope{Type: models.ObjectItem, Trash: true}, dto.ListQuery{}, dto.FormatKeys)
	assert.Equal(t, []string{trashed}, pageKeys(page))

	page = f.list(t, dto.ListScope{Type: models.ObjectItem, Top: true}, dto.ListQuery{}, dto.FormatJSON)
	assert.Equal(t, []string{parent}, pageKeys(page))
	assert.Equal(t, 1, page.Meta[parent]["numChildren"])

	page = f.list(t, dto.ListScope{Type: models.ObjectItem, ParentKey: parent}, dto.ListQuery{}, dto.FormatKeys)
	assert.Equal(t, []string{child}, pageKeys(page))

	_, err := f.listing.List(context.Background(), ListRequest{
		Scope: f.scope, List: dto.ListScope{Type: models.ObjectItem, ParentKey: "NNNNNNNN"}, Format: dto.FormatJSON,
	})
	assert.Equal(t, 404, appErrors.FromError(err).Status)
}

func TestListCollectionMembership(t *testing.T) {
	f := newSyncFixture(t)
	collection := f.create(t, models.ObjectCollection, map[string]interface{}{"name": "Reading"})
	sub := f.create(t, models.ObjectCollection, map[string]interface{}{"name": "Sub", "parentCollection": collection})
	member := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book", "collections": []string{collection}})
	f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book"})

	page := f.list(t, dto.ListScope{Type: models.ObjectItem, CollectionKey: collection}, dto.ListQuery{}, dto.FormatKeys)
	assert.Equal(t, []string{member}, pageKeys(page))

	page = f.list(t, dto.ListScope{Type: models.ObjectCollection, Top: true}, dto.ListQuery{}, dto.FormatJSON)
	require.Equal(t, []string{collection}, pageKeys(page))
	assert.Equal(t, 1, page.Meta[collection]["numCollections"])
	assert.Equal(t, 1, page.Meta[collection]["numItems"])

	page = f.list(t, dto.ListScope{Type: models.ObjectCollection, ParentKey: collection}, dto.ListQuery{}, dto.FormatKeys)
	assert.Equal(t, []string{sub}, pageKeys(page))
}

func TestNotesHiddenWithoutNotesAccess(t *testing.T) {
	f := newSyncFixture(t)
	book := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book"})
	note := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "note", "note": "private"})

	reader := writerScope(models.UserLibrary(1))
	reader.Principal.Access.User = &models.LibraryAccess{Library: true}

	page, err := f.listing.List(context.Background(), ListRequest{Scope: reader, List: dto.ListScope{Type: models.ObjectItem}, Format: dto.FormatKeys})
	require.NoError(t, err)
	assert.Equal(t, []string{book}, pageKeys(page))

	_, _, _, err = f.listing.Get(context.Background(), reader, models.ObjectItem, note, nil)
	assert.Equal(t, 403, appErrors.FromError(err).Status)

	stranger := writerScope(models.UserLibrary(1))
	stranger.Principal.UserID = 2
	_, err = f.listing.LibraryVersion(context.Background(), stranger)
	assert.Equal(t, 403, appErrors.FromError(err).Status)
}

func TestDeletedRequiresSince(t *testing.T) {
	f := newSyncFixture(t)
	_, _, err := f.listing.Deleted(context.Background(), f.scope, nil)
	require.Error(t, err)
	assert.Equal(t, "'since' parameter must be provided", appErrors.FromError(err).Message)

	view, version, err := f.listing.Deleted(context.Background(), f.scope, versionPtr(0))
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
	assert.NotNil(t, view.Items)
	assert.Empty(t, view.Items)
}

func TestResolveSort(t *testing.T) {
	cases := []struct {
		name   string
		query  dto.ListQuery
		format dto.Format
		want   sortSpec
	}{
		{name: "default json", format: dto.FormatJSON, want: sortSpec{field: "dateModified", desc: true}},
		{name: "default atom", format: dto.FormatAtom, want: sortSpec{field: "dateAdded", desc: true}},
		{name: "text ascending", query: dto.ListQuery{Sort: "title"}, want: sortSpec{field: "title"}},
		{name: "direction only", query: dto.ListQuery{Sort: "asc"}, want: sortSpec{field: "dateModified"}},
		{name: "legacy order", query: dto.ListQuery{Order: "title", Sort: "desc"}, want: sortSpec{field: "title", desc: true}},
		{name: "explicit direction", query: dto.ListQuery{Sort: "version", Direction: "asc"}, want: sortSpec{field: "version"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveSort(tc.query, tc.format)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
