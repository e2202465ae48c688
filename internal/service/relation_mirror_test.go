package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/libsync-api/internal/models"
)

func itemURI(key string) string {
	return models.ObjectURI(testURIBase, models.UserLibrary(1), models.ObjectItem, key)
}

func TestRelationMirroredWithoutVersionBump(t *testing.T) {
	f := newSyncFixture(t)
	b := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book", "title": "B"})
	a := f.create(t, models.ObjectItem, map[string]interface{}{
		"itemType":  "book",
		"title":     "A",
		"relations": map[string]interface{}{"dc:relation": itemURI(b), "owl:sameAs": "http://example.org/other"},
	})

	target := f.get(t, models.ObjectItem, b)
	assert.Equal(t, int64(1), target.Version)
	assert.Equal(t, []string{itemURI(a)}, target.Data.Relations["dc:relation"])
	assert.NotContains(t, target.Data.Relations, "owl:sameAs")

	// Posting B back with the mirrored value changes nothing.
	result, version := f.post(t, models.ObjectItem, ObjectData(target))
	assert.Equal(t, b, result.Unchanged["0"])
	assert.Equal(t, int64(2), version)
	assert.Equal(t, int64(1), f.get(t, models.ObjectItem, b).Version)
}

func TestRelationRemovedFromMirroredSide(t *testing.T) {
	f := newSyncFixture(t)
	b := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book"})
	a := f.create(t, models.ObjectItem, map[string]interface{}{
		"itemType": "book", "relations": map[string]interface{}{"dc:relation": itemURI(b)},
	})

	version, err := f.writes.WriteOne(context.Background(), f.scope, models.ObjectItem, b, []byte(`{"relations":{}}`), versionPtr(1), false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)

	owner := f.get(t, models.ObjectItem, a)
	target := f.get(t, models.ObjectItem, b)
	assert.Empty(t, owner.Data.Relations)
	assert.Empty(t, target.Data.Relations)
	assert.Equal(t, int64(3), owner.Version)
	assert.Equal(t, int64(3), target.Version)
}

func TestRelationMirrorIgnoresOtherWrites(t *testing.T) {
	f := newSyncFixture(t)
	b := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book", "title": "B"})
	a := f.create(t, models.ObjectItem, map[string]interface{}{
		"itemType": "book", "relations": map[string]interface{}{"dc:relation": itemURI(b)},
	})

	// A patch that leaves relations out keeps the mirrored value and does not claim it.
	_, err := f.writes.WriteOne(context.Background(), f.scope, models.ObjectItem, b, []byte(`{"title":"B2"}`), versionPtr(1), false)
	require.NoError(t, err)

	target := f.get(t, models.ObjectItem, b)
	assert.Equal(t, []string{itemURI(a)}, target.Data.Relations["dc:relation"])
	assert.Equal(t, int64(2), f.get(t, models.ObjectItem, a).Version)

	_, err = f.writes.DeleteOne(context.Background(), f.scope, models.ObjectItem, a, versionPtr(2))
	require.NoError(t, err)
	assert.Empty(t, f.get(t, models.ObjectItem, b).Data.Relations)
}

func TestPlanRelations(t *testing.T) {
	mirror := NewRelationMirror(testURIBase)
	lib := models.UserLibrary(1)
	target := &models.Object{Library: lib, Type: models.ObjectItem, Key: "BBBBBBBB"}
	owner := itemURI("AAAAAAAA")
	other := itemURI("CCCCCCCC")
	mirrored := models.Relations{"dc:relation": {owner}}

	t.Run("implicit keeps mirrored values visible", func(t *testing.T) {
		plan := mirror.planRelations(lib, target, nil, nil, mirrored, false)
		assert.Nil(t, plan.stored)
		assert.Equal(t, models.Relations{"dc:relation": {owner}}, plan.effective)
		assert.Empty(t, plan.dropped)
	})

	t.Run("explicit echo is not stored", func(t *testing.T) {
		requested := models.Relations{"dc:relation": {owner, other}}
		plan := mirror.planRelations(lib, target, requested, nil, mirrored, true)
		assert.Equal(t, models.Relations{"dc:relation": {other}}, plan.stored)
		assert.Equal(t, requested, plan.effective)
		assert.Empty(t, plan.dropped)
	})

	t.Run("previously stored values stay stored", func(t *testing.T) {
		requested := models.Relations{"dc:relation": {owner}}
		plan := mirror.planRelations(lib, target, requested, requested, mirrored, true)
		assert.Equal(t, requested, plan.stored)
	})

	t.Run("omitted mirrored value is dropped", func(t *testing.T) {
		plan := mirror.planRelations(lib, target, models.Relations{}, nil, mirrored, true)
		assert.Nil(t, plan.stored)
		require.Len(t, plan.dropped, 1)
		assert.Equal(t, models.RelationEdge{
			OwnerType: models.ObjectItem,
			OwnerKey:  "AAAAAAAA",
			Predicate: "dc:relation",
			Object:    itemURI("BBBBBBBB"),
		}, plan.dropped[0])
	})
}

func TestParseOwner(t *testing.T) {
	mirror := NewRelationMirror(testURIBase)
	lib := models.UserLibrary(1)

	objectType, key, ok := mirror.parseOwner(lib, models.ObjectURI(testURIBase, lib, models.ObjectCollection, "ABCD2345"))
	require.True(t, ok)
	assert.Equal(t, models.ObjectCollection, objectType)
	assert.Equal(t, "ABCD2345", key)

	_, _, ok = mirror.parseOwner(lib, models.ObjectURI(testURIBase, models.GroupLibrary(1), models.ObjectItem, "ABCD2345"))
	assert.False(t, ok)
	_, _, ok = mirror.parseOwner(lib, "http://example.org/items/ABCD2345")
	assert.False(t, ok)
}
