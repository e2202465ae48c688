package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
)

func waitIndexed(t *testing.T, svc *FullTextService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))
}

func TestFullTextIndexAndRemove(t *testing.T) {
	svc := NewFullTextService(FullTextConfig{Workers: 2}, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	lib := models.UserLibrary(1)
	note := &models.Object{Library: lib, Type: models.ObjectItem, Key: "NOTE2345", Data: models.ObjectData{
		ItemType: models.ItemTypeNote,
		Fields:   map[string]string{"note": "<p>Photosynthesis <b>in</b> ferns</p>"},
	}}
	annotation := &models.Object{Library: lib, Type: models.ObjectItem, Key: "ANNO2345", Data: models.ObjectData{
		ItemType: models.ItemTypeAnnotation,
		Fields:   map[string]string{"annotationText": "chlorophyll", "annotationComment": "see ferns"},
	}}
	svc.IndexItems(lib, []*models.Object{note, annotation})
	waitIndexed(t, svc)

	assert.Equal(t, map[string]struct{}{"NOTE2345": {}, "ANNO2345": {}}, svc.Search(lib, []string{"FERNS"}))
	assert.Equal(t, map[string]struct{}{"NOTE2345": {}}, svc.Search(lib, []string{"photosynthesis", "ferns"}))
	assert.Empty(t, svc.Search(models.UserLibrary(2), []string{"ferns"}))
	assert.Empty(t, svc.Search(lib, nil))

	svc.RemoveItems(lib, []string{"NOTE2345"})
	waitIndexed(t, svc)
	assert.Equal(t, map[string]struct{}{"ANNO2345": {}}, svc.Search(lib, []string{"ferns"}))
}

func TestFullTextFeedsEverythingSearch(t *testing.T) {
	f := newSyncFixture(t)
	fulltext := NewFullTextService(FullTextConfig{Workers: 1}, nil)
	fulltext.Start(context.Background())
	defer fulltext.Stop()
	f.writes.hooks.Indexer = fulltext
	f.listing.fulltext = fulltext

	parent := f.create(t, models.ObjectItem, map[string]interface{}{"itemType": "book", "title": "Botany"})
	pdf := f.create(t, models.ObjectItem, map[string]interface{}{
		"itemType": "attachment", "linkMode": "imported_file", "contentType": "application/pdf", "parentItem": parent,
	})
	f.create(t, models.ObjectItem, annotation(pdf, map[string]interface{}{"annotationText": "stomata density"}))
	waitIndexed(t, fulltext)

	page := f.list(t, dto.ListScope{Type: models.ObjectItem, Top: true}, dto.ListQuery{Q: "stomata", QMode: QModeEverything}, dto.FormatKeys)
	assert.Equal(t, []string{parent}, pageKeys(page))

	page = f.list(t, dto.ListScope{Type: models.ObjectItem, Top: true}, dto.ListQuery{Q: "stomata"}, dto.FormatKeys)
	assert.Empty(t, page.Objects)
}
