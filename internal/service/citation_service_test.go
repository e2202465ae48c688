package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

func citationItem() *models.Object {
	return &models.Object{
		Library: models.UserLibrary(1),
		Type:    models.ObjectItem,
		Key:     "ITEM2345",
		Data: models.ObjectData{
			ItemType: "journalArticle",
			Fields:   map[string]string{"title": "On Sync", "publicationTitle": "Journal", "date": "2019-03-04", "volume": "4"},
			Creators: []models.Creator{
				{CreatorType: "author", FirstName: "Ada", LastName: "Lovelace"},
				{CreatorType: "editor", Name: "Committee"},
			},
		},
	}
}

func TestCSLJSON(t *testing.T) {
	record := CSLJSON(citationItem())
	assert.Equal(t, "u1/ITEM2345", record["id"])
	assert.Equal(t, "article-journal", record["type"])
	assert.Equal(t, "On Sync", record["title"])
	assert.Equal(t, "Journal", record["container-title"])
	assert.Equal(t, []map[string]string{{"family": "Lovelace", "given": "Ada"}}, record["author"])
	assert.Equal(t, []map[string]string{{"literal": "Committee"}}, record["editor"])
	assert.Equal(t, map[string]interface{}{"date-parts": [][]interface{}{{2019, 3, 4}}}, record["issued"])
}

func TestCitationRender(t *testing.T) {
	var received renderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/render", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		switch received.Style {
		case "missing-style":
			w.WriteHeader(http.StatusBadRequest)
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_ = json.NewEncoder(w).Encode(renderResponse{
				Output: "Lovelace, A. (2019). On Sync.",
				Items:  map[string]string{"u1/ITEM2345": "<div>Lovelace 2019</div>"},
			})
		}
	}))
	defer server.Close()

	svc := NewCitationService(CitationConfig{ServiceURL: server.URL + "/", Timeout: time.Second}, nil)
	require.True(t, svc.Enabled())
	ctx := context.Background()

	out, err := svc.Export(ctx, dto.FormatBib, "apa", "en-US", []*models.Object{citationItem()})
	require.NoError(t, err)
	assert.Equal(t, "Lovelace, A. (2019). On Sync.", out)
	assert.Equal(t, "bib", received.Format)
	assert.Equal(t, "en-US", received.Locale)
	require.Len(t, received.Items, 1)

	each, err := svc.RenderEach(ctx, dto.IncludeCitation, "apa", "", []*models.Object{citationItem()})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ITEM2345": "<div>Lovelace 2019</div>"}, each)

	_, err = svc.Export(ctx, dto.FormatBib, "missing-style", "", []*models.Object{citationItem()})
	assert.Equal(t, 400, appErrors.FromError(err).Status)

	_, err = svc.Export(ctx, dto.FormatBib, "broken", "", []*models.Object{citationItem()})
	assert.Equal(t, 503, appErrors.FromError(err).Status)
}

func TestCitationDisabled(t *testing.T) {
	svc := NewCitationService(CitationConfig{}, nil)
	assert.False(t, svc.Enabled())
	_, err := svc.Export(context.Background(), dto.FormatRIS, "", "", nil)
	assert.Equal(t, 501, appErrors.FromError(err).Status)
}
