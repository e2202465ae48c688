package handler

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/middleware"
	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/repository"
	"github.com/noah-isme/libsync-api/internal/service"
)

const testAPIBase = "https://api.example.org"

type apiFixture struct {
	engine *gin.Engine
	keys   *service.KeyService
	key    string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	keys := service.NewKeyService(repository.NewMemoryLoginSessionRepository(), nil, nil, service.KeyConfig{
		Secret:                "test-secret",
		Issuer:                "libsync",
		SuperuserName:         "admin",
		SuperuserPasswordHash: string(hash),
		SessionTTL:            time.Minute,
		LoginURLBase:          "https://example.org/login",
	})

	store := repository.NewMemoryStore()
	mirror := service.NewRelationMirror("http://zotero.org")
	presenter := service.NewObjectPresenter(testAPIBase, "https://www.example.org")
	writes := service.NewWriteService(store, repository.NewLocalLocker(), mirror, presenter, service.WriteConfig{MaxBatch: 50}, service.WriteHooks{}, nil, nil)
	listing := service.NewListingService(store, mirror, nil, service.ListingConfig{DefaultLimit: 25, MaxLimit: 100}, nil, nil)
	citation := service.NewCitationService(service.CitationConfig{}, nil)

	engine := gin.New()
	Register(engine, Routes{
		Objects:   NewObjectHandler(listing, writes, citation, presenter, testAPIBase),
		Tags:      NewTagHandler(service.NewTagService(listing, writes), testAPIBase),
		Settings:  NewSettingHandler(service.NewSettingsService(listing, writes)),
		Keys:      NewKeyHandler(keys),
		Metrics:   NewMetricsHandler(service.NewMetricsService(), nil),
		Auth:      middleware.APIKey(keys),
		Superuser: middleware.Superuser(keys),
	})

	key, err := keys.Mint(1, "ada", models.KeyAccess{
		User:   &models.LibraryAccess{Library: true, Notes: true, Write: true},
		Groups: map[string]models.LibraryAccess{"all": {Library: true, Write: true}},
	})
	require.NoError(t, err)
	return &apiFixture{engine: engine, keys: keys, key: key}
}

func (f *apiFixture) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+f.key)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) createItems(t *testing.T, prefix string, items ...map[string]interface{}) []string {
	t.Helper()
	raw, err := json.Marshal(items)
	require.NoError(t, err)
	w := f.do(http.MethodPost, prefix+"/items", raw, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result dto.WriteResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Empty(t, result.Failed)
	keys := make([]string, len(items))
	for i := range items {
		keys[i] = result.Success[strconv.Itoa(i)]
	}
	return keys
}

func TestWriteThenReadItem(t *testing.T) {
	f := newAPIFixture(t)
	keys := f.createItems(t, "/users/1", map[string]interface{}{"itemType": "book", "title": "Sync"})

	w := f.do(http.MethodGet, "/users/1/items/"+keys[0], nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderLastModifiedVersion))

	var view dto.ObjectView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, keys[0], view.Key)
	assert.Equal(t, int64(1), view.Version)
	assert.Equal(t, "Sync", view.Data["title"])

	w = f.do(http.MethodGet, "/users/1/items/"+keys[0], nil, map[string]string{HeaderIfModifiedSinceVersion: "1"})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderLastModifiedVersion))
	assert.Empty(t, w.Body.String())

	w = f.do(http.MethodGet, "/users/1/items/MISSING0", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGroupPrefixServesSeparateLibrary(t *testing.T) {
	f := newAPIFixture(t)
	f.createItems(t, "/groups/5", map[string]interface{}{"itemType": "book"})

	w := f.do(http.MethodGet, "/groups/5/items?format=keys", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderLastModifiedVersion))
	assert.Len(t, strings.Fields(w.Body.String()), 1)

	w = f.do(http.MethodGet, "/users/1/items?format=keys", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderLastModifiedVersion))
	assert.Empty(t, w.Body.String())
}

func TestStalePreconditionReportsVersion(t *testing.T) {
	f := newAPIFixture(t)
	f.createItems(t, "/users/1", map[string]interface{}{"itemType": "book"})

	w := f.do(http.MethodPost, "/users/1/items", []byte(`[{"itemType":"book"}]`), map[string]string{HeaderIfUnmodifiedSinceVersion: "0"})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderLastModifiedVersion))
	assert.Equal(t, "Library has been modified since specified version (expected 0, found 1)", w.Body.String())

	w = f.do(http.MethodPost, "/users/1/items", []byte(`{"itemType":"book"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get(HeaderLastModifiedVersion))

	w = f.do(http.MethodPost, "/users/1/items", []byte(`[]`), map[string]string{HeaderIfUnmodifiedSinceVersion: "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListFormats(t *testing.T) {
	f := newAPIFixture(t)
	keys := f.createItems(t, "/users/1",
		map[string]interface{}{"itemType": "book", "title": "Alpha"},
		map[string]interface{}{"itemType": "book", "title": "Beta"},
	)

	w := f.do(http.MethodGet, "/users/1/items?format=versions", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var versions map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &versions))
	assert.Equal(t, map[string]int64{keys[0]: 1, keys[1]: 1}, versions)

	w = f.do(http.MethodGet, "/users/1/items?format=csljson", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var csl struct {
		Items []map[string]interface{} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &csl))
	assert.Len(t, csl.Items, 2)

	w = f.do(http.MethodGet, "/users/1/items?format=atom", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/atom+xml", w.Header().Get("Content-Type"))
	var feed struct {
		Title   string `xml:"title"`
		Entries []struct {
			Title string `xml:"title"`
		} `xml:"entry"`
	}
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &feed))
	assert.Equal(t, "users/1 / items", feed.Title)
	assert.Len(t, feed.Entries, 2)

	w = f.do(http.MethodGet, "/users/1/collections?format=csljson", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid 'format' value 'csljson'", w.Body.String())

	w = f.do(http.MethodGet, "/users/1/items?format=pdf", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/users/1/collections?include=bib", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLegacyAPIVersionDefaultsToAtom(t *testing.T) {
	f := newAPIFixture(t)
	f.createItems(t, "/users/1", map[string]interface{}{"itemType": "book"})

	w := f.do(http.MethodGet, "/users/1/items", nil, map[string]string{middleware.APIVersionHeader: "2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/atom+xml", w.Header().Get("Content-Type"))
}

func TestPaginationHeaders(t *testing.T) {
	f := newAPIFixture(t)
	f.createItems(t, "/users/1",
		map[string]interface{}{"itemType": "book"},
		map[string]interface{}{"itemType": "book"},
		map[string]interface{}{"itemType": "book"},
	)

	w := f.do(http.MethodGet, "/users/1/items?limit=2&key=secret", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get(HeaderTotalResults))
	link := w.Header().Get("Link")
	assert.Contains(t, link, `<https://api.example.org/users/1/items?limit=2&start=2>; rel="next"`)
	assert.Contains(t, link, `rel="last"`)
	assert.NotContains(t, link, "secret")

	var views []dto.ObjectView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.Len(t, views, 2)
}

func TestHeadMirrorsGetWithoutBody(t *testing.T) {
	f := newAPIFixture(t)
	f.createItems(t, "/users/1", map[string]interface{}{"itemType": "book"})

	w := f.do(http.MethodHead, "/users/1/items", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderLastModifiedVersion))
	assert.Equal(t, "1", w.Header().Get(HeaderTotalResults))
	assert.Empty(t, w.Body.String())
}

func TestWriteOneAndDelete(t *testing.T) {
	f := newAPIFixture(t)
	keys := f.createItems(t, "/users/1", map[string]interface{}{"itemType": "book", "title": "A"})
	path := "/users/1/items/" + keys[0]

	w := f.do(http.MethodPatch, path, []byte(`{"title":"B"}`), map[string]string{HeaderIfUnmodifiedSinceVersion: "1"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Equal(t, "2", w.Header().Get(HeaderLastModifiedVersion))

	w = f.do(http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusPreconditionRequired, w.Code)

	w = f.do(http.MethodDelete, path, nil, map[string]string{HeaderIfUnmodifiedSinceVersion: "1"})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "2", w.Header().Get(HeaderLastModifiedVersion))

	w = f.do(http.MethodDelete, path, nil, map[string]string{HeaderIfUnmodifiedSinceVersion: "2"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "3", w.Header().Get(HeaderLastModifiedVersion))

	w = f.do(http.MethodGet, "/users/1/deleted?since=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var deleted dto.DeletedView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deleted))
	assert.Equal(t, []string{keys[0]}, deleted.Items)

	w = f.do(http.MethodGet, "/users/1/deleted?since=2", nil, map[string]string{HeaderIfModifiedSinceVersion: "3"})
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestDeleteManyRequiresKeys(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodDelete, "/users/1/items", nil, map[string]string{HeaderIfUnmodifiedSinceVersion: "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "'itemKey' not provided", w.Body.String())
}

func TestSettingsRoutes(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodPost, "/users/1/settings",
		[]byte(`{"tagColors":{"value":[{"name":"red","color":"#ff0000"}]}}`),
		map[string]string{HeaderIfUnmodifiedSinceVersion: "0"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Equal(t, "1", w.Header().Get(HeaderLastModifiedVersion))

	w = f.do(http.MethodGet, "/users/1/settings/tagColors", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderLastModifiedVersion))
	var setting dto.SettingView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &setting))
	assert.Equal(t, int64(1), setting.Version)

	w = f.do(http.MethodGet, "/users/1/settings/unknownSetting", nil, nil)
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestTagRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.createItems(t, "/users/1",
		map[string]interface{}{"itemType": "book", "tags": []map[string]interface{}{{"tag": "history"}}},
	)

	w := f.do(http.MethodGet, "/users/1/tags", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tags []dto.TagView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tags))
	require.Len(t, tags, 1)
	assert.Equal(t, "history", tags[0].Tag)
	assert.Equal(t, 1, tags[0].Meta.NumItems)

	w = f.do(http.MethodGet, "/users/1/tags/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/users/1/tags", nil, map[string]string{HeaderIfUnmodifiedSinceVersion: "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/users/1/tags?tag=history", nil, map[string]string{HeaderIfUnmodifiedSinceVersion: "1"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "2", w.Header().Get(HeaderLastModifiedVersion))
}

func TestLibraryAccessRules(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/users/1/items", nil)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodGet, "/users/2/items", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodGet, "/users/abc/items", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/users/1/items", nil, map[string]string{"Authorization": "Token nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/users/1/items", nil, map[string]string{"Authorization": "Bearer forged"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLoginSessionFlow(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/keys/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var session dto.LoginSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	require.NotEmpty(t, session.SessionToken)

	completePath := "/keys/sessions/" + session.SessionToken + "/complete"
	body := []byte(`{"userID":9,"username":"grace","access":{"user":{"library":true}}}`)

	req := httptest.NewRequest(http.MethodPost, completePath, bytes.NewReader(body))
	w = httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodPost, completePath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("admin", "hunter2")
	w = httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/keys/sessions/"+session.SessionToken, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, models.LoginSessionCompleted, session.Status)
	require.NotEmpty(t, session.APIKey)

	f.key = session.APIKey
	w = f.do(http.MethodGet, "/keys/current", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var current dto.KeyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
	assert.Equal(t, int64(9), current.UserID)

	w = f.do(http.MethodGet, "/users/9/items", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthRoute(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"stats"`)
	w = f.do(http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
