package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/service"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
	"github.com/noah-isme/libsync-api/pkg/response"
)

type objectReader interface {
	Get(ctx context.Context, scope models.RequestScope, objectType models.ObjectType, key string, ifModifiedSince *int64) (*models.Object, map[string]interface{}, int64, error)
	List(ctx context.Context, req service.ListRequest) (*service.ListPage, error)
	Deleted(ctx context.Context, scope models.RequestScope, since *int64) (dto.DeletedView, int64, error)
}

type objectWriter interface {
	WriteBatch(ctx context.Context, scope models.RequestScope, objectType models.ObjectType, body []byte, precondition *int64) (*dto.WriteResult, int64, error)
	WriteOne(ctx context.Context, scope models.RequestScope, objectType models.ObjectType, key string, body []byte, precondition *int64, replace bool) (int64, error)
	DeleteOne(ctx context.Context, scope models.RequestScope, objectType models.ObjectType, key string, precondition *int64) (int64, error)
	DeleteMany(ctx context.Context, scope models.RequestScope, objectType models.ObjectType, keys []string, precondition *int64) (int64, error)
}

type citationRenderer interface {
	Export(ctx context.Context, format dto.Format, style, locale string, items []*models.Object) (string, error)
	RenderEach(ctx context.Context, include, style, locale string, items []*models.Object) (map[string]string, error)
}

type objectPresenter interface {
	View(obj *models.Object, meta map[string]interface{}, includeData bool) dto.ObjectView
	Feed(title, selfURL string, objs []*models.Object, meta map[string]map[string]interface{}, total int) (dto.AtomFeed, error)
}

// ListScoper derives the route-defined subset of a listing from the request path.
type ListScoper func(c *gin.Context) dto.ListScope

// ObjectHandler serves collections, items and searches along with the deletion log.
type ObjectHandler struct {
	reader    objectReader
	writer    objectWriter
	citation  citationRenderer
	presenter objectPresenter
	apiBase   string
}

// NewObjectHandler constructs an object handler. apiBase prefixes pagination and feed links.
func NewObjectHandler(reader objectReader, writer objectWriter, citation citationRenderer, presenter objectPresenter, apiBase string) *ObjectHandler {
	return &ObjectHandler{reader: reader, writer: writer, citation: citation, presenter: presenter, apiBase: apiBase}
}

// List godoc
// @Summary List objects
// @Description Lists collections, items or searches. Only objects modified after since are returned when it is given.
// @Tags Objects
// @Produce json
// @Produce application/atom+xml
// @Param libraryID path int true "Library ID"
// @Param format query string false "json, atom, keys, versions, csljson, bib, bibtex or ris"
// @Param since query int false "Only objects modified after this version"
// @Param start query int false "Offset"
// @Param limit query int false "Page size"
// @Param If-Modified-Since-Version header int false "Returns 304 when the library is unchanged"
// @Success 200 {array} dto.ObjectView
// @Success 304
// @Router /users/{libraryID}/items [get]
// @Router /users/{libraryID}/items/top [get]
// @Router /users/{libraryID}/collections [get]
// @Router /users/{libraryID}/searches [get]
func (h *ObjectHandler) List(objectType models.ObjectType, scoper ListScoper) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := scopeFromContext(c)
		var query dto.ListQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "Invalid query parameters"))
			return
		}
		format, err := resolveFormat(scope, query.Format, objectType)
		if err != nil {
			response.Error(c, err)
			return
		}
		ifModifiedSince, err := versionHeader(c, HeaderIfModifiedSinceVersion)
		if err != nil {
			response.Error(c, err)
			return
		}

		list := dto.ListScope{Type: objectType}
		if scoper != nil {
			list = scoper(c)
			list.Type = objectType
		}
		page, err := h.reader.List(c.Request.Context(), service.ListRequest{
			Scope:           scope,
			List:            list,
			Query:           query,
			Format:          format,
			IfModifiedSince: ifModifiedSince,
		})
		if err != nil {
			var version int64
			if page != nil {
				version = page.Version
			}
			writeError(c, err, version)
			return
		}

		setVersion(c, page.Version)
		c.Header(HeaderTotalResults, strconv.Itoa(page.Total))
		if link := paginationLinks(h.apiBase, c.Request.URL, page.Start, page.Limit, page.Total); link != "" {
			c.Header("Link", link)
		}
		h.render(c, format, rendering{
			objectType: objectType,
			objects:    page.Objects,
			meta:       page.Meta,
			total:      page.Total,
			query:      query,
			scope:      scope,
		})
	}
}

// Get godoc
// @Summary Get an object
// @Tags Objects
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param key path string true "Object key"
// @Param If-Modified-Since-Version header int false "Returns 304 when the object is unchanged"
// @Success 200 {object} dto.ObjectView
// @Success 304
// @Failure 404 {string} string
// @Router /users/{libraryID}/items/{key} [get]
// @Router /users/{libraryID}/collections/{key} [get]
// @Router /users/{libraryID}/searches/{key} [get]
func (h *ObjectHandler) Get(objectType models.ObjectType) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := scopeFromContext(c)
		var query dto.ListQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "Invalid query parameters"))
			return
		}
		format, err := resolveFormat(scope, query.Format, objectType)
		if err != nil {
			response.Error(c, err)
			return
		}
		ifModifiedSince, err := versionHeader(c, HeaderIfModifiedSinceVersion)
		if err != nil {
			response.Error(c, err)
			return
		}

		obj, meta, version, err := h.reader.Get(c.Request.Context(), scope, objectType, c.Param("key"), ifModifiedSince)
		if err != nil {
			writeError(c, err, version)
			return
		}

		// Single-object responses report the object's own version.
		setVersion(c, obj.Version)
		h.render(c, format, rendering{
			objectType: objectType,
			objects:    []*models.Object{obj},
			meta:       map[string]map[string]interface{}{obj.Key: meta},
			total:      1,
			single:     true,
			query:      query,
			scope:      scope,
		})
	}
}

// Create godoc
// @Summary Write objects in a batch
// @Description Creates or updates up to the configured batch size of objects. Each element succeeds, is unchanged or fails independently.
// @Tags Objects
// @Accept json
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param If-Unmodified-Since-Version header int false "Library version the client last saw"
// @Success 200 {object} dto.WriteResult
// @Failure 400 {string} string
// @Failure 412 {string} string
// @Failure 413 {string} string
// @Router /users/{libraryID}/items [post]
// @Router /users/{libraryID}/collections [post]
// @Router /users/{libraryID}/searches [post]
func (h *ObjectHandler) Create(objectType models.ObjectType) gin.HandlerFunc {
	return func(c *gin.Context) {
		precondition, err := versionHeader(c, HeaderIfUnmodifiedSinceVersion)
		if err != nil {
			response.Error(c, err)
			return
		}
		body, err := readBody(c)
		if err != nil {
			response.Error(c, err)
			return
		}
		result, version, err := h.writer.WriteBatch(c.Request.Context(), scopeFromContext(c), objectType, body, precondition)
		if err != nil {
			writeError(c, err, version)
			return
		}
		setVersion(c, version)
		response.JSON(c, http.StatusOK, result)
	}
}

// Replace godoc
// @Summary Replace an object
// @Description Fields missing from the body are cleared. Creates the object when the version proof is 0.
// @Tags Objects
// @Accept json
// @Param libraryID path int true "Library ID"
// @Param key path string true "Object key"
// @Param If-Unmodified-Since-Version header int false "Object version the client last saw"
// @Success 204
// @Failure 412 {string} string
// @Failure 428 {string} string
// @Router /users/{libraryID}/items/{key} [put]
func (h *ObjectHandler) Replace(objectType models.ObjectType) gin.HandlerFunc {
	return h.writeOne(objectType, true)
}

// Update godoc
// @Summary Patch an object
// @Description Only the fields present in the body change.
// @Tags Objects
// @Accept json
// @Param libraryID path int true "Library ID"
// @Param key path string true "Object key"
// @Param If-Unmodified-Since-Version header int false "Object version the client last saw"
// @Success 204
// @Failure 412 {string} string
// @Failure 428 {string} string
// @Router /users/{libraryID}/items/{key} [patch]
func (h *ObjectHandler) Update(objectType models.ObjectType) gin.HandlerFunc {
	return h.writeOne(objectType, false)
}

func (h *ObjectHandler) writeOne(objectType models.ObjectType, replace bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		precondition, err := versionHeader(c, HeaderIfUnmodifiedSinceVersion)
		if err != nil {
			response.Error(c, err)
			return
		}
		body, err := readBody(c)
		if err != nil {
			response.Error(c, err)
			return
		}
		version, err := h.writer.WriteOne(c.Request.Context(), scopeFromContext(c), objectType, c.Param("key"), body, precondition, replace)
		if err != nil {
			writeError(c, err, version)
			return
		}
		setVersion(c, version)
		response.NoContent(c)
	}
}

// Delete godoc
// @Summary Delete an object
// @Tags Objects
// @Param libraryID path int true "Library ID"
// @Param key path string true "Object key"
// @Param If-Unmodified-Since-Version header int true "Object version the client last saw"
// @Success 204
// @Failure 404 {string} string
// @Failure 412 {string} string
// @Failure 428 {string} string
// @Router /users/{libraryID}/items/{key} [delete]
func (h *ObjectHandler) Delete(objectType models.ObjectType) gin.HandlerFunc {
	return func(c *gin.Context) {
		precondition, err := versionHeader(c, HeaderIfUnmodifiedSinceVersion)
		if err != nil {
			response.Error(c, err)
			return
		}
		version, err := h.writer.DeleteOne(c.Request.Context(), scopeFromContext(c), objectType, c.Param("key"), precondition)
		if err != nil {
			writeError(c, err, version)
			return
		}
		setVersion(c, version)
		response.NoContent(c)
	}
}

// DeleteMany godoc
// @Summary Delete several objects
// @Description Keys are passed comma-separated in itemKey, collectionKey or searchKey. Unknown keys are ignored.
// @Tags Objects
// @Param libraryID path int true "Library ID"
// @Param itemKey query string false "Comma-separated item keys"
// @Param If-Unmodified-Since-Version header int true "Library version the client last saw"
// @Success 204
// @Failure 412 {string} string
// @Failure 413 {string} string
// @Failure 428 {string} string
// @Router /users/{libraryID}/items [delete]
func (h *ObjectHandler) DeleteMany(objectType models.ObjectType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var query dto.ListQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "Invalid query parameters"))
			return
		}
		keys := query.KeysFor(objectType)
		if len(keys) == 0 {
			response.Error(c, appErrors.Clonef(appErrors.ErrValidation, "'%s' not provided", objectType.KeyParam()))
			return
		}
		precondition, err := versionHeader(c, HeaderIfUnmodifiedSinceVersion)
		if err != nil {
			response.Error(c, err)
			return
		}
		version, err := h.writer.DeleteMany(c.Request.Context(), scopeFromContext(c), objectType, keys, precondition)
		if err != nil {
			writeError(c, err, version)
			return
		}
		setVersion(c, version)
		response.NoContent(c)
	}
}

// Deleted godoc
// @Summary List deleted objects
// @Description Keys of collections, items, searches, tags and settings deleted after since.
// @Tags Objects
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param since query int true "Library version"
// @Success 200 {object} dto.DeletedView
// @Failure 400 {string} string
// @Router /users/{libraryID}/deleted [get]
func (h *ObjectHandler) Deleted(c *gin.Context) {
	var query dto.ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "Invalid query parameters"))
		return
	}
	since := query.Since
	if since == nil {
		since = query.Newer
	}
	ifModifiedSince, err := versionHeader(c, HeaderIfModifiedSinceVersion)
	if err != nil {
		response.Error(c, err)
		return
	}

	view, version, err := h.reader.Deleted(c.Request.Context(), scopeFromContext(c), since)
	if err != nil {
		writeError(c, err, version)
		return
	}
	if ifModifiedSince != nil && version <= *ifModifiedSince {
		writeError(c, appErrors.ErrNotModified, version)
		return
	}
	setVersion(c, version)
	response.JSON(c, http.StatusOK, view)
}
