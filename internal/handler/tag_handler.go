package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/service"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
	"github.com/noah-isme/libsync-api/pkg/response"
)

type tagService interface {
	List(ctx context.Context, req service.ListRequest) (*service.TagPage, error)
	Delete(ctx context.Context, scope models.RequestScope, names []string, precondition *int64) (int64, error)
}

// TagHandler serves the aggregated tag views of a library.
type TagHandler struct {
	service tagService
	apiBase string
}

// NewTagHandler constructs a tag handler.
func NewTagHandler(service tagService, apiBase string) *TagHandler {
	return &TagHandler{service: service, apiBase: apiBase}
}

// List godoc
// @Summary List tags
// @Description Tags of the items matched by the route and item filters. tag filters the returned names.
// @Tags Tags
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param tag query string false "Tag filter, 'a || b' matches either"
// @Success 200 {array} dto.TagView
// @Success 304
// @Router /users/{libraryID}/tags [get]
// @Router /users/{libraryID}/items/tags [get]
// @Router /users/{libraryID}/items/top/tags [get]
func (h *TagHandler) List(scoper ListScoper) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.list(c, scoper, nil)
	}
}

// Get godoc
// @Summary Get a tag
// @Tags Tags
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param tag path string true "Tag name"
// @Success 200 {array} dto.TagView
// @Failure 404 {string} string
// @Router /users/{libraryID}/tags/{tag} [get]
func (h *TagHandler) Get(c *gin.Context) {
	name := strings.TrimSpace(c.Param("tag"))
	if name == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "Tag not found"))
		return
	}
	h.list(c, nil, []string{name})
}

func (h *TagHandler) list(c *gin.Context, scoper ListScoper, exact []string) {
	scope := scopeFromContext(c)
	var query dto.ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "Invalid query parameters"))
		return
	}
	if query.Format != "" && query.Format != string(dto.FormatJSON) {
		response.Error(c, appErrors.Clonef(appErrors.ErrValidation, "Invalid 'format' value '%s'", query.Format))
		return
	}
	ifModifiedSince, err := versionHeader(c, HeaderIfModifiedSinceVersion)
	if err != nil {
		response.Error(c, err)
		return
	}

	list := dto.ListScope{Type: models.ObjectItem}
	if scoper != nil {
		list = scoper(c)
		list.Type = models.ObjectItem
	}
	if exact != nil {
		query.Tag = exact
	}
	page, err := h.service.List(c.Request.Context(), service.ListRequest{
		Scope:           scope,
		List:            list,
		Query:           query,
		Format:          dto.FormatJSON,
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
	if exact != nil && len(page.Tags) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "Tag not found"))
		return
	}

	setVersion(c, page.Version)
	c.Header(HeaderTotalResults, strconv.Itoa(page.Total))
	if link := paginationLinks(h.apiBase, c.Request.URL, page.Start, page.Limit, page.Total); link != "" {
		c.Header("Link", link)
	}
	views := make([]dto.TagView, 0, len(page.Tags))
	for _, tag := range page.Tags {
		views = append(views, h.view(scope.Library, tag))
	}
	response.JSON(c, http.StatusOK, views)
}

func (h *TagHandler) view(lib models.Library, tag service.TagSummary) dto.TagView {
	href := h.apiBase + "/" + lib.Path() + "/tags/" + url.PathEscape(tag.Tag)
	return dto.TagView{
		Tag:   tag.Tag,
		Links: map[string]dto.Link{"self": {Href: href, Type: "application/json"}},
		Meta:  dto.TagMeta{Type: tag.Type, NumItems: tag.NumItems},
	}
}

// Delete godoc
// @Summary Delete tags
// @Description Removes the tags from every item and records them in the deletion log.
// @Tags Tags
// @Param libraryID path int true "Library ID"
// @Param tag query string true "Tags to delete, 'a || b' deletes both"
// @Param If-Unmodified-Since-Version header int true "Library version the client last saw"
// @Success 204
// @Failure 412 {string} string
// @Failure 428 {string} string
// @Router /users/{libraryID}/tags [delete]
func (h *TagHandler) Delete(c *gin.Context) {
	names := c.QueryArray("tag")
	if len(names) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "'tag' not provided"))
		return
	}
	precondition, err := versionHeader(c, HeaderIfUnmodifiedSinceVersion)
	if err != nil {
		response.Error(c, err)
		return
	}
	version, err := h.service.Delete(c.Request.Context(), scopeFromContext(c), names, precondition)
	if err != nil {
		writeError(c, err, version)
		return
	}
	setVersion(c, version)
	response.NoContent(c)
}
