package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
	"github.com/noah-isme/libsync-api/pkg/response"
)

type settingsService interface {
	List(ctx context.Context, scope models.RequestScope, since int64, ifModifiedSince *int64) (map[string]dto.SettingView, int64, error)
	Get(ctx context.Context, scope models.RequestScope, name string) (dto.SettingView, int64, error)
	WriteMany(ctx context.Context, scope models.RequestScope, body []byte, precondition *int64) (int64, error)
	Put(ctx context.Context, scope models.RequestScope, name string, body []byte, precondition *int64) (int64, error)
	Delete(ctx context.Context, scope models.RequestScope, name string, precondition *int64) (int64, error)
}

// SettingHandler exposes library settings.
type SettingHandler struct {
	service settingsService
}

// NewSettingHandler builds a new handler.
func NewSettingHandler(service settingsService) *SettingHandler {
	return &SettingHandler{service: service}
}

// List godoc
// @Summary List settings
// @Tags Settings
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param since query int false "Only settings modified after this version"
// @Success 200 {object} map[string]dto.SettingView
// @Success 304
// @Router /users/{libraryID}/settings [get]
func (h *SettingHandler) List(c *gin.Context) {
	var query dto.ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "Invalid query parameters"))
		return
	}
	ifModifiedSince, err := versionHeader(c, HeaderIfModifiedSinceVersion)
	if err != nil {
		response.Error(c, err)
		return
	}
	settings, version, err := h.service.List(c.Request.Context(), scopeFromContext(c), query.SinceVersion(), ifModifiedSince)
	if err != nil {
		writeError(c, err, version)
		return
	}
	setVersion(c, version)
	response.JSON(c, http.StatusOK, settings)
}

// Get godoc
// @Summary Get a setting
// @Tags Settings
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param name path string true "Setting name"
// @Success 200 {object} dto.SettingView
// @Failure 404 {string} string
// @Router /users/{libraryID}/settings/{name} [get]
func (h *SettingHandler) Get(c *gin.Context) {
	setting, version, err := h.service.Get(c.Request.Context(), scopeFromContext(c), c.Param("name"))
	if err != nil {
		writeError(c, err, version)
		return
	}
	setVersion(c, setting.Version)
	response.JSON(c, http.StatusOK, setting)
}

// WriteMany godoc
// @Summary Write several settings
// @Description Body is an object of name to {value, version}. Either every setting is stored or none is.
// @Tags Settings
// @Accept json
// @Param libraryID path int true "Library ID"
// @Param If-Unmodified-Since-Version header int false "Library version the client last saw"
// @Success 204
// @Failure 400 {string} string
// @Failure 412 {string} string
// @Router /users/{libraryID}/settings [post]
func (h *SettingHandler) WriteMany(c *gin.Context) {
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
	version, err := h.service.WriteMany(c.Request.Context(), scopeFromContext(c), body, precondition)
	if err != nil {
		writeError(c, err, version)
		return
	}
	setVersion(c, version)
	response.NoContent(c)
}

// Put godoc
// @Summary Write a setting
// @Tags Settings
// @Accept json
// @Param libraryID path int true "Library ID"
// @Param name path string true "Setting name"
// @Param If-Unmodified-Since-Version header int false "Setting version the client last saw"
// @Success 204
// @Failure 412 {string} string
// @Failure 428 {string} string
// @Router /users/{libraryID}/settings/{name} [put]
func (h *SettingHandler) Put(c *gin.Context) {
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
	version, err := h.service.Put(c.Request.Context(), scopeFromContext(c), c.Param("name"), body, precondition)
	if err != nil {
		writeError(c, err, version)
		return
	}
	setVersion(c, version)
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete a setting
// @Tags Settings
// @Param libraryID path int true "Library ID"
// @Param name path string true "Setting name"
// @Param If-Unmodified-Since-Version header int true "Setting version the client last saw"
// @Success 204
// @Failure 404 {string} string
// @Failure 412 {string} string
// @Router /users/{libraryID}/settings/{name} [delete]
func (h *SettingHandler) Delete(c *gin.Context) {
	precondition, err := versionHeader(c, HeaderIfUnmodifiedSinceVersion)
	if err != nil {
		response.Error(c, err)
		return
	}
	version, err := h.service.Delete(c.Request.Context(), scopeFromContext(c), c.Param("name"), precondition)
	if err != nil {
		writeError(c, err, version)
		return
	}
	setVersion(c, version)
	response.NoContent(c)
}
