package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/middleware"
	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
	"github.com/noah-isme/libsync-api/pkg/response"
)

type keyService interface {
	Describe(principal *models.Principal) dto.KeyResponse
	CreateSession(ctx context.Context) (*dto.LoginSessionResponse, error)
	GetSession(ctx context.Context, token string) (*dto.LoginSessionResponse, error)
	CancelSession(ctx context.Context, token string) error
	CompleteSession(ctx context.Context, token string, req dto.CompleteLoginSessionRequest) (*dto.LoginSessionResponse, error)
}

// KeyHandler exposes API key introspection and the login-session flow.
type KeyHandler struct {
	service keyService
}

// NewKeyHandler builds a new handler.
func NewKeyHandler(service keyService) *KeyHandler {
	return &KeyHandler{service: service}
}

// Current godoc
// @Summary Describe the calling key
// @Tags Keys
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.KeyResponse
// @Failure 403 {string} string
// @Router /keys/current [get]
func (h *KeyHandler) Current(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	if principal == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "API key required"))
		return
	}
	response.JSON(c, http.StatusOK, h.service.Describe(principal))
}

// CreateSession godoc
// @Summary Start a login session
// @Description Unauthenticated. The client polls the returned token until a key is issued.
// @Tags Keys
// @Produce json
// @Success 201 {object} dto.LoginSessionResponse
// @Router /keys/sessions [post]
func (h *KeyHandler) CreateSession(c *gin.Context) {
	session, err := h.service.CreateSession(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, session)
}

// GetSession godoc
// @Summary Poll a login session
// @Tags Keys
// @Produce json
// @Param token path string true "Session token"
// @Success 200 {object} dto.LoginSessionResponse
// @Failure 404 {string} string
// @Router /keys/sessions/{token} [get]
func (h *KeyHandler) GetSession(c *gin.Context) {
	session, err := h.service.GetSession(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}

// CancelSession godoc
// @Summary Cancel a login session
// @Tags Keys
// @Param token path string true "Session token"
// @Success 204
// @Failure 404 {string} string
// @Failure 409 {string} string
// @Router /keys/sessions/{token} [delete]
func (h *KeyHandler) CancelSession(c *gin.Context) {
	if err := h.service.CancelSession(c.Request.Context(), c.Param("token")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CompleteSession godoc
// @Summary Issue a key for a login session
// @Tags Keys
// @Accept json
// @Produce json
// @Security BasicAuth
// @Param token path string true "Session token"
// @Param payload body dto.CompleteLoginSessionRequest true "Key owner and permissions"
// @Success 200 {object} dto.LoginSessionResponse
// @Failure 400 {string} string
// @Failure 409 {string} string
// @Router /keys/sessions/{token}/complete [post]
func (h *KeyHandler) CompleteSession(c *gin.Context) {
	var req dto.CompleteLoginSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login session payload"))
		return
	}
	session, err := h.service.CompleteSession(c.Request.Context(), c.Param("token"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}
