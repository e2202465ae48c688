package dto

import "github.com/noah-isme/libsync-api/internal/models"

// LoginSessionResponse is returned when a client starts or polls a login session.
type LoginSessionResponse struct {
	SessionToken string                    `json:"sessionToken"`
	LoginURL     string                    `json:"loginURL,omitempty"`
	Status       models.LoginSessionStatus `json:"status"`
	APIKey       string                    `json:"apiKey,omitempty"`
	UserID       int64                     `json:"userID,omitempty"`
	Username     string                    `json:"username,omitempty"`
}

// CompleteLoginSessionRequest is sent by the superuser to issue a key for a pending session.
type CompleteLoginSessionRequest struct {
	UserID   int64            `json:"userID" validate:"required,min=1"`
	Username string           `json:"username" validate:"required"`
	Access   models.KeyAccess `json:"access"`
}

// KeyResponse describes the calling key.
type KeyResponse struct {
	Key      string           `json:"key"`
	UserID   int64            `json:"userID"`
	Username string           `json:"username"`
	Access   models.KeyAccess `json:"access"`
}
