package models

import "github.com/golang-jwt/jwt/v5"

// KeyClaims is the signed payload of an API key.
type KeyClaims struct {
	UserID   int64     `json:"userID"`
	Username string    `json:"username"`
	Access   KeyAccess `json:"access"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the request principal.
func (c *KeyClaims) Principal() *Principal {
	return &Principal{KeyID: c.ID, UserID: c.UserID, Username: c.Username, Access: c.Access}
}
