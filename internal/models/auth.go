package models

import (
	"strconv"
	"time"
)

// LibraryAccess lists what a key may do in one library.
type LibraryAccess struct {
	Library bool `json:"library"`
	Notes   bool `json:"notes,omitempty"`
	Write   bool `json:"write,omitempty"`
	Files   bool `json:"files,omitempty"`
}

// KeyAccess is the permission set embedded in an API key. Group entries are keyed by group ID or "all".
type KeyAccess struct {
	User   *LibraryAccess           `json:"user,omitempty"`
	Groups map[string]LibraryAccess `json:"groups,omitempty"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	KeyID    string    `json:"key"`
	UserID   int64     `json:"userID"`
	Username string    `json:"username"`
	Access   KeyAccess `json:"access"`
}

// AccessFor resolves the principal's permissions in lib.
func (p *Principal) AccessFor(lib Library) LibraryAccess {
	if p == nil {
		return LibraryAccess{}
	}
	switch lib.Type {
	case LibraryUser:
		if lib.ID == p.UserID && p.Access.User != nil {
			return *p.Access.User
		}
	case LibraryGroup:
		if access, ok := p.Access.Groups[strconv.FormatInt(lib.ID, 10)]; ok {
			return access
		}
		if access, ok := p.Access.Groups["all"]; ok {
			return access
		}
	}
	return LibraryAccess{}
}

// RequestScope carries the request-scoped library, principal and API version through every call.
type RequestScope struct {
	Library    Library
	Principal  *Principal
	APIVersion int
}

// DefaultAPIVersion is used when the caller does not send one.
const DefaultAPIVersion = 3

// CanRead reports library read access.
func (s RequestScope) CanRead() bool { return s.Principal.AccessFor(s.Library).Library }

// CanWrite reports library write access.
func (s RequestScope) CanWrite() bool {
	access := s.Principal.AccessFor(s.Library)
	return access.Library && access.Write
}

// CanReadNotes reports whether notes are visible. Group libraries expose notes to any reader.
func (s RequestScope) CanReadNotes() bool {
	access := s.Principal.AccessFor(s.Library)
	if s.Library.Type == LibraryGroup {
		return access.Library
	}
	return access.Library && access.Notes
}

// UserID returns the principal's user ID, or zero.
func (s RequestScope) UserID() int64 {
	if s.Principal == nil {
		return 0
	}
	return s.Principal.UserID
}

// LoginSessionStatus enumerates the login-session states.
type LoginSessionStatus string

const (
	LoginSessionPending   LoginSessionStatus = "pending"
	LoginSessionCompleted LoginSessionStatus = "completed"
	LoginSessionCancelled LoginSessionStatus = "cancelled"
)

// LoginSession tracks an unauthenticated client waiting for a key to be issued.
type LoginSession struct {
	Token     string             `json:"token"`
	Status    LoginSessionStatus `json:"status"`
	APIKey    string             `json:"apiKey,omitempty"`
	UserID    int64              `json:"userID,omitempty"`
	Username  string             `json:"username,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

// Expired reports whether the session is past its deadline.
func (s *LoginSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
