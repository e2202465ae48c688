package models

import (
	"fmt"
	"strconv"
)

// LibraryType distinguishes user and group libraries.
type LibraryType string

const (
	LibraryUser  LibraryType = "user"
	LibraryGroup LibraryType = "group"
)

// Library identifies a namespace owning a version clock and a set of data objects.
type Library struct {
	Type LibraryType `json:"type"`
	ID   int64       `json:"id"`
}

// UserLibrary returns the personal library of a user.
func UserLibrary(id int64) Library { return Library{Type: LibraryUser, ID: id} }

// GroupLibrary returns a group library.
func GroupLibrary(id int64) Library { return Library{Type: LibraryGroup, ID: id} }

// String returns the compact form used in storage and cache keys ("u1", "g5").
func (l Library) String() string {
	if l.Type == LibraryGroup {
		return "g" + strconv.FormatInt(l.ID, 10)
	}
	return "u" + strconv.FormatInt(l.ID, 10)
}

// Path returns the URL prefix for the library ("users/1", "groups/5").
func (l Library) Path() string {
	return fmt.Sprintf("%ss/%d", l.Type, l.ID)
}

// Valid reports whether the library reference is well formed.
func (l Library) Valid() bool {
	return (l.Type == LibraryUser || l.Type == LibraryGroup) && l.ID > 0
}

// ParseLibrary reverses String.
func ParseLibrary(raw string) (Library, error) {
	if len(raw) < 2 {
		return Library{}, fmt.Errorf("invalid library %q", raw)
	}
	id, err := strconv.ParseInt(raw[1:], 10, 64)
	if err != nil || id <= 0 {
		return Library{}, fmt.Errorf("invalid library %q", raw)
	}
	switch raw[0] {
	case 'u':
		return UserLibrary(id), nil
	case 'g':
		return GroupLibrary(id), nil
	}
	return Library{}, fmt.Errorf("invalid library %q", raw)
}
