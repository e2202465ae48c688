package models

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Setting is a named library-scoped JSON value carrying a version stamp.
type Setting struct {
	Name    string          `db:"name" json:"-"`
	Value   json.RawMessage `db:"value" json:"value"`
	Version int64           `db:"version" json:"version"`
}

var (
	lastPageIndexPattern = regexp.MustCompile(`^lastPageIndex_(u|g[0-9]+)_([23456789ABCDEFGHIJKLMNPQRSTUVWXYZ]{8})$`)
	lastReadPattern      = regexp.MustCompile(`^lastRead_(g[0-9]+)_([23456789ABCDEFGHIJKLMNPQRSTUVWXYZ]{8})$`)
)

// Setting names with fixed spellings.
const (
	SettingTagColors = "tagColors"
	SettingFeeds     = "feeds"
)

// ValidSettingName reports whether name is an accepted setting for lib.
func ValidSettingName(name string, lib Library) bool {
	switch name {
	case SettingTagColors:
		return true
	case SettingFeeds:
		return lib.Type == LibraryUser
	}
	if lastPageIndexPattern.MatchString(name) || lastReadPattern.MatchString(name) {
		return lib.Type == LibraryUser
	}
	return false
}

// LastPageIndexTarget parses a lastPageIndex setting name into its library scope and item key.
// scope is "u" for the owning user's library or "g<id>" for a group library.
func LastPageIndexTarget(name string) (scope, itemKey string, ok bool) {
	m := lastPageIndexPattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// LastPageIndexName builds the per-attachment page setting name.
func LastPageIndexName(scope, itemKey string) string {
	return "lastPageIndex_" + scope + "_" + itemKey
}

// DeletionKind identifies a deletion-log category.
type DeletionKind string

const (
	DeletedCollection DeletionKind = "collections"
	DeletedItem       DeletionKind = "items"
	DeletedSearch     DeletionKind = "searches"
	DeletedTag        DeletionKind = "tags"
	DeletedSetting    DeletionKind = "settings"
)

// DeletionKinds lists the categories reported by the deletion log.
var DeletionKinds = []DeletionKind{DeletedCollection, DeletedSearch, DeletedItem, DeletedTag, DeletedSetting}

// DeletionKindFor maps an object type to its deletion-log category.
func DeletionKindFor(t ObjectType) DeletionKind {
	return DeletionKind(t.Plural())
}

// Deletion records that a key was removed at a library version.
type Deletion struct {
	Kind    DeletionKind `db:"kind"`
	Key     string       `db:"object_key"`
	Version int64        `db:"version"`
}

// RelationEdge is one stored forward relation, indexed by its object URI for reverse lookups.
type RelationEdge struct {
	OwnerType ObjectType `db:"owner_type"`
	OwnerKey  string     `db:"owner_key"`
	Predicate string     `db:"predicate"`
	Object    string     `db:"object"`
}

// SymmetricPredicates are mirrored onto the related object at read time.
var SymmetricPredicates = map[string]struct{}{
	"dc:relation": {},
}

// IsSymmetric reports whether predicate is mirrored.
func IsSymmetric(predicate string) bool {
	_, ok := SymmetricPredicates[predicate]
	return ok
}

// NormalizeTag trims surrounding whitespace from a tag name.
func NormalizeTag(tag string) string {
	return strings.TrimSpace(tag)
}
