package dto

import (
	"strings"

	"github.com/noah-isme/libsync-api/internal/models"
)

// ListQuery holds the query-string parameters shared by list endpoints.
type ListQuery struct {
	Format         string   `form:"format"`
	Include        string   `form:"include"`
	Content        string   `form:"content"`
	Style          string   `form:"style"`
	Locale         string   `form:"locale"`
	Since          *int64   `form:"since" validate:"omitempty,min=0"`
	Newer          *int64   `form:"newer" validate:"omitempty,min=0"`
	Start          int      `form:"start" validate:"min=0"`
	Limit          *int     `form:"limit" validate:"omitempty,min=1"`
	Sort           string   `form:"sort"`
	Direction      string   `form:"direction" validate:"omitempty,oneof=asc desc"`
	Order          string   `form:"order"`
	Tag            []string `form:"tag"`
	ItemType       string   `form:"itemType"`
	Q              string   `form:"q"`
	QMode          string   `form:"qmode" validate:"omitempty,oneof=titleCreatorYear everything"`
	IncludeTrashed bool     `form:"includeTrashed"`
	ItemKey        string   `form:"itemKey"`
	CollectionKey  string   `form:"collectionKey"`
	SearchKey      string   `form:"searchKey"`
}

// SinceVersion merges the since/newer synonyms.
func (q ListQuery) SinceVersion() int64 {
	var since int64
	if q.Since != nil {
		since = *q.Since
	}
	if q.Newer != nil && *q.Newer > since {
		since = *q.Newer
	}
	return since
}

// KeysFor returns the comma-separated key restriction for an object type.
func (q ListQuery) KeysFor(t models.ObjectType) []string {
	var raw string
	switch t {
	case models.ObjectItem:
		raw = q.ItemKey
	case models.ObjectCollection:
		raw = q.CollectionKey
	case models.ObjectSearch:
		raw = q.SearchKey
	}
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Includes returns the requested include set, defaulting to data.
func (q ListQuery) Includes() []string {
	raw := q.Include
	if raw == "" {
		raw = q.Content
	}
	if raw == "" {
		return []string{IncludeData}
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ListScope narrows a listing to a route-defined subset of a library.
type ListScope struct {
	Type models.ObjectType
	// Top restricts items to top-level and collections to root collections.
	Top bool
	// Trash lists only trashed objects.
	Trash bool
	// ParentKey lists children of an item, or subcollections of a collection.
	ParentKey string
	// CollectionKey lists items contained in a collection.
	CollectionKey string
}
