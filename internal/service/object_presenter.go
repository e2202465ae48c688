package service

import (
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
)

// Timestamp layout used for dateAdded/dateModified on the wire.
const wireTimeLayout = "2006-01-02T15:04:05Z"

// ObjectPresenter renders stored objects as API views.
type ObjectPresenter struct {
	apiBase string
	webBase string
}

// NewObjectPresenter builds a presenter whose self links point at apiBase and alternate links at webBase.
func NewObjectPresenter(apiBase, webBase string) *ObjectPresenter {
	return &ObjectPresenter{apiBase: strings.TrimRight(apiBase, "/"), webBase: strings.TrimRight(webBase, "/")}
}

// View renders obj. meta may be nil.
func (p *ObjectPresenter) View(obj *models.Object, meta map[string]interface{}, includeData bool) dto.ObjectView {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	view := dto.ObjectView{
		Key:     obj.Key,
		Version: obj.Version,
		Library: p.libraryView(obj.Library),
		Links:   p.links(obj),
		Meta:    meta,
	}
	if includeData {
		view.Data = ObjectData(obj)
	}
	return view
}

func (p *ObjectPresenter) libraryView(lib models.Library) *dto.LibraryView {
	return &dto.LibraryView{
		Type: string(lib.Type),
		ID:   lib.ID,
		Name: lib.String(),
		Links: map[string]dto.Link{
			"alternate": {Href: p.webBase + "/" + lib.Path(), Type: "text/html"},
		},
	}
}

func (p *ObjectPresenter) links(obj *models.Object) map[string]dto.Link {
	path := "/" + obj.Library.Path() + "/" + obj.Type.Plural() + "/" + obj.Key
	links := map[string]dto.Link{
		"self":      {Href: p.apiBase + path, Type: "application/json"},
		"alternate": {Href: p.webBase + path, Type: "text/html"},
	}
	if obj.ParentKey != "" {
		links["up"] = dto.Link{
			Href: p.apiBase + "/" + obj.Library.Path() + "/" + obj.Type.Plural() + "/" + obj.ParentKey,
			Type: "application/json",
		}
	}
	return links
}

// ObjectData builds the data block of an object.
// Trashed items report deleted as 1 while collections and searches report true; clients depend on both.
func ObjectData(obj *models.Object) map[string]interface{} {
	data := map[string]interface{}{
		"key":     obj.Key,
		"version": obj.Version,
	}
	relations := map[string]interface{}{}
	if len(obj.Data.Relations) > 0 {
		relations = relationsData(obj.Data.Relations)
	}

	switch obj.Type {
	case models.ObjectCollection:
		data["name"] = obj.Data.Name
		data["parentCollection"] = parentData(obj.ParentKey)
		data["relations"] = relations
		if obj.Deleted {
			data["deleted"] = true
		}
	case models.ObjectSearch:
		data["name"] = obj.Data.Name
		conditions := obj.Data.Conditions
		if conditions == nil {
			conditions = []models.SearchCondition{}
		}
		data["conditions"] = conditions
		if obj.Deleted {
			data["deleted"] = true
		}
	case models.ObjectItem:
		itemData(obj, data, relations)
	}
	return data
}

func itemData(obj *models.Object, data map[string]interface{}, relations map[string]interface{}) {
	itemType := obj.Data.ItemType
	data["itemType"] = itemType
	if obj.ParentKey != "" {
		data["parentItem"] = obj.ParentKey
	}
	for field, value := range obj.Data.Fields {
		data[field] = value
	}
	switch itemType {
	case models.ItemTypeNote:
		if _, ok := data["note"]; !ok {
			data["note"] = ""
		}
	case models.ItemTypeAnnotation:
		if _, ok := data["annotationColor"]; !ok {
			data["annotationColor"] = models.DefaultAnnotationColor
		}
	case models.ItemTypeAttachment:
	default:
		// Regular items expose every field of their type, empty when unset.
		for _, field := range schemaFields(itemType) {
			if _, ok := data[field]; !ok {
				data[field] = ""
			}
		}
		creators := obj.Data.Creators
		if creators == nil {
			creators = []models.Creator{}
		}
		data["creators"] = creators
	}

	tags := obj.Data.Tags
	if tags == nil {
		tags = []models.Tag{}
	}
	data["tags"] = tags
	if obj.ParentKey == "" {
		collections := obj.Data.Collections
		if collections == nil {
			collections = []string{}
		}
		data["collections"] = collections
	}
	data["relations"] = relations
	if obj.Deleted {
		data["deleted"] = 1
	}
	data["dateAdded"] = formatWireTime(obj.DateAdded)
	data["dateModified"] = formatWireTime(obj.DateModified)
}

func schemaFields(itemType string) []string {
	var fields []string
	for _, field := range knownFieldOrder {
		if models.ValidFieldForType(field, itemType) {
			fields = append(fields, field)
		}
	}
	return fields
}

var knownFieldOrder = []string{
	"title", "abstractNote", "publicationTitle", "bookTitle", "proceedingsTitle", "websiteTitle",
	"volume", "issue", "pages", "date", "series", "seriesTitle", "seriesText", "publisher", "place",
	"edition", "language", "DOI", "ISBN", "ISSN", "shortTitle", "url", "accessDate", "archive",
	"archiveLocation", "libraryCatalog", "callNumber", "rights", "extra",
}

func relationsData(relations models.Relations) map[string]interface{} {
	out := make(map[string]interface{}, len(relations))
	predicates := make([]string, 0, len(relations))
	for predicate := range relations {
		predicates = append(predicates, predicate)
	}
	sort.Strings(predicates)
	for _, predicate := range predicates {
		values := relations[predicate]
		if len(values) == 1 {
			out[predicate] = values[0]
			continue
		}
		out[predicate] = append([]string(nil), values...)
	}
	return out
}

func parentData(key string) interface{} {
	if key == "" {
		return false
	}
	return key
}

func formatWireTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(wireTimeLayout)
}

// creatorSummary renders "Smith", "Smith and Jones" or "Smith et al.".
func creatorSummary(obj *models.Object) string {
	primary := models.PrimaryCreatorType(obj.Data.ItemType)
	var names []string
	for _, c := range obj.Data.Creators {
		if c.CreatorType != primary {
			continue
		}
		name := c.LastName
		if c.Name != "" {
			name = c.Name
		}
		names = append(names, name)
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return names[0] + " et al."
	}
}

// parsedDate extracts a YYYY[-MM[-DD]] prefix from the item's date field.
func parsedDate(obj *models.Object) string {
	date := strings.TrimSpace(obj.Field("date"))
	if date == "" {
		return ""
	}
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if len(date) >= len(layout) {
			if _, err := time.Parse(layout, date[:len(layout)]); err == nil {
				return date[:len(layout)]
			}
		}
	}
	for _, token := range strings.FieldsFunc(date, func(r rune) bool { return r < '0' || r > '9' }) {
		if len(token) == 4 {
			return token
		}
	}
	return ""
}
