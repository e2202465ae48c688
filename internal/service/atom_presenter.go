package service

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
)

const (
	atomNamespace = "http://www.w3.org/2005/Atom"
	zapiNamespace = "http://zotero.org/ns/api"
)

// Feed renders objs as an Atom feed whose id and self link are selfURL.
func (p *ObjectPresenter) Feed(title, selfURL string, objs []*models.Object, meta map[string]map[string]interface{}, total int) (dto.AtomFeed, error) {
	feed := dto.AtomFeed{
		Xmlns:        atomNamespace,
		XmlnsZAPI:    zapiNamespace,
		Title:        title,
		ID:           selfURL,
		Links:        []dto.AtomLink{{Rel: "self", Type: "application/atom+xml", Href: selfURL}},
		TotalResults: total,
		Entries:      make([]dto.AtomEntry, 0, len(objs)),
	}
	var updated time.Time
	for _, obj := range objs {
		entry, err := p.Entry(obj, meta[obj.Key])
		if err != nil {
			return dto.AtomFeed{}, err
		}
		if obj.DateModified.After(updated) {
			updated = obj.DateModified
		}
		feed.Entries = append(feed.Entries, entry)
	}
	if updated.IsZero() {
		updated = time.Now()
	}
	feed.Updated = updated.UTC().Format(wireTimeLayout)
	return feed, nil
}

// Entry renders one object as an Atom entry carrying its JSON data as content.
func (p *ObjectPresenter) Entry(obj *models.Object, meta map[string]interface{}) (dto.AtomEntry, error) {
	body, err := json.Marshal(ObjectData(obj))
	if err != nil {
		return dto.AtomEntry{}, err
	}
	links := p.links(obj)
	entry := dto.AtomEntry{
		Title:     ObjectTitle(obj),
		ID:        links["self"].Href,
		Published: formatWireTime(obj.DateAdded),
		Updated:   formatWireTime(obj.DateModified),
		Key:       obj.Key,
		Version:   obj.Version,
		ItemType:  obj.Data.ItemType,
		Content:   dto.AtomContent{Type: "application/json", Body: string(body)},
	}
	for _, rel := range []string{"self", "alternate", "up"} {
		if link, ok := links[rel]; ok {
			entry.Links = append(entry.Links, dto.AtomLink{Rel: rel, Type: link.Type, Href: link.Href})
		}
	}
	if n, ok := meta["numChildren"].(int); ok {
		entry.Children = &n
	}
	return entry, nil
}

// ObjectTitle returns the display title of an object.
func ObjectTitle(obj *models.Object) string {
	switch obj.Type {
	case models.ObjectCollection, models.ObjectSearch:
		return obj.Data.Name
	}
	switch obj.Data.ItemType {
	case models.ItemTypeNote:
		return truncateRunes(noteTitle(obj.Field("note")), 80)
	case models.ItemTypeAnnotation:
		return truncateRunes(obj.Field("annotationText"), 80)
	}
	if title := obj.Field("title"); title != "" {
		return title
	}
	return "Untitled"
}
