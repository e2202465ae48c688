package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ObjectType enumerates the versioned data object kinds.
type ObjectType string

const (
	ObjectCollection ObjectType = "collection"
	ObjectItem       ObjectType = "item"
	ObjectSearch     ObjectType = "search"
)

// ObjectTypes lists all data object kinds in dependency order.
var ObjectTypes = []ObjectType{ObjectCollection, ObjectSearch, ObjectItem}

// Valid reports whether t is a known object type.
func (t ObjectType) Valid() bool {
	switch t {
	case ObjectCollection, ObjectItem, ObjectSearch:
		return true
	}
	return false
}

// Plural returns the URL segment and response key for the type.
func (t ObjectType) Plural() string {
	switch t {
	case ObjectSearch:
		return "searches"
	default:
		return string(t) + "s"
	}
}

// Title returns the capitalised name used in error messages.
func (t ObjectType) Title() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// KeyParam returns the multi-delete query parameter ("itemKey").
func (t ObjectType) KeyParam() string {
	return string(t) + "Key"
}

// ParentField returns the payload property holding the parent reference.
func (t ObjectType) ParentField() string {
	switch t {
	case ObjectItem:
		return "parentItem"
	case ObjectCollection:
		return "parentCollection"
	}
	return ""
}

// Object is a stored collection, item or search.
type Object struct {
	// ID is the insertion sequence, used as a stable sort tie-break.
	ID           int64
	Library      Library
	Type         ObjectType
	Key          string
	Version      int64
	ParentKey    string
	Deleted      bool
	DateAdded    time.Time
	DateModified time.Time
	Data         ObjectData
}

// ObjectData carries the type-specific payload.
type ObjectData struct {
	Name        string            `json:"name,omitempty"`
	Conditions  []SearchCondition `json:"conditions,omitempty"`
	ItemType    string            `json:"itemType,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	Creators    []Creator         `json:"creators,omitempty"`
	Tags        []Tag             `json:"tags,omitempty"`
	Collections []string          `json:"collections,omitempty"`
	Relations   Relations         `json:"relations,omitempty"`
}

// SearchCondition is one saved-search clause.
type SearchCondition struct {
	Condition string `json:"condition" validate:"required"`
	Operator  string `json:"operator" validate:"required"`
	Value     string `json:"value"`
}

// Creator is an item contributor, either split (first/last) or single-field.
type Creator struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
}

// SortName returns the string used for creator ordering.
func (c Creator) SortName() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.TrimSpace(c.LastName + " " + c.FirstName)
}

// Tag is an item tag; Type 1 marks an automatic tag.
type Tag struct {
	Tag  string `json:"tag"`
	Type int    `json:"type"`
}

// MarshalJSON omits type for manual tags.
func (t Tag) MarshalJSON() ([]byte, error) {
	if t.Type == 0 {
		return json.Marshal(struct {
			Tag string `json:"tag"`
		}{t.Tag})
	}
	return json.Marshal(struct {
		Tag  string `json:"tag"`
		Type int    `json:"type"`
	}{t.Tag, t.Type})
}

// Relations maps a predicate to its object URIs.
type Relations map[string][]string

// MarshalJSON renders single-valued predicates as a bare string.
func (r Relations) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r))
	for predicate, values := range r {
		if len(values) == 1 {
			out[predicate] = values[0]
			continue
		}
		out[predicate] = values
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts either a string or an array for each predicate.
func (r *Relations) UnmarshalJSON(raw []byte) error {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	parsed, err := ParseRelations(generic)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRelations converts a decoded JSON object into normalised relations.
func ParseRelations(generic map[string]interface{}) (Relations, error) {
	out := Relations{}
	for predicate, value := range generic {
		switch v := value.(type) {
		case string:
			out.Add(predicate, v)
		case []interface{}:
			for _, entry := range v {
				s, ok := entry.(string)
				if !ok {
					return nil, fmt.Errorf("invalid relation value for %s", predicate)
				}
				out.Add(predicate, s)
			}
		default:
			return nil, fmt.Errorf("invalid relation value for %s", predicate)
		}
	}
	return out, nil
}

// Add inserts uri under predicate keeping values sorted and unique.
func (r Relations) Add(predicate, uri string) {
	if uri == "" {
		return
	}
	values := r[predicate]
	idx := sort.SearchStrings(values, uri)
	if idx < len(values) && values[idx] == uri {
		return
	}
	values = append(values, "")
	copy(values[idx+1:], values[idx:])
	values[idx] = uri
	r[predicate] = values
}

// Remove drops uri from predicate and reports whether it was present.
func (r Relations) Remove(predicate, uri string) bool {
	values := r[predicate]
	for i, v := range values {
		if v == uri {
			values = append(values[:i:i], values[i+1:]...)
			if len(values) == 0 {
				delete(r, predicate)
			} else {
				r[predicate] = values
			}
			return true
		}
	}
	return false
}

// Has reports whether predicate points at uri.
func (r Relations) Has(predicate, uri string) bool {
	for _, v := range r[predicate] {
		if v == uri {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (r Relations) Clone() Relations {
	if r == nil {
		return nil
	}
	out := make(Relations, len(r))
	for k, v := range r {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Equal compares relation sets.
func (r Relations) Equal(other Relations) bool {
	if len(r) != len(other) {
		return false
	}
	for k, v := range r {
		o, ok := other[k]
		if !ok || len(o) != len(v) {
			return false
		}
		for i := range v {
			if v[i] != o[i] {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy of the object.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Data = o.Data.Clone()
	return &clone
}

// Clone returns a deep copy of the payload.
func (d ObjectData) Clone() ObjectData {
	out := d
	out.Conditions = append([]SearchCondition(nil), d.Conditions...)
	out.Creators = append([]Creator(nil), d.Creators...)
	out.Tags = append([]Tag(nil), d.Tags...)
	out.Collections = append([]string(nil), d.Collections...)
	out.Relations = d.Relations.Clone()
	if d.Fields != nil {
		out.Fields = make(map[string]string, len(d.Fields))
		for k, v := range d.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Field returns an item field value.
func (o *Object) Field(name string) string {
	if o == nil || o.Data.Fields == nil {
		return ""
	}
	return o.Data.Fields[name]
}

// IsNoteOrAttachment reports whether the item is a note or attachment.
func (o *Object) IsNoteOrAttachment() bool {
	return o != nil && o.Type == ObjectItem && (o.Data.ItemType == ItemTypeNote || o.Data.ItemType == ItemTypeAttachment)
}

// IsEmbeddedImage reports whether the item is an embedded-image attachment.
func (o *Object) IsEmbeddedImage() bool {
	return o != nil && o.Data.ItemType == ItemTypeAttachment && o.Field("linkMode") == LinkModeEmbeddedImage
}

// IsFileAttachment reports whether annotations can hang off the item.
func (o *Object) IsFileAttachment() bool {
	if o == nil || o.Data.ItemType != ItemTypeAttachment {
		return false
	}
	switch o.Field("linkMode") {
	case LinkModeImportedFile, LinkModeImportedURL, LinkModeLinkedFile:
		return true
	}
	return false
}

// URI returns the stable identifier used in relations.
func (o *Object) URI(base string) string {
	return ObjectURI(base, o.Library, o.Type, o.Key)
}

// ObjectURI builds the URI identifying an object in relations.
func ObjectURI(base string, lib Library, t ObjectType, key string) string {
	return fmt.Sprintf("%s/%s/%s/%s", strings.TrimRight(base, "/"), lib.Path(), t.Plural(), key)
}

// Equal reports whether two objects carry identical user-visible state, ignoring versions and dates.
func (o *Object) Equal(other *Object) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.Type != other.Type || o.Key != other.Key || o.ParentKey != other.ParentKey || o.Deleted != other.Deleted {
		return false
	}
	return o.Data.Equal(other.Data)
}

// Equal compares payloads; tag order and collection order are not significant.
func (d ObjectData) Equal(other ObjectData) bool {
	if d.Name != other.Name || d.ItemType != other.ItemType {
		return false
	}
	if len(d.Conditions) != len(other.Conditions) || len(d.Creators) != len(other.Creators) {
		return false
	}
	for i := range d.Conditions {
		if d.Conditions[i] != other.Conditions[i] {
			return false
		}
	}
	for i := range d.Creators {
		if d.Creators[i] != other.Creators[i] {
			return false
		}
	}
	if !stringMapEqual(d.Fields, other.Fields) {
		return false
	}
	if !sortedEqual(tagStrings(d.Tags), tagStrings(other.Tags)) {
		return false
	}
	if !sortedEqual(d.Collections, other.Collections) {
		return false
	}
	return d.Relations.Equal(other.Relations)
}

func stringMapEqual(a, b map[string]string) bool {
	count := 0
	for k, v := range a {
		if v == "" {
			continue
		}
		count++
		if b[k] != v {
			return false
		}
	}
	for _, v := range b {
		if v != "" {
			count--
		}
	}
	return count == 0
}

func tagStrings(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = fmt.Sprintf("%d\x00%s", t.Type, t.Tag)
	}
	return out
}

func sortedEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
