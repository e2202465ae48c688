package service

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// objectPayload is one decoded write element plus what the caller explicitly sent.
type objectPayload struct {
	raw          map[string]interface{}
	key          string
	version      *int64
	dateAdded    *time.Time
	dateModified *time.Time
	present      map[string]bool
}

// Properties accepted on any write but never stored.
var ignoredProperties = map[string]struct{}{
	"links": {}, "meta": {}, "library": {}, "md5": {}, "mtime": {}, "inPublications": {},
}

func validationError(format string, args ...interface{}) *appErrors.Error {
	return appErrors.Clonef(appErrors.ErrValidation, format, args...)
}

func tooLargeError(format string, args ...interface{}) *appErrors.Error {
	return appErrors.Clonef(appErrors.ErrPayloadTooLarge, format, args...)
}

func decodeJSON(body []byte, dest interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeBatch splits a batch body into elements. Anything but an array rejects the whole request.
func decodeBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, validationError("Uploaded data must be a JSON array")
	}
	if trimmed[0] != '[' {
		var probe interface{}
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, validationError("Invalid JSON")
		}
		return nil, validationError("Uploaded data must be a JSON array")
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, validationError("Invalid JSON")
	}
	return elements, nil
}

// decodeElement parses one element into an object payload.
func decodeElement(objectType models.ObjectType, index int, raw json.RawMessage) (*objectPayload, error) {
	var generic interface{}
	if err := decodeJSON(raw, &generic); err != nil {
		return nil, validationError("Invalid value for index %d in uploaded data; expected JSON %s object", index, objectType)
	}
	obj, ok := generic.(map[string]interface{})
	if !ok {
		return nil, validationError("Invalid value for index %d in uploaded data; expected JSON %s object", index, objectType)
	}
	return newObjectPayload(obj)
}

// decodeSingle parses the body of a single-object PUT or PATCH.
func decodeSingle(objectType models.ObjectType, body []byte) (*objectPayload, error) {
	var generic interface{}
	if err := decodeJSON(body, &generic); err != nil {
		return nil, validationError("Invalid JSON")
	}
	obj, ok := generic.(map[string]interface{})
	if !ok {
		return nil, validationError("Uploaded data must be a JSON %s object", objectType)
	}
	return newObjectPayload(obj)
}

func newObjectPayload(obj map[string]interface{}) (*objectPayload, error) {
	// A previously fetched object may be posted back whole; its data block carries the fields.
	if inner, ok := obj["data"].(map[string]interface{}); ok {
		merged := make(map[string]interface{}, len(inner)+2)
		for k, v := range inner {
			merged[k] = v
		}
		for _, k := range []string{"key", "version"} {
			if _, has := merged[k]; !has {
				if v, ok := obj[k]; ok {
					merged[k] = v
				}
			}
		}
		obj = merged
	}

	p := &objectPayload{raw: obj, present: make(map[string]bool, len(obj))}
	for k := range obj {
		p.present[k] = true
	}
	if v, ok := obj["key"]; ok {
		key, ok := v.(string)
		if !ok || !models.ValidKey(key) {
			return nil, validationError("'key' must be an 8-character string")
		}
		p.key = key
	}
	if v, ok := obj["version"]; ok {
		version, err := parseVersion(v)
		if err != nil {
			return nil, err
		}
		p.version = &version
	}
	var err error
	if p.dateAdded, err = parseDateProperty(obj, "dateAdded"); err != nil {
		return nil, err
	}
	if p.dateModified, err = parseDateProperty(obj, "dateModified"); err != nil {
		return nil, err
	}
	return p, nil
}

func parseVersion(v interface{}) (int64, error) {
	if n, ok := v.(json.Number); ok {
		version, err := n.Int64()
		if err == nil && version >= 0 {
			return version, nil
		}
	}
	return 0, validationError("'version' must be a non-negative integer")
}

func parseDateProperty(obj map[string]interface{}, name string) (*time.Time, error) {
	v, ok := obj[name]
	if !ok {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, validationError("'%s' must be in ISO 8601 or UTC 'YYYY-MM-DD[ hh:mm:ss]' format", name)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			ts = ts.UTC().Truncate(time.Second)
			return &ts, nil
		}
	}
	return nil, validationError("'%s' must be in ISO 8601 or UTC 'YYYY-MM-DD[ hh:mm:ss]' format", name)
}

func stringProperty(obj map[string]interface{}, name string) (string, error) {
	switch v := obj[name].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", validationError("'%s' must be a string", name)
	}
}

// parentProperty reads parentItem/parentCollection where false, null and "" all clear the parent.
func parentProperty(obj map[string]interface{}, name string) (string, error) {
	switch v := obj[name].(type) {
	case nil:
		return "", nil
	case bool:
		if v {
			return "", validationError("'%s' must be a key or false", name)
		}
		return "", nil
	case string:
		if v == "" {
			return "", nil
		}
		if !models.ValidKey(v) {
			return "", validationError("'%s' must be a valid key", name)
		}
		return v, nil
	default:
		return "", validationError("'%s' must be a key or false", name)
	}
}

func boolProperty(obj map[string]interface{}, name string) (bool, error) {
	switch v := obj[name].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err == nil && (n == 0 || n == 1) {
			return n == 1, nil
		}
	}
	return false, validationError("'%s' must be a boolean", name)
}

// applyPayload writes the payload onto target. With replace, properties the caller omitted are reset.
func applyPayload(target *models.Object, p *objectPayload, replace bool) error {
	if replace {
		target.Data = models.ObjectData{}
		target.ParentKey = ""
		target.Deleted = false
	}

	names := make([]string, 0, len(p.raw))
	for k := range p.raw {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := applyProperty(target, p, name); err != nil {
			return err
		}
	}
	return nil
}

func applyProperty(target *models.Object, p *objectPayload, name string) error {
	obj := p.raw
	switch name {
	case "key", "version", "dateAdded", "dateModified":
		return nil
	case "deleted":
		deleted, err := boolProperty(obj, name)
		if err != nil {
			return err
		}
		target.Deleted = deleted
		return nil
	case "relations":
		return applyRelations(target, obj[name])
	}
	if _, ok := ignoredProperties[name]; ok {
		return nil
	}

	switch target.Type {
	case models.ObjectCollection:
		return applyCollectionProperty(target, obj, name)
	case models.ObjectSearch:
		return applySearchProperty(target, obj, name)
	default:
		return applyItemProperty(target, obj, name)
	}
}

func applyRelations(target *models.Object, value interface{}) error {
	switch v := value.(type) {
	case nil:
		target.Data.Relations = nil
		return nil
	case map[string]interface{}:
		relations, err := models.ParseRelations(v)
		if err != nil {
			return validationError("Invalid relations: %s", err)
		}
		if len(relations) == 0 {
			relations = nil
		}
		target.Data.Relations = relations
		return nil
	case []interface{}:
		if len(v) == 0 {
			target.Data.Relations = nil
			return nil
		}
	}
	return validationError("'relations' property must be an object")
}

func applyCollectionProperty(target *models.Object, obj map[string]interface{}, name string) error {
	switch name {
	case "name":
		value, err := stringProperty(obj, name)
		if err != nil {
			return err
		}
		target.Data.Name = value
	case "parentCollection":
		parent, err := parentProperty(obj, name)
		if err != nil {
			return err
		}
		target.ParentKey = parent
	default:
		return validationError("Invalid property '%s'", name)
	}
	return nil
}

func applySearchProperty(target *models.Object, obj map[string]interface{}, name string) error {
	switch name {
	case "name":
		value, err := stringProperty(obj, name)
		if err != nil {
			return err
		}
		target.Data.Name = value
	case "conditions":
		conditions, err := parseConditions(obj[name])
		if err != nil {
			return err
		}
		target.Data.Conditions = conditions
	default:
		return validationError("Invalid property '%s'", name)
	}
	return nil
}

func parseConditions(value interface{}) ([]models.SearchCondition, error) {
	list, ok := value.([]interface{})
	if !ok {
		return nil, validationError("'conditions' must be an array")
	}
	out := make([]models.SearchCondition, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, validationError("Search condition must be an object")
		}
		var cond models.SearchCondition
		var err error
		if cond.Condition, err = stringProperty(m, "condition"); err != nil {
			return nil, err
		}
		if cond.Operator, err = stringProperty(m, "operator"); err != nil {
			return nil, err
		}
		if cond.Value, err = stringProperty(m, "value"); err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func applyItemProperty(target *models.Object, obj map[string]interface{}, name string) error {
	switch name {
	case "itemType":
		value, err := stringProperty(obj, name)
		if err != nil {
			return err
		}
		if !models.ValidItemType(value) {
			return validationError("'%s' is not a valid itemType", value)
		}
		target.Data.ItemType = value
	case "parentItem":
		parent, err := parentProperty(obj, name)
		if err != nil {
			return err
		}
		target.ParentKey = parent
	case "creators":
		creators, err := parseCreators(obj[name])
		if err != nil {
			return err
		}
		target.Data.Creators = creators
	case "tags":
		tags, err := parseTags(obj[name])
		if err != nil {
			return err
		}
		target.Data.Tags = tags
	case "collections":
		collections, err := parseCollections(obj[name])
		if err != nil {
			return err
		}
		target.Data.Collections = collections
	default:
		if !models.KnownField(name) {
			return validationError("Invalid property '%s'", name)
		}
		value, err := fieldValue(obj[name], name)
		if err != nil {
			return err
		}
		if target.Data.Fields == nil {
			target.Data.Fields = map[string]string{}
		}
		if value == "" {
			delete(target.Data.Fields, name)
		} else {
			target.Data.Fields[name] = value
		}
	}
	return nil
}

func fieldValue(value interface{}, name string) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case map[string]interface{}, []interface{}:
		// annotationPosition is accepted as an object and stored as its JSON text.
		if name == "annotationPosition" {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", validationError("Invalid '%s'", name)
			}
			return string(encoded), nil
		}
	}
	return "", validationError("'%s' value must be a string", name)
}

func parseCreators(value interface{}) ([]models.Creator, error) {
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]interface{})
	if !ok {
		return nil, validationError("'creators' property must be an array")
	}
	out := make([]models.Creator, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, validationError("Creator must be an object")
		}
		var c models.Creator
		var err error
		if c.CreatorType, err = stringProperty(m, "creatorType"); err != nil {
			return nil, err
		}
		if c.FirstName, err = stringProperty(m, "firstName"); err != nil {
			return nil, err
		}
		if c.LastName, err = stringProperty(m, "lastName"); err != nil {
			return nil, err
		}
		if c.Name, err = stringProperty(m, "name"); err != nil {
			return nil, err
		}
		c.FirstName = strings.TrimSpace(c.FirstName)
		c.LastName = strings.TrimSpace(c.LastName)
		c.Name = strings.TrimSpace(c.Name)
		if c.Name != "" && (c.FirstName != "" || c.LastName != "") {
			return nil, validationError("Only one of 'firstName'/'lastName' and 'name' can be provided")
		}
		if c.Name == "" && c.FirstName == "" && c.LastName == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// parseTags drops blank tags and rejects malformed or oversized ones.
func parseTags(value interface{}) ([]models.Tag, error) {
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]interface{})
	if !ok {
		return nil, validationError("'tags' property must be an array")
	}
	seen := make(map[models.Tag]struct{}, len(list))
	out := make([]models.Tag, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, validationError("Tag must be an object")
		}
		name, ok := m["tag"].(string)
		if !ok {
			if n, isNumber := m["tag"].(json.Number); isNumber {
				name = n.String()
			} else {
				return nil, validationError("Tag must be an object")
			}
		}
		name = models.NormalizeTag(name)
		if name == "" {
			continue
		}
		if len([]rune(name)) > models.MaxTagLength {
			return nil, appErrors.WithData(
				tooLargeError("Tag '%s…' too long", truncateRunes(name, 50)),
				map[string]interface{}{"tag": name},
			)
		}
		tag := models.Tag{Tag: name}
		if raw, has := m["type"]; has && raw != nil {
			n, isNumber := raw.(json.Number)
			t, err := n.Int64()
			if !isNumber || err != nil || (t != 0 && t != 1) {
				return nil, validationError("Invalid tag type '%v'", raw)
			}
			tag.Type = int(t)
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}

func parseCollections(value interface{}) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]interface{})
	if !ok {
		return nil, validationError("'collections' property must be an array")
	}
	set := make(map[string]struct{}, len(list))
	for _, entry := range list {
		key, ok := entry.(string)
		if !ok || !models.ValidKey(key) {
			return nil, validationError("'%v' is not a valid collection key", entry)
		}
		set[key] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

// normalizeItemSchema reconciles fields and creators with the (possibly changed) item type.
// Carried-over values that no longer fit are dropped; values the caller sent explicitly must fit.
func normalizeItemSchema(obj *models.Object, p *objectPayload) error {
	itemType := obj.Data.ItemType
	if itemType == "" {
		return validationError("'itemType' property not provided")
	}
	for field := range obj.Data.Fields {
		if models.ValidFieldForType(field, itemType) {
			continue
		}
		if p.present[field] {
			return validationError("'%s' is not a valid field for type '%s'", field, itemType)
		}
		delete(obj.Data.Fields, field)
	}
	if len(obj.Data.Fields) == 0 {
		obj.Data.Fields = nil
	}

	primary := models.PrimaryCreatorType(itemType)
	creators := obj.Data.Creators[:0:0]
	for _, c := range obj.Data.Creators {
		if c.CreatorType == "" {
			c.CreatorType = primary
		}
		if !models.ValidCreatorType(c.CreatorType, itemType) {
			if p.present["creators"] {
				if primary == "" {
					return validationError("'creators' is not valid for item type '%s'", itemType)
				}
				return validationError("'%s' is not a valid creator type for item type '%s'", c.CreatorType, itemType)
			}
			if primary == "" {
				continue
			}
			c.CreatorType = primary
		}
		creators = append(creators, c)
	}
	obj.Data.Creators = creators
	if len(obj.Data.Creators) == 0 {
		obj.Data.Creators = nil
	}
	if len(obj.Data.Tags) == 0 {
		obj.Data.Tags = nil
	}
	if len(obj.Data.Collections) == 0 {
		obj.Data.Collections = nil
	}
	return nil
}

func normalizeContainer(obj *models.Object) {
	obj.Data.Name = strings.TrimSpace(obj.Data.Name)
	if len(obj.Data.Relations) == 0 {
		obj.Data.Relations = nil
	}
	if len(obj.Data.Conditions) == 0 {
		obj.Data.Conditions = nil
	}
}
