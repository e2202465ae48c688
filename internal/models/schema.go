package models

import "sort"

// Item types with special handling.
const (
	ItemTypeNote       = "note"
	ItemTypeAttachment = "attachment"
	ItemTypeAnnotation = "annotation"
)

// Attachment link modes.
const (
	LinkModeImportedFile  = "imported_file"
	LinkModeImportedURL   = "imported_url"
	LinkModeLinkedFile    = "linked_file"
	LinkModeLinkedURL     = "linked_url"
	LinkModeEmbeddedImage = "embedded_image"
)

// Annotation types.
const (
	AnnotationHighlight = "highlight"
	AnnotationUnderline = "underline"
	AnnotationNote      = "note"
	AnnotationText      = "text"
	AnnotationImage     = "image"
	AnnotationInk       = "ink"
)

// Limits enforced on item payloads.
const (
	MaxTagLength                 = 255
	MaxNoteLength                = 50000
	MaxAnnotationTextLength      = 7500
	MaxAnnotationPositionLength  = 65000
	MaxAnnotationPageLabelLength = 50
	MaxCollectionNameLength      = 255
	MaxSettingValueLength        = 30000
	DefaultAnnotationColor       = "#ffd400"
)

var baseFields = []string{
	"title", "abstractNote", "date", "language", "shortTitle", "url", "accessDate",
	"archive", "archiveLocation", "libraryCatalog", "callNumber", "rights", "extra",
}

var typeFields = map[string][]string{
	"artwork":          {"artworkMedium", "artworkSize"},
	"book":             {"series", "seriesNumber", "volume", "numberOfVolumes", "edition", "place", "publisher", "numPages", "ISBN"},
	"bookSection":      {"bookTitle", "series", "seriesNumber", "volume", "numberOfVolumes", "edition", "place", "publisher", "pages", "ISBN"},
	"conferencePaper":  {"proceedingsTitle", "conferenceName", "place", "publisher", "volume", "pages", "series", "DOI", "ISBN"},
	"document":         {"publisher"},
	"film":             {"distributor", "genre", "videoRecordingFormat", "runningTime"},
	"journalArticle":   {"publicationTitle", "volume", "issue", "pages", "series", "seriesTitle", "seriesText", "journalAbbreviation", "DOI", "ISSN"},
	"letter":           {"letterType"},
	"magazineArticle":  {"publicationTitle", "volume", "issue", "pages", "ISSN"},
	"manuscript":       {"manuscriptType", "place", "numPages"},
	"newspaperArticle": {"publicationTitle", "place", "edition", "section", "pages", "ISSN"},
	"report":           {"reportNumber", "reportType", "seriesTitle", "place", "institution", "pages"},
	"thesis":           {"thesisType", "university", "place", "numPages"},
	"webpage":          {"websiteTitle", "websiteType"},
}

var specialFields = map[string][]string{
	ItemTypeNote:       {"note"},
	ItemTypeAttachment: {"title", "url", "accessDate", "linkMode", "contentType", "charset", "filename", "path", "note"},
	ItemTypeAnnotation: {
		"annotationType", "annotationAuthorName", "annotationText", "annotationComment",
		"annotationColor", "annotationPageLabel", "annotationSortIndex", "annotationPosition",
	},
}

var creatorTypes = map[string][]string{
	"artwork":          {"artist", "contributor"},
	"book":             {"author", "contributor", "editor", "seriesEditor", "translator"},
	"bookSection":      {"author", "bookAuthor", "contributor", "editor", "seriesEditor", "translator"},
	"conferencePaper":  {"author", "contributor", "editor", "seriesEditor", "translator"},
	"document":         {"author", "contributor", "editor", "reviewedAuthor", "translator"},
	"film":             {"director", "contributor", "producer", "scriptwriter"},
	"journalArticle":   {"author", "contributor", "editor", "reviewedAuthor", "translator"},
	"letter":           {"author", "contributor", "recipient"},
	"magazineArticle":  {"author", "contributor", "reviewedAuthor", "translator"},
	"manuscript":       {"author", "contributor", "translator"},
	"newspaperArticle": {"author", "contributor", "reviewedAuthor", "translator"},
	"report":           {"author", "contributor", "seriesEditor", "translator"},
	"thesis":           {"author", "contributor"},
	"webpage":          {"author", "contributor", "translator"},
}

var annotationTypes = map[string]struct{}{
	AnnotationHighlight: {}, AnnotationUnderline: {}, AnnotationNote: {},
	AnnotationText: {}, AnnotationImage: {}, AnnotationInk: {},
}

var linkModes = map[string]struct{}{
	LinkModeImportedFile: {}, LinkModeImportedURL: {}, LinkModeLinkedFile: {},
	LinkModeLinkedURL: {}, LinkModeEmbeddedImage: {},
}

var fieldIndex = buildFieldIndex()

func buildFieldIndex() map[string]map[string]struct{} {
	index := make(map[string]map[string]struct{}, len(typeFields)+len(specialFields))
	for itemType, fields := range typeFields {
		set := make(map[string]struct{}, len(baseFields)+len(fields))
		for _, f := range baseFields {
			set[f] = struct{}{}
		}
		for _, f := range fields {
			set[f] = struct{}{}
		}
		index[itemType] = set
	}
	for itemType, fields := range specialFields {
		set := make(map[string]struct{}, len(fields))
		for _, f := range fields {
			set[f] = struct{}{}
		}
		index[itemType] = set
	}
	return index
}

// ValidItemType reports whether itemType is known.
func ValidItemType(itemType string) bool {
	_, ok := fieldIndex[itemType]
	return ok
}

// ItemTypes returns the known item types, sorted.
func ItemTypes() []string {
	out := make([]string, 0, len(fieldIndex))
	for t := range fieldIndex {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ValidFieldForType reports whether field is legal on itemType.
func ValidFieldForType(field, itemType string) bool {
	set, ok := fieldIndex[itemType]
	if !ok {
		return false
	}
	_, ok = set[field]
	return ok
}

// KnownField reports whether field is legal on any item type.
func KnownField(field string) bool {
	for _, set := range fieldIndex {
		if _, ok := set[field]; ok {
			return true
		}
	}
	return false
}

// ValidCreatorType reports whether creatorType is legal on itemType.
func ValidCreatorType(creatorType, itemType string) bool {
	for _, t := range creatorTypes[itemType] {
		if t == creatorType {
			return true
		}
	}
	return false
}

// PrimaryCreatorType returns the default creator type for itemType.
func PrimaryCreatorType(itemType string) string {
	types := creatorTypes[itemType]
	if len(types) == 0 {
		return ""
	}
	return types[0]
}

// ValidAnnotationType reports whether t is a known annotation type.
func ValidAnnotationType(t string) bool {
	_, ok := annotationTypes[t]
	return ok
}

// ValidLinkMode reports whether mode is a known attachment link mode.
func ValidLinkMode(mode string) bool {
	_, ok := linkModes[mode]
	return ok
}
