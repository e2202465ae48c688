package service

import (
	"context"
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/repository"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

var (
	annotationColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	pdfSortIndexPattern    = regexp.MustCompile(`^\d{5}\|\d{6}\|\d{5}$`)
	epubSortIndexPattern   = regexp.MustCompile(`^\d{5}\|\d{8}$`)
)

const (
	contentTypePDF  = "application/pdf"
	contentTypeEPUB = "application/epub+zip"
)

// ObjectLookup resolves other objects of the library while a write is in progress.
type ObjectLookup interface {
	GetObject(ctx context.Context, objectType models.ObjectType, key string) (*models.Object, error)
}

// graphValidator enforces the parent, membership and payload rules of one object write.
type graphValidator struct {
	lookup   ObjectLookup
	validate *validator.Validate
}

func newGraphValidator(lookup ObjectLookup, validate *validator.Validate) *graphValidator {
	if validate == nil {
		validate = validator.New()
	}
	return &graphValidator{lookup: lookup, validate: validate}
}

func (v *graphValidator) find(ctx context.Context, t models.ObjectType, key string) (*models.Object, error) {
	obj, err := v.lookup.GetObject(ctx, t, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load object")
	}
	return obj, nil
}

// Validate checks obj, the result of applying p onto existing (nil for new objects).
// It may normalise obj in place: defaults, truncation and dropped inherited values.
func (v *graphValidator) Validate(ctx context.Context, obj, existing *models.Object, p *objectPayload) error {
	if existing != nil && p.dateAdded != nil && !p.dateAdded.Equal(existing.DateAdded) {
		return validationError("'dateAdded' cannot be modified for existing %ss", obj.Type)
	}
	if err := validateRelations(obj.Data.Relations); err != nil {
		return err
	}
	switch obj.Type {
	case models.ObjectCollection:
		return v.validateCollection(ctx, obj)
	case models.ObjectSearch:
		return v.validateSearch(obj)
	default:
		return v.validateItem(ctx, obj, existing, p)
	}
}

func validateRelations(relations models.Relations) error {
	for predicate, values := range relations {
		if !strings.Contains(predicate, ":") {
			return validationError("Unsupported predicate '%s'", predicate)
		}
		for _, uri := range values {
			if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
				return validationError("'%s' is not a valid URI for predicate '%s'", uri, predicate)
			}
		}
	}
	return nil
}

func (v *graphValidator) validateCollection(ctx context.Context, obj *models.Object) error {
	obj.Data.Name = strings.TrimSpace(obj.Data.Name)
	if obj.Data.Name == "" {
		return validationError("Collection name cannot be empty")
	}
	if utf8.RuneCountInString(obj.Data.Name) > models.MaxCollectionNameLength {
		return tooLargeError("Collection name '%s…' too long", truncateRunes(obj.Data.Name, 50))
	}
	if obj.ParentKey == "" {
		return nil
	}
	if obj.ParentKey == obj.Key {
		return validationError("Collection %s cannot be a child of itself", obj.Key)
	}
	parent, err := v.find(ctx, models.ObjectCollection, obj.ParentKey)
	if err != nil {
		return err
	}
	if parent == nil {
		return missingParentError(models.ObjectCollection, obj.ParentKey)
	}
	return nil
}

func (v *graphValidator) validateSearch(obj *models.Object) error {
	obj.Data.Name = strings.TrimSpace(obj.Data.Name)
	if obj.Data.Name == "" {
		return validationError("Search name cannot be empty")
	}
	if utf8.RuneCountInString(obj.Data.Name) > models.MaxCollectionNameLength {
		return tooLargeError("Search name '%s…' too long", truncateRunes(obj.Data.Name, 50))
	}
	if len(obj.Data.Conditions) == 0 {
		return validationError("'conditions' cannot be empty")
	}
	for _, cond := range obj.Data.Conditions {
		if err := v.validate.Struct(cond); err != nil {
			return validationError("Search condition must include 'condition' and 'operator'")
		}
	}
	return nil
}

// missingParentError is shared by genuinely missing parents and parents that failed earlier in the same batch.
func missingParentError(t models.ObjectType, key string) error {
	return appErrors.WithData(
		appErrors.Clonef(appErrors.ErrConflict, "Parent %s %s not found", t, key),
		map[string]interface{}{t.ParentField(): key},
	)
}

func (v *graphValidator) validateItem(ctx context.Context, obj, existing *models.Object, p *objectPayload) error {
	if err := normalizeItemSchema(obj, p); err != nil {
		return err
	}
	itemType := obj.Data.ItemType
	if existing != nil && existing.Data.ItemType != itemType &&
		(existing.Data.ItemType == models.ItemTypeAnnotation || itemType == models.ItemTypeAnnotation) {
		return validationError("Cannot change item type of annotation")
	}

	if itemType == models.ItemTypeAttachment {
		if err := validateAttachment(obj, existing); err != nil {
			return err
		}
	}

	parent, err := v.resolveItemParent(ctx, obj, existing)
	if err != nil {
		return err
	}

	if itemType == models.ItemTypeAnnotation {
		if err := validateAnnotation(obj, existing, parent, p); err != nil {
			return err
		}
	}

	if note := obj.Field("note"); note != "" && noteLength(note) > models.MaxNoteLength {
		preview := html.EscapeString(truncateRunes(noteTitle(note), 50))
		return tooLargeError("Note '%s…' too long", preview)
	}

	return v.validateMembership(ctx, obj, p)
}

func validateAttachment(obj, existing *models.Object) error {
	linkMode := obj.Field("linkMode")
	if linkMode == "" {
		return validationError("'linkMode' property not provided")
	}
	if !models.ValidLinkMode(linkMode) {
		return validationError("'%s' is not a valid linkMode", linkMode)
	}
	if existing != nil && existing.Data.ItemType == models.ItemTypeAttachment && existing.Field("linkMode") != linkMode {
		return validationError("Cannot change attachment linkMode")
	}
	if linkMode != models.LinkModeEmbeddedImage {
		return nil
	}
	if !strings.HasPrefix(obj.Field("contentType"), "image/") {
		return validationError("Embedded-image attachment must have an image content type")
	}
	if obj.Field("note") != "" {
		return validationError("'note' property is not valid for embedded-image attachments")
	}
	return nil
}

// resolveItemParent checks parentItem and returns the parent, or nil for top-level items.
func (v *graphValidator) resolveItemParent(ctx context.Context, obj, existing *models.Object) (*models.Object, error) {
	if obj.IsEmbeddedImage() {
		if existing != nil && existing.ParentKey != obj.ParentKey {
			return nil, validationError("Cannot change parent item of embedded-image attachment")
		}
		if obj.ParentKey == "" {
			return nil, validationError("Embedded-image attachment must have a parent item")
		}
	}
	if obj.ParentKey == "" {
		if obj.Data.ItemType == models.ItemTypeAnnotation {
			return nil, validationError("Annotation must have a parent item")
		}
		return nil, nil
	}
	if obj.ParentKey == obj.Key {
		return nil, validationError("Item %s cannot be a child of itself", obj.Key)
	}
	switch obj.Data.ItemType {
	case models.ItemTypeNote, models.ItemTypeAttachment, models.ItemTypeAnnotation:
	default:
		return nil, validationError("Parent item can only be set on notes, attachments and annotations")
	}

	parent, err := v.find(ctx, models.ObjectItem, obj.ParentKey)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, missingParentError(models.ObjectItem, obj.ParentKey)
	}
	if obj.IsNoteOrAttachment() && !obj.IsEmbeddedImage() && parent.IsNoteOrAttachment() {
		return nil, appErrors.WithData(
			appErrors.Clone(appErrors.ErrConflict, "Parent item cannot be a note or attachment"),
			map[string]interface{}{"parentItem": obj.ParentKey},
		)
	}
	return parent, nil
}

func validateAnnotation(obj, existing, parent *models.Object, p *objectPayload) error {
	contentType := parent.Field("contentType")
	if !parent.IsFileAttachment() || (contentType != contentTypePDF && contentType != contentTypeEPUB) {
		return validationError("Parent item of annotation must be a PDF attachment")
	}

	annotationType := obj.Field("annotationType")
	if annotationType == "" {
		return validationError("'annotationType' not provided")
	}
	if !models.ValidAnnotationType(annotationType) {
		return validationError("'%s' is not a valid annotationType", annotationType)
	}
	if existing != nil && existing.Field("annotationType") != "" && existing.Field("annotationType") != annotationType {
		return validationError("Cannot change annotationType")
	}

	if p.present["annotationText"] || obj.Field("annotationText") != "" {
		if annotationType != models.AnnotationHighlight && annotationType != models.AnnotationUnderline {
			return validationError("'annotationText' can only be set for highlight and underline annotations")
		}
	}
	if text := obj.Field("annotationText"); text != "" {
		obj.Data.Fields["annotationText"] = truncateRunes(text, models.MaxAnnotationTextLength)
	}

	color := obj.Field("annotationColor")
	if color == "" {
		obj.Data.Fields["annotationColor"] = models.DefaultAnnotationColor
	} else if !annotationColorPattern.MatchString(color) {
		return validationError("annotationColor must be a hex color (e.g., '#FF0000')")
	}

	sortIndex := obj.Field("annotationSortIndex")
	if !pdfSortIndexPattern.MatchString(sortIndex) &&
		!(contentType == contentTypeEPUB && epubSortIndexPattern.MatchString(sortIndex)) {
		return validationError("Invalid sortIndex '%s'", sortIndex)
	}

	if position := obj.Field("annotationPosition"); utf8.RuneCountInString(position) > models.MaxAnnotationPositionLength {
		return tooLargeError("Annotation position '%s…' is too long for attachment %s", truncateRunes(position, 50), parent.Key)
	}
	if label := obj.Field("annotationPageLabel"); utf8.RuneCountInString(label) > models.MaxAnnotationPageLabelLength {
		return tooLargeError("Annotation page label '%s…' is too long for attachment %s", truncateRunes(label, 50), parent.Key)
	}
	return nil
}

// validateMembership applies collection rules against the resolved top-level/child status.
func (v *graphValidator) validateMembership(ctx context.Context, obj *models.Object, p *objectPayload) error {
	if len(obj.Data.Collections) == 0 {
		return nil
	}
	if obj.ParentKey != "" {
		if p.present["collections"] {
			return validationError("Child items cannot be assigned to collections")
		}
		obj.Data.Collections = nil
		return nil
	}
	for _, key := range obj.Data.Collections {
		collection, err := v.find(ctx, models.ObjectCollection, key)
		if err != nil {
			return err
		}
		if collection == nil {
			return appErrors.WithData(
				appErrors.Clonef(appErrors.ErrConflict, "Collection %s doesn't exist", key),
				map[string]interface{}{"collection": key},
			)
		}
	}
	return nil
}
