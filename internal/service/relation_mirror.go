package service

import (
	"context"
	"errors"
	"sort"

	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/repository"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// RelationReader is the slice of a library transaction needed to resolve reverse relations.
type RelationReader interface {
	Library() models.Library
	ListRelationsTo(ctx context.Context, uris []string) ([]models.RelationEdge, error)
}

// RelationMirror reflects symmetric relations onto their targets at read time.
// Mirrored values are never stored on the target, so reflecting them never bumps its version.
type RelationMirror struct {
	uriBase string
}

// NewRelationMirror builds a mirror resolving URIs under uriBase.
func NewRelationMirror(uriBase string) *RelationMirror {
	return &RelationMirror{uriBase: uriBase}
}

// URI returns the relation URI of obj.
func (m *RelationMirror) URI(obj *models.Object) string {
	return obj.URI(m.uriBase)
}

// Mirrored returns the relations other objects hold towards each of objs, keyed by "type/key".
func (m *RelationMirror) Mirrored(ctx context.Context, tx RelationReader, objs []*models.Object) (map[string]models.Relations, error) {
	if len(objs) == 0 {
		return map[string]models.Relations{}, nil
	}
	byURI := make(map[string]*models.Object, len(objs))
	uris := make([]string, 0, len(objs))
	for _, obj := range objs {
		uri := m.URI(obj)
		byURI[uri] = obj
		uris = append(uris, uri)
	}
	edges, err := tx.ListRelationsTo(ctx, uris)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load related objects")
	}
	out := make(map[string]models.Relations, len(objs))
	lib := tx.Library()
	for _, edge := range edges {
		if !models.IsSymmetric(edge.Predicate) {
			continue
		}
		target, ok := byURI[edge.Object]
		if !ok || (edge.OwnerType == target.Type && edge.OwnerKey == target.Key) {
			continue
		}
		id := objectID(target.Type, target.Key)
		if out[id] == nil {
			out[id] = models.Relations{}
		}
		out[id].Add(edge.Predicate, models.ObjectURI(m.uriBase, lib, edge.OwnerType, edge.OwnerKey))
	}
	return out, nil
}

// Effective returns copies of objs whose relations include the mirrored values.
func (m *RelationMirror) Effective(ctx context.Context, tx RelationReader, objs []*models.Object) ([]*models.Object, error) {
	mirrored, err := m.Mirrored(ctx, tx, objs)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Object, len(objs))
	for i, obj := range objs {
		out[i] = withRelations(obj, mergeRelations(obj.Data.Relations, mirrored[objectID(obj.Type, obj.Key)]))
	}
	return out, nil
}

// EffectiveOne is Effective for a single object.
func (m *RelationMirror) EffectiveOne(ctx context.Context, tx RelationReader, obj *models.Object) (*models.Object, error) {
	out, err := m.Effective(ctx, tx, []*models.Object{obj})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// relationPlan is the outcome of reconciling a relations write against mirrored values.
type relationPlan struct {
	// stored is what the object itself persists.
	stored models.Relations
	// effective is what readers will see afterwards.
	effective models.Relations
	// dropped are mirrored values the caller left out; their owners lose the forward relation.
	dropped []models.RelationEdge
}

// planRelations splits the relations an object should expose into stored and mirrored parts.
// When explicit is false the caller did not send relations and mirrored values simply carry over.
func (m *RelationMirror) planRelations(lib models.Library, target *models.Object, requested, previouslyStored, mirrored models.Relations, explicit bool) relationPlan {
	if !explicit {
		return relationPlan{
			stored:    normalizeRelations(requested.Clone()),
			effective: mergeRelations(requested, mirrored),
		}
	}

	plan := relationPlan{stored: models.Relations{}, effective: normalizeRelations(requested.Clone())}
	for predicate, values := range requested {
		for _, uri := range values {
			// A value already visible through a mirror stays owned by the other side.
			if mirrored.Has(predicate, uri) && !previouslyStored.Has(predicate, uri) {
				continue
			}
			plan.stored.Add(predicate, uri)
		}
	}
	plan.stored = normalizeRelations(plan.stored)

	targetURI := target.URI(m.uriBase)
	for predicate, values := range mirrored {
		for _, ownerURI := range values {
			if requested.Has(predicate, ownerURI) {
				continue
			}
			ownerType, ownerKey, ok := m.parseOwner(lib, ownerURI)
			if !ok {
				continue
			}
			plan.dropped = append(plan.dropped, models.RelationEdge{
				OwnerType: ownerType, OwnerKey: ownerKey, Predicate: predicate, Object: targetURI,
			})
		}
	}
	sort.Slice(plan.dropped, func(i, j int) bool { return plan.dropped[i].OwnerKey < plan.dropped[j].OwnerKey })
	return plan
}

// parseOwner maps a URI in lib back to its object type and key.
func (m *RelationMirror) parseOwner(lib models.Library, uri string) (models.ObjectType, string, bool) {
	for _, t := range models.ObjectTypes {
		prefix := models.ObjectURI(m.uriBase, lib, t, "")
		if len(uri) == len(prefix)+models.KeyLength && uri[:len(prefix)] == prefix {
			return t, uri[len(prefix):], true
		}
	}
	return "", "", false
}

// unlinkOwners removes the dropped forward relations from their owners, stamping them with version.
func unlinkOwners(ctx context.Context, tx repository.LibraryTx, dropped []models.RelationEdge, version int64, stamp func(*models.Object)) error {
	for _, edge := range dropped {
		owner, err := tx.GetObject(ctx, edge.OwnerType, edge.OwnerKey)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load related object")
		}
		if !owner.Data.Relations.Remove(edge.Predicate, edge.Object) {
			continue
		}
		owner.Data.Relations = normalizeRelations(owner.Data.Relations)
		owner.Version = version
		stamp(owner)
		if err := tx.PutObject(ctx, owner); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update related object")
		}
	}
	return nil
}

func mergeRelations(a, b models.Relations) models.Relations {
	if len(b) == 0 {
		return normalizeRelations(a.Clone())
	}
	out := a.Clone()
	if out == nil {
		out = models.Relations{}
	}
	for predicate, values := range b {
		for _, v := range values {
			out.Add(predicate, v)
		}
	}
	return out
}

func normalizeRelations(r models.Relations) models.Relations {
	if len(r) == 0 {
		return nil
	}
	return r
}

func withRelations(obj *models.Object, relations models.Relations) *models.Object {
	clone := obj.Clone()
	clone.Data.Relations = relations
	return clone
}

func objectID(t models.ObjectType, key string) string {
	return string(t) + "/" + key
}
