package document

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/doclayer/doclayer/pkg/observability/tracing"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// SubdocumentView exposes CRUD over the elements of a named array field on a
// parent document. S is the element type (embedding Meta). Elements have no
// independent persistence entity: every mutation is expressed as an update of
// the parent, which also refreshes the parent's updatedAt/updatedBy.
//
// Composite operations (locate element, then update) are not atomic across
// the two store calls; a concurrent removal between them surfaces as
// *NotFoundError. Callers needing cross-step atomicity wrap calls in the
// service's WithTransaction.
type SubdocumentView[T any, U any, S any] struct {
	svc   *Service[T, U]
	field string
}

// Subdocuments creates a view over the named array field of svc's documents.
// The element type is given explicitly:
//
//	comments := document.Subdocuments[Comment](svc, "comments")
func Subdocuments[S any, T any, U any](svc *Service[T, U], field string) *SubdocumentView[T, U, S] {
	return &SubdocumentView[T, U, S]{svc: svc, field: field}
}

// Add stamps data with createdAt/createdBy, appends it to the parent's array
// field, and returns the appended element as persisted. The parent must exist
// and not be soft-deleted.
func (v *SubdocumentView[T, U, S]) Add(ctx context.Context, parentID string, data S, user U) (out *S, err error) {
	ctx, done := v.svc.observe(ctx, tracing.SpanOperationUpdate, "subdocument.add")
	defer func() { done(err) }()

	doc, err := toDoc(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", v.resource(), err)
	}
	if id, _ := doc["_id"].(string); id == "" {
		doc["_id"] = uuid.NewString()
	}
	doc["createdAt"] = v.svc.now().UTC()
	doc["createdBy"] = user

	parent, err := v.svc.findOneAndUpdate(ctx, Filter{"_id": parentID},
		Operators(map[string]any{"$push": bson.M{v.field: doc}}), user)
	if err != nil {
		return nil, err
	}

	elems, ok := asArray(parent[v.field])
	if !ok || len(elems) == 0 {
		return nil, NewNotFoundError(v.resource(), parentID)
	}
	appended, ok := asDoc(elems[len(elems)-1])
	if !ok {
		return nil, fmt.Errorf("decode %s: unexpected element shape", v.resource())
	}
	var created S
	if err = fromDoc(appended, &created); err != nil {
		return nil, fmt.Errorf("decode %s: %w", v.resource(), err)
	}
	return &created, nil
}

// Get returns the single non-deleted element matching filter, using the
// store's positional projection of the matched element.
func (v *SubdocumentView[T, U, S]) Get(ctx context.Context, parentID string, filter Filter) (out *S, err error) {
	ctx, done := v.svc.observe(ctx, tracing.SpanOperationQuery, "subdocument.get")
	defer func() { done(err) }()

	elem, err := v.getElement(ctx, parentID, filter, true)
	if err != nil {
		return nil, err
	}
	var found S
	if err = fromDoc(elem, &found); err != nil {
		return nil, fmt.Errorf("decode %s: %w", v.resource(), err)
	}
	return &found, nil
}

// GetByID returns the non-deleted element with the given id.
func (v *SubdocumentView[T, U, S]) GetByID(ctx context.Context, parentID, subID string) (*S, error) {
	return v.Get(ctx, parentID, Filter{"_id": subID})
}

// List returns the parent's non-deleted elements matching the filter, sorted,
// then windowed by skip/limit. The parent must exist and not be soft-deleted;
// zero matching elements is an empty result, not an error.
func (v *SubdocumentView[T, U, S]) List(ctx context.Context, parentID string, opts ListOptions) (out []S, err error) {
	ctx, done := v.svc.observe(ctx, tracing.SpanOperationAggregate, "subdocument.list")
	defer func() { done(err) }()

	if err = v.requireParent(ctx, parentID); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = v.svc.pageSize
	}

	rows, err := v.svc.exec.Aggregate(ctx, v.elementsPipeline(parentID, opts.Filter, opts.Sort, opts.Skip, limit))
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", v.resource(), err)
	}
	if len(rows) == 0 {
		return []S{}, nil
	}

	elems, _ := asArray(rows[0][v.field])
	out = make([]S, 0, len(elems))
	for _, el := range elems {
		doc, ok := asDoc(el)
		if !ok {
			return nil, fmt.Errorf("decode %s: unexpected element shape", v.resource())
		}
		var item S
		if err = fromDoc(doc, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", v.resource(), err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Count returns the number of non-deleted elements matching filter. The
// parent must exist and not be soft-deleted.
func (v *SubdocumentView[T, U, S]) Count(ctx context.Context, parentID string, filter Filter) (n int64, err error) {
	ctx, done := v.svc.observe(ctx, tracing.SpanOperationAggregate, "subdocument.count")
	defer func() { done(err) }()

	if err = v.requireParent(ctx, parentID); err != nil {
		return 0, err
	}

	pipeline := []bson.M{
		{"$match": bson.M{"_id": parentID}},
		{"$limit": 1},
		{"$unwind": "$" + v.field},
		{"$match": prefixKeys(v.field, withSoftDeleteDefault(filter))},
		{"$group": bson.M{"_id": "$_id", v.field: bson.M{"$push": "$" + v.field}}},
		{"$project": bson.M{"count": bson.M{"$size": "$" + v.field}}},
	}
	rows, err := v.svc.exec.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("aggregate %s: %w", v.resource(), err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["count"]), nil
}

// Patch locates the element matching filter, assigns the given fields on it
// through a positional update, and returns the element's new state. The
// parent's updatedAt/updatedBy are refreshed by the same write.
func (v *SubdocumentView[T, U, S]) Patch(ctx context.Context, parentID string, filter Filter, fields Fields, user U) (out *S, err error) {
	ctx, done := v.svc.observe(ctx, tracing.SpanOperationUpdate, "subdocument.patch")
	defer func() { done(err) }()

	elem, err := v.getElement(ctx, parentID, filter, true)
	if err != nil {
		return nil, err
	}
	elemID, _ := elem["_id"].(string)

	parent, err := v.svc.findOneAndUpdate(ctx,
		Filter{"_id": parentID, v.field + "._id": elemID},
		Set(positionalKeys(v.field, fields)), user)
	if err != nil {
		return nil, err
	}

	updated := findElementByID(parent[v.field], elemID)
	if updated == nil {
		return nil, NewNotFoundError(v.resource(), filter)
	}
	var patched S
	if err = fromDoc(updated, &patched); err != nil {
		return nil, fmt.Errorf("decode %s: %w", v.resource(), err)
	}
	return &patched, nil
}

// PatchByID assigns the given fields on the element with the given id.
func (v *SubdocumentView[T, U, S]) PatchByID(ctx context.Context, parentID, subID string, fields Fields, user U) (*S, error) {
	return v.Patch(ctx, parentID, Filter{"_id": subID}, fields, user)
}

// SoftDelete marks the element deleted with deletedAt/deletedBy stamped.
func (v *SubdocumentView[T, U, S]) SoftDelete(ctx context.Context, parentID, subID string, user U) (*S, error) {
	now := v.svc.now().UTC()
	return v.PatchByID(ctx, parentID, subID, Fields{
		"deleted":   true,
		"deletedAt": now,
		"deletedBy": user,
	}, user)
}

// HardDelete locates the element matching filter regardless of its
// soft-delete state, pulls it out of the parent's array, and returns the
// removed element.
func (v *SubdocumentView[T, U, S]) HardDelete(ctx context.Context, parentID string, filter Filter, user U) (out *S, err error) {
	ctx, done := v.svc.observe(ctx, tracing.SpanOperationDelete, "subdocument.hard_delete")
	defer func() { done(err) }()

	elem, err := v.getElement(ctx, parentID, filter, false)
	if err != nil {
		return nil, err
	}
	elemID, _ := elem["_id"].(string)

	if _, err = v.svc.findOneAndUpdate(ctx, Filter{"_id": parentID},
		Operators(map[string]any{"$pull": bson.M{v.field: bson.M{"_id": elemID}}}), user); err != nil {
		return nil, err
	}

	var removed S
	if err = fromDoc(elem, &removed); err != nil {
		return nil, fmt.Errorf("decode %s: %w", v.resource(), err)
	}
	return &removed, nil
}

// HardDeleteByID removes the element with the given id.
func (v *SubdocumentView[T, U, S]) HardDeleteByID(ctx context.Context, parentID, subID string, user U) (*S, error) {
	return v.HardDelete(ctx, parentID, Filter{"_id": subID}, user)
}

// getElement fetches the raw matched element through the store's positional
// projection. softDeleteDefault controls whether soft-deleted elements are
// hidden; hard deletes pass false to operate regardless of deleted state.
func (v *SubdocumentView[T, U, S]) getElement(ctx context.Context, parentID string, filter Filter, softDeleteDefault bool) (bson.M, error) {
	elemFilter := asBSON(filter)
	if softDeleteDefault {
		elemFilter = withSoftDeleteDefault(filter)
	}
	query := bson.M{
		"_id":   parentID,
		v.field: bson.M{"$elemMatch": elemFilter},
	}
	projection := bson.M{v.field + ".$": 1}

	doc, err := v.svc.exec.FindOne(ctx, query, projection)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, NewNotFoundError(v.resource(), filter)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", v.resource(), err)
	}

	elems, ok := asArray(doc[v.field])
	if !ok || len(elems) == 0 {
		return nil, NewNotFoundError(v.resource(), filter)
	}
	elem, ok := asDoc(elems[0])
	if !ok {
		return nil, fmt.Errorf("decode %s: unexpected element shape", v.resource())
	}
	return elem, nil
}

// requireParent verifies the parent exists and passes the soft-delete
// default.
func (v *SubdocumentView[T, U, S]) requireParent(ctx context.Context, parentID string) error {
	n, err := v.svc.exec.CountDocuments(ctx, withSoftDeleteDefault(Filter{"_id": parentID}))
	if err != nil {
		return fmt.Errorf("count %s: %w", v.svc.collection, err)
	}
	if n == 0 {
		return NewNotFoundError(v.svc.collection, parentID)
	}
	return nil
}

// elementsPipeline builds the unwind/match/sort/group/slice aggregation over
// the parent's array field. The sort stage runs on the unwound elements
// before they are grouped back, so skip/limit windows are taken over the
// sorted element stream.
func (v *SubdocumentView[T, U, S]) elementsPipeline(parentID string, filter Filter, sort Sort, skip, limit int64) []bson.M {
	stages := []bson.M{
		{"$match": bson.M{"_id": parentID}},
		{"$limit": 1},
		{"$unwind": "$" + v.field},
		{"$match": prefixKeys(v.field, withSoftDeleteDefault(filter))},
	}
	if len(sort) > 0 {
		stages = append(stages, bson.M{"$sort": sortDocument(v.field, sort)})
	}
	stages = append(stages, bson.M{"$group": bson.M{"_id": "$_id", v.field: bson.M{"$push": "$" + v.field}}})
	if skip > 0 || limit > 0 {
		n := limit
		if n <= 0 {
			n = math.MaxInt32
		}
		stages = append(stages, bson.M{"$project": bson.M{
			v.field: bson.M{"$slice": bson.A{"$" + v.field, skip, n}},
		}})
	}
	return stages
}

func (v *SubdocumentView[T, U, S]) resource() string {
	return v.svc.collection + "." + v.field
}

// asDoc coerces the BSON document shapes the driver may hand back.
func asDoc(v any) (bson.M, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case map[string]any:
		return bson.M(d), true
	case bson.D:
		m := bson.M{}
		for _, e := range d {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return nil, false
}

// asArray coerces the BSON array shapes the driver may hand back.
func asArray(v any) (bson.A, bool) {
	switch a := v.(type) {
	case bson.A:
		return a, true
	case []any:
		return bson.A(a), true
	case []bson.M:
		out := make(bson.A, len(a))
		for i, e := range a {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}

// findElementByID returns the array element whose _id equals id, or nil.
func findElementByID(arr any, id string) bson.M {
	elems, ok := asArray(arr)
	if !ok {
		return nil
	}
	for _, el := range elems {
		doc, ok := asDoc(el)
		if !ok {
			continue
		}
		if elemID, _ := doc["_id"].(string); elemID == id {
			return doc
		}
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
