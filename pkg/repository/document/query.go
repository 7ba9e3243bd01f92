package document

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Filter represents field-based match criteria. Values are either literal
// values for exact matches or operator documents such as
// bson.M{"$gt": 5}.
type Filter map[string]any

// Fields is a partial field-to-value assignment applied through $set.
type Fields map[string]any

// SortOrder is the direction of a sort key, using MongoDB's 1/-1 convention.
type SortOrder int

const (
	SortAsc  SortOrder = 1
	SortDesc SortOrder = -1
)

// SortField pairs a field path with a direction.
type SortField struct {
	Field string
	Order SortOrder
}

// Sort is an ordered list of sort keys.
type Sort []SortField

// ListOptions encapsulates filtering, sorting, pagination, and projection for
// list queries. A zero Limit falls back to the service's default page size.
type ListOptions struct {
	Filter     Filter
	Sort       Sort
	Skip       int64
	Limit      int64
	Projection []string
}

// Update is either a plain field-assignment payload or an operator document
// performing array pushes/pulls alongside field assignments. Construct one
// with Set or Operators.
type Update struct {
	set Fields
	ops map[string]any
}

// Set builds an Update that assigns the given fields through $set.
func Set(fields Fields) Update {
	return Update{set: fields}
}

// Operators builds an Update from a raw operator document, e.g.
// map[string]any{"$push": bson.M{"comments": elem}}.
func Operators(ops map[string]any) Update {
	return Update{ops: ops}
}

// document renders the update as a MongoDB update document. Plain field
// assignments are merged into $set alongside any caller-provided operators.
func (u Update) document() bson.M {
	doc := bson.M{}
	for op, v := range u.ops {
		doc[op] = v
	}
	if len(u.set) > 0 {
		set := setClause(doc)
		for k, v := range u.set {
			set[k] = v
		}
	}
	return doc
}

// setClause returns the $set sub-document of an update, creating or
// normalizing it in place.
func setClause(update bson.M) bson.M {
	switch set := update["$set"].(type) {
	case bson.M:
		return set
	case map[string]any:
		normalized := bson.M(set)
		update["$set"] = normalized
		return normalized
	default:
		normalized := bson.M{}
		update["$set"] = normalized
		return normalized
	}
}

// withSoftDeleteDefault copies the filter and defaults the deleted key to
// "not true" when the caller did not filter on it explicitly, hiding
// soft-deleted documents from ordinary operations.
func withSoftDeleteDefault(f Filter) bson.M {
	out := bson.M{}
	for k, v := range f {
		out[k] = v
	}
	if _, ok := out["deleted"]; !ok {
		out["deleted"] = bson.M{"$ne": true}
	}
	return out
}

// asBSON copies a filter without applying any defaulting.
func asBSON(f Filter) bson.M {
	out := bson.M{}
	for k, v := range f {
		out[k] = v
	}
	return out
}

// prefixKeys rewrites every filter key k to field.k, addressing elements of
// the named array once an aggregation $unwind has flattened it.
func prefixKeys(field string, f bson.M) bson.M {
	out := bson.M{}
	for k, v := range f {
		out[field+"."+k] = v
	}
	return out
}

// positionalKeys rewrites every assignment key k to field.$.k so a direct
// update targets the specific array element matched by the query.
func positionalKeys(field string, fields Fields) Fields {
	out := Fields{}
	for k, v := range fields {
		out[field+".$."+k] = v
	}
	return out
}

// sortDocument renders the sort keys in order, prefixing each with field.
// when non-empty.
func sortDocument(field string, s Sort) bson.D {
	doc := bson.D{}
	for _, key := range s {
		name := key.Field
		if field != "" {
			name = field + "." + name
		}
		doc = append(doc, bson.E{Key: name, Value: int(key.Order)})
	}
	return doc
}

// projectionDocument renders a list of field names as an inclusion
// projection, or nil when no projection was requested.
func projectionDocument(fields []string) bson.M {
	if len(fields) == 0 {
		return nil
	}
	out := bson.M{}
	for _, f := range fields {
		out[f] = 1
	}
	return out
}
