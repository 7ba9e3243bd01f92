// Package document provides generic CRUD operations over a MongoDB-backed
// document collection, including one-level-nested subdocument CRUD, soft
// deletes, and audit-field stamping.
package document

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Meta carries the identity, audit, and soft-delete fields shared by every
// persisted record. Application document types embed it; subdocument element
// types embed it as well since elements follow the same lifecycle.
// U is the actor type stored in the *By fields.
type Meta[U any] struct {
	ID        string     `bson:"_id" json:"id"`
	CreatedAt time.Time  `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	CreatedBy U          `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	UpdatedAt time.Time  `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
	UpdatedBy U          `bson:"updatedBy,omitempty" json:"updatedBy,omitempty"`
	Deleted   bool       `bson:"deleted,omitempty" json:"deleted,omitempty"`
	DeletedAt *time.Time `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	DeletedBy U          `bson:"deletedBy,omitempty" json:"deletedBy,omitempty"`
}

// toDoc converts a typed record into its BSON document form so audit and
// identity fields can be stamped at the document level.
func toDoc(v any) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// fromDoc decodes a BSON document back into a typed record.
func fromDoc(doc bson.M, out any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}
