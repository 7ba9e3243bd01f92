package document

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when a read, update, or delete targets a filter
// that matches no document or no subdocument element. Soft-deleted documents
// are reported exactly like missing ones.
type NotFoundError struct {
	Resource string
	Query    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found for query %s", e.Resource, e.Query)
}

// NewNotFoundError creates a NotFoundError for the given resource and query.
func NewNotFoundError(resource string, query any) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Query:    fmt.Sprintf("%v", query),
	}
}

// DuplicateKeyError is returned from Create when the store reports a
// unique-index violation. Collection, Index, and Key are parsed out of the
// driver's error message.
type DuplicateKeyError struct {
	Collection string
	Index      string
	Key        string
	Message    string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key on %s index %s: %s", e.Collection, e.Index, e.Key)
}

// ParseDuplicateKeyError extracts the collection, index, and offending key
// from a MongoDB E11000 message of the shape
//
//	E11000 duplicate key error collection: db.coll index: name_1 dup key: { name: "x" }
//
// Fields that cannot be located are left empty; the raw message is always
// preserved.
func ParseDuplicateKeyError(msg string) *DuplicateKeyError {
	return &DuplicateKeyError{
		Collection: between(msg, "collection: ", " index:"),
		Index:      between(msg, "index: ", " dup key:"),
		Key:        after(msg, "dup key: "),
		Message:    msg,
	}
}

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	rest := s[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:j])
}

func after(s, start string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	rest := strings.TrimSpace(s[i+len(start):])
	return strings.TrimSuffix(rest, "]")
}
