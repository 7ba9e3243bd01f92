package document

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// fakeExecutor is an in-memory Executor used by the package tests. It
// interprets the filter/update/pipeline subset the service emits against a
// slice of documents kept in insertion order, and deep-copies documents at
// every boundary so callers never share state with the store.
type fakeExecutor struct {
	mu   sync.Mutex
	docs []bson.M

	// failWith, when set, is returned by every store call.
	failWith error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{}
}

func (f *fakeExecutor) InsertOne(_ context.Context, doc bson.M) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	id := doc["_id"]
	for _, existing := range f.docs {
		if equalValues(existing["_id"], id) {
			return nil, mongo.CommandError{
				Code: 11000,
				Message: fmt.Sprintf(
					"E11000 duplicate key error collection: testdb.notes index: _id_ dup key: { _id: %q }", id),
			}
		}
	}
	f.docs = append(f.docs, copyDoc(doc))
	return id, nil
}

func (f *fakeExecutor) FindOne(_ context.Context, filter, projection bson.M) (bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	for _, doc := range f.docs {
		if matchDoc(doc, filter) {
			return applyProjection(doc, projection, filter), nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeExecutor) Find(_ context.Context, filter bson.M, opts FindOptions) ([]bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	matched := make([]bson.M, 0)
	for _, doc := range f.docs {
		if matchDoc(doc, filter) {
			matched = append(matched, doc)
		}
	}
	sortRows(matched, opts.Sort)

	if opts.Skip > 0 {
		if opts.Skip >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < int64(len(matched)) {
		matched = matched[:opts.Limit]
	}

	out := make([]bson.M, 0, len(matched))
	for _, doc := range matched {
		out = append(out, applyProjection(doc, opts.Projection, filter))
	}
	return out, nil
}

func (f *fakeExecutor) CountDocuments(_ context.Context, filter bson.M) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}

	var n int64
	for _, doc := range f.docs {
		if matchDoc(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (f *fakeExecutor) FindOneAndUpdate(_ context.Context, filter, update bson.M) (bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	for _, doc := range f.docs {
		if matchDoc(doc, filter) {
			applyUpdateDoc(doc, update, filter)
			return copyDoc(doc), nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeExecutor) FindOneAndDelete(_ context.Context, filter bson.M) (bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	for i, doc := range f.docs {
		if matchDoc(doc, filter) {
			f.docs = append(f.docs[:i:i], f.docs[i+1:]...)
			return copyDoc(doc), nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeExecutor) Aggregate(_ context.Context, pipeline []bson.M) ([]bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	rows := make([]bson.M, 0, len(f.docs))
	for _, doc := range f.docs {
		rows = append(rows, copyDoc(doc))
	}
	for _, stage := range pipeline {
		rows = applyStage(rows, stage)
	}
	return rows, nil
}

func (f *fakeExecutor) WithTransaction(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return fn(ctx)
}

// raw returns the stored document with the given id, uncopied, for
// assertions on persisted state.
func (f *fakeExecutor) raw(id string) bson.M {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if equalValues(doc["_id"], id) {
			return doc
		}
	}
	return nil
}

// --- filter matching -------------------------------------------------------

func matchDoc(doc, filter bson.M) bool {
	for path, cond := range filter {
		if !matchField(doc, path, cond) {
			return false
		}
	}
	return true
}

func matchField(doc bson.M, path string, cond any) bool {
	values := lookupPath(doc, path)
	if ops, ok := operatorDoc(cond); ok {
		return matchOperators(values, ops)
	}
	for _, v := range values {
		if equalValues(v, cond) {
			return true
		}
	}
	return false
}

// operatorDoc reports whether cond is an operator document such as
// {"$ne": true}.
func operatorDoc(cond any) (bson.M, bool) {
	doc, ok := asDoc(cond)
	if !ok || len(doc) == 0 {
		return nil, false
	}
	for k := range doc {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return doc, true
}

func matchOperators(values []any, ops bson.M) bool {
	for op, operand := range ops {
		switch op {
		case "$ne":
			for _, v := range values {
				if equalValues(v, operand) {
					return false
				}
			}
		case "$eq":
			if !anyEqual(values, operand) {
				return false
			}
		case "$in":
			list, _ := asArray(operand)
			found := false
			for _, candidate := range list {
				if anyEqual(values, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !anyCompares(values, op, operand) {
				return false
			}
		case "$elemMatch":
			sub, _ := asDoc(operand)
			matched := false
			for _, v := range values {
				arr, ok := asArray(v)
				if !ok {
					continue
				}
				for _, el := range arr {
					elDoc, ok := asDoc(el)
					if ok && matchDoc(elDoc, sub) {
						matched = true
						break
					}
				}
			}
			if !matched {
				return false
			}
		case "$exists":
			want, _ := operand.(bool)
			if (len(values) > 0) != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func anyEqual(values []any, operand any) bool {
	for _, v := range values {
		if equalValues(v, operand) {
			return true
		}
	}
	return false
}

func anyCompares(values []any, op string, operand any) bool {
	for _, v := range values {
		c, ok := compareValues(v, operand)
		if !ok {
			continue
		}
		switch op {
		case "$gt":
			if c > 0 {
				return true
			}
		case "$gte":
			if c >= 0 {
				return true
			}
		case "$lt":
			if c < 0 {
				return true
			}
		case "$lte":
			if c <= 0 {
				return true
			}
		}
	}
	return false
}

// lookupPath resolves a dotted path, fanning out over arrays the way MongoDB
// does for queries. A missing field yields no candidates.
func lookupPath(v any, path string) []any {
	if path == "" {
		return []any{v}
	}
	if doc, ok := asDoc(v); ok {
		seg, rest := path, ""
		if i := strings.Index(path, "."); i >= 0 {
			seg, rest = path[:i], path[i+1:]
		}
		child, ok := doc[seg]
		if !ok {
			return nil
		}
		return lookupPath(child, rest)
	}
	if arr, ok := asArray(v); ok {
		var out []any
		for _, el := range arr {
			out = append(out, lookupPath(el, path)...)
		}
		return out
	}
	return nil
}

func equalValues(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		return ok && na == nb
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func compareValues(a, b any) (int, bool) {
	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		}
		return 0, true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	return 0, false
}

// --- projection ------------------------------------------------------------

// applyProjection renders the projected view of doc. A key of the form
// "field.$" selects the first array element matched by the query's
// $elemMatch condition on field, mirroring MongoDB's positional projection.
func applyProjection(doc, projection, filter bson.M) bson.M {
	if len(projection) == 0 {
		return copyDoc(doc)
	}

	for key := range projection {
		if !strings.HasSuffix(key, ".$") {
			continue
		}
		field := strings.TrimSuffix(key, ".$")
		out := bson.M{"_id": doc["_id"]}
		sub := elemMatchCondition(filter, field)
		arr, _ := asArray(doc[field])
		for _, el := range arr {
			elDoc, ok := asDoc(el)
			if ok && (sub == nil || matchDoc(elDoc, sub)) {
				out[field] = bson.A{copyDoc(elDoc)}
				break
			}
		}
		return out
	}

	out := bson.M{"_id": doc["_id"]}
	for key := range projection {
		if v, ok := doc[key]; ok {
			out[key] = copyValue(v)
		}
	}
	return out
}

func elemMatchCondition(filter bson.M, field string) bson.M {
	cond, ok := asDoc(filter[field])
	if !ok {
		return nil
	}
	sub, _ := asDoc(cond["$elemMatch"])
	return sub
}

// --- updates ---------------------------------------------------------------

func applyUpdateDoc(doc, update, filter bson.M) {
	for op, arg := range update {
		fields, _ := asDoc(arg)
		switch op {
		case "$set":
			for path, v := range fields {
				setPath(doc, path, v, filter)
			}
		case "$push":
			for field, v := range fields {
				arr, _ := asArray(doc[field])
				doc[field] = append(arr, copyValue(v))
			}
		case "$pull":
			for field, cond := range fields {
				condDoc, _ := asDoc(cond)
				arr, _ := asArray(doc[field])
				kept := bson.A{}
				for _, el := range arr {
					if elDoc, ok := asDoc(el); ok && matchDoc(elDoc, condDoc) {
						continue
					}
					kept = append(kept, el)
				}
				doc[field] = kept
			}
		case "$unset":
			for path := range fields {
				delete(doc, path)
			}
		}
	}
}

// setPath assigns a (possibly dotted or positional) path. A "field.$.rest"
// path resolves "$" to the first array element matched by the query, as the
// positional update operator does.
func setPath(doc bson.M, path string, v any, filter bson.M) {
	if i := strings.Index(path, ".$."); i >= 0 {
		field, rest := path[:i], path[i+len(".$."):]
		arr, ok := asArray(doc[field])
		if !ok {
			return
		}
		idx := positionalIndex(arr, field, filter)
		if idx < 0 {
			return
		}
		elDoc, ok := asDoc(arr[idx])
		if !ok {
			return
		}
		setPath(elDoc, rest, v, nil)
		arr[idx] = elDoc
		doc[field] = arr
		return
	}

	segs := strings.Split(path, ".")
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := asDoc(cur[seg])
		if !ok {
			next = bson.M{}
		}
		cur[seg] = next
		cur = next
	}
	cur[segs[len(segs)-1]] = copyValue(v)
}

func positionalIndex(arr bson.A, field string, filter bson.M) int {
	for key, cond := range filter {
		if !strings.HasPrefix(key, field+".") {
			continue
		}
		rest := key[len(field)+1:]
		for i, el := range arr {
			elDoc, ok := asDoc(el)
			if ok && matchField(elDoc, rest, cond) {
				return i
			}
		}
		return -1
	}
	if sub := elemMatchCondition(filter, field); sub != nil {
		for i, el := range arr {
			elDoc, ok := asDoc(el)
			if ok && matchDoc(elDoc, sub) {
				return i
			}
		}
	}
	return -1
}

// --- aggregation -----------------------------------------------------------

func applyStage(rows []bson.M, stage bson.M) []bson.M {
	for op, arg := range stage {
		switch op {
		case "$match":
			filter, _ := asDoc(arg)
			out := rows[:0:0]
			for _, row := range rows {
				if matchDoc(row, filter) {
					out = append(out, row)
				}
			}
			return out
		case "$limit":
			n := toInt64(arg)
			if n < int64(len(rows)) {
				return rows[:n]
			}
			return rows
		case "$unwind":
			field := strings.TrimPrefix(arg.(string), "$")
			out := rows[:0:0]
			for _, row := range rows {
				arr, ok := asArray(row[field])
				if !ok {
					continue
				}
				for _, el := range arr {
					unwound := copyDoc(row)
					unwound[field] = copyValue(el)
					out = append(out, unwound)
				}
			}
			return out
		case "$sort":
			keys, ok := arg.(bson.D)
			if ok {
				sortRows(rows, keys)
			}
			return rows
		case "$group":
			spec, _ := asDoc(arg)
			return groupRows(rows, spec)
		case "$project":
			spec, _ := asDoc(arg)
			out := make([]bson.M, 0, len(rows))
			for _, row := range rows {
				out = append(out, projectRow(row, spec))
			}
			return out
		}
	}
	return rows
}

func sortRows(rows []bson.M, keys bson.D) {
	if len(keys) == 0 {
		return
	}
	// Insertion sort keeps the original order of equal rows, mirroring a
	// stable sort over the stream.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rowLess(rows[j], rows[j-1], keys); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func rowLess(a, b bson.M, keys bson.D) bool {
	for _, key := range keys {
		dir := toInt64(key.Value)
		va := firstValue(a, key.Key)
		vb := firstValue(b, key.Key)
		c, ok := compareValues(va, vb)
		if !ok {
			if va == nil && vb != nil {
				c = -1
			} else if va != nil && vb == nil {
				c = 1
			} else {
				continue
			}
		}
		if c == 0 {
			continue
		}
		if dir < 0 {
			return c > 0
		}
		return c < 0
	}
	return false
}

func firstValue(doc bson.M, path string) any {
	values := lookupPath(doc, path)
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

func groupRows(rows []bson.M, spec bson.M) []bson.M {
	type group struct {
		key any
		doc bson.M
	}
	var groups []*group
	find := func(key any) *group {
		for _, g := range groups {
			if equalValues(g.key, key) {
				return g
			}
		}
		g := &group{key: key, doc: bson.M{"_id": key}}
		groups = append(groups, g)
		return g
	}

	for _, row := range rows {
		key := resolveExpr(row, spec["_id"])
		g := find(key)
		for field, acc := range spec {
			if field == "_id" {
				continue
			}
			accDoc, _ := asDoc(acc)
			if pushExpr, ok := accDoc["$push"]; ok {
				arr, _ := asArray(g.doc[field])
				g.doc[field] = append(arr, copyValue(resolveExpr(row, pushExpr)))
			}
		}
	}

	out := make([]bson.M, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.doc)
	}
	return out
}

func projectRow(row bson.M, spec bson.M) bson.M {
	out := bson.M{"_id": row["_id"]}
	for field, expr := range spec {
		if field == "_id" {
			continue
		}
		if n, ok := asFloat(expr); ok && n == 1 {
			if v, ok := row[field]; ok {
				out[field] = copyValue(v)
			}
			continue
		}
		exprDoc, ok := asDoc(expr)
		if !ok {
			continue
		}
		if args, ok := exprDoc["$slice"]; ok {
			out[field] = sliceExpr(row, args)
			continue
		}
		if sizeArg, ok := exprDoc["$size"]; ok {
			arr, _ := asArray(resolveExpr(row, sizeArg))
			out[field] = int64(len(arr))
		}
	}
	return out
}

func sliceExpr(row bson.M, args any) bson.A {
	list, _ := asArray(args)
	if len(list) != 3 {
		return bson.A{}
	}
	arr, _ := asArray(resolveExpr(row, list[0]))
	skip := toInt64(list[1])
	n := toInt64(list[2])

	start := skip
	if start > int64(len(arr)) {
		start = int64(len(arr))
	}
	end := int64(len(arr))
	if start+n < end {
		end = start + n
	}
	out := make(bson.A, 0, end-start)
	for _, el := range arr[start:end] {
		out = append(out, copyValue(el))
	}
	return out
}

// resolveExpr evaluates "$path" field references; any other value is a
// literal.
func resolveExpr(row bson.M, expr any) any {
	if s, ok := expr.(string); ok && strings.HasPrefix(s, "$") {
		return firstValue(row, strings.TrimPrefix(s, "$"))
	}
	return expr
}

// --- deep copy -------------------------------------------------------------

func copyDoc(doc bson.M) bson.M {
	out := bson.M{}
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	if doc, ok := asDoc(v); ok {
		return copyDoc(doc)
	}
	if arr, ok := asArray(v); ok {
		out := make(bson.A, len(arr))
		for i, el := range arr {
			out[i] = copyValue(el)
		}
		return out
	}
	return v
}
