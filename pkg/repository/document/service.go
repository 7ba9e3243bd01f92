package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doclayer/doclayer/pkg/lifecycle"
	"github.com/doclayer/doclayer/pkg/observability/logger"
	"github.com/doclayer/doclayer/pkg/observability/metrics"
	"github.com/doclayer/doclayer/pkg/observability/tracing"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ChannelNames are the logical lifecycle notification channels.
type ChannelNames struct {
	Created string
	Updated string
	Deleted string
}

// DefaultChannelNames returns the default channel names.
func DefaultChannelNames() ChannelNames {
	return ChannelNames{Created: "CREATED", Updated: "PATCH", Deleted: "DELETED"}
}

// Config configures a document service instance. Collection is required; all
// other fields have working defaults.
type Config struct {
	// Collection is the target collection and the resource name reported in
	// errors and lifecycle events.
	Collection string

	// Channels overrides the lifecycle channel names. Empty names fall back
	// to the defaults.
	Channels ChannelNames

	// DefaultPageSize bounds list queries whose options carry no limit.
	// Zero means unbounded.
	DefaultPageSize int64

	// Bus receives lifecycle notifications. Defaults to an instance-scoped
	// in-memory bus.
	Bus lifecycle.Bus

	Logger logger.Logger
}

// Service provides CRUD operations with soft-delete semantics and audit-field
// stamping for a single collection. T is the persisted record type (embedding
// Meta); U is the actor type recorded in audit fields.
//
// Every mutation stamps updatedAt/updatedBy on the top-level document;
// creation stamps createdAt/createdBy. Soft-deleted documents are invisible
// to every operation unless the caller filters on deleted explicitly; hard
// deletes bypass soft-delete filtering entirely.
type Service[T any, U any] struct {
	exec       Executor
	collection string
	channels   ChannelNames
	pageSize   int64
	bus        lifecycle.Bus
	log        logger.Logger
	now        func() time.Time
}

// NewService creates a document service over the given executor.
func NewService[T any, U any](exec Executor, cfg Config) (*Service[T, U], error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	channels := cfg.Channels
	defaults := DefaultChannelNames()
	if channels.Created == "" {
		channels.Created = defaults.Created
	}
	if channels.Updated == "" {
		channels.Updated = defaults.Updated
	}
	if channels.Deleted == "" {
		channels.Deleted = defaults.Deleted
	}

	bus := cfg.Bus
	if bus == nil {
		bus = lifecycle.NewInMemoryBus()
	}
	log := cfg.Logger
	if log == nil {
		log = noopLogger{}
	}

	return &Service[T, U]{
		exec:       exec,
		collection: cfg.Collection,
		channels:   channels,
		pageSize:   cfg.DefaultPageSize,
		bus:        bus,
		log:        log,
		now:        time.Now,
	}, nil
}

// Bus returns the lifecycle bus this instance publishes to.
func (s *Service[T, U]) Bus() lifecycle.Bus {
	return s.bus
}

// Channels returns the configured lifecycle channel names.
func (s *Service[T, U]) Channels() ChannelNames {
	return s.channels
}

// Executor exposes the underlying execution contract for callers composing
// multi-step transactional work.
func (s *Service[T, U]) Executor() Executor {
	return s.exec
}

// Subscribe registers a handler on one of the lifecycle channels.
func (s *Service[T, U]) Subscribe(ctx context.Context, channel string, handler func(lifecycle.Event)) (lifecycle.Subscription, error) {
	return s.bus.Subscribe(ctx, channel, handler)
}

// Create inserts data with createdAt/createdBy stamped, generating an id when
// the record carries none. Emits a created event with the persisted document.
// A unique-index violation surfaces as *DuplicateKeyError.
func (s *Service[T, U]) Create(ctx context.Context, data T, user U) (out *T, err error) {
	ctx, done := s.observe(ctx, tracing.SpanOperationInsert, "create")
	defer func() { done(err) }()

	doc, err := toDoc(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.collection, err)
	}
	if id, _ := doc["_id"].(string); id == "" {
		doc["_id"] = uuid.NewString()
	}
	doc["createdAt"] = s.now().UTC()
	doc["createdBy"] = user

	if _, err = s.exec.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ParseDuplicateKeyError(err.Error())
		}
		return nil, fmt.Errorf("insert %s: %w", s.collection, err)
	}

	var created T
	if err = fromDoc(doc, &created); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.collection, err)
	}
	s.emit(ctx, s.channels.Created, doc)
	return &created, nil
}

// Get returns the single non-deleted document matching filter, or
// *NotFoundError when none matches.
func (s *Service[T, U]) Get(ctx context.Context, filter Filter, projection ...string) (out *T, err error) {
	ctx, done := s.observe(ctx, tracing.SpanOperationQuery, "get")
	defer func() { done(err) }()

	doc, err := s.exec.FindOne(ctx, withSoftDeleteDefault(filter), projectionDocument(projection))
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, NewNotFoundError(s.collection, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", s.collection, err)
	}
	var found T
	if err = fromDoc(doc, &found); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.collection, err)
	}
	return &found, nil
}

// GetByID returns the non-deleted document with the given id.
func (s *Service[T, U]) GetByID(ctx context.Context, id string, projection ...string) (*T, error) {
	return s.Get(ctx, Filter{"_id": id}, projection...)
}

// List returns every non-deleted document matching the options, sorted then
// paginated. An empty result is not an error.
func (s *Service[T, U]) List(ctx context.Context, opts ListOptions) (out []T, err error) {
	ctx, done := s.observe(ctx, tracing.SpanOperationQuery, "list")
	defer func() { done(err) }()

	limit := opts.Limit
	if limit <= 0 {
		limit = s.pageSize
	}
	docs, err := s.exec.Find(ctx, withSoftDeleteDefault(opts.Filter), FindOptions{
		Sort:       sortDocument("", opts.Sort),
		Skip:       opts.Skip,
		Limit:      limit,
		Projection: projectionDocument(opts.Projection),
	})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", s.collection, err)
	}

	out = make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err = fromDoc(doc, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.collection, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Count returns the number of non-deleted documents matching filter.
func (s *Service[T, U]) Count(ctx context.Context, filter Filter) (n int64, err error) {
	ctx, done := s.observe(ctx, tracing.SpanOperationQuery, "count")
	defer func() { done(err) }()

	n, err = s.exec.CountDocuments(ctx, withSoftDeleteDefault(filter))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.collection, err)
	}
	return n, nil
}

// Patch assigns the given fields on the document matching filter.
func (s *Service[T, U]) Patch(ctx context.Context, filter Filter, fields Fields, user U) (out *T, err error) {
	ctx, done := s.observe(ctx, tracing.SpanOperationUpdate, "patch")
	defer func() { done(err) }()
	return s.applyUpdate(ctx, filter, Set(fields), user)
}

// PatchByID assigns the given fields on the document with the given id.
func (s *Service[T, U]) PatchByID(ctx context.Context, id string, fields Fields, user U) (*T, error) {
	return s.Patch(ctx, Filter{"_id": id}, fields, user)
}

// Update applies an update document to the document matching filter,
// atomically returning the new state. updatedAt/updatedBy are merged into the
// update's $set clause. A filter matching nothing (including soft-deleted
// targets) surfaces as *NotFoundError. Emits an updated event.
func (s *Service[T, U]) Update(ctx context.Context, filter Filter, upd Update, user U) (out *T, err error) {
	ctx, done := s.observe(ctx, tracing.SpanOperationUpdate, "update")
	defer func() { done(err) }()
	return s.applyUpdate(ctx, filter, upd, user)
}

// UpdateByID applies an update document to the document with the given id.
func (s *Service[T, U]) UpdateByID(ctx context.Context, id string, upd Update, user U) (*T, error) {
	return s.Update(ctx, Filter{"_id": id}, upd, user)
}

// SoftDelete marks the document deleted with deletedAt/deletedBy stamped. The
// record stays queryable through an explicit deleted filter.
func (s *Service[T, U]) SoftDelete(ctx context.Context, id string, user U) (out *T, err error) {
	ctx, done := s.observe(ctx, tracing.SpanOperationDelete, "soft_delete")
	defer func() { done(err) }()

	now := s.now().UTC()
	return s.applyUpdate(ctx, Filter{"_id": id}, Set(Fields{
		"deleted":   true,
		"deletedAt": now,
		"deletedBy": user,
	}), user)
}

// HardDelete physically removes the document regardless of its soft-delete
// state. Removing a missing document is a no-op returning nil. Emits a
// deleted event when a document was removed.
func (s *Service[T, U]) HardDelete(ctx context.Context, id string) (out *T, err error) {
	ctx, done := s.observe(ctx, tracing.SpanOperationDelete, "hard_delete")
	defer func() { done(err) }()

	doc, err := s.exec.FindOneAndDelete(ctx, bson.M{"_id": id})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", s.collection, err)
	}
	var removed T
	if err = fromDoc(doc, &removed); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.collection, err)
	}
	s.emit(ctx, s.channels.Deleted, doc)
	return &removed, nil
}

// WithTransaction runs fn within a transaction scope and returns its result.
func (s *Service[T, U]) WithTransaction(ctx context.Context, fn func(ctx context.Context) (any, error)) (out any, err error) {
	ctx, done := s.observe(ctx, tracing.SpanOperationTx, "transaction")
	defer func() { done(err) }()
	return s.exec.WithTransaction(ctx, fn)
}

// applyUpdate decodes the raw update result into the record type.
func (s *Service[T, U]) applyUpdate(ctx context.Context, filter Filter, upd Update, user U) (*T, error) {
	doc, err := s.findOneAndUpdate(ctx, filter, upd, user)
	if err != nil {
		return nil, err
	}
	var updated T
	if err := fromDoc(doc, &updated); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.collection, err)
	}
	return &updated, nil
}

// findOneAndUpdate stamps updatedAt/updatedBy into the update's $set clause,
// applies the soft-delete default to the filter, and atomically returns the
// post-update document. Emits an updated event on success.
func (s *Service[T, U]) findOneAndUpdate(ctx context.Context, filter Filter, upd Update, user U) (bson.M, error) {
	updateDoc := upd.document()
	set := setClause(updateDoc)
	set["updatedAt"] = s.now().UTC()
	set["updatedBy"] = user

	doc, err := s.exec.FindOneAndUpdate(ctx, withSoftDeleteDefault(filter), updateDoc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, NewNotFoundError(s.collection, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", s.collection, err)
	}
	s.emit(ctx, s.channels.Updated, doc)
	return doc, nil
}

// emit publishes a lifecycle event. Emission is fire-and-forget; publish
// failures are logged, never surfaced to the caller.
func (s *Service[T, U]) emit(ctx context.Context, channel string, doc bson.M) {
	event := lifecycle.Event{
		Channel:  channel,
		Resource: s.collection,
		At:       s.now().UTC(),
		Document: doc,
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Warn("lifecycle publish failed", "channel", channel, "collection", s.collection, "error", err)
	}
}

// observe starts a span for the operation and returns a finish callback that
// records metrics and closes the span.
func (s *Service[T, U]) observe(ctx context.Context, op tracing.SpanOperation, name string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.StartDatabaseSpan(ctx, op, s.collection)
	return ctx, func(err error) {
		status := "ok"
		var notFound *NotFoundError
		var duplicate *DuplicateKeyError
		switch {
		case err == nil:
		case errors.As(err, &notFound):
			status = "not_found"
		case errors.As(err, &duplicate):
			status = "duplicate_key"
		default:
			status = "error"
		}
		metrics.ObserveOperation(s.collection, name, status, time.Since(start))
		tracing.EndSpan(span, err)
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any)                      {}
func (noopLogger) Info(string, ...any)                       {}
func (noopLogger) Warn(string, ...any)                       {}
func (noopLogger) Error(string, ...any)                      {}
func (n noopLogger) With(...any) logger.Logger               { return n }
func (n noopLogger) WithContext(context.Context) logger.Logger { return n }
