// Package session implements a unit of work over the persistence packages.
//
// Reads go straight to the database. Writes are buffered in memory: records
// passed to Add, Delete and SetRelated are only written by Commit, which flushes
// them inside one transaction. A Session is confined to a single request and is
// not safe for concurrent use.
package session

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conduit-lang/jsonapi/internal/orm/hooks"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/relationships"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/tracking"
	"github.com/conduit-lang/jsonapi/internal/orm/transaction"
	"go.uber.org/zap"
)

// Option configures a Session
type Option func(*Session)

// WithHooks sets the commit hooks run for new and dirty records
func WithHooks(reg *hooks.Registry) Option {
	return func(s *Session) {
		s.hooks = hooks.NewExecutor(reg)
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIsolation sets the isolation level of commit transactions
func WithIsolation(level transaction.IsolationLevel) Option {
	return func(s *Session) {
		s.txm = s.txm.WithIsolation(level)
	}
}

// linkChange remembers the link set a relationship had before the first SetRelated
type linkChange struct {
	rec      *schema.Record
	rel      *schema.Relationship
	original []*schema.Record
}

// Session is a unit of work
type Session struct {
	db      *sql.DB
	dialect query.Dialect
	models  *schema.Registry
	txm     *transaction.Manager
	hooks   *hooks.Executor
	loader  *relationships.Loader
	logger  *zap.Logger

	identity  map[string]*schema.Record
	tracked   []*schema.Record
	snapshots map[*schema.Record]tracking.Snapshot

	pending []*schema.Record
	deleted []*schema.Record
	links   []*linkChange
	linkIdx map[*schema.Record]map[string]*linkChange
}

// New creates a session over db
func New(db *sql.DB, dialect query.Dialect, models *schema.Registry, opts ...Option) *Session {
	s := &Session{
		db:        db,
		dialect:   dialect,
		models:    models,
		txm:       transaction.NewManager(db),
		hooks:     hooks.NewExecutor(nil),
		logger:    zap.NewNop(),
		identity:  make(map[string]*schema.Record),
		snapshots: make(map[*schema.Record]tracking.Snapshot),
		linkIdx:   make(map[*schema.Record]map[string]*linkChange),
	}
	s.loader = relationships.NewLoader(db, dialect, models).WithTracker(s.track)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Models returns the model registry
func (s *Session) Models() *schema.Registry { return s.models }

// Dialect returns the SQL dialect
func (s *Session) Dialect() query.Dialect { return s.dialect }

// Query starts a query over a model. Loaded records join the identity map, so a
// row is represented by a single record instance for the life of the session.
func (s *Session) Query(model string) (*query.Query, error) {
	m, err := s.models.Get(model)
	if err != nil {
		return nil, err
	}
	return query.New(s.db, s.dialect, s.models, m).
		WithLoader(s.loader).
		OnLoad(s.track), nil
}

// Get returns the record of a model with the given primary key. Records already
// in the identity map are returned without a query. It fails with query.ErrNoResult
// when no row matches.
func (s *Session) Get(ctx context.Context, model string, id interface{}) (*schema.Record, error) {
	if rec, ok := s.identity[model+":"+schema.FormatID(id)]; ok && !s.isDeleted(rec) {
		return rec, nil
	}

	q, err := s.Query(model)
	if err != nil {
		return nil, err
	}
	if _, err := q.WhereEq(map[string]interface{}{q.Model().PrimaryKey().Name: id}); err != nil {
		return nil, err
	}
	return q.One(ctx)
}

// Add schedules a new record for insertion. Adding a tracked record is a no-op.
func (s *Session) Add(rec *schema.Record) {
	if s.isTracked(rec) || s.isPending(rec) {
		return
	}
	s.pending = append(s.pending, rec)
}

// Delete schedules a record for deletion. A record added in this unit of work is
// simply discarded.
func (s *Session) Delete(rec *schema.Record) {
	for i, p := range s.pending {
		if p == rec {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
	if !s.isDeleted(rec) {
		s.deleted = append(s.deleted, rec)
	}
}

// Related returns the value of a relationship, loading it on first access: a
// *schema.Record or nil for to-one relationships, a []*schema.Record for to-many ones.
func (s *Session) Related(ctx context.Context, rec *schema.Record, name string) (interface{}, error) {
	rel, ok := rec.Model.Relationship(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no relationship %s", ErrUnknownRelationship, rec.Model.Name, name)
	}
	if v, ok := rec.Related(name); ok {
		return v, nil
	}

	if !s.isTracked(rec) {
		// unsaved records have nothing linked yet
		if rel.IsToMany() {
			rec.SetRelated(name, []*schema.Record{})
		} else {
			rec.SetRelated(name, nil)
		}
	} else if _, err := s.loader.LoadRelationship(ctx, []*schema.Record{rec}, rel); err != nil {
		return nil, err
	}

	v, _ := rec.Related(name)
	return v, nil
}

// SetRelated replaces the value of a relationship. value is a *schema.Record or nil
// for to-one relationships and a []*schema.Record for to-many ones. Unsaved records
// in value are inserted on commit.
func (s *Session) SetRelated(ctx context.Context, rec *schema.Record, name string, value interface{}) error {
	if s.isDeleted(rec) {
		return fmt.Errorf("%w: %s", ErrDeleted, rec.Key())
	}
	rel, ok := rec.Model.Relationship(name)
	if !ok {
		return fmt.Errorf("%w: %s has no relationship %s", ErrUnknownRelationship, rec.Model.Name, name)
	}

	var normalized interface{}
	switch v := value.(type) {
	case nil:
		if rel.IsToMany() {
			normalized = []*schema.Record{}
		}
	case *schema.Record:
		if rel.IsToMany() {
			return fmt.Errorf("%w: %s is to-many", ErrInvalidRelated, name)
		}
		if v != nil {
			normalized = v
		}
	case []*schema.Record:
		if !rel.IsToMany() {
			return fmt.Errorf("%w: %s is to-one", ErrInvalidRelated, name)
		}
		normalized = append([]*schema.Record{}, v...)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidRelated, value)
	}

	if _, seen := s.linkIdx[rec][name]; !seen {
		current, err := s.Related(ctx, rec, name)
		if err != nil {
			return err
		}
		change := &linkChange{rec: rec, rel: rel, original: asList(current)}
		s.links = append(s.links, change)
		if s.linkIdx[rec] == nil {
			s.linkIdx[rec] = make(map[string]*linkChange)
		}
		s.linkIdx[rec][name] = change
	}

	rec.SetRelated(name, normalized)
	return nil
}

// Commit flushes every pending change in one transaction. Before-commit hooks run
// inside the transaction; after-commit hooks run once it is committed. On failure
// the transaction and the in-memory state are rolled back and the error returned.
func (s *Session) Commit(ctx context.Context) error {
	fresh := s.collectNew()
	touched := s.collectTouched(fresh)

	// values of new records are changed by the flush, keep them for a failed commit
	before := make(map[*schema.Record]tracking.Snapshot, len(fresh))
	for _, rec := range fresh {
		before[rec] = tracking.Take(rec)
	}

	s.logger.Debug("committing unit of work",
		zap.Int("new", len(fresh)),
		zap.Int("touched", len(touched)),
		zap.Int("deleted", len(s.deleted)))

	err := s.txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.hooks.Execute(ctx, tx, hooks.BeforeCommit, touched); err != nil {
			return err
		}
		return s.flush(ctx, tx, fresh)
	})
	if err != nil {
		for rec, snap := range before {
			rec.Restore(snap)
		}
		s.Rollback()
		return err
	}

	s.finalize(fresh)
	return s.hooks.Execute(ctx, nil, hooks.AfterCommit, touched)
}

// Rollback discards every pending change and restores tracked records to their
// last committed values and links.
func (s *Session) Rollback() {
	for _, rec := range s.tracked {
		rec.Restore(s.snapshots[rec])
		s.snapshots[rec] = tracking.Take(rec)
	}
	for i := len(s.links) - 1; i >= 0; i-- {
		change := s.links[i]
		if change.rel.IsToMany() {
			change.rec.SetRelated(change.rel.Name, change.original)
		} else if len(change.original) > 0 {
			change.rec.SetRelated(change.rel.Name, change.original[0])
		} else {
			change.rec.SetRelated(change.rel.Name, nil)
		}
	}
	s.reset()
}

func (s *Session) reset() {
	s.pending = nil
	s.deleted = nil
	s.links = nil
	s.linkIdx = make(map[*schema.Record]map[string]*linkChange)
}

// track registers a loaded record, returning the instance already held for its row
func (s *Session) track(rec *schema.Record) *schema.Record {
	key := rec.Key()
	if existing, ok := s.identity[key]; ok {
		return existing
	}
	s.register(rec)
	return rec
}

func (s *Session) register(rec *schema.Record) {
	s.identity[rec.Key()] = rec
	s.tracked = append(s.tracked, rec)
	s.snapshots[rec] = tracking.Take(rec)
}

func (s *Session) finalize(fresh []*schema.Record) {
	for _, rec := range fresh {
		s.register(rec)
	}

	gone := make(map[*schema.Record]bool, len(s.deleted))
	for _, rec := range s.deleted {
		gone[rec] = true
		delete(s.identity, rec.Key())
		delete(s.snapshots, rec)
	}

	kept := s.tracked[:0]
	for _, rec := range s.tracked {
		if gone[rec] {
			continue
		}
		s.snapshots[rec] = tracking.Take(rec)
		kept = append(kept, rec)
	}
	s.tracked = kept
	s.reset()
}

func (s *Session) isTracked(rec *schema.Record) bool {
	_, ok := s.snapshots[rec]
	return ok
}

func (s *Session) isPending(rec *schema.Record) bool {
	for _, p := range s.pending {
		if p == rec {
			return true
		}
	}
	return false
}

func (s *Session) isDeleted(rec *schema.Record) bool {
	for _, d := range s.deleted {
		if d == rec {
			return true
		}
	}
	return false
}

// collectNew returns the records to insert: pending records plus unsaved records
// reachable from them or from changed links
func (s *Session) collectNew() []*schema.Record {
	seen := make(map[*schema.Record]bool)
	var out []*schema.Record

	var visit func(rec *schema.Record)
	visit = func(rec *schema.Record) {
		if rec == nil || seen[rec] || s.isTracked(rec) {
			return
		}
		seen[rec] = true
		out = append(out, rec)
		for _, name := range rec.LoadedRelationships() {
			v, _ := rec.Related(name)
			for _, related := range asList(v) {
				visit(related)
			}
		}
	}

	for _, rec := range s.pending {
		visit(rec)
	}
	for _, change := range s.links {
		v, _ := change.rec.Related(change.rel.Name)
		for _, related := range asList(v) {
			visit(related)
		}
	}
	return out
}

// collectTouched returns new records plus tracked records with column or link changes
func (s *Session) collectTouched(fresh []*schema.Record) []*schema.Record {
	touched := append([]*schema.Record{}, fresh...)
	for _, rec := range s.tracked {
		if s.isDeleted(rec) {
			continue
		}
		_, linked := s.linkIdx[rec]
		if linked || tracking.NewChangeTracker(s.snapshots[rec], rec).HasChanges() {
			touched = append(touched, rec)
		}
	}
	return touched
}

func asList(v interface{}) []*schema.Record {
	switch r := v.(type) {
	case *schema.Record:
		if r == nil {
			return nil
		}
		return []*schema.Record{r}
	case []*schema.Record:
		return append([]*schema.Record{}, r...)
	default:
		return nil
	}
}
