package nmemory

import (
	"log/slog"
	"time"

	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/locks"
	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/JonathanMagnan/nmemory/query"
	"github.com/JonathanMagnan/nmemory/utils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	DefaultLockTimeout   = 5 * time.Second
	DefaultPlanCacheSize = 1024
)

type options struct {
	logger        utils.Logger
	lockTimeout   time.Duration
	planCacheSize int
}

type Option func(*options)

func WithLogger(l utils.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

func WithPlanCacheSize(n int) Option {
	return func(o *options) { o.planCacheSize = n }
}

// Database is the table registry plus the shared collaborators every
// mutation pipeline needs: the lock coordinator, the query compiler, and
// the executor.
type Database struct {
	tables   *xsync.MapOf[string, *Table]
	locks    *locks.Coordinator
	compiler *query.Compiler
	executor *Executor
	logger   utils.Logger
}

func NewDatabase(opts ...Option) *Database {
	o := options{
		lockTimeout:   DefaultLockTimeout,
		planCacheSize: DefaultPlanCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	db := &Database{
		tables:   xsync.NewMapOf[string, *Table](),
		locks:    locks.NewCoordinator(o.lockTimeout),
		compiler: query.NewCompiler(o.planCacheSize),
		logger:   o.logger,
	}
	db.executor = &Executor{db: db}
	return db
}

func (db *Database) Logger() utils.Logger      { return db.logger }
func (db *Database) Locks() *locks.Coordinator { return db.locks }

// Tx is a transaction handle. Locks are scoped to it and held per operation;
// the handle itself carries no state besides its identity.
type Tx struct {
	id uuid.UUID
	db *Database
}

func (tx *Tx) ID() uuid.UUID { return tx.id }

func (db *Database) Begin() *Tx {
	return &Tx{id: uuid.New(), db: db}
}

// CreateTable registers a table with a unique primary index over the given
// fields. Table and relation creation happen at setup time, before
// concurrent transactions run.
func (db *Database) CreateTable(schema *entity.Schema, primaryFields ...string) (*Table, error) {
	if len(primaryFields) == 0 {
		return nil, errors.Wrap(entity.ErrBadFieldDescription, "no primary key fields")
	}
	fields, err := schema.FieldIndexes(primaryFields...)
	if err != nil {
		return nil, err
	}
	t := newTable(db, schema, fields)
	if _, dup := db.tables.LoadOrStore(schema.Name(), t); dup {
		return nil, errors.Wrapf(entity.ErrBadFieldDescription, "table %s already exists", schema.Name())
	}
	db.logger.Debug("table created", "table", schema.Name(), "primary", primaryFields)
	return t, nil
}

func (db *Database) Table(name string) (*Table, error) {
	t, ok := db.tables.Load(name)
	if !ok {
		return nil, errors.Wrap(nmemory_errors.ErrUnknownTable, name)
	}
	return t, nil
}

// CreateRelation registers a foreign key: referringFields of the referring
// table reference referredFields of the referred table. The referred fields
// must be the key of a unique index; the referring side gets a backing index
// (created if none exists) so reverse lookups never scan.
func (db *Database) CreateRelation(name string, referring *Table, referringFields []string,
	referred *Table, referredFields []string) (*Relation, error) {

	refFields, err := referring.schema.FieldIndexes(referringFields...)
	if err != nil {
		return nil, err
	}
	keyFields, err := referred.schema.FieldIndexes(referredFields...)
	if err != nil {
		return nil, err
	}
	if len(refFields) != len(keyFields) {
		return nil, errors.Wrapf(entity.ErrBadFieldDescription,
			"relation %s: key arity mismatch", name)
	}
	referredIx := referred.uniqueIndexOver(keyFields)
	if referredIx == nil {
		return nil, errors.Wrapf(nmemory_errors.ErrNoSuchIndex,
			"relation %s: %s has no unique index over %v", name, referred.Name(), referredFields)
	}
	referringIx := referring.indexOver(refFields)
	if referringIx == nil {
		referringIx, err = referring.CreateIndex("fk_"+name, false, referringFields...)
		if err != nil {
			return nil, err
		}
	}
	rel := &Relation{
		name:            name,
		referring:       referring,
		referringFields: refFields,
		referringIndex:  referringIx,
		referred:        referred,
		referredFields:  keyFields,
		referredIndex:   referredIx,
	}
	referring.referring = append(referring.referring, rel)
	referred.referred = append(referred.referred, rel)
	db.logger.Debug("relation created", "relation", name,
		"referring", referring.Name(), "referred", referred.Name())
	return rel, nil
}
