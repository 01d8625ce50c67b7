// Package store is the Store component (§4.5's persistence layer):
// gorm-backed repositories for every entity in §3, a shared
// transaction helper, and the retryable-error classifier that maps a
// Postgres error into the §7 StoreFailure kind.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/lockmint/bridge/internal/apperrors"
	"github.com/lockmint/bridge/internal/metrics"
	"github.com/lockmint/bridge/internal/model"
)

// AutoMigrate creates or updates every table this package owns. Called
// once at process startup, before any repository is used.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.ChainCursor{},
		&model.BridgeEvent{},
		&model.BridgeTransaction{},
		&model.Transfer{},
		&model.ValidatorSignature{},
	)
}

const metricsStartKey = "lockmint:query_start"

// InstrumentMetrics registers gorm callbacks that time every query and
// feed metrics.DBQueryDuration, without threading a timer through every
// repository method.
func InstrumentMetrics(db *gorm.DB) error {
	before := func(db *gorm.DB) { db.InstanceSet(metricsStartKey, time.Now()) }
	after := func(operation string) func(*gorm.DB) {
		return func(db *gorm.DB) {
			startVal, ok := db.InstanceGet(metricsStartKey)
			if !ok {
				return
			}
			start, ok := startVal.(time.Time)
			if !ok {
				return
			}
			metrics.DBQueryDuration.WithLabelValues(operation, db.Statement.Table).Observe(time.Since(start).Seconds())
		}
	}

	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("metrics:before_create", before); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("metrics:after_create", after("create")); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("metrics:before_query", before); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("metrics:after_query", after("query")); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("metrics:before_update", before); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("metrics:after_update", after("update")); err != nil {
		return err
	}
	return nil
}

const (
	pgErrSerializationFailure  = "40001"
	pgErrDeadlockDetected      = "40P01"
	pgErrConnectionFailure     = "08006"
	pgErrConnectionException   = "08000"
	pgErrSQLClientCantConnect  = "08001"
	pgErrInsufficientResources = "53000"
	pgErrTooManyConnections    = "53300"
	pgErrQueryCanceled         = "57014"
	pgErrCannotConnectNow      = "57P03"
)

// Base wraps a *gorm.DB with context-scoped transactions shared by every
// repository in this package.
type Base struct {
	db *gorm.DB
}

// NewBase wraps db.
func NewBase(db *gorm.DB) *Base {
	return &Base{db: db}
}

type txKey struct{}

// DB returns the transaction bound to ctx, or a fresh context-scoped
// session over the base connection.
func (b *Base) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return b.db.WithContext(ctx)
}

// Transaction runs fn inside a database transaction, propagating it to
// nested repository calls via ctx.
func (b *Base) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify wraps a raw gorm/pg error as a §7 StoreFailure, unless it is
// already a typed apperrors.Error. The retryable verdict comes from
// IsRetryable's Postgres error-code table, not from StoreFailure's
// blanket Kind default, so a deterministic constraint violation fails
// fast instead of being retried forever alongside a transient deadlock.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return apperrors.WrapClassified(apperrors.KindStoreFailure, err, IsRetryable(err), "store operation failed")
}

// IsRetryable reports whether err is a transient Postgres condition the
// watcher's caller should back off and retry rather than abandoning the
// current window (§7 StoreFailure policy).
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrSerializationFailure, pgErrDeadlockDetected,
			pgErrConnectionFailure, pgErrConnectionException, pgErrSQLClientCantConnect,
			pgErrInsufficientResources, pgErrTooManyConnections,
			pgErrQueryCanceled, pgErrCannotConnectNow:
			return true
		}
		return false
	}
	return apperrors.IsRetryable(err)
}

// Pagination bounds a list query. Default 50, ceiling 100 (§6.4).
type Pagination struct {
	Offset int
	Limit  int
}

// normalize applies the §6.4 default/ceiling to p.
func (p Pagination) normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

