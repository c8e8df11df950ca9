// Package dbctx carries an optional transaction alongside a context.Context
// so repository methods can participate in a caller's transaction without
// every signature growing a *gorm.DB parameter.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a context.Context with an optional in-flight transaction.
// Repositories call DB(base) to get the handle they should issue queries on:
// the transaction if one is present, otherwise the base connection.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// New wraps a bare context.Context with no transaction attached.
func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

// WithTx returns a copy of dc bound to tx.
func (dc Context) WithTx(tx *gorm.DB) Context {
	dc.Tx = tx
	return dc
}

// DB returns the handle a repository should issue queries on: dc.Tx if set,
// otherwise base with dc.Ctx attached via WithContext.
func (dc Context) DB(base *gorm.DB) *gorm.DB {
	if dc.Tx != nil {
		return dc.Tx.WithContext(dc.Ctx)
	}
	return base.WithContext(dc.Ctx)
}

// InTx reports whether dc carries an active transaction.
func (dc Context) InTx() bool {
	return dc.Tx != nil
}

// Runner opens a real database transaction and hands callers a Context bound
// to it, so a sequence of repository calls across packages (e.g. completing
// a job and enqueuing its follow-on) commits or rolls back as one unit.
type Runner struct {
	db *gorm.DB
}

// NewRunner wraps db for transactional use via WithTx.
func NewRunner(db *gorm.DB) Runner {
	return Runner{db: db}
}

// WithTx runs fn inside a single database transaction, passing it a Context
// bound to that transaction. fn's returned error rolls the transaction back.
func (r Runner) WithTx(ctx context.Context, fn func(Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(Context{Ctx: ctx, Tx: tx})
	})
}
