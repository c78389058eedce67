// Package backend is the single access path to persisted collections.
//
// Callers describe reads with a Query (filter, order, limit/offset) and
// writes with plain Rows. Two credential tiers exist: a Restricted store
// bound to one identity and subject to row-ownership policies, and a
// Privileged capability for trusted server code that bypasses them.
package backend

import (
	"context"
	"time"
)

// Row is one record of a collection keyed by column name.
type Row map[string]any

// Op is a filter comparison.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpLike
	OpIn
	OpLt
	OpGt
	OpLte
	OpOr
)

// Condition is one predicate. A Filter ANDs its conditions together.
type Condition struct {
	Column string
	Op     Op
	Value  any
	Values []any
	Any    []Condition
}

type Filter []Condition

// Eq matches rows whose column equals v.
func Eq(column string, v any) Condition {
	return Condition{Column: column, Op: OpEq, Value: v}
}

// Neq matches rows whose column differs from v. NULL never matches.
func Neq(column string, v any) Condition {
	return Condition{Column: column, Op: OpNeq, Value: v}
}

// Like matches a case-insensitive pattern where % is any run and _ one char.
func Like(column, pattern string) Condition {
	return Condition{Column: column, Op: OpLike, Value: pattern}
}

// Contains is Like with the term wrapped in wildcards.
func Contains(column, term string) Condition {
	return Like(column, "%"+escapeLike(term)+"%")
}

// EqualFold is Like without wildcards.
func EqualFold(column, term string) Condition {
	return Like(column, escapeLike(term))
}

// In matches rows whose column is one of vs. An empty list matches nothing.
func In(column string, vs ...any) Condition {
	return Condition{Column: column, Op: OpIn, Values: vs}
}

// Before matches rows whose column is strictly less than v.
func Before(column string, v time.Time) Condition {
	return Condition{Column: column, Op: OpLt, Value: v}
}

// After matches rows whose column is strictly greater than v.
func After(column string, v time.Time) Condition {
	return Condition{Column: column, Op: OpGt, Value: v}
}

// NotAfter matches rows whose column is less than or equal to v.
func NotAfter(column string, v time.Time) Condition {
	return Condition{Column: column, Op: OpLte, Value: v}
}

// Or matches rows satisfying at least one of conds.
func Or(conds ...Condition) Condition {
	return Condition{Op: OpOr, Any: conds}
}

// Order sorts by Column, descending when Desc is set.
type Order struct {
	Column string
	Desc   bool
}

// Query describes a read. Zero Limit means no limit. Total is populated in
// the returned Page only when Count is set.
type Query struct {
	Filter Filter
	Order  []Order
	Limit  int
	Offset int
	Count  bool
}

// Page is the result of Find.
type Page struct {
	Rows  []Row
	Total int
}

// Store is implemented by every backend tier.
type Store interface {
	Find(ctx context.Context, collection string, q Query) (Page, error)
	Insert(ctx context.Context, collection string, row Row) error
	Update(ctx context.Context, collection string, filter Filter, patch Row) (int64, error)
	// Upsert inserts row, or on conflict over conflictKey overwrites the
	// row's other columns on the existing record.
	Upsert(ctx context.Context, collection string, row Row, conflictKey ...string) error
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)
	Count(ctx context.Context, collection string, filter Filter) (int, error)
}

// FindOne returns the first row matching filter, or nil when none does.
func FindOne(ctx context.Context, s Store, collection string, filter Filter, order ...Order) (Row, error) {
	page, err := s.Find(ctx, collection, Query{Filter: filter, Order: order, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(page.Rows) == 0 {
		return nil, nil
	}
	return page.Rows[0], nil
}

func escapeLike(term string) string {
	out := make([]rune, 0, len(term))
	for _, r := range term {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
