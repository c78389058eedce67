package backend

import (
	"context"
	"fmt"
	"log/slog"
)

// OwnerPolicy returns the filter selecting rows identityID owns. base is the
// unrestricted store, for policies that need to look up related rows.
type OwnerPolicy func(ctx context.Context, base Store, identityID string) (Filter, error)

// Rule is the row-ownership policy for one collection.
type Rule struct {
	// Owner limits reads and writes to owned rows. Nil means no owner access.
	Owner OwnerPolicy
	// PublicRead allows any caller, signed in or not, to read every row.
	PublicRead bool
	// PublicInsert allows any caller to insert rows.
	PublicInsert bool
}

// Policies maps collection names to rules. Collections without a rule are
// not reachable through the restricted tier at all.
type Policies map[string]Rule

// Access hands out both credential tiers over a single base store.
type Access struct {
	base     Store
	policies Policies
	logger   *slog.Logger
}

func NewAccess(base Store, policies Policies, logger *slog.Logger) *Access {
	return &Access{base: base, policies: policies, logger: logger}
}

// Restricted returns a store bound to identityID. An empty identityID is an
// anonymous caller and only sees public rules.
func (a *Access) Restricted(identityID string) *Restricted {
	return &Restricted{base: a.base, policies: a.policies, identityID: identityID}
}

// Privileged returns the capability for trusted server code.
func (a *Access) Privileged() Privileged {
	return Privileged{store: a.base, logger: a.logger}
}

// Privileged is the capability to bypass row policies. It is passed
// explicitly to the code that needs it; For logs every use with the call
// site's purpose.
type Privileged struct {
	store  Store
	logger *slog.Logger
}

// NewPrivileged wraps store directly. Tests use it.
func NewPrivileged(store Store, logger *slog.Logger) Privileged {
	return Privileged{store: store, logger: logger}
}

// For returns the unrestricted store for one purpose.
func (p Privileged) For(purpose string) Store {
	if p.logger != nil {
		p.logger.Debug("privileged backend access", "purpose", purpose)
	}
	return p.store
}

// Valid reports whether the capability was actually granted.
func (p Privileged) Valid() bool {
	return p.store != nil
}

// Restricted enforces Policies for a single identity.
type Restricted struct {
	base       Store
	policies   Policies
	identityID string
}

// IdentityID is the identity this store is bound to.
func (r *Restricted) IdentityID() string {
	return r.identityID
}

func (r *Restricted) ownerFilter(ctx context.Context, collection string) (Filter, bool, error) {
	rule, ok := r.policies[collection]
	if !ok {
		return nil, false, fmt.Errorf("%w: no policy for %s", ErrForbidden, collection)
	}
	if rule.Owner == nil || r.identityID == "" {
		return nil, false, nil
	}
	f, err := rule.Owner(ctx, r.base, r.identityID)
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

func (r *Restricted) Find(ctx context.Context, collection string, q Query) (Page, error) {
	owned, ok, err := r.ownerFilter(ctx, collection)
	if err != nil {
		return Page{}, classify("find", collection, err)
	}
	switch {
	case r.policies[collection].PublicRead:
	case ok:
		q.Filter = append(append(Filter{}, q.Filter...), owned...)
	default:
		return Page{}, classify("find", collection, fmt.Errorf("%w: read %s", ErrForbidden, collection))
	}
	return r.base.Find(ctx, collection, q)
}

func (r *Restricted) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	page, err := r.Find(ctx, collection, Query{Filter: filter, Limit: 1, Count: true})
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

func (r *Restricted) Insert(ctx context.Context, collection string, row Row) error {
	if err := r.checkWrite(ctx, collection, row); err != nil {
		return classify("insert", collection, err)
	}
	return r.base.Insert(ctx, collection, row)
}

func (r *Restricted) Upsert(ctx context.Context, collection string, row Row, conflictKey ...string) error {
	if err := r.checkWrite(ctx, collection, row); err != nil {
		return classify("upsert", collection, err)
	}
	return r.base.Upsert(ctx, collection, row, conflictKey...)
}

func (r *Restricted) checkWrite(ctx context.Context, collection string, row Row) error {
	owned, ok, err := r.ownerFilter(ctx, collection)
	if err != nil {
		return err
	}
	if r.policies[collection].PublicInsert {
		return nil
	}
	if ok && Match(row, owned) {
		return nil
	}
	return fmt.Errorf("%w: write %s", ErrForbidden, collection)
}

func (r *Restricted) Update(ctx context.Context, collection string, filter Filter, patch Row) (int64, error) {
	owned, ok, err := r.ownerFilter(ctx, collection)
	if err != nil {
		return 0, classify("update", collection, err)
	}
	if !ok {
		return 0, classify("update", collection, fmt.Errorf("%w: update %s", ErrForbidden, collection))
	}
	// The patch may not move a row out of the caller's ownership.
	for _, c := range owned {
		if _, touched := patch[c.Column]; touched {
			return 0, classify("update", collection, fmt.Errorf("%w: update %s.%s", ErrForbidden, collection, c.Column))
		}
	}
	return r.base.Update(ctx, collection, append(append(Filter{}, filter...), owned...), patch)
}

func (r *Restricted) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	owned, ok, err := r.ownerFilter(ctx, collection)
	if err != nil {
		return 0, classify("delete", collection, err)
	}
	if !ok {
		return 0, classify("delete", collection, fmt.Errorf("%w: delete %s", ErrForbidden, collection))
	}
	return r.base.Delete(ctx, collection, append(append(Filter{}, filter...), owned...))
}

// ColumnOwner is the policy "column equals the caller's identity id".
func ColumnOwner(column string) OwnerPolicy {
	return func(_ context.Context, _ Store, identityID string) (Filter, error) {
		return Filter{Eq(column, identityID)}, nil
	}
}

// ParentOwner is the policy "column references a row of parent that the
// caller owns through parentColumn".
func ParentOwner(column, parent, parentColumn string) OwnerPolicy {
	return func(ctx context.Context, base Store, identityID string) (Filter, error) {
		page, err := base.Find(ctx, parent, Query{Filter: Filter{Eq(parentColumn, identityID)}})
		if err != nil {
			return nil, err
		}
		ids := make([]any, 0, len(page.Rows))
		for _, row := range page.Rows {
			ids = append(ids, row["id"])
		}
		return Filter{In(column, ids...)}, nil
	}
}
