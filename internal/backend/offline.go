package backend

import (
	"context"
	"errors"
)

// Offline fails every call with ErrBackendUnavailable. It stands in for the
// primary store when no database could be opened at startup.
type Offline struct {
	Reason error
}

func (o Offline) err(op, collection string) error {
	reason := o.Reason
	if reason == nil {
		reason = errors.New("no database configured")
	}
	return &Error{Kind: ErrBackendUnavailable, Op: op, Collection: collection, Err: reason}
}

func (o Offline) Find(_ context.Context, collection string, _ Query) (Page, error) {
	return Page{}, o.err("find", collection)
}

func (o Offline) Insert(_ context.Context, collection string, _ Row) error {
	return o.err("insert", collection)
}

func (o Offline) Update(_ context.Context, collection string, _ Filter, _ Row) (int64, error) {
	return 0, o.err("update", collection)
}

func (o Offline) Upsert(_ context.Context, collection string, _ Row, _ ...string) error {
	return o.err("upsert", collection)
}

func (o Offline) Delete(_ context.Context, collection string, _ Filter) (int64, error) {
	return 0, o.err("delete", collection)
}

func (o Offline) Count(_ context.Context, collection string, _ Filter) (int, error) {
	return 0, o.err("count", collection)
}
