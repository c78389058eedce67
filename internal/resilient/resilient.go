// Package resilient serves reads from the primary backend and falls back to
// a local sample dataset when the primary fails. Writes never fall back.
package resilient

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukerupert/mise/internal/backend"
)

const (
	NoticeSampleData  = "Showing sample data while the directory is unavailable."
	ErrMsgUnavailable = "The service is temporarily unavailable. Please try again later."
	ErrMsgNotFound    = "Not found."
	ErrMsgForbidden   = "You do not have access to this resource."
)

// Result is what every read and core write hands to a UI caller. Error is
// always safe to show.
type Result[T any] struct {
	Data     T      `json:"data"`
	Total    int    `json:"total,omitempty"`
	Success  bool   `json:"success"`
	Degraded bool   `json:"degraded,omitempty"`
	Notice   string `json:"notice,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ok wraps data in a successful result.
func Ok[T any](data T) Result[T] {
	return Result[T]{Data: data, Success: true}
}

// Fail converts err into a failed result. Invalid input keeps its message;
// everything else gets a generic one.
func Fail[T any](err error) Result[T] {
	var r Result[T]
	switch {
	case errors.Is(err, backend.ErrInvalidInput):
		r.Error = invalidInputMessage(err)
	case errors.Is(err, backend.ErrNotFound):
		r.Error = ErrMsgNotFound
	case errors.Is(err, backend.ErrForbidden):
		r.Error = ErrMsgForbidden
	default:
		r.Error = ErrMsgUnavailable
		r.Degraded = errors.Is(err, backend.ErrBackendUnavailable)
	}
	return r
}

// InputError marks a caller mistake whose message may be shown verbatim.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func (e *InputError) Unwrap() error { return backend.ErrInvalidInput }

// Invalid returns an InputError.
func Invalid(msg string) error {
	return &InputError{Msg: msg}
}

func invalidInputMessage(err error) string {
	var ie *InputError
	if errors.As(err, &ie) {
		return ie.Msg
	}
	return "Invalid input."
}

// Map converts the data of r row by row.
func Map[T any](r Result[[]backend.Row], fn func(backend.Row) T) Result[[]T] {
	out := Result[[]T]{
		Total:    r.Total,
		Success:  r.Success,
		Degraded: r.Degraded,
		Notice:   r.Notice,
		Error:    r.Error,
		Data:     make([]T, 0, len(r.Data)),
	}
	for _, row := range r.Data {
		out.Data = append(out.Data, fn(row))
	}
	return out
}

// Layer is the fallback decorator. samples holds the sample rows for every
// collection that may be served degraded.
type Layer struct {
	primary backend.Store
	samples backend.Store
	logger  *slog.Logger
}

func New(primary, samples backend.Store, logger *slog.Logger) *Layer {
	return &Layer{
		primary: primary,
		samples: samples,
		logger:  logger.With("component", "resilient"),
	}
}

// Find queries the primary store, then the samples with the same query.
// Only a failure of both yields Success false.
func (l *Layer) Find(ctx context.Context, collection string, q backend.Query) Result[[]backend.Row] {
	page, err := l.primary.Find(ctx, collection, q)
	if err == nil {
		return Result[[]backend.Row]{Data: page.Rows, Total: page.Total, Success: true}
	}
	if errors.Is(err, backend.ErrInvalidInput) || errors.Is(err, backend.ErrForbidden) {
		return Fail[[]backend.Row](err)
	}
	l.logger.Warn("primary read failed, serving samples", "collection", collection, "error", err)

	page, sampleErr := l.samples.Find(ctx, collection, q)
	if sampleErr != nil {
		l.logger.Error("sample read failed", "collection", collection, "error", sampleErr)
		r := Fail[[]backend.Row](err)
		r.Data = []backend.Row{}
		return r
	}
	return Result[[]backend.Row]{
		Data:     page.Rows,
		Total:    page.Total,
		Success:  true,
		Degraded: true,
		Notice:   NoticeSampleData,
	}
}

// FindOne is Find limited to one row. A missing row is a failed result with
// the not-found message.
func (l *Layer) FindOne(ctx context.Context, collection string, filter backend.Filter) Result[backend.Row] {
	r := l.Find(ctx, collection, backend.Query{Filter: filter, Limit: 1})
	out := Result[backend.Row]{Success: r.Success, Degraded: r.Degraded, Notice: r.Notice, Error: r.Error}
	if !r.Success {
		return out
	}
	if len(r.Data) == 0 {
		out.Success = false
		out.Error = ErrMsgNotFound
		return out
	}
	out.Data = r.Data[0]
	return out
}

// Count falls back like Find.
func (l *Layer) Count(ctx context.Context, collection string, filter backend.Filter) Result[int] {
	n, err := l.primary.Count(ctx, collection, filter)
	if err == nil {
		return Ok(n)
	}
	l.logger.Warn("primary count failed, counting samples", "collection", collection, "error", err)
	n, sampleErr := l.samples.Count(ctx, collection, filter)
	if sampleErr != nil {
		return Fail[int](err)
	}
	return Result[int]{Data: n, Success: true, Degraded: true, Notice: NoticeSampleData}
}

// Write runs fn against the primary store only.
func (l *Layer) Write(ctx context.Context, op string, fn func(ctx context.Context, s backend.Store) error) Result[struct{}] {
	if err := fn(ctx, l.primary); err != nil {
		l.logger.Warn("write failed", "op", op, "error", err)
		return Fail[struct{}](err)
	}
	return Ok(struct{}{})
}

// Do runs fn and wraps its value. It is for writes that go through a
// collaborator holding its own store, such as admin provisioning.
func Do[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) Result[T] {
	v, err := fn(ctx)
	if err != nil {
		return Fail[T](err)
	}
	return Ok(v)
}
