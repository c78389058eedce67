package backend

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the SQL differences between the supported engines.
type Dialect struct {
	Name        string
	likeOp      string
	placeholder func(n int) string
	noLimit     string
}

var (
	SQLite = Dialect{
		Name:        "sqlite",
		likeOp:      "LIKE",
		placeholder: func(int) string { return "?" },
		noLimit:     "LIMIT -1",
	}
	Postgres = Dialect{
		Name:        "postgres",
		likeOp:      "ILIKE",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		noLimit:     "LIMIT ALL",
	}
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLStore implements Store over database/sql. It applies no row policy;
// wrap it with Restricted or hand it out through Privileged.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
}

// NewSQLStore bounds every call by timeout; zero disables the bound.
func NewSQLStore(db *sql.DB, dialect Dialect, timeout time.Duration) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, timeout: timeout}
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *SQLStore) Find(ctx context.Context, collection string, q Query) (Page, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b := s.newBuilder()
	b.WriteString("SELECT * FROM ")
	if err := b.ident(collection); err != nil {
		return Page{}, classify("find", collection, err)
	}
	if err := b.where(q.Filter); err != nil {
		return Page{}, classify("find", collection, err)
	}
	if err := b.orderBy(q.Order); err != nil {
		return Page{}, classify("find", collection, err)
	}
	b.limit(q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return Page{}, classify("find", collection, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return Page{}, classify("find", collection, err)
	}

	page := Page{Rows: out, Total: len(out)}
	if q.Count {
		total, err := s.count(ctx, collection, q.Filter)
		if err != nil {
			return Page{}, classify("find", collection, err)
		}
		page.Total = total
	}
	return page, nil
}

func (s *SQLStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.count(ctx, collection, filter)
	if err != nil {
		return 0, classify("count", collection, err)
	}
	return n, nil
}

func (s *SQLStore) count(ctx context.Context, collection string, filter Filter) (int, error) {
	b := s.newBuilder()
	b.WriteString("SELECT COUNT(*) FROM ")
	if err := b.ident(collection); err != nil {
		return 0, err
	}
	if err := b.where(filter); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, b.String(), b.args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) Insert(ctx context.Context, collection string, row Row) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b := s.newBuilder()
	if err := b.insert(collection, row); err != nil {
		return classify("insert", collection, err)
	}
	if _, err := s.db.ExecContext(ctx, b.String(), b.args...); err != nil {
		return classify("insert", collection, err)
	}
	return nil
}

func (s *SQLStore) Upsert(ctx context.Context, collection string, row Row, conflictKey ...string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if len(conflictKey) == 0 {
		return classify("upsert", collection, fmt.Errorf("%w: conflict key required", ErrInvalidInput))
	}

	b := s.newBuilder()
	if err := b.insert(collection, row); err != nil {
		return classify("upsert", collection, err)
	}
	b.WriteString(" ON CONFLICT (")
	for i, key := range conflictKey {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := b.ident(key); err != nil {
			return classify("upsert", collection, err)
		}
	}
	b.WriteString(")")

	var updates []string
	for _, col := range sortedColumns(row) {
		if col == "id" || col == "created_at" || contains(conflictKey, col) {
			continue
		}
		updates = append(updates, col)
	}
	if len(updates) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		for i, col := range updates {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, `"%s" = excluded."%s"`, col, col)
		}
	}

	if _, err := s.db.ExecContext(ctx, b.String(), b.args...); err != nil {
		return classify("upsert", collection, err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, collection string, filter Filter, patch Row) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if len(patch) == 0 {
		return 0, classify("update", collection, fmt.Errorf("%w: empty patch", ErrInvalidInput))
	}
	if len(filter) == 0 {
		return 0, classify("update", collection, fmt.Errorf("%w: update without filter", ErrInvalidInput))
	}

	b := s.newBuilder()
	b.WriteString("UPDATE ")
	if err := b.ident(collection); err != nil {
		return 0, classify("update", collection, err)
	}
	b.WriteString(" SET ")
	for i, col := range sortedColumns(patch) {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := b.ident(col); err != nil {
			return 0, classify("update", collection, err)
		}
		b.WriteString(" = " + b.arg(patch[col]))
	}
	if err := b.where(filter); err != nil {
		return 0, classify("update", collection, err)
	}

	res, err := s.db.ExecContext(ctx, b.String(), b.args...)
	if err != nil {
		return 0, classify("update", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("update", collection, err)
	}
	return n, nil
}

func (s *SQLStore) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if len(filter) == 0 {
		return 0, classify("delete", collection, fmt.Errorf("%w: delete without filter", ErrInvalidInput))
	}

	b := s.newBuilder()
	b.WriteString("DELETE FROM ")
	if err := b.ident(collection); err != nil {
		return 0, classify("delete", collection, err)
	}
	if err := b.where(filter); err != nil {
		return 0, classify("delete", collection, err)
	}

	res, err := s.db.ExecContext(ctx, b.String(), b.args...)
	if err != nil {
		return 0, classify("delete", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("delete", collection, err)
	}
	return n, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// builder accumulates SQL text and positional arguments.
type builder struct {
	strings.Builder
	dialect Dialect
	args    []any
}

func (s *SQLStore) newBuilder() *builder {
	return &builder{dialect: s.dialect}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, normalize(v))
	return b.dialect.placeholder(len(b.args))
}

func (b *builder) ident(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: identifier %q", ErrInvalidInput, name)
	}
	b.WriteString(`"` + name + `"`)
	return nil
}

func (b *builder) insert(collection string, row Row) error {
	if len(row) == 0 {
		return fmt.Errorf("%w: empty row", ErrInvalidInput)
	}
	b.WriteString("INSERT INTO ")
	if err := b.ident(collection); err != nil {
		return err
	}
	cols := sortedColumns(row)
	b.WriteString(" (")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := b.ident(col); err != nil {
			return err
		}
	}
	b.WriteString(") VALUES (")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(b.arg(row[col]))
	}
	b.WriteString(")")
	return nil
}

func (b *builder) where(filter Filter) error {
	if len(filter) == 0 {
		return nil
	}
	b.WriteString(" WHERE ")
	for i, c := range filter {
		if i > 0 {
			b.WriteString(" AND ")
		}
		if err := b.cond(c); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) cond(c Condition) error {
	if c.Op == OpOr {
		if len(c.Any) == 0 {
			b.WriteString("1 = 0")
			return nil
		}
		b.WriteString("(")
		for i, sub := range c.Any {
			if i > 0 {
				b.WriteString(" OR ")
			}
			if err := b.cond(sub); err != nil {
				return err
			}
		}
		b.WriteString(")")
		return nil
	}
	if c.Op == OpIn && len(c.Values) == 0 {
		b.WriteString("1 = 0")
		return nil
	}

	if err := b.ident(c.Column); err != nil {
		return err
	}
	switch c.Op {
	case OpEq:
		if normalize(c.Value) == nil {
			b.WriteString(" IS NULL")
			return nil
		}
		b.WriteString(" = " + b.arg(c.Value))
	case OpNeq:
		if normalize(c.Value) == nil {
			b.WriteString(" IS NOT NULL")
			return nil
		}
		b.WriteString(" <> " + b.arg(c.Value))
	case OpLike:
		b.WriteString(" " + b.dialect.likeOp + " " + b.arg(c.Value) + ` ESCAPE '\'`)
	case OpLt:
		b.WriteString(" < " + b.arg(c.Value))
	case OpGt:
		b.WriteString(" > " + b.arg(c.Value))
	case OpLte:
		b.WriteString(" <= " + b.arg(c.Value))
	case OpIn:
		b.WriteString(" IN (")
		for i, v := range c.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(b.arg(v))
		}
		b.WriteString(")")
	default:
		return fmt.Errorf("%w: unknown filter op %d", ErrInvalidInput, c.Op)
	}
	return nil
}

func (b *builder) orderBy(order []Order) error {
	for i, o := range order {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		if err := b.ident(o.Column); err != nil {
			return err
		}
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
	return nil
}

func (b *builder) limit(limit, offset int) {
	switch {
	case limit > 0:
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	case offset > 0:
		b.WriteString(" " + b.dialect.noLimit)
	}
	if offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(offset))
	}
}

// normalize dereferences pointers and puts times in UTC so both drivers and
// the memory store see the same values.
func normalize(v any) any {
	switch t := v.(type) {
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case time.Time:
		return t.UTC()
	case *int:
		if t == nil {
			return nil
		}
		return *t
	case *bool:
		if t == nil {
			return nil
		}
		return *t
	default:
		return v
	}
}

func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
