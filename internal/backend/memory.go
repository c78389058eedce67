package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs the sample dataset served
// while the primary backend is unreachable, so its predicate semantics
// follow SQLStore: NULL never equals anything and LIKE ignores case.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]Row
	unique map[string][][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   make(map[string][]Row),
		unique: make(map[string][][]string),
	}
}

// Unique declares a unique key on collection. Insert rejects duplicates.
func (m *MemoryStore) Unique(collection string, cols ...string) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unique[collection] = append(m.unique[collection], cols)
	return m
}

// Seed appends rows without uniqueness checks.
func (m *MemoryStore) Seed(collection string, rows ...Row) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.data[collection] = append(m.data[collection], cloneRow(r))
	}
	return m
}

// Collections lists seeded collection names.
func (m *MemoryStore) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for name := range m.data {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryStore) Find(ctx context.Context, collection string, q Query) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, classify("find", collection, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Row
	for _, r := range m.data[collection] {
		if Match(r, q.Filter) {
			matched = append(matched, r)
		}
	}
	if len(q.Order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range q.Order {
				c := compare(matched[i][o.Column], matched[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	total := len(matched)
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]Row, len(matched))
	for i, r := range matched {
		out[i] = cloneRow(r)
	}
	page := Page{Rows: out, Total: len(out)}
	if q.Count {
		page.Total = total
	}
	return page, nil
}

func (m *MemoryStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	page, err := m.Find(ctx, collection, Query{Filter: filter})
	if err != nil {
		return 0, err
	}
	return len(page.Rows), nil
}

func (m *MemoryStore) Insert(ctx context.Context, collection string, row Row) error {
	if err := ctx.Err(); err != nil {
		return classify("insert", collection, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUnique(collection, row, -1); err != nil {
		return classify("insert", collection, err)
	}
	m.data[collection] = append(m.data[collection], cloneRow(row))
	return nil
}

func (m *MemoryStore) Upsert(ctx context.Context, collection string, row Row, conflictKey ...string) error {
	if err := ctx.Err(); err != nil {
		return classify("upsert", collection, err)
	}
	if len(conflictKey) == 0 {
		return classify("upsert", collection, fmt.Errorf("%w: conflict key required", ErrInvalidInput))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := make(Filter, 0, len(conflictKey))
	for _, col := range conflictKey {
		key = append(key, Eq(col, row[col]))
	}
	for i, existing := range m.data[collection] {
		if !Match(existing, key) {
			continue
		}
		for col, v := range row {
			if col == "id" || col == "created_at" || contains(conflictKey, col) {
				continue
			}
			existing[col] = normalize(v)
		}
		m.data[collection][i] = existing
		return nil
	}

	if err := m.checkUnique(collection, row, -1); err != nil {
		return classify("upsert", collection, err)
	}
	m.data[collection] = append(m.data[collection], cloneRow(row))
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, collection string, filter Filter, patch Row) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classify("update", collection, err)
	}
	if len(patch) == 0 || len(filter) == 0 {
		return 0, classify("update", collection, fmt.Errorf("%w: update needs filter and patch", ErrInvalidInput))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for i, existing := range m.data[collection] {
		if !Match(existing, filter) {
			continue
		}
		updated := cloneRow(existing)
		for col, v := range patch {
			updated[col] = normalize(v)
		}
		if err := m.checkUnique(collection, updated, i); err != nil {
			return n, classify("update", collection, err)
		}
		m.data[collection][i] = updated
		n++
	}
	return n, nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classify("delete", collection, err)
	}
	if len(filter) == 0 {
		return 0, classify("delete", collection, fmt.Errorf("%w: delete without filter", ErrInvalidInput))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.data[collection][:0]
	var n int64
	for _, r := range m.data[collection] {
		if Match(r, filter) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.data[collection] = kept
	return n, nil
}

func (m *MemoryStore) checkUnique(collection string, row Row, skip int) error {
	for _, cols := range m.unique[collection] {
		key := make(Filter, 0, len(cols))
		for _, col := range cols {
			key = append(key, Eq(col, row[col]))
		}
		for i, existing := range m.data[collection] {
			if i != skip && Match(existing, key) {
				return fmt.Errorf("%w: unique %s(%s)", ErrConstraintViolation, collection, strings.Join(cols, ", "))
			}
		}
	}
	return nil
}

// Match reports whether row satisfies every condition in filter.
func Match(row Row, filter Filter) bool {
	for _, c := range filter {
		if !matchCond(row, c) {
			return false
		}
	}
	return true
}

func matchCond(row Row, c Condition) bool {
	switch c.Op {
	case OpOr:
		for _, sub := range c.Any {
			if matchCond(row, sub) {
				return true
			}
		}
		return false
	case OpIn:
		for _, v := range c.Values {
			if equal(row[c.Column], v) {
				return true
			}
		}
		return false
	}

	v := normalize(row[c.Column])
	want := normalize(c.Value)
	switch c.Op {
	case OpEq:
		if want == nil {
			return v == nil
		}
		return equal(v, want)
	case OpNeq:
		if want == nil {
			return v != nil
		}
		return v != nil && !equal(v, want)
	case OpLike:
		if v == nil {
			return false
		}
		pattern, _ := want.(string)
		return likeMatch(asciiLower(Row{"v": v}.String("v")), asciiLower(pattern))
	case OpLt:
		return v != nil && compare(v, want) < 0
	case OpGt:
		return v != nil && compare(v, want) > 0
	case OpLte:
		return v != nil && compare(v, want) <= 0
	default:
		return false
	}
}

func equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return false
	}
	return compare(a, b) == 0
}

// compare orders nil first, then numbers, times, booleans and strings.
func compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return cmpFloat(fa, fb)
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if tb, ok := b.(time.Time); ok {
		if ta, ok := asTime(a); ok {
			return ta.Compare(tb)
		}
	}
	sa := Row{"v": a}.String("v")
	sb := Row{"v": b}.String("v")
	return strings.Compare(sa, sb)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// likeMatch implements SQL LIKE with backslash escapes.
func likeMatch(s, pattern string) bool {
	sr, pr := []rune(s), []rune(pattern)
	var match func(i, j int) bool
	match = func(i, j int) bool {
		for j < len(pr) {
			switch pr[j] {
			case '%':
				for j < len(pr) && pr[j] == '%' {
					j++
				}
				if j == len(pr) {
					return true
				}
				for k := i; k <= len(sr); k++ {
					if match(k, j) {
						return true
					}
				}
				return false
			case '_':
				if i >= len(sr) {
					return false
				}
				i++
				j++
			case '\\':
				if j+1 < len(pr) {
					j++
				}
				fallthrough
			default:
				if i >= len(sr) || sr[i] != pr[j] {
					return false
				}
				i++
				j++
			}
		}
		return i == len(sr)
	}
	return match(0, 0)
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = normalize(v)
	}
	return out
}

// asciiLower folds only A-Z, as SQLite's LIKE does.
func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
