package resilient

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/logging"
)

func samples() *backend.MemoryStore {
	return backend.NewMemoryStore().Seed("restaurants",
		backend.Row{"id": "r1", "name": "Alpenblick", "city": "Bern"},
		backend.Row{"id": "r2", "name": "Chez Marcel", "city": "Genève"},
		backend.Row{"id": "r3", "name": "Bärengraben", "city": "Bern"},
	)
}

func TestFindPrimary(t *testing.T) {
	primary := backend.NewMemoryStore().Seed("restaurants", backend.Row{"id": "live", "city": "Bern"})
	l := New(primary, samples(), logging.Discard())

	r := l.Find(context.Background(), "restaurants", backend.Query{Filter: backend.Filter{backend.Eq("city", "Bern")}})
	if !r.Success || r.Degraded {
		t.Fatalf("result = %+v, want success without degradation", r)
	}
	if len(r.Data) != 1 || r.Data[0].String("id") != "live" {
		t.Errorf("data = %v, want the live row", r.Data)
	}
}

func TestFindFallsBackToSamples(t *testing.T) {
	l := New(backend.Offline{}, samples(), logging.Discard())

	r := l.Find(context.Background(), "restaurants", backend.Query{
		Filter: backend.Filter{backend.Eq("city", "Bern")},
		Order:  []backend.Order{{Column: "name"}},
		Count:  true,
	})
	if !r.Success {
		t.Fatalf("success = false, error %q", r.Error)
	}
	if !r.Degraded {
		t.Error("degraded = false, want true")
	}
	if r.Notice != NoticeSampleData {
		t.Errorf("notice = %q, want %q", r.Notice, NoticeSampleData)
	}
	if r.Total != 2 {
		t.Errorf("total = %d, want 2", r.Total)
	}
	if len(r.Data) != 2 || r.Data[0].String("id") != "r1" || r.Data[1].String("id") != "r3" {
		t.Errorf("data = %v, want r1 then r3", r.Data)
	}
}

func TestFindOneNotFound(t *testing.T) {
	l := New(backend.Offline{}, samples(), logging.Discard())

	r := l.FindOne(context.Background(), "restaurants", backend.Filter{backend.Eq("id", "missing")})
	if r.Success {
		t.Fatal("success = true, want false")
	}
	if r.Error != ErrMsgNotFound {
		t.Errorf("error = %q, want %q", r.Error, ErrMsgNotFound)
	}
	if !r.Degraded {
		t.Error("degraded = false, want true")
	}
}

func TestCountFallsBack(t *testing.T) {
	l := New(backend.Offline{}, samples(), logging.Discard())
	r := l.Count(context.Background(), "restaurants", nil)
	if !r.Success || !r.Degraded || r.Data != 3 {
		t.Errorf("count = %+v, want 3 degraded", r)
	}
}

func TestWriteNeverFallsBack(t *testing.T) {
	s := samples()
	l := New(backend.Offline{}, s, logging.Discard())

	r := l.Write(context.Background(), "insert restaurant", func(ctx context.Context, st backend.Store) error {
		return st.Insert(ctx, "restaurants", backend.Row{"id": "r4"})
	})
	if r.Success {
		t.Fatal("success = true, want false")
	}
	if !r.Degraded {
		t.Error("degraded = false, want true")
	}
	if r.Error != ErrMsgUnavailable {
		t.Errorf("error = %q, want %q", r.Error, ErrMsgUnavailable)
	}
	if n, _ := s.Count(context.Background(), "restaurants", nil); n != 3 {
		t.Errorf("sample rows = %d, want 3", n)
	}
}

func TestFailMessages(t *testing.T) {
	if got := Fail[int](Invalid("Rating must be between 1 and 5.")).Error; got != "Rating must be between 1 and 5." {
		t.Errorf("invalid input = %q", got)
	}
	if got := Fail[int](errors.New("pq: connection reset")).Error; got != ErrMsgUnavailable {
		t.Errorf("unknown error = %q, want generic", got)
	}
	if r := Fail[int](backend.ErrForbidden); r.Error != ErrMsgForbidden || r.Degraded {
		t.Errorf("forbidden = %+v", r)
	}
}

func TestMap(t *testing.T) {
	in := Result[[]backend.Row]{
		Data:     []backend.Row{{"name": "a"}, {"name": "b"}},
		Total:    2,
		Success:  true,
		Degraded: true,
	}
	out := Map(in, func(r backend.Row) string { return r.String("name") })
	if len(out.Data) != 2 || out.Data[1] != "b" || !out.Degraded || out.Total != 2 {
		t.Errorf("map = %+v", out)
	}
}
