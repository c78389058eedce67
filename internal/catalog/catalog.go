// Package catalog serves the public restaurant directory. Every read goes
// through the resilient layer and may be answered from the sample dataset.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/resilient"
	"github.com/dukerupert/mise/internal/store"
)

const (
	DefaultPerPage = 12
	MaxPerPage     = 50
)

//go:embed samples.json
var sampleData []byte

// Samples returns the sample dataset as a memory store.
func Samples() (*backend.MemoryStore, error) {
	var raw map[string][]backend.Row
	if err := json.Unmarshal(sampleData, &raw); err != nil {
		return nil, fmt.Errorf("decode sample data: %w", err)
	}
	m := backend.NewMemoryStore()
	for collection, rows := range raw {
		for _, r := range rows {
			if v, ok := r["created_at"].(string); ok {
				t, err := time.Parse(time.RFC3339, v)
				if err != nil {
					return nil, fmt.Errorf("sample %s created_at: %w", collection, err)
				}
				r["created_at"] = t
			}
		}
		m.Seed(collection, rows...)
	}
	return m, nil
}

type Service struct {
	layer  *resilient.Layer
	logger *slog.Logger
}

// NewService reads through primary, normally the anonymous restricted store.
func NewService(primary backend.Store, logger *slog.Logger) (*Service, error) {
	samples, err := Samples()
	if err != nil {
		return nil, err
	}
	return &Service{
		layer:  resilient.New(primary, samples, logger),
		logger: logger.With("component", "catalog"),
	}, nil
}

// ListParams filters the directory. Zero values mean "any".
type ListParams struct {
	Search  string
	City    string
	Cuisine string
	Page    int
	PerPage int
}

func (p ListParams) window() (limit, offset int) {
	limit = p.PerPage
	if limit <= 0 {
		limit = DefaultPerPage
	}
	if limit > MaxPerPage {
		limit = MaxPerPage
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	return limit, (page - 1) * limit
}

func (s *Service) ListRestaurants(ctx context.Context, p ListParams) resilient.Result[[]model.Restaurant] {
	filter := backend.Filter{backend.Eq("published", true)}
	if p.City != "" {
		filter = append(filter, backend.EqualFold("city", p.City))
	}
	if p.Cuisine != "" {
		filter = append(filter, backend.Eq("cuisine", strings.ToLower(p.Cuisine)))
	}
	if term := strings.TrimSpace(p.Search); term != "" {
		filter = append(filter, backend.Or(
			backend.Contains("name", term),
			backend.Contains("city", term),
			backend.Contains("cuisine", term),
			backend.Contains("description", term),
		))
	}

	limit, offset := p.window()
	r := s.layer.Find(ctx, store.RestaurantsTable, backend.Query{
		Filter: filter,
		Order:  []backend.Order{{Column: "name"}, {Column: "id"}},
		Limit:  limit,
		Offset: offset,
		Count:  true,
	})
	return resilient.Map(r, store.RestaurantFromRow)
}

func (s *Service) GetRestaurant(ctx context.Context, slug string) resilient.Result[model.Restaurant] {
	r := s.layer.FindOne(ctx, store.RestaurantsTable, backend.Filter{
		backend.Eq("slug", slug),
		backend.Eq("published", true),
	})
	out := resilient.Result[model.Restaurant]{Success: r.Success, Degraded: r.Degraded, Notice: r.Notice, Error: r.Error}
	if r.Success {
		out.Data = store.RestaurantFromRow(r.Data)
	}
	return out
}

// ListReviews returns approved reviews, newest first.
func (s *Service) ListReviews(ctx context.Context, restaurantID string, page, perPage int) resilient.Result[[]model.Review] {
	limit, offset := ListParams{Page: page, PerPage: perPage}.window()
	r := s.layer.Find(ctx, store.ReviewsTable, backend.Query{
		Filter: backend.Filter{
			backend.Eq("restaurant_id", restaurantID),
			backend.Eq("status", model.ReviewApproved),
		},
		Order:  []backend.Order{{Column: "created_at", Desc: true}, {Column: "id"}},
		Limit:  limit,
		Offset: offset,
		Count:  true,
	})
	return resilient.Map(r, store.ReviewFromRow)
}

type ReviewInput struct {
	RestaurantID string
	AuthorName   string
	Rating       int
	Body         string
	Locale       string
}

func (in ReviewInput) validate() error {
	name := strings.TrimSpace(in.AuthorName)
	body := strings.TrimSpace(in.Body)
	switch {
	case in.RestaurantID == "":
		return resilient.Invalid("Choose a restaurant to review.")
	case name == "" || utf8.RuneCountInString(name) > 80:
		return resilient.Invalid("Enter a name of up to 80 characters.")
	case in.Rating < 1 || in.Rating > 5:
		return resilient.Invalid("Rating must be between 1 and 5.")
	case utf8.RuneCountInString(body) < 10 || utf8.RuneCountInString(body) > 2000:
		return resilient.Invalid("Reviews must be between 10 and 2000 characters.")
	}
	return nil
}

// SubmitReview stores a review for moderation. It never writes to samples.
func (s *Service) SubmitReview(ctx context.Context, in ReviewInput) resilient.Result[model.Review] {
	if err := in.validate(); err != nil {
		return resilient.Fail[model.Review](err)
	}
	rv := model.Review{
		ID:           uuid.NewString(),
		RestaurantID: in.RestaurantID,
		AuthorName:   strings.TrimSpace(in.AuthorName),
		Rating:       in.Rating,
		Body:         strings.TrimSpace(in.Body),
		Status:       model.ReviewPending,
		Locale:       email.NormalizeLocale(in.Locale),
		CreatedAt:    time.Now().UTC(),
	}

	w := s.layer.Write(ctx, "submit review", func(ctx context.Context, st backend.Store) error {
		n, err := st.Count(ctx, store.RestaurantsTable, backend.Filter{
			backend.Eq("id", rv.RestaurantID),
			backend.Eq("published", true),
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return backend.ErrNotFound
		}
		return st.Insert(ctx, store.ReviewsTable, store.ReviewRow(rv))
	})
	if !w.Success {
		return resilient.Result[model.Review]{Degraded: w.Degraded, Error: w.Error}
	}
	s.logger.Info("review submitted", "review_id", rv.ID, "restaurant_id", rv.RestaurantID)
	return resilient.Ok(rv)
}

// SubscribeNewsletter is idempotent per email; a repeat updates the locale.
func (s *Service) SubscribeNewsletter(ctx context.Context, addr, locale string) resilient.Result[struct{}] {
	addr = store.NormalizeEmail(addr)
	if _, err := mail.ParseAddress(addr); err != nil {
		return resilient.Fail[struct{}](resilient.Invalid("Enter a valid email address."))
	}
	return s.layer.Write(ctx, "newsletter signup", func(ctx context.Context, st backend.Store) error {
		return st.Upsert(ctx, store.NewsletterTable, backend.Row{
			"email":      addr,
			"locale":     email.NormalizeLocale(locale),
			"created_at": time.Now().UTC(),
		}, "email")
	})
}
