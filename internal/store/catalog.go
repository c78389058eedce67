package store

import (
	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/model"
)

const (
	RestaurantsTable = "restaurants"
	ReviewsTable     = "reviews"
	NewsletterTable  = "newsletter_signups"
)

// Catalog rows are read through the resilient layer, which may serve them
// from the sample dataset. These converters accept either source.

func RestaurantFromRow(r backend.Row) model.Restaurant {
	return model.Restaurant{
		ID:          r.String("id"),
		Slug:        r.String("slug"),
		Name:        r.String("name"),
		City:        r.String("city"),
		Cuisine:     r.String("cuisine"),
		Description: r.String("description"),
		MerchantID:  r.StringPtr("merchant_id"),
		Rating:      r.Float("rating"),
		Published:   r.Bool("published"),
		CreatedAt:   r.Time("created_at"),
	}
}

func ReviewFromRow(r backend.Row) model.Review {
	return model.Review{
		ID:           r.String("id"),
		RestaurantID: r.String("restaurant_id"),
		AuthorName:   r.String("author_name"),
		Rating:       r.Int("rating"),
		Body:         r.String("body"),
		Status:       r.String("status"),
		Locale:       r.String("locale"),
		CreatedAt:    r.Time("created_at"),
	}
}

func ReviewRow(rv model.Review) backend.Row {
	return backend.Row{
		"id":            rv.ID,
		"restaurant_id": rv.RestaurantID,
		"author_name":   rv.AuthorName,
		"rating":        rv.Rating,
		"body":          rv.Body,
		"status":        rv.Status,
		"locale":        rv.Locale,
		"created_at":    rv.CreatedAt.UTC(),
	}
}
