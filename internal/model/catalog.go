package model

import "time"

type Restaurant struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	City        string    `json:"city"`
	Cuisine     string    `json:"cuisine"`
	Description string    `json:"description"`
	MerchantID  *string   `json:"merchant_id,omitempty"`
	Rating      float64   `json:"rating"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
)

type Review struct {
	ID           string    `json:"id"`
	RestaurantID string    `json:"restaurant_id"`
	AuthorName   string    `json:"author_name"`
	Rating       int       `json:"rating"`
	Body         string    `json:"body"`
	Status       string    `json:"status"`
	Locale       string    `json:"locale"`
	CreatedAt    time.Time `json:"created_at"`
}

type NewsletterSignup struct {
	Email     string    `json:"email"`
	Locale    string    `json:"locale"`
	CreatedAt time.Time `json:"created_at"`
}
