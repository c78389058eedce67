package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/mise/internal/catalog"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/resilient"
)

// CatalogHandler serves the public directory. Reads may come back degraded
// with sample data; writes never do.
type CatalogHandler struct {
	svc    *catalog.Service
	logger *slog.Logger
}

func NewCatalogHandler(svc *catalog.Service, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{svc: svc, logger: logger}
}

func (h *CatalogHandler) ListRestaurants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeResult(w, h.svc.ListRestaurants(r.Context(), catalog.ListParams{
		Search:  q.Get("q"),
		City:    q.Get("city"),
		Cuisine: q.Get("cuisine"),
		Page:    queryInt(r, "page", 1),
		PerPage: queryInt(r, "per_page", catalog.DefaultPerPage),
	}))
}

func (h *CatalogHandler) GetRestaurant(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.svc.GetRestaurant(r.Context(), r.PathValue("slug")))
}

func (h *CatalogHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	rest := h.svc.GetRestaurant(r.Context(), r.PathValue("slug"))
	if !rest.Success {
		writeResult(w, resilient.Result[[]model.Review]{Degraded: rest.Degraded, Error: rest.Error})
		return
	}
	res := h.svc.ListReviews(r.Context(), rest.Data.ID, queryInt(r, "page", 1), queryInt(r, "per_page", catalog.DefaultPerPage))
	if rest.Degraded && !res.Degraded {
		res.Degraded, res.Notice = true, rest.Notice
	}
	writeResult(w, res)
}

func (h *CatalogHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AuthorName string `json:"author_name"`
		Rating     int    `json:"rating"`
		Body       string `json:"body"`
		Locale     string `json:"locale"`
	}
	if !decode(w, r, &req) {
		return
	}
	rest := h.svc.GetRestaurant(r.Context(), r.PathValue("slug"))
	if !rest.Success {
		writeResult(w, resilient.Result[model.Review]{Degraded: rest.Degraded, Error: rest.Error})
		return
	}

	res := h.svc.SubmitReview(r.Context(), catalog.ReviewInput{
		RestaurantID: rest.Data.ID,
		AuthorName:   req.AuthorName,
		Rating:       req.Rating,
		Body:         req.Body,
		Locale:       locale(r, req.Locale),
	})
	if res.Success {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(w, res)
}

func (h *CatalogHandler) SubscribeNewsletter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		Locale string `json:"locale"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeResult(w, h.svc.SubscribeNewsletter(r.Context(), req.Email, locale(r, req.Locale)))
}
