package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/mise/internal/admin"
	"github.com/dukerupert/mise/internal/auth"
)

type AdminHandler struct {
	svc    *admin.Service
	logger *slog.Logger
}

func NewAdminHandler(svc *admin.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.svc.Dashboard(r.Context()))
}

func (h *AdminHandler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.svc.ListMerchants(r.Context(),
		r.URL.Query().Get("q"),
		queryInt(r, "page", 1),
		queryInt(r, "per_page", 25),
	))
}

func (h *AdminHandler) ProvisionMerchant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		Locale   string `json:"locale"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	res := h.svc.ProvisionMerchant(r.Context(), admin.ProvisionInput{
		Email:    req.Email,
		Name:     req.Name,
		Phone:    req.Phone,
		Locale:   req.Locale,
		Password: req.Password,
	})
	if res.Success {
		p, _ := auth.FromContext(r.Context())
		h.logger.Info("admin provisioned merchant", "admin", p.Email, "merchant_id", res.Data.ID)
	}
	writeResult(w, res)
}

func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	res := h.svc.ResetMerchantPassword(r.Context(), id, req.Password)
	if res.Success {
		p, _ := auth.FromContext(r.Context())
		h.logger.Info("admin reset merchant password", "admin", p.Email, "merchant_id", id)
	}
	writeResult(w, res)
}
