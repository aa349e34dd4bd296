package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stp258/serp/internal/pricing"
	"github.com/stp258/serp/internal/serp"
)

// RegisterSerpRoutes wires the privileged supply adjustment endpoints.
func RegisterSerpRoutes(r fiber.Router, h *serp.Handler) {
	r.Post("/serp/:currency/expand", h.Expand)
	r.Post("/serp/:currency/contract", h.Contract)
}

// RegisterPricingRoutes wires the privileged price endpoints.
func RegisterPricingRoutes(r fiber.Router, h *pricing.Handler) {
	r.Post("/prices/relative", h.Relative)
	r.Post("/prices/:currency/stable", h.Stable)
	r.Post("/feed/:currency", h.Observe)
}

// RegisterReadRoutes wires the public read endpoints.
func RegisterReadRoutes(r fiber.Router, s *serp.Handler, p *pricing.Handler) {
	r.Get("/serp/:currency/supply-change", s.SupplyChange)
	r.Get("/prices/:currency", p.Get)
	r.Get("/currencies/:currency/issuance", s.Issuance)
	r.Get("/currencies/:currency/accounts/:account", s.Balance)
}
