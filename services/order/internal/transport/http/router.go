package http

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func RegisterRoutes(app *fiber.App, h *Handler, sessions SessionStore, adminToken string, logger *zap.Logger) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	authGroup := app.Group("/auth")
	authGroup.Post("/sessions", h.CreateSession)
	authGroup.Post("/refresh", h.Refresh)
	authGroup.Post("/logout", h.Logout)

	api := app.Group("/api", NewAuthMiddleware(sessions, logger))

	cart := api.Group("/cart")
	cart.Get("", h.GetCart)
	cart.Delete("", h.ClearCart)
	cart.Post("/items", h.AddItem)
	cart.Put("/items/:productId", h.SetQuantity)
	cart.Delete("/items/:productId", h.RemoveItem)

	order := api.Group("/orders")
	order.Post("", h.CreateOrder)
	order.Get("", h.ListOrders)
	order.Get("/:id", h.GetOrder)
	order.Post("/:id/cancel", h.CancelOrder)

	admin := app.Group("/admin", NewAdminMiddleware(adminToken, logger))
	admin.Post("/orders/:id/complete", h.CompleteOrder)
}
