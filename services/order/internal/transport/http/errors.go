package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/order-saga/services/order/internal/cart"
	"github.com/sakashimaa/order-saga/services/order/internal/service"
)

// statusFor maps domain errors to an HTTP status and a message safe to show the buyer.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrEmptyCart):
		return fiber.StatusUnprocessableEntity, "Your cart is empty"
	case errors.Is(err, service.ErrOrderNotFound):
		return fiber.StatusNotFound, "Order not found"
	case errors.Is(err, service.ErrInvalidState):
		return fiber.StatusConflict, "Order can no longer be changed"
	case errors.Is(err, service.ErrInvalidPaymentMethod):
		return fiber.StatusBadRequest, "Unsupported payment method"
	case errors.Is(err, cart.ErrProductNotFound):
		return fiber.StatusNotFound, "Product not found"
	case errors.Is(err, cart.ErrInsufficientStock):
		return fiber.StatusConflict, "Not enough stock for the requested quantity"
	case errors.Is(err, cart.ErrItemNotInCart):
		return fiber.StatusNotFound, "Item is not in the cart"
	case errors.Is(err, cart.ErrInvalidQuantity):
		return fiber.StatusBadRequest, "Quantity must be positive"
	case errors.Is(err, cart.ErrCartConflict):
		return fiber.StatusConflict, "Cart changed concurrently, please retry"
	case errors.Is(err, cart.ErrCatalogUnavailable):
		return fiber.StatusServiceUnavailable, "Catalog temporarily unavailable"
	case errors.Is(err, service.ErrPersistence):
		return fiber.StatusInternalServerError, "Order could not be placed"
	default:
		return fiber.StatusInternalServerError, "internal error"
	}
}
