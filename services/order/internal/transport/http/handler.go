package http

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"github.com/sakashimaa/order-saga/services/order/internal/cart"
	"github.com/sakashimaa/order-saga/services/order/internal/domain"
	"github.com/sakashimaa/order-saga/services/order/internal/service"
	"github.com/sakashimaa/order-saga/services/order/internal/session"
	"go.uber.org/zap"
)

type CartService interface {
	Get(ctx context.Context, buyerID string) (*cart.Cart, error)
	Add(ctx context.Context, buyerID, productID string, quantity int) (*cart.Cart, error)
	SetQuantity(ctx context.Context, buyerID, productID string, quantity int) (*cart.Cart, error)
	Remove(ctx context.Context, buyerID, productID string) (*cart.Cart, error)
	Clear(ctx context.Context, buyerID string) error
}

type Handler struct {
	orders   service.OrderService
	carts    CartService
	sessions SessionStore
	validate *validator.Validate
	logger   *zap.Logger
}

type SessionInput struct {
	BuyerID string `json:"buyer_id" validate:"required,max=128"`
}

type RefreshInput struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AddItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type SetQuantityInput struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

type CreateOrderInput struct {
	PaymentMethod string `json:"payment_method" validate:"required,oneof=credit_card bank_transfer cash"`
	Email         string `json:"email" validate:"required,email"`
	UserName      string `json:"user_name" validate:"required,max=128"`
	PhoneNumber   string `json:"phone_number" validate:"omitempty,e164"`
}

type CancelOrderInput struct {
	Reason string `json:"reason" validate:"max=500"`
}

func NewHandler(orders service.OrderService, carts CartService, sessions SessionStore, logger *zap.Logger) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		orders:   orders,
		carts:    carts,
		sessions: sessions,
		validate: validate,
		logger:   logger,
	}
}

func (h *Handler) CreateSession(c *fiber.Ctx) error {
	input := new(SessionInput)
	if ok, err := h.parse(c, input); !ok {
		return err
	}

	token, err := h.sessions.Issue(c.UserContext(), input.BuyerID)
	if err != nil {
		return h.fail(c, "create session failed", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"refresh_token": token})
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	input := new(RefreshInput)
	if ok, err := h.parse(c, input); !ok {
		return err
	}

	token, err := h.sessions.Rotate(c.UserContext(), input.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}
		return h.fail(c, "refresh session failed", err)
	}

	return c.JSON(fiber.Map{"refresh_token": token})
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	input := new(RefreshInput)
	if ok, err := h.parse(c, input); !ok {
		return err
	}

	if err := h.sessions.Revoke(c.UserContext(), input.RefreshToken); err != nil {
		return h.fail(c, "logout failed", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) GetCart(c *fiber.Ctx) error {
	buyerID, ok := buyerIDFrom(c)
	if !ok {
		return unauthorized(c)
	}

	result, err := h.carts.Get(c.UserContext(), buyerID)
	if err != nil {
		return h.fail(c, "get cart failed", err)
	}

	return c.JSON(result)
}

func (h *Handler) AddItem(c *fiber.Ctx) error {
	buyerID, ok := buyerIDFrom(c)
	if !ok {
		return unauthorized(c)
	}

	input := new(AddItemInput)
	if ok, err := h.parse(c, input); !ok {
		return err
	}

	result, err := h.carts.Add(c.UserContext(), buyerID, input.ProductID, input.Quantity)
	if err != nil {
		return h.fail(c, "add to cart failed", err)
	}

	return c.JSON(result)
}

func (h *Handler) SetQuantity(c *fiber.Ctx) error {
	buyerID, ok := buyerIDFrom(c)
	if !ok {
		return unauthorized(c)
	}

	input := new(SetQuantityInput)
	if ok, err := h.parse(c, input); !ok {
		return err
	}

	result, err := h.carts.SetQuantity(c.UserContext(), buyerID, c.Params("productId"), input.Quantity)
	if err != nil {
		return h.fail(c, "update cart failed", err)
	}

	return c.JSON(result)
}

func (h *Handler) RemoveItem(c *fiber.Ctx) error {
	buyerID, ok := buyerIDFrom(c)
	if !ok {
		return unauthorized(c)
	}

	result, err := h.carts.Remove(c.UserContext(), buyerID, c.Params("productId"))
	if err != nil {
		return h.fail(c, "remove from cart failed", err)
	}

	return c.JSON(result)
}

func (h *Handler) ClearCart(c *fiber.Ctx) error {
	buyerID, ok := buyerIDFrom(c)
	if !ok {
		return unauthorized(c)
	}

	if err := h.carts.Clear(c.UserContext(), buyerID); err != nil {
		return h.fail(c, "clear cart failed", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) CreateOrder(c *fiber.Ctx) error {
	buyerID, ok := buyerIDFrom(c)
	if !ok {
		return unauthorized(c)
	}

	input := new(CreateOrderInput)
	if ok, err := h.parse(c, input); !ok {
		return err
	}

	order, err := h.orders.CreateOrder(
		c.UserContext(),
		buyerID,
		domain.PaymentMethod(input.PaymentMethod),
		domain.ContactInfo{
			Email:       input.Email,
			UserName:    input.UserName,
			PhoneNumber: input.PhoneNumber,
		},
	)
	if err != nil {
		return h.fail(c, "create order failed", err)
	}

	mylogger.Info(
		c.UserContext(),
		h.logger,
		"create order succeeded",
		zap.String("order_id", order.ID.String()),
	)

	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *Handler) ListOrders(c *fiber.Ctx) error {
	buyerID, ok := buyerIDFrom(c)
	if !ok {
		return unauthorized(c)
	}

	page, pageSize := service.ClampPage(c.QueryInt("page", 1), c.QueryInt("page_size", 0))

	orders, err := h.orders.ListOrders(c.UserContext(), buyerID, page, pageSize)
	if err != nil {
		return h.fail(c, "list orders failed", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	return c.JSON(fiber.Map{
		"orders":    orders,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *Handler) GetOrder(c *fiber.Ctx) error {
	buyerID, ok := buyerIDFrom(c)
	if !ok {
		return unauthorized(c)
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	order, err := h.orders.GetOrder(c.UserContext(), orderID, buyerID)
	if err != nil {
		return h.fail(c, "get order failed", err)
	}

	return c.JSON(order)
}

func (h *Handler) CancelOrder(c *fiber.Ctx) error {
	buyerID, ok := buyerIDFrom(c)
	if !ok {
		return unauthorized(c)
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	input := new(CancelOrderInput)
	if len(c.Body()) > 0 {
		if ok, err := h.parse(c, input); !ok {
			return err
		}
	}

	if err := h.orders.CancelOrder(c.UserContext(), orderID, buyerID, input.Reason); err != nil {
		return h.fail(c, "cancel order failed", err)
	}

	return c.JSON(fiber.Map{"success": true})
}

func (h *Handler) CompleteOrder(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	if err := h.orders.CompleteOrder(c.UserContext(), orderID); err != nil {
		return h.fail(c, "complete order failed", err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// parse decodes and validates the body. When it reports false the error
// response has already been written and err is the result of writing it.
func (h *Handler) parse(c *fiber.Ctx, input any) (bool, error) {
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"failed to parse body",
			zap.String("path", c.Path()),
			zap.Error(err),
		)

		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "error parsing body",
		})
	}

	if err := h.validate.Struct(input); err != nil {
		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"failed to validate input",
			zap.String("path", c.Path()),
			zap.Error(err),
		)

		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": utils.FormatValidationError(err),
		})
	}

	return true, nil
}

func (h *Handler) fail(c *fiber.Ctx, msg string, err error) error {
	code, message := statusFor(err)

	if code >= fiber.StatusInternalServerError {
		mylogger.Error(c.UserContext(), h.logger, msg, zap.Int("http_code", code), zap.Error(err))
	} else {
		mylogger.Warn(c.UserContext(), h.logger, msg, zap.Int("http_code", code), zap.Error(err))
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed buyer"})
}
