package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"github.com/sakashimaa/order-saga/services/product/internal/domain"
	"github.com/sakashimaa/order-saga/services/product/internal/repository"
	"github.com/sakashimaa/order-saga/services/product/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handler struct {
	products service.ProductService
	validate *validator.Validate
	logger   *zap.Logger
}

type CreateProductInput struct {
	ID            string `json:"id" validate:"required,max=64"`
	Name          string `json:"name" validate:"required,max=255"`
	Description   string `json:"description" validate:"max=2000"`
	Price         string `json:"price" validate:"required,numeric"`
	StockQuantity int    `json:"stock_quantity" validate:"gte=0"`
	Category      string `json:"category" validate:"max=128"`
}

type UpdateProductInput struct {
	Name          string `json:"name" validate:"required,max=255"`
	Description   string `json:"description" validate:"max=2000"`
	Price         string `json:"price" validate:"required,numeric"`
	StockQuantity int    `json:"stock_quantity" validate:"gte=0"`
	Category      string `json:"category" validate:"max=128"`
}

type listResponse struct {
	Products []domain.Product `json:"products"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

func NewHandler(products service.ProductService, logger *zap.Logger) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		products: products,
		validate: validate,
		logger:   logger,
	}
}

func (h *Handler) GetProduct(c *fiber.Ctx) error {
	product, err := h.products.FindByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "get product failed", err)
	}

	return c.JSON(product)
}

func (h *Handler) ListProducts(c *fiber.Ctx) error {
	page, pageSize := service.ClampPage(c.QueryInt("page", 1), c.QueryInt("page_size", 20))

	products, total, err := h.products.List(c.UserContext(), page, pageSize, c.Query("search"))
	if err != nil {
		return h.fail(c, "list products failed", err)
	}

	if products == nil {
		products = []domain.Product{}
	}

	return c.JSON(listResponse{
		Products: products,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func (h *Handler) CreateProduct(c *fiber.Ctx) error {
	input := new(CreateProductInput)
	if ok, err := h.parse(c, input); !ok {
		return err
	}

	price, ok := parsePrice(input.Price)
	if !ok {
		return invalidPrice(c)
	}

	product := &domain.Product{
		ID:            input.ID,
		Name:          input.Name,
		Description:   input.Description,
		Price:         price,
		StockQuantity: input.StockQuantity,
		Category:      input.Category,
	}

	if err := h.products.Create(c.UserContext(), product); err != nil {
		return h.fail(c, "create product failed", err)
	}

	return c.Status(fiber.StatusCreated).JSON(product)
}

func (h *Handler) UpdateProduct(c *fiber.Ctx) error {
	input := new(UpdateProductInput)
	if ok, err := h.parse(c, input); !ok {
		return err
	}

	price, ok := parsePrice(input.Price)
	if !ok {
		return invalidPrice(c)
	}

	product := &domain.Product{
		ID:            c.Params("id"),
		Name:          input.Name,
		Description:   input.Description,
		Price:         price,
		StockQuantity: input.StockQuantity,
		Category:      input.Category,
	}

	if err := h.products.Update(c.UserContext(), product); err != nil {
		return h.fail(c, "update product failed", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) DeleteProduct(c *fiber.Ctx) error {
	if err := h.products.Delete(c.UserContext(), c.Params("id")); err != nil {
		return h.fail(c, "delete product failed", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// parse decodes and validates the body. When it reports false the error
// response has already been written.
func (h *Handler) parse(c *fiber.Ctx, input any) (bool, error) {
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(c.UserContext(), h.logger, "failed to parse body", zap.Error(err))
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	if err := h.validate.Struct(input); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": utils.FormatValidationError(err)})
	}

	return true, nil
}

func parsePrice(raw string) (decimal.Decimal, bool) {
	price, err := decimal.NewFromString(raw)
	if err != nil || price.IsNegative() {
		return decimal.Zero, false
	}

	return price.Round(2), true
}

func invalidPrice(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": map[string]string{"price": "price must be a non-negative amount"}})
}

func (h *Handler) fail(c *fiber.Ctx, msg string, err error) error {
	code, message := fiber.StatusInternalServerError, "internal error"

	switch {
	case errors.Is(err, repository.ErrProductNotFound):
		code, message = fiber.StatusNotFound, "Product not found"
	case errors.Is(err, repository.ErrProductAlreadyExists):
		code, message = fiber.StatusConflict, "Product already exists"
	case errors.Is(err, service.ErrInvalidProduct):
		code, message = fiber.StatusBadRequest, "Invalid product"
	}

	if code >= fiber.StatusInternalServerError {
		mylogger.Error(c.UserContext(), h.logger, msg, zap.Error(err))
	} else {
		mylogger.Warn(c.UserContext(), h.logger, msg, zap.Int("http_code", code), zap.Error(err))
	}

	return c.Status(code).JSON(fiber.Map{"error": message})
}
