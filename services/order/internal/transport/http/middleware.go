package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/services/order/internal/session"
	"go.uber.org/zap"
)

const (
	buyerIDLocal     = "buyerId"
	adminTokenHeader = "X-Admin-Token"
)

type SessionStore interface {
	Issue(ctx context.Context, buyerID string) (string, error)
	Resolve(ctx context.Context, token string) (string, error)
	Rotate(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, token string) error
}

// NewAuthMiddleware resolves the bearer token to a buyer id and stores it in locals.
func NewAuthMiddleware(sessions SessionStore, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed header"})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Invalid header format"})
		}

		buyerID, err := sessions.Resolve(c.UserContext(), parts[1])
		if err != nil {
			if !errors.Is(err, session.ErrSessionNotFound) {
				mylogger.Error(c.UserContext(), logger, "Session lookup failed", zap.Error(err))
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "session store unavailable"})
			}

			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Invalid token"})
		}

		c.Locals(buyerIDLocal, buyerID)
		return c.Next()
	}
}

// NewAdminMiddleware admits requests carrying the operator token. Buyer
// sessions are not accepted here, and an empty token rejects everything.
func NewAdminMiddleware(token string, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin routes disabled"})
		}

		given := c.Get(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			mylogger.Warn(c.UserContext(), logger, "Rejected admin request", zap.String("path", c.Path()))
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		}

		return c.Next()
	}
}

func buyerIDFrom(c *fiber.Ctx) (string, bool) {
	buyerID, ok := c.Locals(buyerIDLocal).(string)
	return buyerID, ok && buyerID != ""
}
