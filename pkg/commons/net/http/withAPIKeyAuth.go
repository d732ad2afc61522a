package http

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/mysverse/worker-bank/pkg/commons"
	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
)

// APIKeyAuthFunc reports whether the presented API key is authentic.
type APIKeyAuthFunc func(key string) bool

// FixedAPIKeyFunc builds an APIKeyAuthFunc that accepts exactly one key,
// compared in constant time.
func FixedAPIKeyFunc(expected string) APIKeyAuthFunc {
	return func(key string) bool {
		return subtle.ConstantTimeCompare([]byte(key), []byte(expected)) == 1
	}
}

// WithAPIKeyAuth guards routes behind the x-api-key header. A missing key is
// unauthorized; a present but unaccepted key is forbidden.
func WithAPIKeyAuth(f APIKeyAuthFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if f == nil {
			return WriteError(c, commons.ValidateBusinessError(constant.ErrUnauthorized, c.Path()))
		}

		key := c.Get(constant.HeaderAPIKey)
		if key == "" {
			return WriteError(c, commons.ValidateBusinessError(constant.ErrUnauthorized, c.Path()))
		}

		if !f(key) {
			return WriteError(c, commons.ValidateBusinessError(constant.ErrForbidden, c.Path()))
		}

		return c.Next()
	}
}
