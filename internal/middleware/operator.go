package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	operatorKeyHeader = "X-Operator-Key"
	operatorIDHeader  = "X-Operator-ID"
	operatorLocal     = "operator"
	defaultOperator   = "operator"
	anonymousOperator = "anonymous"
)

// OperatorAuth admits privileged callers whose X-Operator-Key matches the
// bcrypt hash. With an empty hash every call is admitted as "anonymous" when
// allowAnonymous is set, and rejected otherwise.
func OperatorAuth(keyHash string, allowAnonymous bool) fiber.Handler {
	hash := []byte(strings.TrimSpace(keyHash))
	return func(c *fiber.Ctx) error {
		if len(hash) == 0 {
			if !allowAnonymous {
				return fiber.NewError(http.StatusUnauthorized, "operator authentication not configured")
			}
			c.Locals(operatorLocal, anonymousOperator)
			return c.Next()
		}

		key := c.Get(operatorKeyHeader)
		if key == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing "+operatorKeyHeader+" header")
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid operator key")
		}

		operator := strings.TrimSpace(c.Get(operatorIDHeader))
		if operator == "" {
			operator = defaultOperator
		}
		c.Locals(operatorLocal, operator)
		return c.Next()
	}
}

// OperatorFrom returns the operator admitted by OperatorAuth, if any.
func OperatorFrom(c *fiber.Ctx) string {
	operator, _ := c.Locals(operatorLocal).(string)
	return operator
}
