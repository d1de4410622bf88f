package common

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
)

type ctxKey string

const OperationIDKey string = "operationID"
const operationIDKeyCtx ctxKey = ctxKey(OperationIDKey)

// Adds a time-sortable globally unique identifier to an echo.Context if not already set
func OperationIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Get(OperationIDKey) == nil {
			oid := GenerateOperationID()
			c.Set(OperationIDKey, oid)
			c.SetRequest(c.Request().WithContext(WithOperationID(c.Request().Context(), oid)))
		}

		return next(c)
	}
}

func GenerateOperationID() string {
	return ksuid.New().String()
}

// WithOperationID attaches an operation id to a context. Entries logged
// with that context carry the id.
func WithOperationID(ctx context.Context, oid string) context.Context {
	return context.WithValue(ctx, operationIDKeyCtx, oid)
}

// OperationID returns the operation id attached to the context or "".
func OperationID(ctx context.Context) string {
	oid, _ := ctx.Value(operationIDKeyCtx).(string)
	return oid
}
