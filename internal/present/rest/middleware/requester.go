package middleware

import (
	"context"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/windholt/spacehost"
	"github.com/windholt/spacehost/internal/domain"
)

var tracer = otel.Tracer("middleware")

// RequesterMiddleware lifts the requester DID stamped by the fronting
// session verifier into the request context. The header is trusted
// infrastructure input; a missing or malformed value simply leaves the
// request anonymous and write handlers reject it there.
type RequesterMiddleware struct {
	config domain.Config
}

func NewRequesterMiddleware(config domain.Config) *RequesterMiddleware {
	return &RequesterMiddleware{
		config: config,
	}
}

func (m *RequesterMiddleware) IdentifyRequester(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "RequesterMiddleware.IdentifyRequester")
		defer span.End()

		did := c.Request().Header.Get(domain.RequesterDIDHeader)
		if did != "" && spacehost.IsDID(did) {
			ctx = context.WithValue(ctx, domain.RequesterDIDCtxKey, did)
			span.SetAttributes(attribute.String("RequesterDID", did))
		}

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
