// Package middleware holds the echo middleware the apiserver transport
// layers on top of the api.Client facade.
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey namespaces values stored on the echo context to avoid
// collisions with other middleware.
type ContextKey string

// ActorIDKey is the context key for the authenticated actor id extracted
// by ExtractActor.
const ActorIDKey ContextKey = "actor_id"

// ExtractActor reads the X-Actor-ID header into the request context. Every
// workflow created through this transport is attributed to that actor.
func ExtractActor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actorID := c.Request().Header.Get("X-Actor-ID")
			if actorID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": "X-Actor-ID header is required",
				})
			}
			c.Set(string(ActorIDKey), actorID)
			return next(c)
		}
	}
}

// Actor retrieves the actor id stored by ExtractActor.
func Actor(c echo.Context) string {
	v, _ := c.Get(string(ActorIDKey)).(string)
	return v
}
