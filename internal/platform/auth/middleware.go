package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Claims are the token claims the engine cares about: who the actor is,
// their role, and (for patients) the patient record they own.
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	PatientID string `json:"patient_id,omitempty"`
}

// JWTMiddleware validates HS256 bearer tokens signed with secret and
// places the resulting Actor on the request context.
func JWTMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor := Actor{ID: claims.Subject, Role: Role(claims.Role)}
			if claims.PatientID != "" {
				pid, err := uuid.Parse(claims.PatientID)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid patient_id claim")
				}
				actor.PatientID = &pid
			}

			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development that
// grants unauthenticated requests an admin actor.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := Actor{ID: "dev-user", Role: RoleAdmin}
			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

// RequireRole rejects requests whose actor holds none of the given roles.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	allowed := make(map[Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := ActorFromContext(c.Request().Context())
			if actor.ID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
			}
			if !allowed[actor.Role] {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}
