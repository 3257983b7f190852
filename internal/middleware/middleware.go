package middleware

import (
	"net/http"
	"strings"

	"green-reward/pkg"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var publicPaths = map[string]bool{
	"/":         true,
	"/api/auth": true,
}

// JWTAuthMiddleware verifies the bearer token and stores its claims under
// "user". Browsers cannot set headers on a websocket handshake, so a
// ?token= query parameter is accepted as well.
func JWTAuthMiddleware(secret string, log pkg.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if publicPaths[c.Request().URL.Path] {
				return next(c)
			}

			tokenString := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if tokenString == "" {
				tokenString = c.QueryParam("token")
			}
			if tokenString == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"errors": "Authorization header missing"})
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				log.Warn("Invalid JWT token", zap.String("path", c.Request().URL.Path), zap.Error(err))
				return c.JSON(http.StatusUnauthorized, map[string]string{"errors": "Invalid token"})
			}
			c.Set("user", token.Claims)
			return next(c)
		}
	}
}
