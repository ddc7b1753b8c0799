package server

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"claimpricer/internal/core"
)

const bearerScheme = "Bearer"

// AuthMiddleware requires "Authorization: Bearer <masterKey>" on every request
// except those whose path is in skipPaths. An empty masterKey disables it.
// Rejections carry a WWW-Authenticate challenge.
func AuthMiddleware(masterKey string, skipPaths []string) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	want := []byte(masterKey)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" {
				return next(c)
			}
			if _, ok := skip[c.Request().URL.Path]; ok {
				return next(c)
			}

			token, err := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err == nil && subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				err = core.NewAuthenticationError("invalid master key")
			}
			if err != nil {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, bearerScheme+` realm="claimpricer"`)
				return handleError(c, err)
			}
			return next(c)
		}
	}
}

// bearerToken extracts the credentials; the scheme is matched case-insensitively.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", core.NewAuthenticationError("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", core.NewAuthenticationError("invalid authorization header format, expected 'Bearer <token>'")
	}
	return strings.TrimSpace(token), nil
}
