package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/models"
)

const SubjectKey = "subject"

// AuthMiddleware requires an HS256 bearer token signed with secret and stores
// its "sub" claim under SubjectKey.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "missing authorization header")
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			unauthorized(c, "invalid authorization header format")
			return
		}
		tokenString = strings.TrimSpace(tokenString)
		if tokenString == "" {
			unauthorized(c, "empty token")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			msg := "invalid token"
			switch {
			case err == nil:
			case strings.Contains(err.Error(), "token is expired"):
				msg = "token has expired"
			case strings.Contains(err.Error(), "signature is invalid"):
				msg = "token signature is invalid"
			}
			unauthorized(c, msg)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			unauthorized(c, "invalid token claims")
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			unauthorized(c, "missing subject in token")
			return
		}

		c.Set(SubjectKey, sub)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "unauthorized",
		Message: message,
		Code:    apperr.CodeUnauthorized,
	})
}
