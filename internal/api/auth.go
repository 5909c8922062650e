package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const subjectContextKey = "Subject"

// AdminClaims are the JWT claims issued to operators.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func issueToken(subject, secret string, expiresAt time.Time) (string, error) {
	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AdminClaims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*AdminClaims); ok && token.Valid {
		return claims.Subject, nil
	}
	return "", errors.New("invalid token claims")
}

// bearerToken extracts the token from the Authorization header. Browsers
// cannot set headers on a websocket upgrade, so a token query parameter is
// accepted as well.
func bearerToken(c *gin.Context) (string, string) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", "INVALID_AUTH_HEADER"
		}
		return parts[1], ""
	}
	if q := c.Query("token"); q != "" {
		return q, ""
	}
	return "", "MISSING_TOKEN"
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, code := bearerToken(c)
		switch code {
		case "MISSING_TOKEN":
			respondError(c, http.StatusUnauthorized, code, "missing Authorization header")
			return
		case "INVALID_AUTH_HEADER":
			respondError(c, http.StatusUnauthorized, code, "invalid Authorization header")
			return
		}

		subject, err := parseToken(raw, secret)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			return
		}

		c.Set(subjectContextKey, subject)
		c.Next()
	}
}

// CurrentSubject returns the authenticated operator from context.
func CurrentSubject(c *gin.Context) string {
	return c.GetString(subjectContextKey)
}

// login exchanges the operator password for a bearer token.
func (s *Server) login(c *gin.Context) {
	if s.opts.AdminPasswordHash == "" {
		respondError(c, http.StatusServiceUnavailable, "LOGIN_DISABLED", "admin login is not configured")
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondError(c, http.StatusBadRequest, "MISSING_CREDENTIALS", "username and password are required")
		return
	}

	if req.Username != s.opts.AdminUser ||
		bcrypt.CompareHashAndPassword([]byte(s.opts.AdminPasswordHash), []byte(req.Password)) != nil {
		s.log.Warn("admin login rejected", zap.String("username", req.Username), zap.String("ip", c.ClientIP()))
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	expiresAt := time.Now().Add(s.opts.TokenTTL)
	token, err := issueToken(req.Username, s.opts.JWTSecret, expiresAt)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}
