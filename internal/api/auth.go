package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenTTL    = 24 * time.Hour
	tokenIssuer = "fxbot"
	bcryptCost  = 12
)

var (
	// ErrInvalidToken is returned for tokens that fail signature or
	// claim validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for well-formed but expired tokens.
	ErrTokenExpired = errors.New("token expired")
)

// tokenManager issues and validates the HS256 bearer tokens that guard
// the control endpoints.
type tokenManager struct {
	secret []byte
	ttl    time.Duration
}

func newTokenManager(secret string) *tokenManager {
	return &tokenManager{secret: []byte(secret), ttl: tokenTTL}
}

func (m *tokenManager) issue(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (m *tokenManager) validate(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleLogin exchanges the admin credentials for a bearer token.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "username and password are required")
		return
	}

	if req.Username != s.cfg.AdminUser || !verifyPassword(s.cfg.AdminPasswordHash, req.Password) {
		s.log.Warn().Str("user", req.Username).Str("client", c.ClientIP()).Msg("failed login attempt")
		errorResponse(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.tokens.issue(req.Username)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to issue token")
		return
	}
	successResponse(c, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(s.tokens.ttl.Seconds()),
	})
}

// authMiddleware rejects requests that do not carry a valid bearer
// token issued by handleLogin.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, "authorization header must be: Bearer <token>")
			return
		}

		claims, err := s.tokens.validate(parts[1])
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		c.Set("user", claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": true, "message": message})
}

func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword produces the bcrypt hash stored as admin_password_hash
// in the server config. The -hash-password CLI flag calls it.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
