package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Auth gates admin operations (balance edits, cache clearing) behind a
// password-derived JWT. When no admin password hash is configured the kiosk
// runs open, which is only sane for development.
type Auth struct {
	jwtSecret []byte
	adminHash string
	tokenTTL  time.Duration
	logger    *logrus.Logger
}

func NewAuth(jwtSecret, adminHash string, tokenTTL time.Duration, logger *logrus.Logger) *Auth {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(adminHash) == "" {
		logger.Warn("no admin password hash configured, admin routes are open")
	}
	return &Auth{
		jwtSecret: []byte(jwtSecret),
		adminHash: strings.TrimSpace(adminHash),
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

// Enabled reports whether admin auth is configured.
func (a *Auth) Enabled() bool {
	return a.adminHash != ""
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login exchanges the admin password for a bearer token.
func (a *Auth) Login(c *gin.Context) {
	if !a.Enabled() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "admin auth is not configured"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.adminHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		a.logger.Errorf("sign token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": claims.ExpiresAt.Format(time.RFC3339),
	})
}

// RequireAdmin validates the bearer token on admin routes.
func (a *Auth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Next()
	}
}
