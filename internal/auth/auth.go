package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"loyalty-app/internal/api/response"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// UserContextKey is the gin context key holding the verified *Claims
const UserContextKey = "liff_user"

var ErrMissingToken = errors.New("missing bearer token")

// Claims are the LINE ID token claims the server relies on. Subject is the LINE user id.
type Claims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Email   string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the LINE user id
func (c *Claims) UserID() string {
	return c.Subject
}

// Verifier validates LIFF ID tokens signed with the channel secret
type Verifier struct {
	secret    []byte
	channelID string
	issuer    string
	leeway    time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier from the LIFF settings
func NewVerifier(cfg config.LIFFConfig) *Verifier {
	return &Verifier{
		secret:    []byte(cfg.ChannelSecret),
		channelID: cfg.ChannelID,
		issuer:    cfg.Issuer,
		leeway:    cfg.Leeway,
		now:       time.Now,
	}
}

// GenerateToken signs a token for userID the way LINE does, used by tests and local development
func (v *Verifier) GenerateToken(userID, name string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("LIFF channel secret not configured")
	}

	now := v.now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			Audience:  jwt.ClaimStrings{v.channelID},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ValidateToken checks signature, issuer, audience and expiry and returns the claims
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("LIFF channel secret not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.channelID != "" {
		opts = append(opts, jwt.WithAudience(v.channelID))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject: %w", jwt.ErrTokenInvalidClaims)
	}
	return claims, nil
}

func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

// RequireLIFF rejects requests without a valid LIFF ID token
func RequireLIFF(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			response.SendError(c, http.StatusUnauthorized, "unauthorized", "Please sign in with LINE again.", err)
			return
		}

		claims, err := v.ValidateToken(token)
		if err != nil {
			logger.Log.WithError(err).WithField("path", c.FullPath()).Warn("Rejected LIFF token")
			response.SendError(c, http.StatusUnauthorized, "invalid_token", "Your session has expired. Please sign in with LINE again.", err)
			return
		}

		c.Set(UserContextKey, claims)
		c.Next()
	}
}

// OptionalLIFF attaches the user when a valid token is present and lets anonymous requests through.
// A present but invalid token is still rejected.
func OptionalLIFF(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if errors.Is(err, ErrMissingToken) {
			c.Next()
			return
		}
		if err != nil {
			response.SendError(c, http.StatusUnauthorized, "unauthorized", "Please sign in with LINE again.", err)
			return
		}

		claims, err := v.ValidateToken(token)
		if err != nil {
			response.SendError(c, http.StatusUnauthorized, "invalid_token", "Your session has expired. Please sign in with LINE again.", err)
			return
		}

		c.Set(UserContextKey, claims)
		c.Next()
	}
}

// UserFromContext returns the claims stored by RequireLIFF or OptionalLIFF
func UserFromContext(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(UserContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// AdminAuth guards admin routes with HTTP basic auth against a bcrypt password hash.
// With no hash configured every request is refused.
func AdminAuth(cfg config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.PasswordHash == "" {
			response.SendError(c, http.StatusForbidden, "admin_disabled", "Admin access is not configured.", nil)
			return
		}

		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="admin"`)
			response.SendError(c, http.StatusUnauthorized, "unauthorized", "Admin credentials required.", nil)
			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) == 1
		passErr := bcrypt.CompareHashAndPassword([]byte(cfg.PasswordHash), []byte(password))
		if !userMatch || passErr != nil {
			logger.Log.WithFields(logrus.Fields{
				"username": username,
				"ip":       c.ClientIP(),
			}).Warn("Admin login failed")
			c.Header("WWW-Authenticate", `Basic realm="admin"`)
			response.SendError(c, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials.", nil)
			return
		}

		c.Next()
	}
}

// HashPassword returns the bcrypt hash stored in ADMIN_PASSWORD_HASH
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(hash), nil
}
