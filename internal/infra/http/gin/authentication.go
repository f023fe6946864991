package ginserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const principalContextKey = "lettz.principal"

var errMissingSubject = errors.New("token has no user_id claim")

type principal struct {
	ID string
}

// JWTAuth resolves an HS256 bearer token into the active user. Requests
// without a valid token carry no principal; handlers decide whether that is
// fatal. Browsers cannot set headers on EventSource or websocket requests, so
// the token may also arrive as the access_token query parameter.
type JWTAuth struct {
	Secret []byte
	Logger *slog.Logger
}

func (m JWTAuth) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" || len(m.Secret) == 0 {
		c.Next()
		return
	}
	uid, err := ParseToken(m.Secret, token)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{ID: uid})
	c.Next()
}

// ParseToken validates token and returns its user_id claim.
func ParseToken(secret []byte, token string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	uid, _ := claims["user_id"].(string)
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", errMissingSubject
	}
	return uid, nil
}

// IssueToken signs an HS256 token for uid.
func IssueToken(secret []byte, uid string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("issue token: empty secret")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": uid,
		"iat":     now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
	c.Set("uid", p.ID)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

// currentUID is the active user or "" when nobody is signed in.
func currentUID(c *gin.Context) string {
	p, _ := currentPrincipal(c)
	return p.ID
}

func requireUser(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	token := strings.TrimSpace(header[7:])
	return token
}
