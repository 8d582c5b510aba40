package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const principalKey = "principal"

// Principal is the authenticated caller as carried in the access token.
type Principal struct {
	UserID   string
	Role     string
	HostelID string
	BlockID  string
}

// Claims mirrors the access tokens issued by the auth service.
type Claims struct {
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	HostelID string `json:"hostel,omitempty"`
	BlockID  string `json:"block,omitempty"`
	jwt.RegisteredClaims
}

var errMissingToken = errors.New("missing bearer token")

func bearerToken(c *gin.Context) (string, error) {
	h := c.GetHeader("Authorization")
	if h == "" {
		// EventSource cannot set headers.
		if t := c.Query("access_token"); t != "" {
			return t, nil
		}
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}

// Auth verifies an HS256 access token and stores the Principal on the context.
// With an empty secret every request is rejected.
func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(c *gin.Context) {
		raw, err := bearerToken(c)
		if err != nil || len(key) == 0 {
			abortUnauthorized(c, "Authentication required")
			return
		}
		var claims Claims
		if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}
		if claims.UserID == "" {
			abortUnauthorized(c, "Token has no user")
			return
		}
		c.Set(principalKey, Principal{
			UserID:   claims.UserID,
			Role:     strings.ToUpper(claims.Role),
			HostelID: claims.HostelID,
			BlockID:  claims.BlockID,
		})
		c.Next()
	}
}

func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}
