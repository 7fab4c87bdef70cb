package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyHeader = "X-API-Key"
	keyPrefixLen = 12 // "lfk_" + 8 hex chars

	ctxTeamID = "ingestTeamID"
	ctxKeyID  = "ingestKeyID"
)

// APIKey is an ingest credential. Only the bcrypt hash is stored; the
// plaintext is shown once at creation.
type APIKey struct {
	ID             uuid.UUID `json:"id"`
	TeamID         uuid.UUID `json:"teamId"`
	Name           string    `json:"name"`
	KeyHash        string    `json:"-"`
	KeyPrefix      string    `json:"keyPrefix"`
	AllowedDomains []string  `json:"allowedDomains,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
}

// GenerateAPIKey creates a random key and its bcrypt hash. The prefix is
// stored in clear for lookup; the full key is verified against the hash.
func GenerateAPIKey() (plaintext, hash, prefix string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", err
	}
	plaintext = "lfk_" + hex.EncodeToString(buf)

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	return plaintext, string(hashed), plaintext[:keyPrefixLen], nil
}

// APIKeyAuthMiddleware authenticates the X-API-Key header, enforces the
// key's allowed-domain list and the per-key rate limit, and sets the team
// context for downstream handlers.
func APIKeyAuthMiddleware(repo *Repository, limiter *KeyLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		plaintext := c.GetHeader(apiKeyHeader)
		if len(plaintext) < keyPrefixLen {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		key, err := repo.GetByPrefix(c.Request.Context(), plaintext[:keyPrefixLen])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(plaintext)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		if len(key.AllowedDomains) > 0 {
			origin := c.GetHeader("Origin")
			if origin == "" {
				origin = c.GetHeader("Referer")
			}
			if !isDomainAllowed(origin, key.AllowedDomains) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "domain not allowed"})
				return
			}
		}

		if limiter != nil && !limiter.Allow(key.ID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Set(ctxTeamID, key.TeamID)
		c.Set(ctxKeyID, key.ID)
		c.Next()
	}
}

// TeamFromContext returns the authenticated team for this request.
func TeamFromContext(c *gin.Context) (uuid.UUID, bool) {
	value, ok := c.Get(ctxTeamID)
	if !ok {
		return uuid.Nil, false
	}
	teamID, ok := value.(uuid.UUID)
	return teamID, ok
}

// isDomainAllowed matches the origin host against the allowed list, with
// wildcard subdomain support ("*.example.com").
func isDomainAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		host = strings.ToLower(origin)
	}

	for _, domain := range allowed {
		domain = strings.ToLower(strings.TrimSpace(domain))
		switch {
		case domain == "*":
			return true
		case strings.HasPrefix(domain, "*."):
			if host == domain[2:] || strings.HasSuffix(host, domain[1:]) {
				return true
			}
		case host == domain:
			return true
		}
	}
	return false
}
