package devrelay

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/codec"
	"github.com/0gfoundation/0g-gasless/internal/signer"
)

const addressKey = "session_address"

// SessionAuth validates the x-message / x-signature / x-address triple. The
// message must be a live challenge issued to x-address and the signature must
// recover to it.
func SessionAuth(store *Store, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		msg := c.GetHeader("x-message")
		sigHex := c.GetHeader("x-signature")
		addrHex := c.GetHeader("x-address")

		if msg == "" || sigHex == "" || addrHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}
		addr, err := codec.DecodeAddress(addrHex)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid x-address"})
			return
		}

		owner, err := store.ChallengeOwner(c.Request.Context(), msg)
		if err != nil {
			log.Error("challenge lookup", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if owner == "" || !strings.EqualFold(owner, addr.Hex()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown or expired challenge"})
			return
		}

		sig, err := signer.ParseSignature(sigHex)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}
		recovered, err := signer.RecoverPersonal([]byte(msg), sig)
		if err != nil || recovered != addr {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		c.Set(addressKey, addr)
		c.Next()
	}
}

// AdminAuth requires x-api-key to equal key.
func AdminAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("x-api-key")
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

// Metrics counts requests by route and status.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
