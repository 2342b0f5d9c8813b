package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/fsmirror/internal/auth"
)

const (
	ctxKeyUser      = "fsmirror.user"
	requestIDHeader = "X-Request-Id"
)

// requestID stamps every request with an id for log correlation, keeping a
// caller-supplied one when present.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Set("requestID", id)
		c.Next()
	}
}

// userScope resolves the caller's user scope from a bearer token. Requests
// without a token run in the anonymous scope (nil user), matching records
// stored without an owner; a token that is present but does not verify is
// rejected.
func (s *Server) userScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is not a bearer token"})
			return
		}

		userID, err := auth.GetUserIDFromToken(strings.TrimSpace(token), s.secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ctxKeyUser, userID)
		c.Next()
	}
}

// currentUser returns the request's user scope; nil means anonymous.
func currentUser(c *gin.Context) *string {
	v, ok := c.Get(ctxKeyUser)
	if !ok {
		return nil
	}
	userID, ok := v.(string)
	if !ok || userID == "" {
		return nil
	}
	return &userID
}
