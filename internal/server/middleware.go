package server

import (
	"strings"

	"github.com/agentforge/creditledger/internal/requestctx"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-ID"

	contextAccountIDKey    = "account_id"
	contextAccountEmailKey = "account_email"
)

// RequestID propagates the caller's request id or mints one, and makes it
// available to audit metadata via the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := requestctx.WithRequestID(c.Request.Context(), requestID)
		ctx = requestctx.WithIPAddress(ctx, c.ClientIP())
		ctx = requestctx.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Header(headerRequestID, requestID)
		c.Next()
	}
}

// AuthRequired resolves the bearer token against the identity provider and
// stores the account on the request context. The account row itself is
// created lazily by the ledger on first use.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		info, err := s.identity.UserInfo(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := requestctx.WithAccount(c.Request.Context(), requestctx.Account{
			ID:    info.ID,
			Email: info.Email,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAccountIDKey, info.ID)
		c.Set(contextAccountEmailKey, info.Email)
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func accountFrom(c *gin.Context) (requestctx.Account, bool) {
	return requestctx.AccountFromContext(c.Request.Context())
}
