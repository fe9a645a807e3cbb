package server

import (
	"errors"
	"net/http"
	"time"

	agentdomain "github.com/agentforge/creditledger/internal/agent/domain"
	auditdomain "github.com/agentforge/creditledger/internal/audit/domain"
	executiondomain "github.com/agentforge/creditledger/internal/execution/domain"
	"github.com/agentforge/creditledger/internal/identity"
	ledgerdomain "github.com/agentforge/creditledger/internal/ledger/domain"
	paymentdomain "github.com/agentforge/creditledger/internal/payment/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
	ErrInternal       = errors.New("internal_error")
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ErrorHandlingMiddleware is the single point where domain errors become
// HTTP responses. Handlers never write error bodies themselves; they abort
// through AbortWithError and the taxonomy decides status and code here.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, body := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, body)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorBody) {
	status, code, message := classify(err)
	return status, errorBody{
		Error:     message,
		Code:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated", "authentication required"

	case errors.Is(err, ErrForbidden),
		errors.Is(err, executiondomain.ErrNotEntitled):
		return http.StatusForbidden, "forbidden", "access to this agent has not been purchased"

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidRequest),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidPageToken),
		errors.Is(err, executiondomain.ErrInvalidInput),
		errors.Is(err, executiondomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return http.StatusBadRequest, "validation_error", "invalid request"

	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusPaymentRequired, "payment_error", "payment verification failed"

	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "payment_error", "insufficient credits"

	case errors.Is(err, ledgerdomain.ErrDuplicatePayment):
		return http.StatusConflict, "duplicate_payment", "payment already applied"

	case errors.Is(err, ErrNotFound),
		errors.Is(err, agentdomain.ErrNotFound),
		errors.Is(err, agentdomain.ErrInactive),
		errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, ledgerdomain.ErrPackageNotFound),
		errors.Is(err, ledgerdomain.ErrPurchaseNotFound),
		errors.Is(err, executiondomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, "not_found", "resource not found"

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "too many requests"

	case errors.Is(err, paymentdomain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable", "payment gateway unavailable"

	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}
