package server

import (
	"io"
	"net/http"
	"strings"

	paymentdomain "github.com/agentforge/creditledger/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const headerWebhookSignature = "X-Webhook-Signature"

// webhook bodies are small JSON events; anything larger is not ours.
const maxWebhookBody = 1 << 20

type createOrderRequest struct {
	PackageID string `json:"package_id"`
	AgentID   string `json:"agent_id"`
}

func (s *Server) CreatePaymentOrder(c *gin.Context) {
	account, ok := accountFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var body createOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req := paymentdomain.CreateOrderRequest{
		AccountID:    account.ID,
		AccountEmail: account.Email,
	}
	if id, ok := parseSnowflake(body.PackageID); ok {
		req.PackageID = &id
	}
	if id, ok := parseSnowflake(body.AgentID); ok {
		req.AgentID = &id
	}

	resp, err := s.paymentSvc.CreateOrder(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type verifyPaymentRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (s *Server) VerifyPayment(c *gin.Context) {
	account, ok := accountFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var body verifyPaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.paymentSvc.VerifyPayment(c.Request.Context(), paymentdomain.VerifyPaymentRequest{
		AccountID:    account.ID,
		AccountEmail: account.Email,
		OrderID:      body.OrderID,
		PaymentID:    body.PaymentID,
		Signature:    body.Signature,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	signature := c.GetHeader(headerWebhookSignature)
	if err := s.paymentSvc.HandleWebhook(c.Request.Context(), body, signature); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseSnowflake(raw string) (snowflake.ID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
