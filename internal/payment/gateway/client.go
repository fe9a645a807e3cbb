// Package gateway holds the payment-gateway HTTP client. Only order creation
// talks to the gateway; capture verification is signature-based and stays
// local.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentforge/creditledger/internal/config"
	"github.com/agentforge/creditledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Order is the gateway's order entity, as much of it as we consume.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Client interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error)
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type httpClient struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	log       *zap.Logger
}

func NewHTTPClient(p Params) Client {
	timeout := p.Cfg.Gateway.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpClient{
		baseURL:   strings.TrimRight(p.Cfg.Gateway.BaseURL, "/"),
		keyID:     p.Cfg.Gateway.KeyID,
		keySecret: p.Cfg.Gateway.KeySecret,
		http:      &http.Client{Timeout: timeout},
		log:       p.Log.Named("payment.gateway"),
	}
}

func (c *httpClient) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error) {
	body, err := json.Marshal(map[string]any{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("gateway order request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Error("gateway order rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
		return nil, fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("%w: decode order: %v", domain.ErrGatewayUnavailable, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: order response missing id", domain.ErrGatewayUnavailable)
	}
	return &order, nil
}
