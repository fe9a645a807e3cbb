// Package identity holds the identity-provider client. The service does not
// mint or validate tokens itself; it forwards the caller's bearer token and
// trusts the provider's userinfo answer.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentforge/creditledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// UserInfo is the subset of the provider's userinfo response we consume.
type UserInfo struct {
	ID    string `json:"sub"`
	Email string `json:"email"`
}

type Client interface {
	UserInfo(ctx context.Context, token string) (*UserInfo, error)
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type httpClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewHTTPClient(p Params) Client {
	timeout := p.Cfg.Identity.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpClient{
		baseURL: strings.TrimRight(p.Cfg.Identity.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     p.Log.Named("identity.client"),
	}
}

func (c *httpClient) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("userinfo request failed", zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthenticated
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, ErrUnauthenticated
	}
	return &info, nil
}

var Module = fx.Module("identity.client",
	fx.Provide(NewHTTPClient),
)
