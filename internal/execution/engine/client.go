// Package engine holds the workflow-engine HTTP client. The engine is an
// external system; a run is fire-and-wait with a bounded timeout.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentforge/creditledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrRunFailed marks an engine-side failure: a non-2xx response, a timeout,
// or an unreachable engine. The caller treats these as a failed run, never
// as a reason to refund.
var ErrRunFailed = errors.New("engine_run_failed")

type RunInput struct {
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	Payload     map[string]any `json:"payload,omitempty"`
}

type RunOutput struct {
	Output json.RawMessage `json:"output"`
}

type Client interface {
	RunWorkflow(ctx context.Context, input RunInput) (*RunOutput, error)
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func NewHTTPClient(p Params) Client {
	timeout := p.Cfg.Engine.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &httpClient{
		baseURL: strings.TrimRight(p.Cfg.Engine.BaseURL, "/"),
		apiKey:  p.Cfg.Engine.APIKey,
		http:    &http.Client{Timeout: timeout},
		log:     p.Log.Named("execution.engine"),
	}
}

func (c *httpClient) RunWorkflow(ctx context.Context, input RunInput) (*RunOutput, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/workflows/%s/run", c.baseURL, input.WorkflowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("engine run request failed",
			zap.String("workflow_id", input.WorkflowID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrRunFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("engine run rejected",
			zap.String("workflow_id", input.WorkflowID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
		return nil, fmt.Errorf("%w: status %d", ErrRunFailed, resp.StatusCode)
	}

	var out RunOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode output: %v", ErrRunFailed, err)
	}
	return &out, nil
}
