package server

import (
	"net/http"
	"strings"
	"time"

	auditdomain "github.com/agentforge/creditledger/internal/audit/domain"
	"github.com/gin-gonic/gin"
)

type listAuditLogsQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

// ListAuditLogs returns the caller's own audit trail. The actor filter is
// forced to the authenticated account; there is no cross-account view.
func (s *Server) ListAuditLogs(c *gin.Context) {
	account, ok := accountFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	startAt, err := parseTimeParam(query.StartAt)
	if err != nil {
		AbortWithError(c, auditdomain.ErrInvalidTimeRange)
		return
	}
	endAt, err := parseTimeParam(query.EndAt)
	if err != nil {
		AbortWithError(c, auditdomain.ErrInvalidTimeRange)
		return
	}

	req := auditdomain.ListAuditLogRequest{
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		ActorID:    account.ID,
		StartAt:    startAt,
		EndAt:      endAt,
	}
	req.PageToken = query.PageToken
	req.PageSize = query.PageSize

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
