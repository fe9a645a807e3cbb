package server

import (
	"net/http"

	executiondomain "github.com/agentforge/creditledger/internal/execution/domain"
	"github.com/gin-gonic/gin"
)

type runExecutionRequest struct {
	AgentID string         `json:"agent_id" binding:"required"`
	Input   map[string]any `json:"input"`
}

func (s *Server) RunExecution(c *gin.Context) {
	account, ok := accountFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var body runExecutionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	agentID, ok := parseSnowflake(body.AgentID)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.executionSvc.Run(c.Request.Context(), executiondomain.RunRequest{
		AccountID:    account.ID,
		AccountEmail: account.Email,
		AgentID:      agentID,
		Input:        body.Input,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetExecution(c *gin.Context) {
	account, ok := accountFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, ok := parseSnowflake(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	exec, err := s.executionSvc.Get(c.Request.Context(), account.ID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

type listExecutionsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

func (s *Server) ListExecutions(c *gin.Context) {
	account, ok := accountFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listExecutionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req := executiondomain.ListExecutionsRequest{AccountID: account.ID}
	req.PageToken = query.PageToken
	req.PageSize = query.PageSize

	resp, err := s.executionSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
