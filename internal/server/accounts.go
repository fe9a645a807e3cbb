package server

import (
	"net/http"

	ledgerdomain "github.com/agentforge/creditledger/internal/ledger/domain"
	"github.com/gin-gonic/gin"
)

// GetMyAccount returns the caller's profile and balance. The account row is
// created lazily here on first authenticated read.
func (s *Server) GetMyAccount(c *gin.Context) {
	account, ok := accountFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	row, err := s.ledgerSvc.EnsureAccount(c.Request.Context(), account.ID, account.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

type listPurchasesQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

func (s *Server) ListPurchases(c *gin.Context) {
	account, ok := accountFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listPurchasesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req := ledgerdomain.ListPurchasesRequest{AccountID: account.ID}
	req.PageToken = query.PageToken
	req.PageSize = query.PageSize

	resp, err := s.ledgerSvc.ListPurchases(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
