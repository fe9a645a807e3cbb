package server

import (
	"net/http"

	agentdomain "github.com/agentforge/creditledger/internal/agent/domain"
	"github.com/gin-gonic/gin"
)

type agentView struct {
	agentdomain.Agent
	Owned bool `json:"owned"`
}

func (s *Server) ListAgents(c *gin.Context) {
	account, ok := accountFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	agents, err := s.agentRepo.List(c.Request.Context(), s.db, true)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		if a == nil {
			continue
		}
		owned, err := s.agentRepo.HasGrant(c.Request.Context(), s.db, account.ID, a.ID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		views = append(views, agentView{Agent: *a, Owned: owned})
	}
	c.JSON(http.StatusOK, gin.H{"agents": views})
}

func (s *Server) GetAgent(c *gin.Context) {
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

	agent, err := s.agentRepo.GetByID(c.Request.Context(), s.db, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	owned, err := s.agentRepo.HasGrant(c.Request.Context(), s.db, account.ID, agent.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentView{Agent: *agent, Owned: owned})
}
