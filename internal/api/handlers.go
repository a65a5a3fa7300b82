package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"goalmarket/internal/models"
	"goalmarket/internal/store"
)

type createGoalRequest struct {
	Goal        string `json:"goal" binding:"required"`
	Measurement string `json:"measurement"`
	// Date is the target date in DD/MM/YYYY form.
	Date string `json:"date" binding:"required"`
}

type createUpdateRequest struct {
	Content string `json:"content" binding:"required"`
	// Date is the reporting date in YYYY-MM-DD form.
	Date string `json:"date" binding:"required"`
}

type resolveGoalRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

type createAgentRequest struct {
	Name        string  `json:"name" binding:"required"`
	CashBalance float64 `json:"cash_balance"`
}

// marketAnalysisResponse is the per-event view: the update, the debate
// transcript, the quoted spreads, the settled trades and the price they
// discovered.
type marketAnalysisResponse struct {
	UpdateID       int                     `json:"update_id"`
	UpdateContent  string                  `json:"update_content"`
	UpdateDate     string                  `json:"update_date"`
	DebateMessages []*models.DebateMessage `json:"debate_messages"`
	AgentSpreads   []models.AgentSpread    `json:"agent_spreads"`
	Trades         []*models.Trade         `json:"trades"`
	MarketPrice    *float64                `json:"market_price"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "goalmarket",
		"message": "Prediction market for personal goals",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateGoal(c *gin.Context) {
	var req createGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	target, err := time.Parse("02/01/2006", req.Date)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "date must be DD/MM/YYYY"})
		return
	}

	goal, err := s.engine.CreateGoal(c.Request.Context(), req.Goal, req.Measurement, target.Format("2006-01-02"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, goal)
}

func (s *Server) handleListGoals(c *gin.Context) {
	goals, err := s.store.ListGoals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, goals)
}

func (s *Server) handleGetGoal(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	goal, err := s.store.GetGoal(c.Request.Context(), id)
	if err != nil {
		s.renderStoreError(c, err, "goal not found")
		return
	}
	c.JSON(http.StatusOK, goal)
}

func (s *Server) handleCreateUpdate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req createUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	update, err := s.engine.CreateUpdate(c.Request.Context(), id, req.Content, req.Date)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyResolved) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.renderStoreError(c, err, "goal not found")
		return
	}

	c.JSON(http.StatusOK, update)
}

func (s *Server) handleListUpdates(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	// 404 before listing: an unknown goal has no update feed.
	if _, err := s.store.GetGoal(c.Request.Context(), id); err != nil {
		s.renderStoreError(c, err, "goal not found")
		return
	}

	updates, err := s.store.ListUpdatesByGoal(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updates)
}

func (s *Server) handleResolveGoal(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req resolveGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	goal, err := s.engine.ResolveGoal(c.Request.Context(), id, req.Outcome)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAlreadyResolved), errors.Is(err, models.ErrInvalidOutcome):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.renderStoreError(c, err, "goal not found")
		}
		return
	}

	c.JSON(http.StatusOK, goal)
}

func (s *Server) handleMarketAnalysis(c *gin.Context) {
	goalID, ok := pathID(c, "id")
	if !ok {
		return
	}
	updateID, ok := pathID(c, "uid")
	if !ok {
		return
	}

	ctx := c.Request.Context()

	update, err := s.store.GetUpdate(ctx, updateID)
	if err != nil {
		s.renderStoreError(c, err, "update not found")
		return
	}
	if update.GoalID != goalID {
		c.JSON(http.StatusNotFound, gin.H{"error": "update not found"})
		return
	}

	debate, err := s.store.ListDebate(ctx, goalID, updateID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	spreads, err := s.store.GetSpreads(ctx, goalID, updateID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	trades, err := s.store.ListTradesForEvent(ctx, goalID, updateID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var marketPrice *float64
	if len(trades) > 0 {
		sum := 0.0
		for _, trade := range trades {
			sum += trade.Price
		}
		mean := sum / float64(len(trades))
		marketPrice = &mean
	}

	c.JSON(http.StatusOK, marketAnalysisResponse{
		UpdateID:       update.ID,
		UpdateContent:  update.Content,
		UpdateDate:     update.Date,
		DebateMessages: debate,
		AgentSpreads:   spreads,
		Trades:         trades,
		MarketPrice:    marketPrice,
	})
}

func (s *Server) handleCreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	agent, err := s.engine.CreateAgent(c.Request.Context(), req.Name, req.CashBalance)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, agent)
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.store.ListAgents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, agents)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	agent, err := s.store.GetAgent(c.Request.Context(), id)
	if err != nil {
		s.renderStoreError(c, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, agent)
}

// pathID parses a numeric path parameter, writing a 404 on failure.
func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, false
	}
	return id, true
}

// renderStoreError maps a persistence error to 404 or 500.
func (s *Server) renderStoreError(c *gin.Context, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
