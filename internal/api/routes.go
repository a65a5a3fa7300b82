package api

import "goalmarket/internal/metrics"

// setupRoutes configures the API route table.
func (s *Server) setupRoutes(metricsEnabled bool) {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	if metricsEnabled {
		s.router.GET("/metrics", metrics.Handler())
	}

	s.router.POST("/goals", s.handleCreateGoal)
	s.router.GET("/goals", s.handleListGoals)
	s.router.GET("/goals/:id", s.handleGetGoal)
	s.router.POST("/goals/:id/updates", s.handleCreateUpdate)
	s.router.GET("/goals/:id/updates", s.handleListUpdates)
	s.router.PATCH("/goals/:id/resolve", s.handleResolveGoal)
	s.router.GET("/goals/:id/updates/:uid/market-analysis", s.handleMarketAnalysis)

	s.router.POST("/agents", s.handleCreateAgent)
	s.router.GET("/agents", s.handleListAgents)
	s.router.GET("/agents/:id", s.handleGetAgent)
}
