package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Auth routes
	s.echo.POST("/auth/login", s.handleLogin)
	s.echo.POST("/auth/logout", s.handleLogout, s.requireAuth)
	s.echo.GET("/auth/session", s.handleSessionInfo, s.requireAuth)

	// Profile routes (authenticated)
	s.echo.POST("/api/profiles/:id/launch", s.handleLaunchProfile, s.requireAuth)
	s.echo.DELETE("/api/profiles/:id/session", s.handleClearProfileSession, s.requireAuth)
	s.echo.GET("/api/profiles/running", s.handleRunningProfiles, s.requireAuth)
}
