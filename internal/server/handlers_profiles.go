package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/mklatt/sessiondeck/internal/errors"
	"github.com/mklatt/sessiondeck/internal/logging"
)

// handleLaunchProfile kicks off a launch and returns immediately. The launch
// itself blocks for the lifetime of the external session, so it runs detached
// from the request context; outcome lands in logs and metrics, running state
// is queryable via /api/profiles/running.
func (s *Server) handleLaunchProfile(c echo.Context) error {
	profileID := c.Param("id")
	if profileID == "" {
		return apperrors.ValidationError("profile id is required")
	}
	if s.launcher.Running(profileID) {
		return echo.NewHTTPError(http.StatusConflict, "profile already running")
	}

	debug := c.QueryParam("debug") == "true"

	go func() {
		logger := logging.WithProfile(profileID)
		if err := s.launcher.Launch(context.Background(), profileID, debug); err != nil {
			logger.Error("Profile launch failed", "error", err)
			s.forceLogout(context.Background(), err)
			return
		}
		logger.Info("Profile session ended")
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"status":     "launching",
		"profile_id": profileID,
	})
}

// handleClearProfileSession wipes the stored session artifact so the next
// launch starts clean. Refused while the profile is running: the live run
// would re-persist over the wipe.
func (s *Server) handleClearProfileSession(c echo.Context) error {
	profileID := c.Param("id")
	if profileID == "" {
		return apperrors.ValidationError("profile id is required")
	}
	if s.launcher.Running(profileID) {
		return echo.NewHTTPError(http.StatusConflict, "profile is running")
	}

	handle, err := s.activeHandle()
	if err != nil {
		return err
	}

	if err := s.profiles.ClearSession(c.Request().Context(), handle.Token, profileID); err != nil {
		s.forceLogout(c.Request().Context(), err)
		return err
	}

	slog.Info("Stored session cleared", "profile_id", profileID)
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleRunningProfiles(c echo.Context) error {
	profiles := s.launcher.RunningProfiles()
	if profiles == nil {
		profiles = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"profiles": profiles})
}
