package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/mklatt/sessiondeck/internal/errors"
	"github.com/mklatt/sessiondeck/internal/logging"
	"github.com/mklatt/sessiondeck/internal/resume"
)

const loginTimeout = 10 * time.Second

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	State     string `json:"state"`
}

// handleLogin authenticates against the identity provider and activates the
// in-process session. Activation announces the new token on the account
// channel, which supersedes any session on another device.
func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed login request")
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.ValidationError("email and password are required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), loginTimeout)
	defer cancel()

	idSession, err := s.identity.SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}

	handle := idSession.Handle()
	s.manager.SetActive(handle)

	if idSession.RefreshToken != "" {
		if err := s.resume.Save(resume.State{AccountID: handle.AccountID, RefreshToken: idSession.RefreshToken}); err != nil {
			slog.Warn("Failed to persist resume state", "error", err)
		}
	}

	cookie, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.Warn("Replacing unreadable console cookie", "error", err)
		cookie, _ = s.sessionStore.New(c.Request(), sessionName)
	}
	cookie.Values[sessionKeyAccountID] = handle.AccountID
	if err := cookie.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save console session", err)
	}

	logging.WithAccount(handle.AccountID).Info("Account logged in", "role", string(handle.Role))
	return c.JSON(http.StatusOK, s.sessionInfo())
}

// handleLogout runs the kill switch: terminate launched processes, drop the
// local session, revoke the token upstream. Idempotent from the caller's
// point of view.
func (s *Server) handleLogout(c echo.Context) error {
	s.kill.Execute(c.Request().Context(), "user_logout")

	cookie, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		cookie, _ = s.sessionStore.New(c.Request(), sessionName)
	}
	cookie.Options.MaxAge = -1
	if err := cookie.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to clear console session", err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleSessionInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sessionInfo())
}

func (s *Server) sessionInfo() sessionResponse {
	resp := sessionResponse{State: s.manager.CurrentState().String()}
	if handle, ok := s.manager.Handle(); ok {
		resp.AccountID = handle.AccountID
		resp.Email = handle.Email
		resp.Role = string(handle.Role)
	}
	return resp
}
