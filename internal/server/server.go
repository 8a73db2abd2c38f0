// Package server is the console HTTP surface of the daemon: login, profile
// launch, and observability endpoints consumed by the local UI.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mklatt/sessiondeck/internal/config"
	"github.com/mklatt/sessiondeck/internal/domain"
	apperrors "github.com/mklatt/sessiondeck/internal/errors"
	"github.com/mklatt/sessiondeck/internal/identity"
	"github.com/mklatt/sessiondeck/internal/resume"
	"github.com/mklatt/sessiondeck/internal/session"
)

const (
	sessionName         = "sessiondeck"
	sessionKeyAccountID = "account_id"
	sessionMaxAgeDays   = 7
)

// identityClient is the slice of the identity provider the console needs.
type identityClient interface {
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
}

// profileStore is the slice of the app-manager client the console needs.
type profileStore interface {
	ClearSession(ctx context.Context, token, profileID string) error
}

// resumeSaver persists restart-resume state on login. Satisfied by resume.Store.
type resumeSaver interface {
	Save(state resume.State) error
}

// launcher coordinates profile launches. Satisfied by launch.Handoff.
type launcher interface {
	Launch(ctx context.Context, profileID string, debug bool) error
	Running(profileID string) bool
	RunningProfiles() []string
}

// readinessChecker reports whether a backing service is reachable.
type readinessChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo         *echo.Echo
	config       *config.Config
	identity     identityClient
	profiles     profileStore
	launcher     launcher
	manager      *session.Manager
	kill         *session.KillSwitch
	resume       resumeSaver
	sessionStore *sessions.CookieStore
	redisCheck   readinessChecker
	startTime    time.Time
}

func NewServer(cfg *config.Config, idClient identityClient, profiles profileStore, launcher launcher,
	manager *session.Manager, kill *session.KillSwitch, resumeStore resumeSaver, redisCheck readinessChecker) *Server {

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())

	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * sessionMaxAgeDays,
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}

	srv := &Server{
		echo:         e,
		config:       cfg,
		identity:     idClient,
		profiles:     profiles,
		launcher:     launcher,
		manager:      manager,
		kill:         kill,
		resume:       resumeStore,
		sessionStore: sessionStore,
		redisCheck:   redisCheck,
		startTime:    time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting console server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requireAuth admits only requests whose cookie matches the account holding
// the live in-process session. A stale cookie after a kill switch run gets a
// 401, not a silent pass-through.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := s.sessionStore.Get(c.Request(), sessionName)
		if err != nil {
			return apperrors.AuthRejectedError("invalid console session", err)
		}

		accountID, ok := cookie.Values[sessionKeyAccountID].(string)
		if !ok || accountID == "" {
			return apperrors.AuthRejectedError("not logged in", nil)
		}

		handle, active := s.manager.Handle()
		if !active || handle.AccountID != accountID {
			return apperrors.AuthRejectedError("session no longer active", nil)
		}

		c.Set("accountID", accountID)
		return next(c)
	}
}

// forceLogout runs the kill switch when an upstream call rejects the bearer
// token. The token is unusable until a fresh login, so the whole local session
// goes down with it, not just the failed request.
func (s *Server) forceLogout(ctx context.Context, err error) {
	if !apperrors.IsAuthRejected(err) {
		return
	}
	s.kill.Execute(ctx, "auth_rejected")
}

func (s *Server) activeHandle() (domain.SessionHandle, error) {
	handle, ok := s.manager.Handle()
	if !ok {
		return domain.SessionHandle{}, apperrors.AuthRejectedError("no active session", nil)
	}
	return handle, nil
}
