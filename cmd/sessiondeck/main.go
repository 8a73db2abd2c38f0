package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/mklatt/sessiondeck/internal/appmanager"
	"github.com/mklatt/sessiondeck/internal/artifact"
	"github.com/mklatt/sessiondeck/internal/automation"
	"github.com/mklatt/sessiondeck/internal/config"
	"github.com/mklatt/sessiondeck/internal/crypto"
	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/identity"
	"github.com/mklatt/sessiondeck/internal/launch"
	"github.com/mklatt/sessiondeck/internal/logging"
	"github.com/mklatt/sessiondeck/internal/redis"
	"github.com/mklatt/sessiondeck/internal/registry"
	"github.com/mklatt/sessiondeck/internal/resume"
	"github.com/mklatt/sessiondeck/internal/server"
	"github.com/mklatt/sessiondeck/internal/session"
)

func setupConfig() *config.Config {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.WaitReady(ctx, 30*time.Second); err != nil {
		slog.Error("Redis not reachable", "error", err)
		os.Exit(1)
	}
	return client
}

func setupResume(cfg *config.Config) *resume.Store {
	var sealer crypto.Sealer = crypto.NoopSealer{}
	if cfg.StateEncryptKey != "" {
		s, err := crypto.NewAESGCMSealer(cfg.StateEncryptKey)
		if err != nil {
			slog.Error("Failed to create state sealer", "error", err)
			os.Exit(1)
		}
		sealer = s
	}
	return resume.NewStore(cfg.StateFile, sealer)
}

// restoreSession redeems the persisted refresh token for a live session. A
// revoked token just means the user logs in again; the stale state is wiped.
func restoreSession(store *resume.Store, client *identity.Client, manager *session.Manager) {
	state := store.Load()
	if state == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	idSession, err := client.Refresh(ctx, state.RefreshToken)
	if err != nil {
		slog.Warn("Could not resume previous session", "account_id", state.AccountID, "error", err)
		_ = store.Clear()
		return
	}

	manager.SetActive(idSession.Handle())
	if idSession.RefreshToken != "" {
		_ = store.Save(resume.State{AccountID: idSession.User.ID, RefreshToken: idSession.RefreshToken})
	}
	slog.Info("Resumed previous session", "account_id", idSession.User.ID)
}

func runGracefulShutdown(srv *server.Server, kill *session.KillSwitch, cancelWorkers context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Daemon exit is a logout: tear down launched processes and revoke
		// the token so no orphaned session survives the console.
		kill.Execute(shutdownCtx, "daemon_shutdown")
		cancelWorkers()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Console daemon starting", "env", cfg.AppEnv, "port", cfg.Port)

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	identityClient := identity.NewClient(cfg.IdentityURL, cfg.IdentityAPIKey)
	appManager := appmanager.NewClient(cfg.AppManagerURL)
	automationHost := automation.NewClient(cfg.AutomationHostURL)
	store := artifact.NewStore(appManager)

	resumeStore := setupResume(cfg)

	manager := session.NewManager()
	kill := session.NewKillSwitch(manager, automationHost, identityClient, clock)
	arbiter := session.NewArbiter(manager, kill)
	reg := registry.New(redisClient, arbiter.OnAnnouncement)
	handoff := launch.NewHandoff(manager, appManager, store, automationHost)

	// Session changes drive the arbitration channel: every activation attaches
	// and announces the new token, every teardown detaches.
	manager.Subscribe(func(ev session.Event) {
		switch ev.Kind {
		case session.EventStarted:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := reg.Attach(ctx, ev.Handle.AccountID, ev.Handle.Token); err != nil {
				slog.Error("Failed to attach account channel", "account_id", ev.Handle.AccountID, "error", err)
			}
		case session.EventInvalidated:
			reg.Detach()
			if err := resumeStore.Clear(); err != nil {
				slog.Warn("Failed to clear resume state", "error", err)
			}
		}
	})

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// Auth event stream: replaced sessions re-activate, terminal events run
	// the kill switch through the arbiter.
	stream := identity.NewStream(cfg.IdentityURL, cfg.IdentityAPIKey, manager.Token,
		func(ctx context.Context, ev domain.AuthEvent, idSession *identity.Session) {
			if idSession != nil && !ev.Terminal() {
				manager.SetActive(idSession.Handle())
				if idSession.RefreshToken != "" {
					_ = resumeStore.Save(resume.State{AccountID: idSession.User.ID, RefreshToken: idSession.RefreshToken})
				}
				return
			}
			arbiter.OnAuthEvent(ctx, ev)
		})
	go stream.Run(workerCtx)

	// Out-of-band process exits clear running state for the UI.
	go automationHost.WatchClosed(workerCtx, func(profileID string) {
		slog.Info("Automation process closed", "profile_id", profileID)
		handoff.MarkClosed(profileID)
	})

	srv := server.NewServer(cfg, identityClient, appManager, handoff, manager, kill, resumeStore, redisClient)

	// Resume after wiring so activation announces on the account channel.
	restoreSession(resumeStore, identityClient, manager)

	done := runGracefulShutdown(srv, kill, cancelWorkers)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
