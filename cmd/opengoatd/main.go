// Command opengoatd runs the OpenGoat control plane: the HTTP facade plus
// every store, executor, and scheduler it wires together.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opengoat/opengoat/internal/agents"
	"github.com/opengoat/opengoat/internal/authgate"
	"github.com/opengoat/opengoat/internal/authz"
	"github.com/opengoat/opengoat/internal/callbackretry"
	"github.com/opengoat/opengoat/internal/config"
	"github.com/opengoat/opengoat/internal/executor"
	"github.com/opengoat/opengoat/internal/httpapi"
	"github.com/opengoat/opengoat/internal/layout"
	"github.com/opengoat/opengoat/internal/logging"
	"github.com/opengoat/opengoat/internal/logreader"
	"github.com/opengoat/opengoat/internal/provideradapter"
	"github.com/opengoat/opengoat/internal/providers"
	"github.com/opengoat/opengoat/internal/scheduler"
	"github.com/opengoat/opengoat/internal/sessionstore"
	"github.com/opengoat/opengoat/internal/settings"
	"github.com/opengoat/opengoat/internal/skills"
	"github.com/opengoat/opengoat/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ring := logreader.NewRing(2000)
	logging.SetupWithRing(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stderr, ring)
	slog.Info("starting opengoatd", "home", cfg.HomeDir, "port", cfg.Port)

	l, err := layout.New(cfg.HomeDir)
	if err != nil {
		slog.Error("failed to resolve home directory", "error", err)
		os.Exit(1)
	}

	agentStore := agents.New(l)
	if _, err := agentStore.EnsureAgent(agents.DefaultRootID, agents.Traits{
		DisplayName: "CEO",
		Type:        agents.TypeManager,
		ProviderID:  cfg.DefaultProviderID,
	}); err != nil {
		slog.Error("failed to ensure root agent", "error", err)
		os.Exit(1)
	}

	sessionStore := sessionstore.New(l)

	taskStore, err := tasks.Open(l.TaskDBPath())
	if err != nil {
		slog.Error("failed to open task store", "error", err)
		os.Exit(1)
	}
	defer taskStore.Close()

	authzResolver := authz.New(agentStore)
	settingsStore := settings.New(l)
	skillsCatalog := skills.New(l)

	registry := providers.NewRegistry()
	registerOpenClawProvider(registry, cfg)

	exec := executor.New(agentStore, sessionStore, registry, l, executor.Config{
		BootstrapMaxChars:   cfg.BootstrapMaxChars,
		ProviderTimeout:     cfg.ProviderTimeout,
		GatewayFrameTimeout: cfg.GatewayFrameTimeout,
		SessionLockMaxWait:  cfg.SessionLockMaxWait,
		CancelGrace:         cfg.CancelGracePeriod,
	})

	sched := scheduler.New(taskStore, agentStore, sessionStore, exec, settingsStore, scheduler.Config{
		Interval:          time.Duration(cfg.TaskCronIntervalMinutes) * time.Minute,
		DefaultProviderID: cfg.DefaultProviderID,
	})
	settingsStore.OnCronToggle(func(enabled bool) {
		if enabled {
			sched.Start(context.Background())
		} else {
			sched.Stop()
		}
	})
	if state, err := settingsStore.Load(); err == nil && state.TaskCronEnabled {
		sched.Start(context.Background())
	}
	defer sched.Stop()

	gate, err := authgate.New(settingsStore, authgate.Config{
		CookieName: cfg.CookieName,
		Secure:     cfg.CookieSecure,
		TTL:        cfg.SessionTTL,
		PublicPaths: []string{
			"/api/health", "/api/version",
			"/api/auth/status", "/api/auth/login",
		},
	})
	if err != nil {
		slog.Error("failed to initialise auth gate", "error", err)
		os.Exit(1)
	}

	logsReader := logreader.NewReader(ring)

	srv := httpapi.New(
		agentStore, sessionStore, taskStore, authzResolver, settingsStore,
		exec, registry, logsReader, skillsCatalog, gate,
		httpapi.Config{AllowedOrigins: cfg.AllowedOrigins},
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}
	slog.Info("opengoatd stopped")
}

// registerOpenClawProvider registers the default "openclaw" provider: a CLI
// subprocess invocation with a gateway-RPC fallback for the
// ProviderCommandNotFoundError recovery policy (spec §4.7 policy 3).
func registerOpenClawProvider(registry *providers.Registry, cfg *config.Config) {
	registry.Register(providers.DefaultProviderID, func() (providers.Provider, error) {
		return providers.Provider{
			ID:   providers.DefaultProviderID,
			Kind: providers.KindCLI,
			Capabilities: providers.Capabilities{
				Agent:       true,
				Model:       true,
				Reportees:   true,
				AgentCreate: true,
				AgentDelete: true,
			},
			Invoke: func(ctx context.Context, opts providers.InvokeOptions) (providers.InvokeResult, error) {
				result, err := provideradapter.InvokeCLI(ctx, provideradapter.CLIOptions{
					Cmd:          cfg.OpenClawCmd,
					Args:         cfg.OpenClawArgs,
					Cwd:          opts.Cwd,
					CallerEnv:    opts.Env,
					SystemPrompt: opts.SystemPrompt,
					Message:      opts.Message,
					Timeout:      cfg.ProviderTimeout,
					GraceTimeout: cfg.CancelGracePeriod,
					OnStdout:     opts.OnStdout,
					OnStderr:     opts.OnStderr,
				})
				if err != nil {
					return providers.InvokeResult{}, err
				}
				return providers.InvokeResult{Code: result.Code, Stdout: result.Stdout, Stderr: result.Stderr, ProviderSessionID: result.ProviderSessionID}, nil
			},
			GatewayFallback: func(ctx context.Context, opts providers.InvokeOptions) (providers.InvokeResult, error) {
				// Dials with backoff: a gateway restart just triggered by the
				// UvCwdFailure recovery policy (spec §4.7 policy 1) may not have
				// the listener back up yet, and a command-not-found fallback
				// (policy 3) can race a gateway that's mid-restart for the same
				// reason. Retrying the dial a few times avoids failing the whole
				// invocation on that transient race.
				client, err := provideradapter.DialGatewayWithRetry(ctx, cfg.GatewayURL, callbackretry.Config{
					InitialDelay: 250 * time.Millisecond,
					MaxDelay:     2 * time.Second,
					MaxElapsed:   10 * time.Second,
					MaxAttempts:  4,
				})
				if err != nil {
					return providers.InvokeResult{}, err
				}
				defer client.Close()

				callCtx, cancel := context.WithTimeout(ctx, cfg.GatewayFrameTimeout)
				defer cancel()

				result, err := client.Agent(callCtx, provideradapter.AgentInvokeParams{
					AgentID:      opts.AgentID,
					SessionKey:   opts.SessionKey,
					SystemPrompt: opts.SystemPrompt,
					Message:      opts.Message,
				})
				if err != nil {
					return providers.InvokeResult{}, err
				}
				return providers.InvokeResult{
					Code:              result.Code,
					Stdout:            result.Stdout,
					Stderr:            result.Stderr,
					ProviderSessionID: result.ProviderSessionID,
				}, nil
			},
		}, nil
	})
}
