// Package main implements crewmusterd, the crew membership service.
// It exposes the roster workflow over HTTP and settles matured share
// orders against the configured ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/quarterdeck-network/crew_layer/internal/app"
	"github.com/quarterdeck-network/crew_layer/internal/app/httpapi"
	"github.com/quarterdeck-network/crew_layer/internal/app/ledger"
	ledgermem "github.com/quarterdeck-network/crew_layer/internal/app/ledger/memory"
	ledgerneo "github.com/quarterdeck-network/crew_layer/internal/app/ledger/neo"
	"github.com/quarterdeck-network/crew_layer/internal/app/metrics"
	"github.com/quarterdeck-network/crew_layer/internal/app/roles"
	rolesneo "github.com/quarterdeck-network/crew_layer/internal/app/roles/neo"
	rostersvc "github.com/quarterdeck-network/crew_layer/internal/app/services/roster"
	"github.com/quarterdeck-network/crew_layer/internal/app/storage"
	storagepg "github.com/quarterdeck-network/crew_layer/internal/app/storage/postgres"
	"github.com/quarterdeck-network/crew_layer/internal/chain"
	"github.com/quarterdeck-network/crew_layer/internal/config"
	"github.com/quarterdeck-network/crew_layer/internal/middleware"
	"github.com/quarterdeck-network/crew_layer/internal/platform/migrations"
	"github.com/quarterdeck-network/crew_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("CREW_CONFIG")
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crewmusterd: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		Component: "crewmusterd",
	})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("crewmusterd exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	shares, oracle, err := buildCollaborators(cfg, log)
	if err != nil {
		return err
	}

	application, err := app.New(
		app.Stores{Roster: store},
		app.Collaborators{Ledger: shares, Roles: oracle},
		app.Options{
			Roster: rostersvc.Config{
				CaptainRole:    cfg.Roster.CaptainRole,
				StartingShares: cfg.Roster.StartingShares,
			},
			SweepSchedule:  cfg.Roster.SweepSchedule,
			DisableSweeper: cfg.Roster.DisableSweeper,
		},
		log,
	)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	handler := buildHandler(cfg, application, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("crewmusterd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}

	log.Info("crewmusterd stopped")
	return nil
}

// buildStore returns the postgres-backed order store when a DSN is
// configured and the in-memory store otherwise.
func buildStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage.RosterStore, func(), error) {
	if cfg.Database.DSN == "" {
		log.Info("no database configured; using in-memory order store")
		return nil, nil, nil
	}

	db, err := sqlx.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	log.Info("using postgres order store")
	return storagepg.New(db), func() { db.Close() }, nil
}

// buildCollaborators wires the share ledger and role oracle, preferring
// the on-chain implementations when a chain endpoint is configured.
func buildCollaborators(cfg *config.Config, log *logger.Logger) (ledger.ShareLedger, roles.Oracle, error) {
	if cfg.Chain.RPCURL == "" {
		log.Info("no chain endpoint configured; using in-memory ledger and static captains")
		shares := ledgermem.New(cfg.Roster.VotingPeriod)
		oracle := roles.NewStatic(map[string]string{
			roles.CaptainRole: cfg.Roster.Captains,
		})
		return shares, oracle, nil
	}

	client, err := chain.NewClient(chain.Config{
		RPCURL:    cfg.Chain.RPCURL,
		NetworkID: cfg.Chain.NetworkID,
		Timeout:   cfg.Chain.Timeout(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("chain client: %w", err)
	}

	var actor *chain.Actor
	if cfg.Chain.SignerKey != "" {
		actor, err = chain.NewActor(client, cfg.Chain.SignerKey)
		if err != nil {
			return nil, nil, fmt.Errorf("chain actor: %w", err)
		}
	} else {
		log.Warn("no signer key configured; share settlement will fail")
	}

	shares, err := ledgerneo.New(client, actor, cfg.Chain.ShareContract)
	if err != nil {
		return nil, nil, fmt.Errorf("share ledger: %w", err)
	}

	var oracle roles.Oracle
	if cfg.Chain.RoleContract != "" {
		oracle, err = rolesneo.New(client, cfg.Chain.RoleContract)
		if err != nil {
			return nil, nil, fmt.Errorf("role oracle: %w", err)
		}
	} else {
		log.Info("no role contract configured; using static captains")
		oracle = roles.NewStatic(map[string]string{
			roles.CaptainRole: cfg.Roster.Captains,
		})
	}

	return shares, oracle, nil
}

// buildHandler stacks auth, rate limiting and metrics middleware over
// the HTTP API.
func buildHandler(cfg *config.Config, application *app.Application, log *logger.Logger) http.Handler {
	var handler http.Handler = httpapi.NewHandler(application)

	var limiter *rate.Limiter
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst == 0 {
			burst = int(cfg.RateLimit.RPS)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}
	handler = middleware.RateLimit(limiter)(handler)

	var secret []byte
	if cfg.Auth.JWTSecret != "" {
		secret = []byte(cfg.Auth.JWTSecret)
	} else {
		log.Warn("no JWT secret configured; trusting X-Caller header")
	}
	handler = middleware.NewAuth(secret, log).Handler(handler)

	// Outermost so rejected requests are counted too.
	return metrics.InstrumentHandler(handler)
}
