package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/taskmgr818/billpay/internal/config"
	"github.com/taskmgr818/billpay/internal/handler"
	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/logging"
	"github.com/taskmgr818/billpay/internal/metrics"
	"github.com/taskmgr818/billpay/internal/session"
	"github.com/taskmgr818/billpay/internal/store/memory"
	"github.com/taskmgr818/billpay/internal/store/postgres"
	redisstore "github.com/taskmgr818/billpay/internal/store/redis"
	"github.com/taskmgr818/billpay/internal/store/sqlite"
	"github.com/taskmgr818/billpay/internal/ws"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the bill-payment HTTP server.

Examples:
  billpay serve
  billpay serve --config billpay.yaml --addr :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ServerAddr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config yaml (default $CONFIG_FILE)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides SERVER_ADDR")
	return cmd
}

// backend is what every storage implementation provides.
type backend interface {
	ledger.Store
	session.Store
}

// openBackend connects the configured store. notifiers are extra ledger
// event sinks the backend contributes; closeFn releases its resources.
func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (b backend, notifiers []ledger.Notifier, closeFn func(), err error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
		return redisstore.New(rdb, redisstore.WithLogger(log)), nil, func() { rdb.Close() }, nil

	case config.BackendPostgres:
		st, err := postgres.Open(cfg.PostgresDSN(), log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("database initialised")
		return st, []ledger.Notifier{st}, func() { st.Close() }, nil

	case config.BackendSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init sqlite store: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite database opened")
		return st, nil, func() { st.Close() }, nil

	default:
		return memory.New(), nil, func() {}, nil
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.New(cfg.Log)
	metrics.MustRegister()

	// ── Storage ──
	st, notifiers, closeStore, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── Services ──
	hub := ws.NewHub(log)
	sessions := session.NewService(st,
		session.WithTTL(cfg.SessionTTL),
		session.WithLogger(log),
	)
	ledgerSvc := ledger.NewService(st,
		ledger.WithCancelWindow(cfg.CancelWindow),
		ledger.WithPaymentRetention(cfg.PaymentRetention),
		ledger.WithNotifier(hub),
		ledger.WithNotifier(notifiers...),
		ledger.WithLogger(log),
	)

	if cfg.SeedDemo {
		if err := ledgerSvc.Seed(ctx, ledger.DemoAccounts()); err != nil {
			return err
		}
	}

	// ── Sweeper (background) ──
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go sweep(sweepCtx, cfg.SweepInterval, sessions, ledgerSvc, log)

	// ── Gin Router ──
	gin.SetMode(gin.ReleaseMode)
	r := handler.NewRouter(handler.Deps{
		Sessions:       sessions,
		Ledger:         ledgerSvc,
		Hub:            hub,
		DefaultClient:  cfg.BalanceDefaultClient,
		AdminToken:     cfg.AdminToken,
		AdminTokenHash: cfg.AdminTokenHash,
		Log:            log,
	})

	// ── HTTP Server with graceful shutdown ──
	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Str("backend", cfg.StoreBackend).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server...")
	sweepCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server exited cleanly")
	return nil
}

// sweep periodically removes expired sessions and payment records past
// their retention.
func sweep(ctx context.Context, every time.Duration, sessions *session.Service, l *ledger.Service, log zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sessions.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("session sweep failed")
			}
			if _, err := l.PrunePayments(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("payment prune failed")
			}
		}
	}
}
