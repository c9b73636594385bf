package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xiaot623/dataquery/internal/adapter/pyexec"
	"github.com/xiaot623/dataquery/internal/config"
	"github.com/xiaot623/dataquery/internal/filestore"
	"github.com/xiaot623/dataquery/internal/policy"
	"github.com/xiaot623/dataquery/internal/repository"
	"github.com/xiaot623/dataquery/internal/service"
	"github.com/xiaot623/dataquery/internal/session"
	server "github.com/xiaot623/dataquery/internal/transport/http"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		return runServer(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// buildService wires the store, uploads, executor and policy into a Service.
// The returned func releases the store.
func buildService(ctx context.Context, cfg *config.Config) (*service.Service, func(), error) {
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	policyEngine, err := policy.Load(ctx, cfg.Exec.PolicyFile)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	svc := service.New(
		db,
		filestore.New(cfg.Uploads.Dir),
		session.NewRegistry(cfg.Session.TTL),
		pyexec.New(cfg.Exec.PythonPath, cfg.Exec.Timeout),
		policyEngine,
		cfg,
	)
	return svc, func() { db.Close() }, nil
}

func runServer(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("database", cfg.DatabaseURL).
		Str("provider", cfg.LLM.Provider).
		Str("model", cfg.LLM.Model).
		Bool("exec_enabled", cfg.Exec.Enabled).
		Msg("starting dataquery")

	svc, closeStore, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	go svc.RunSessionEvictor(ctx)

	e := server.NewServer(svc, cfg.Server)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("addr", cfg.Server.Addr()).Msg("HTTP API started")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down dataquery")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("failed to shutdown server gracefully")
	}

	log.Info().Msg("dataquery stopped")
	return nil
}
