package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"techclinic/internal/db"
	"techclinic/internal/server"
)

var auditRetentionDays int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the repair desk backend",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&auditRetentionDays, "audit-retention-days", 90, "delete audit entries older than this many days (0 keeps all)")
}

func runServe(cmd *cobra.Command, args []string) error {
	conn, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	app := server.NewApp(cfg, conn, logger)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Listen), zap.String("api", cfg.API.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		app.Sessions.RunCleanup(ctx, 10*time.Minute)
		return nil
	})
	if auditRetentionDays > 0 {
		g.Go(func() error {
			pruneAudit(ctx, app, auditRetentionDays)
			return nil
		})
	}
	return g.Wait()
}

// pruneAudit trims the audit ledger at startup and then daily.
func pruneAudit(ctx context.Context, app *server.App, days int) {
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		if n, err := app.Audit.CleanupOld(ctx, days); err != nil && ctx.Err() == nil {
			logger.Warn("audit cleanup failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("audit entries pruned", zap.Int64("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
