package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"earnsystem/internal/app"
	"earnsystem/internal/handler"
	"earnsystem/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go a.Outbox.Start(ctx)
		go a.Poller.Start(ctx)
		if err := a.Settlement.Start(); err != nil {
			return err
		}

		router := handler.SetupRouter(handler.NewHandler(a.Services), a.Config.App.AdminToken)
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("server listening", zap.Int("port", a.Config.Server.Port))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server failed", zap.Error(err))
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
		// waits for a settlement in flight
		a.Settlement.Stop()

		logger.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
