package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/npezzotti/go-chatrelay/internal/api"
	"github.com/npezzotti/go-chatrelay/internal/chat"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newLogger(level string) *log.Logger {
	appLogger := hclog.New(&hclog.LoggerOptions{
		Name:   "chatrelay",
		Level:  hclog.LevelFromString(level),
		Output: os.Stderr,
	})

	return appLogger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Real-time chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().AddFlagSet(config.FlagSet())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return serve(cfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or revert the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{database.MigrateUp, database.MigrateDown},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			logger := newLogger(cfg.LogLevel)
			if err := database.Migrate(cfg.DatabaseDriver, cfg.DatabaseDSN, args[0], logger); err != nil {
				return fmt.Errorf("migrate %s: %w", args[0], err)
			}

			logger.Printf("migrate %s complete", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)

	if cfg.AutoMigrate {
		if err := database.Migrate(cfg.DatabaseDriver, cfg.DatabaseDSN, database.MigrateUp, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	repo, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Println("[ERROR] db close:", err)
		}
	}()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := repo.Ping(pingCtx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	rooms := chat.NewRoomRegistry(repo, logger, cfg.DefaultRoomCapacity)
	messages := chat.NewMessageStore(repo, logger)

	chatServer, err := server.NewChatServer(logger, rooms, messages, statsUpdater)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	srv := api.NewChatRelayApp(mux, logger, chatServer, rooms, messages, repo, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s", sig)
	case err := <-errCh:
		logger.Println("[ERROR] server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	logger.Println("shutdown complete")
	return nil
}
