package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/JasonZhang2981/PBXAI/internal/config"
	"github.com/JasonZhang2981/PBXAI/internal/pipeline"
	"github.com/JasonZhang2981/PBXAI/internal/platform/cache"
	"github.com/JasonZhang2981/PBXAI/internal/platform/httpauth"
	"github.com/JasonZhang2981/PBXAI/internal/platform/logging"
	"github.com/JasonZhang2981/PBXAI/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pbxai",
		Short: "Clinical event-log to feature-matrix engine",
	}

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the batch and write the feature matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromCache, _ := cmd.Flags().GetBool("from-cache")
			return runGenerate(fromCache)
		},
	}
	cmd.Flags().Bool("from-cache", false, "Load resolved domains from the cache store instead of the raw tables")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the generated matrix and run summary over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres cache schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrate")
			}

			ctx := context.Background()
			pool, err := cache.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := cache.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Println("feature_cache schema is in place.")
			return nil
		},
	}
}

func runGenerate(fromCache bool) error {
	logger := logging.New(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if fromCache {
		cfg.ReadFromCache = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	ctx := context.Background()
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := pipeline.Run(ctx, pipeline.Options{
		DataRoot:       cfg.DataRoot,
		MappingRoot:    cfg.MappingRoot,
		OutputPath:     cfg.OutputPath,
		MinVisit:       cfg.MinVisit,
		LabMinCount:    cfg.LabMinCount,
		MedWindowHours: cfg.MedWindowHours,
		ReadFromCache:  cfg.ReadFromCache,
	}, store, logger)
	if err != nil {
		logger.Error().Err(err).Msg("run failed")
		return err
	}

	if err := writeSummary(cfg.SummaryPath, res.Summary); err != nil {
		return err
	}
	logger.Info().Str("summary", cfg.SummaryPath).Msg("summary written")
	return nil
}

func newStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	if cfg.CacheBackend == "postgres" {
		pool, err := cache.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect cache database: %w", err)
		}
		return cache.NewPG(pool), pool.Close, nil
	}
	store, err := cache.NewCSV(cfg.CacheDir)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

func writeSummary(path string, summary interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create summary dir: %w", err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func runServer() error {
	logger := logging.New(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	artifacts := e.Group("")
	if cfg.ServeJWTSecret != "" {
		artifacts.Use(httpauth.Middleware(cfg.ServeJWTSecret))
	}
	artifacts.GET("/matrix", func(c echo.Context) error {
		if _, err := os.Stat(cfg.OutputPath); err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "matrix not generated yet")
		}
		return c.Attachment(cfg.OutputPath, filepath.Base(cfg.OutputPath))
	})
	artifacts.GET("/summary", func(c echo.Context) error {
		data, err := os.ReadFile(cfg.SummaryPath)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "summary not generated yet")
		}
		return c.JSONBlob(http.StatusOK, data)
	})

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
