// Package cmd implements the framearchive command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/camden-git/framearchive/config"
	"github.com/camden-git/framearchive/database"
	"github.com/camden-git/framearchive/logging"
	"github.com/camden-git/framearchive/media"
	"github.com/camden-git/framearchive/realtime"
	"github.com/camden-git/framearchive/repository"
	"github.com/camden-git/framearchive/services"
	"github.com/camden-git/framearchive/utils"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "framearchive",
	Short:         "Archive of astronomical FITS frames",
	Long:          `framearchive stores FITS frames under a configurable directory layout and serves their catalog over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			return os.Setenv(config.ConfigPathEnvVar, configPath)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
}

// Execute runs the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app wires configuration into the services shared by every command.
type app struct {
	cfg        config.Config
	db         *gorm.DB
	frames     *repository.FrameRepository
	store      *media.ArchiveStore
	compressor *media.FpackCompressor
	ingest     *services.IngestService
	archive    *services.ArchiveService
	integrity  *services.IntegrityService
}

func newApp(publisher realtime.Publisher) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := os.MkdirAll(cfg.ArchiveRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive root %s: %w", cfg.ArchiveRoot, err)
	}
	store, err := media.NewArchiveStore(cfg.ArchiveRoot)
	if err != nil {
		return nil, err
	}

	db, err := database.InitGormDB(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrateModels(db); err != nil {
		return nil, err
	}

	compressor := media.NewFpackCompressor(cfg.FpackPath, cfg.FpackArgv(), cfg.FpackTimeout)
	if !compressor.IsAvailable() {
		logging.Warn().Str("path", compressor.Name()).Msg("compressor not found, ingestion will fail")
	}
	if cfg.PathFormatter == "" {
		logging.Warn().Msg("no path formatter configured, ingestion will fail")
	}

	frames := repository.NewFrameRepository(db)
	archive := services.NewArchiveService(frames, store, publisher)
	a := &app{
		cfg:        cfg,
		db:         db,
		frames:     frames,
		store:      store,
		compressor: compressor,
		ingest: services.NewIngestService(frames, store, compressor,
			utils.NewFilenameFormatter(cfg.PathFormatter, nil),
			utils.NewFilenameFormatter(cfg.FilenameFormatter, nil),
			publisher),
		archive:   archive,
		integrity: services.NewIntegrityService(frames, archive, publisher),
	}

	logging.Info().
		Str("archive_root", cfg.ArchiveRoot).
		Str("database", cfg.DatabasePath).
		Str("path_formatter", cfg.PathFormatter).
		Msg("archive initialized")
	return a, nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// commandContext returns a context carrying a correlation id for one CLI run.
func commandContext(cmd *cobra.Command) context.Context {
	return logging.ContextWithNewCorrelationID(cmd.Context())
}
