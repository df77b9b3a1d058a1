// Package cli implements the pipeline command line interface.
package cli

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"pipeline-engine/internal/config"
	"pipeline-engine/internal/engine"
	"pipeline-engine/internal/notify"
	"pipeline-engine/internal/source"
	"pipeline-engine/internal/store"
	"pipeline-engine/pkg/logger"
)

// env bundles everything a command needs once the config is loaded.
type env struct {
	cfg   *config.Config
	store *store.DB
	orch  *engine.Orchestrator
	close func()
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	loaderDB, err := sql.Open("sqlite3", cfg.LoaderPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open loader database: %w", err)
	}

	source.RegisterDefaults()

	orch := engine.New(
		db,
		engine.NewSQLiteLoader(loaderDB),
		engine.EnvCredentialProvider{},
		notify.NewWebhook(cfg.WebhookURL, cfg.NotifyTimeout()),
		engine.WithChunkSize(cfg.ChunkSize),
	)

	return &env{
		cfg:   cfg,
		store: db,
		orch:  orch,
		close: func() {
			loaderDB.Close()
			db.Close()
		},
	}, nil
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "pipeline - move data from APIs, databases, and files into a target store",
		Long: `pipeline registers data pipelines and executes them in chunked
extract, normalize, load stages with incremental cursor support.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(NewCreateCmd(), NewRunCmd(), NewListCmd(), NewRunsCmd())

	return rootCmd
}
