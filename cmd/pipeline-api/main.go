package main

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"pipeline-engine/internal/api"
	"pipeline-engine/internal/api/handler"
	"pipeline-engine/internal/config"
	"pipeline-engine/internal/engine"
	"pipeline-engine/internal/notify"
	"pipeline-engine/internal/source"
	"pipeline-engine/internal/store"
	"pipeline-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.New("main")

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	defer db.Close()

	loaderDB, err := sql.Open("sqlite3", cfg.LoaderPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.LoaderPath).Msg("failed to open loader database")
	}
	defer loaderDB.Close()

	source.RegisterDefaults()

	orch := engine.New(
		db,
		engine.NewSQLiteLoader(loaderDB),
		engine.EnvCredentialProvider{},
		notify.NewWebhook(cfg.WebhookURL, cfg.NotifyTimeout()),
		engine.WithChunkSize(cfg.ChunkSize),
	)

	r := api.NewRouter(handler.New(db, orch))
	if err := r.Start(cfg.HTTPAddr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
