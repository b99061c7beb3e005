package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"ballot-backend/config"
	"ballot-backend/logging"
	"ballot-backend/models"
	"ballot-backend/signature"
	"ballot-backend/storage"
)

// ballotStore is what the commands need from either backend.
type ballotStore interface {
	storage.BallotStore
	All(ctx context.Context) ([]models.Vote, error)
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Load(config.DefaultPath, false)
	}
	return config.Load(configPath, true)
}

func newLogger(cfg config.Config) *log.Logger {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

// openStore returns the configured backend and a func releasing it.
func openStore(cfg config.Config, logger log.FieldLogger) (ballotStore, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := storage.ConnectPostgres(cfg.Storage.PostgresDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	case "file":
		return storage.NewFileStore(cfg.DataPath, logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// newVerifier registers the oracle for every configured format, plus the
// local eip191 verifier when enabled.
func newVerifier(cfg config.Config, logger log.FieldLogger) *signature.Router {
	router := signature.NewRouter()
	if len(cfg.Oracle.Formats) > 0 {
		oracle := signature.NewOracleClient(cfg.ExplorerAPIURL, cfg.Oracle.Timeout.Duration, logger)
		for _, format := range cfg.Oracle.Formats {
			router.Register(format, oracle)
		}
	}
	if cfg.Oracle.EnableEIP191 {
		router.Register(signature.FormatEIP191, signature.NewEthereumVerifier())
	}
	return router
}
