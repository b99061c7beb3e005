package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ballot-backend/api"
	"ballot-backend/catalog"
	"ballot-backend/service"
)

const shutdownTimeout = 15 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ballot API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		cat, err := catalog.Load(cfg.DataPath)
		if err != nil {
			return err
		}
		logger.WithFields(log.Fields{
			"event":      "catalog_loaded",
			"candidates": len(cat.Candidates()),
			"categories": len(cat.Categories()),
		}).Info("catalog loaded")

		store, closeStore, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		verifier := newVerifier(cfg, logger)
		logger.WithFields(log.Fields{
			"event":   "verifiers_registered",
			"formats": verifier.Formats(),
			"storage": cfg.Storage.Driver,
		}).Info("signature verifiers registered")

		admission := service.NewAdmissionService(service.Dependencies{
			Catalog:  cat,
			Store:    store,
			Verifier: verifier,
			Session:  service.NewVotingSession(cfg.Window.OpensAt, cfg.Window.ClosesAt),
			Logger:   logger,
		})
		server := api.NewServer(cfg.ListenAddr(), admission, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	},
}
