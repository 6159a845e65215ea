package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/jenkdash/pkg/api"
	"github.com/ethpandaops/jenkdash/pkg/auth"
	"github.com/ethpandaops/jenkdash/pkg/config"
	"github.com/ethpandaops/jenkdash/pkg/jenkins"
	"github.com/ethpandaops/jenkdash/pkg/metrics"
	"github.com/ethpandaops/jenkdash/pkg/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServerCmd(log *logrus.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the jenkdash server",
		Long:  `Start the HTTP API server and the job watcher.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), log, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")

	return cmd
}

func runServer(ctx context.Context, log *logrus.Logger, configPath string) error {
	log.WithField("path", configPath).Info("Loading configuration")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Info("Configuration loaded:\n" + cfg.String())

	st, err := newStore(log, cfg)
	if err != nil {
		return err
	}

	if err := st.Start(ctx); err != nil {
		return err
	}

	defer st.Stop()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	m := metrics.New()
	m.SetBuildInfo(Version, GitCommit, BuildDate)

	if cfg.Jenkins.InsecureSkipVerify {
		log.Warn("TLS certificate verification is disabled for Jenkins requests")
	}

	jc := jenkins.NewClient(log, jenkins.Options{
		Timeout:            cfg.Jenkins.Timeout,
		InsecureSkipVerify: cfg.Jenkins.InsecureSkipVerify,
		UserAgent:          "jenkdash/" + Version,
	}, m)

	authSvc := auth.NewService(log, cfg.Auth, st)

	if err := authSvc.Start(ctx); err != nil {
		return err
	}

	defer authSvc.Stop()

	w := watcher.New(log, jc, m, cfg.Jenkins.WatchInterval)

	srv := api.NewServer(log, cfg, api.Deps{
		Store:    st,
		Auth:     authSvc,
		Jenkins:  jc,
		Watcher:  w,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
		Build: api.BuildInfo{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
		},
	})

	w.SetChangeCallback(srv.BroadcastJobChanges)

	if cfg.Jenkins.AutoConnect {
		msg, err := jc.Connect(ctx, cfg.Jenkins.URL, cfg.Jenkins.Username, cfg.Jenkins.Password)
		if err != nil {
			// The dashboard can still connect later through the API.
			log.WithError(err).Warn("Auto-connect to Jenkins failed")
		} else {
			log.Info(msg)
		}
	}

	if err := w.Start(ctx); err != nil {
		return err
	}

	defer w.Stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}

	defer srv.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	log.Info("Shutting down...")

	return nil
}
