package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/drblury/narrator/internal/kokoro"
	"github.com/drblury/narrator/internal/objectstore"
	configpkg "github.com/drblury/narrator/internal/runtime/config"
	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
	"github.com/drblury/narrator/internal/speechgen"
	"github.com/drblury/narrator/messages"
)

func newWorkerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the phonemization and speech-generation worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindWorkerEnv(a.v); err != nil {
				return err
			}
			return a.runWorker(cmd.Context())
		},
	}

	fs := cmd.Flags()
	fs.String("kokoro-url", defaultKokoroURL, "base URL of the Kokoro synthesis service")
	fs.String("s3-bucket", "", "bucket receiving speech segments")
	fs.String("s3-endpoint", "", "custom S3 endpoint, e.g. a MinIO address")
	fs.Bool("metrics", false, "serve prometheus metrics")
	bindFlags(a.v, fs, map[string]string{
		keyKokoroURL:                "kokoro-url",
		keyS3Bucket:                 "s3-bucket",
		keyS3Endpoint:               "s3-endpoint",
		configpkg.KeyMetricsEnabled: "metrics",
	})
	return cmd
}

func (a *app) runWorker(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, conf, err := a.newClient()
	if err != nil {
		return err
	}
	defer a.closeClient(client)

	speaker, err := kokoro.New(a.v.GetString(keyKokoroURL))
	if err != nil {
		return err
	}
	uploader, err := objectstore.NewS3Uploader(ctx, objectStoreConfig(a.v), a.logger)
	if err != nil {
		return err
	}
	svc, err := speechgen.New(speaker, uploader, client)
	if err != nil {
		return err
	}

	if err := client.ConfigureTopology(ctx, messages.PlatformTopology()); err != nil {
		return fmt.Errorf("configure topology: %w", err)
	}
	if err := svc.Register(client); err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return err
	}

	var metricsErr <-chan error
	if conf.MetricsEnabled {
		srv := newMetricsServer(conf.MetricsPort)
		metricsErr = serveMetrics(srv, a.logger)
		defer shutdownMetrics(srv, a.logger)
	}

	a.logger.Info("Worker running", loggingpkg.LogFields{
		"exchange":    conf.Exchange,
		"concurrency": conf.Concurrency,
		"handlers":    len(client.Handlers()),
	})

	select {
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal", nil)
		return nil
	case err := <-metricsErr:
		return fmt.Errorf("metrics server: %w", err)
	}
}

func newMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serveMetrics(srv *http.Server, logger loggingpkg.ServiceLogger) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", loggingpkg.LogFields{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

func shutdownMetrics(srv *http.Server, logger loggingpkg.ServiceLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Metrics server shutdown failed", loggingpkg.LogFields{"error": err.Error()})
	}
}
