package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	runtimepkg "github.com/drblury/narrator/internal/runtime"
	configpkg "github.com/drblury/narrator/internal/runtime/config"
	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
)

const shutdownTimeout = 15 * time.Second

// app carries the state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string
	level   string
	logger  loggingpkg.ServiceLogger
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:          "narrator",
		Short:        "Audiobook pipeline messaging tools",
		Long:         `narrator connects the phonemization and speech-generation stages over RabbitMQ.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	fs.StringVar(&a.level, "log-level", "info", "log level: trace, debug, info, warn, error")
	fs.String("rmq-url", "", "RabbitMQ URL, overrides the discrete host settings")
	fs.String("exchange", configpkg.DefaultExchange, "topic exchange")
	fs.Int("concurrency", configpkg.DefaultConcurrency, "handler workers")
	fs.String("connection-name", "", "connection name reported to the broker")
	bindFlags(a.v, fs, map[string]string{
		configpkg.KeyURL:            "rmq-url",
		configpkg.KeyExchange:       "exchange",
		configpkg.KeyConcurrency:    "concurrency",
		configpkg.KeyConnectionName: "connection-name",
	})

	cmd.AddCommand(
		newWorkerCommand(a),
		newPublishPhonemizeCommand(a),
		newPublishCommand(a),
		newQueueSizeCommand(a),
	)
	return cmd
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		cobra.CheckErr(v.BindPFlag(key, fs.Lookup(name)))
	}
}

func (a *app) init(stderr io.Writer) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.cfgFile, err)
		}
	}

	level, err := parseLevel(a.level)
	if err != nil {
		return err
	}
	a.logger = loggingpkg.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return loggingpkg.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// newClient loads the broker configuration and builds a client on the
// default prometheus registerer.
func (a *app) newClient() (*runtimepkg.Client, *configpkg.Config, error) {
	conf, err := configpkg.Load(a.v)
	if err != nil {
		return nil, nil, err
	}
	if conf.ConnectionName == "" {
		if host, err := os.Hostname(); err == nil {
			conf.ConnectionName = host
		}
	}
	client, err := runtimepkg.NewClient(conf, a.logger, runtimepkg.ClientDependencies{})
	if err != nil {
		return nil, nil, err
	}
	return client, conf, nil
}

func (a *app) closeClient(client *runtimepkg.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := client.Close(ctx); err != nil {
		a.logger.Error("Closing client failed", err, nil)
	}
}
