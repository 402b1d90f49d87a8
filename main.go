package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sithukyaw666/pushdeploy/model"
	"github.com/sithukyaw666/pushdeploy/operations"
	"github.com/sithukyaw666/pushdeploy/operations/controller"
	"github.com/sithukyaw666/pushdeploy/utils"
	"github.com/spf13/cobra"
)

type cli struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "pushdeploy",
		Short:         "Deploy Lambda functions from CodeCommit push events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ./pushdeploy.yaml or $HOME/.pushdeploy/pushdeploy.yaml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(c.newLambdaCmd(), c.newRunCmd(), c.newServeCmd())
	return root
}

func newLogger(w io.Writer, level string, jsonFormat bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// newPipeline wires the pipeline for cfg. The returned cleanup closes the
// lock connection, if any.
func newPipeline(cfg model.Config, logger *slog.Logger, metrics operations.Metrics) (*operations.Pipeline, func(), error) {
	p := &operations.Pipeline{
		Config:  cfg,
		Clients: controller.NewClientFactory(cfg.AWS),
		Logger:  logger,
		Metrics: metrics,
	}
	cleanup := func() {}

	if cfg.Lock.RedisURL != "" {
		locker, err := operations.NewRedisLocker(cfg.Lock.RedisURL, cfg.Lock.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up deployment lock: %w", err)
		}
		logger.Info("Deployment lock enabled", "ttl", cfg.Lock.TTL)
		p.Locker = locker
		cleanup = func() { _ = locker.Close() }
	}
	return p, cleanup, nil
}

func (c *cli) newLambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as the Lambda function handler for CodeCommit triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(os.Stdout, c.logLevel, true)
			if err != nil {
				return err
			}
			config, err := utils.LoadConfig(c.configPath, nil)
			if err != nil {
				logger.Error("Failed to load configuration", "error", err)
				return err
			}
			pipeline, cleanup, err := newPipeline(config, logger, operations.NoopMetrics{})
			if err != nil {
				logger.Error("Failed to create pipeline", "error", err)
				return err
			}
			defer cleanup()
			pipeline.PruneWorkDirs = true

			lambda.StartWithOptions(func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
				ev, err := model.ParseEvent(raw)
				if err != nil {
					logger.Error("Rejected trigger event", "error", err)
					return nil, err
				}
				out, err := pipeline.Run(ctx, ev)
				if err != nil {
					return nil, err
				}
				return out.Event, nil
			}, lambda.WithContext(cmd.Context()))
			return nil
		},
	}
}

func (c *cli) newRunCmd() *cobra.Command {
	var (
		eventPath string
		profile   string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one deployment locally from an event file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(os.Stderr, c.logLevel, false)
			if err != nil {
				return err
			}

			overrides := map[string]any{}
			if cmd.Flags().Changed("profile") {
				overrides["aws.profile"] = profile
			}
			if cmd.Flags().Changed("dry-run") {
				overrides["dry_run"] = dryRun
			}
			config, err := utils.LoadConfig(c.configPath, overrides)
			if err != nil {
				logger.Error("Failed to load configuration", "error", err)
				return err
			}

			data, err := os.ReadFile(eventPath)
			if err != nil {
				return fmt.Errorf("failed to read event file: %w", err)
			}
			ev, err := model.ParseEvent(data)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipeline, cleanup, err := newPipeline(config, logger, operations.NoopMetrics{})
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := pipeline.Run(ctx, ev)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out.Event)
		},
	}
	cmd.Flags().StringVar(&eventPath, "event", "", "path to a CodeCommit trigger event (JSON)")
	cmd.Flags().StringVar(&profile, "profile", "", "AWS shared config profile to deploy with")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "sync and package only; skip upload and provisioning")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func (c *cli) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept trigger events over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(os.Stdout, c.logLevel, false)
			if err != nil {
				return err
			}

			overrides := map[string]any{}
			if cmd.Flags().Changed("addr") {
				overrides["serve.addr"] = addr
			}
			config, err := utils.LoadConfig(c.configPath, overrides)
			if err != nil {
				logger.Error("Failed to load configuration", "error", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			metrics := operations.NewPromMetrics(strings.ReplaceAll(config.Metrics.Namespace, "-", "_"), reg)
			pipeline, cleanup, err := newPipeline(config, logger, metrics)
			if err != nil {
				logger.Error("Failed to create pipeline", "error", err)
				return err
			}
			defer cleanup()

			logger.Info("pushdeploy starting...", "addr", config.Serve.Addr)
			return serve(ctx, config.Serve.Addr, newServer(pipeline, reg, logger), logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from serve.addr)")
	return cmd
}
