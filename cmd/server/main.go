package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/liamcoop/simpleexpr/internal/config"
	"github.com/liamcoop/simpleexpr/internal/ingest"
	"github.com/liamcoop/simpleexpr/internal/logger"
	"github.com/liamcoop/simpleexpr/internal/notify"
	"github.com/liamcoop/simpleexpr/multiassetengine"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "simpleexpr",
		Short:         "SimpleExpression notification rule",
		Long:          "Evaluates per-asset math expressions over datapoint batches and reports when all assets trigger.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.EnvFile != "" {
				if err := config.LoadFile(opts.EnvFile); err != nil {
					return err
				}
			}
			if opts.LogLevel != "" {
				level, err := logger.ParseLevel(opts.LogLevel)
				if err != nil {
					return err
				}
				logger.SetLevel(level)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "rule configuration file (JSON or YAML), overrides RULE_CONFIG")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "additional .env file to load")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newEvalCommand(opts))

	return cmd
}

// loadEngine builds an engine from the rule configuration file, or from the
// default configuration when no file is given
func loadEngine(path string) (*multiassetengine.Engine, error) {
	if path == "" {
		return multiassetengine.NewEngineWithConfig(multiassetengine.DefaultConfig())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule configuration: %w", err)
	}
	cfg, err := multiassetengine.ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return multiassetengine.NewEngineWithConfig(cfg)
}

func rulePath(opts *RootOptions, cfg *config.Config) string {
	if opts.ConfigPath != "" {
		return opts.ConfigPath
	}
	return cfg.RuleConfigPath
}

func newServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP host and the optional Kafka consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg := config.Load()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = logger.Shutdown(shutdownCtx)
	}()

	engine, err := loadEngine(rulePath(opts, cfg))
	if err != nil {
		return err
	}
	logger.Info("rule loaded", "triggers", engine.ListTriggers().Triggers)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, err := buildSinks(ctx, cfg)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(engine, sinks)
	defer dispatcher.Close()

	if cfg.IngestEnabled() {
		consumer, err := ingest.NewConsumer(cfg.KafkaBrokers, cfg.KafkaInputTopic, cfg.KafkaGroupID, dispatcher)
		if err != nil {
			return err
		}
		defer consumer.Stop()

		go func() {
			logger.Info("consuming evaluation batches", "topic", cfg.KafkaInputTopic, "group", cfg.KafkaGroupID)
			if err := consumer.Start(ctx); err != nil {
				logger.Error("kafka consumer stopped", "error", err)
				stop()
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      NewServer(dispatcher),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

func buildSinks(ctx context.Context, cfg *config.Config) ([]notify.Sink, error) {
	var sinks []notify.Sink

	if cfg.KafkaNotifyEnabled() {
		sink, err := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaNotifyTopic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
		logger.Info("publishing notifications to kafka", "topic", cfg.KafkaNotifyTopic)
	}

	if cfg.RedisNotifyEnabled() {
		sink, err := notify.NewRedisSink(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
		logger.Info("publishing notifications to redis", "channel", cfg.RedisChannel)
	}

	return sinks, nil
}

func newCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a rule configuration and list its triggers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}

			engine, err := loadEngine(path)
			if err != nil {
				return err
			}

			data, err := engine.TriggersJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// evalLine is one line of eval output
type evalLine struct {
	Triggered bool            `json:"triggered"`
	Reason    json.RawMessage `json:"reason,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func newEvalCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "eval [file...]",
		Short: "Evaluate newline-delimited JSON batches from files or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine(opts.ConfigPath)
			if err != nil {
				return err
			}
			dispatcher := notify.NewDispatcher(engine, nil)

			if len(args) == 0 {
				return evalStream(cmd.Context(), dispatcher, cmd.InOrStdin(), cmd.OutOrStdout())
			}
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				err = evalStream(cmd.Context(), dispatcher, f, cmd.OutOrStdout())
				f.Close()
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func evalStream(ctx context.Context, dispatcher *notify.Dispatcher, in io.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxBodyBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var result evalLine
		res, err := dispatcher.EvaluateJSON(ctx, line)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Triggered = res.Triggered
			if reason, err := json.Marshal(res.Reason); err == nil {
				result.Reason = reason
			}
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
