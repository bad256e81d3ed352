package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/lysine/internal/config"
	"github.com/loykin/lysine/internal/contingency"
	"github.com/loykin/lysine/internal/history"
	"github.com/loykin/lysine/internal/history/factory"
	"github.com/loykin/lysine/internal/logger"
	"github.com/loykin/lysine/internal/metrics"
	"github.com/loykin/lysine/internal/server"
	"github.com/loykin/lysine/internal/supervisor"
)

const shutdownTimeout = 5 * time.Second

// command carries the process streams so tests can substitute them.
type command struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// buildRoot creates the single lysine command. Flags stop at the first
// positional argument so the supervised command keeps its own flags.
func buildRoot(c command) *cobra.Command {
	flags := &RunFlags{}
	v := config.NewViper()

	root := &cobra.Command{
		Use:   "lysine [flags] <file|-> <command> [args...]",
		Short: "Kill a command when its liveness signal goes stale",
		Long: `Lysine runs a command and kills it once its liveness evidence is older than
--max-age seconds. Evidence is either the modification time of a file, or,
when the source is "-", bytes arriving on lysine's standard input, which are
relayed to the command's standard input.

Examples:
  lysine --max-age=30 /run/app.heartbeat ./app --serve
  producer | lysine --max-age=5 - consumer
  lysine --grace-time=10 --metrics-listen=:9090 /tmp/hb sleep 600`,
		Args: func(cmd *cobra.Command, args []string) error {
			_, _, err := config.ParseArgs(args)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), v, flags, args)
		},
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.Flags().SetInterspersed(false)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	})

	fs := root.Flags()
	fs.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	fs.Uint64Var(&flags.MaxAge, "max-age", uint64(config.DefaultMaxAge/time.Second), "seconds of staleness tolerated before the command is killed")
	fs.Uint64Var(&flags.GraceTime, "grace-time", 0, "seconds to wait after start before the first check")
	fs.DurationVar(&flags.PollInterval, "poll-interval", config.DefaultPollInterval, "interval between staleness checks")
	fs.BoolVar(&flags.KillTree, "kill-tree", false, "also kill descendants of the command")
	fs.StringVar(&flags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&flags.LogFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&flags.LogFile, "log-file", "", "write logs to a rotating file instead of stderr")
	fs.BoolVar(&flags.Color, "color", false, "colorize text log levels")
	fs.StringVar(&flags.MetricsListen, "metrics-listen", "", "address for the /status and /metrics HTTP server")
	fs.StringVar(&flags.History, "history", "", "history sink DSN (sqlite, postgres, clickhouse, opensearch)")

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return root
}

// Run resolves configuration, starts the contingency and blocks until the
// command has been killed.
func (c command) Run(ctx context.Context, v *viper.Viper, flags *RunFlags, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if flags.ConfigPath != "" {
		if err := config.ReadFile(v, flags.ConfigPath); err != nil {
			return fmt.Errorf("%w: %w", config.ErrInvalid, err)
		}
	}
	cfg, err := config.FromViper(v, args)
	if err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.Log, c.stderr)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	defer func() { _ = closer.Close() }()

	mon, err := contingency.New(cfg.Source, contingency.Options{
		Command:  cfg.Command,
		Stdin:    c.stdin,
		Stdout:   c.stdout,
		Stderr:   c.stderr,
		KillTree: cfg.KillTree,
		Logger:   log,
	})
	if err != nil {
		log.Error("setup failed", "error", err)
		return err
	}

	var sink history.Sink
	if cfg.History.DSN != "" {
		s, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			log.Warn("history disabled", "error", err)
		} else {
			sink = s
			defer func() { _ = history.Close(s) }()
		}
	}

	sup := supervisor.New(mon, supervisor.Options{
		MaxAge:       cfg.MaxAge,
		GraceTime:    cfg.GraceTime,
		PollInterval: cfg.PollInterval,
		Command:      strings.Join(cfg.Command, " "),
		Logger:       log,
		Sink:         sink,
	})

	if addr := cfg.Metrics.Listen; addr != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("metrics registration failed", "error", err)
		}
		srv := server.NewServer(addr, "", sup)
		log.Info("status server listening", "addr", addr)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := sup.Run(ctx)
	if err != nil {
		return err
	}
	log.Debug("supervisor finished", "reason", res.Reason, "polls", res.Polls)
	return nil
}
