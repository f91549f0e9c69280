package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"MarketSync/internal/di"
	"MarketSync/internal/domain/models"
	"MarketSync/pkg/config"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/util"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "marketsync",
		Short:         "Incremental market event collector with gap backfill",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config/config.yaml", "config file path")

	root.AddCommand(
		newServeCmd(opts),
		newTickCmd(opts),
		newBackfillCmd(opts),
		newGapsCmd(opts),
	)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadWithEnv(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, backfill workers and ops HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(_ context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	app, err := di.InitializeApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	return app.Run(ctx)
}

// withRuntime loads config, wires the engine, runs fn and cleans up.
func withRuntime(opts *rootOptions, fn func(ctx context.Context, rt *di.Runtime) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	rt, err := di.InitializeRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func newTickCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one collection tick for every configured feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *di.Runtime) error {
				reports, err := rt.Engine.Tick(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), reports)
			})
		},
	}
}

type backfillFlags struct {
	feed     string
	symbols  string
	from     string
	to       string
	lookback time.Duration
	explicit bool
}

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	f := &backfillFlags{}
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fill missing windows, or refetch a range with --explicit",
		Example: `  marketsync backfill --feed darkpool --symbols SPY,QQQ --lookback 72h
  marketsync backfill --feed news --from 2024-03-04 --to 2024-03-05 --explicit`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := resolveRange(f.from, f.to, f.lookback, time.Now())
			if err != nil {
				return err
			}
			req := models.BackfillRequest{
				Feed:     models.FeedType(f.feed),
				Symbols:  util.NormalizeSymbols(util.SplitList(f.symbols)),
				Range:    r,
				Explicit: f.explicit,
			}
			return withRuntime(opts, func(ctx context.Context, rt *di.Runtime) error {
				rt.Logger.Info("backfill starting",
					logger.String("feed", f.feed),
					logger.Time("from", r.From),
					logger.Time("to", r.To),
					logger.Bool("explicit", f.explicit))
				report, err := rt.Engine.Backfill(ctx, req)
				if report != nil {
					if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&f.feed, "feed", "darkpool", "feed to backfill")
	cmd.Flags().StringVar(&f.symbols, "symbols", "", "comma separated symbols (default: configured symbols)")
	cmd.Flags().StringVar(&f.from, "from", "", "range start (RFC3339, date or unix seconds)")
	cmd.Flags().StringVar(&f.to, "to", "", "range end (default: now)")
	cmd.Flags().DurationVar(&f.lookback, "lookback", 24*time.Hour, "range length ending now when --from is empty")
	cmd.Flags().BoolVar(&f.explicit, "explicit", false, "refetch the whole range instead of only gaps")
	return cmd
}

func newGapsCmd(opts *rootOptions) *cobra.Command {
	var feed, symbol, from, to string
	var lookback time.Duration
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Print missing windows inside calendar-active time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := resolveRange(from, to, lookback, time.Now())
			if err != nil {
				return err
			}
			return withRuntime(opts, func(ctx context.Context, rt *di.Runtime) error {
				gaps, err := rt.Engine.Gaps(ctx, models.FeedType(feed), util.NormalizeSymbols(util.SplitList(symbol)), r)
				if gaps != nil {
					if perr := printJSON(cmd.OutOrStdout(), gaps); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&feed, "feed", "darkpool", "feed to inspect")
	cmd.Flags().StringVar(&symbol, "symbol", "", "comma separated symbols (default: configured symbols)")
	cmd.Flags().StringVar(&from, "from", "", "range start")
	cmd.Flags().StringVar(&to, "to", "", "range end (default: now)")
	cmd.Flags().DurationVar(&lookback, "lookback", 7*24*time.Hour, "range length ending now when --from is empty")
	return cmd
}

// resolveRange turns the from/to/lookback flags into a range ending at now
// unless to is given.
func resolveRange(from, to string, lookback time.Duration, now time.Time) (models.TimeRange, error) {
	end := now.UTC()
	if to != "" {
		t, ok := util.ParseTime(to)
		if !ok {
			return models.TimeRange{}, fmt.Errorf("invalid --to %q", to)
		}
		end = t
	}
	start := end.Add(-lookback)
	if from != "" {
		t, ok := util.ParseTime(from)
		if !ok {
			return models.TimeRange{}, fmt.Errorf("invalid --from %q", from)
		}
		start = t
	}
	r := models.TimeRange{From: start, To: end}
	if !r.Valid() {
		return models.TimeRange{}, fmt.Errorf("%w: %s >= %s", models.ErrEmptyWindow,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return r, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
