package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/domain"
	"github.com/iconidentify/xcrosspost/internal/downloader"
	"github.com/iconidentify/xcrosspost/internal/ledger"
	"github.com/iconidentify/xcrosspost/internal/media"
	"github.com/iconidentify/xcrosspost/internal/service"
	"github.com/iconidentify/xcrosspost/internal/watch"
	"github.com/iconidentify/xcrosspost/pkg/twitter"
)

// pipeline is everything a run needs, built once per process.
type pipeline struct {
	cfg         *config.Config
	logger      *slog.Logger
	ledger      *ledger.Ledger
	crossposter *service.Crossposter
}

func (p *pipeline) Close() error {
	return p.ledger.Close()
}

// runOnce processes every mapping and prints one summary line each. A
// rate limited mapping is reported as domain.ErrRateLimited once the other
// mappings are done.
func (p *pipeline) runOnce(ctx context.Context, out io.Writer) error {
	summaries, err := p.crossposter.Run(ctx, p.cfg.Mappings)
	for _, s := range summaries {
		fmt.Fprintln(out, s.String())
	}
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Warn("run interrupted")
		} else {
			p.logger.Error("run failed", "error", err)
		}
		return err
	}
	for _, s := range summaries {
		if errors.Is(s.Err, domain.ErrRateLimited) {
			return s.Err
		}
	}
	return nil
}

// newPipeline loads configuration, logs in to X and opens the ledger. It
// returns a nil pipeline when there are no mappings.
func newPipeline(ctx context.Context, opts *globalOptions, dryRun *bool, out io.Writer) (*pipeline, error) {
	logger, err := opts.setupLogger()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)
	logger.Info("starting xcrosspost", "version", Version, "build_time", BuildTime)

	// Load configuration
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return nil, err
	}
	if dryRun != nil {
		cfg.Options.DryRun = *dryRun
	}

	if len(cfg.Mappings) == 0 {
		fmt.Fprintln(out, "No crosspost mappings configured; nothing to do.")
		return nil, nil
	}

	tw, err := twitter.NewClient(twitter.Config{
		AuthToken: cfg.Twitter.AuthToken,
		CT0:       cfg.Twitter.CT0,
		QueryIDs:  cfg.Twitter.QueryIDs,
		UserAgent: cfg.Download.UserAgent,
		Timeout:   cfg.Download.Timeout,
	}, logger)
	if err != nil {
		logger.Error("failed to create twitter client", "error", err)
		return nil, err
	}
	if err := tw.Login(ctx); err != nil {
		logger.Error("twitter login failed", "error", err)
		return nil, err
	}
	logger.Info("logged in to twitter", "user", tw.Self().ScreenName)

	led, err := ledger.Open(ctx, cfg.Ledger, runID)
	if err != nil {
		logger.Error("failed to open ledger", "driver", cfg.Ledger.Driver, "path", cfg.Ledger.Path, "error", err)
		return nil, err
	}

	// Initialize dependencies
	dl := downloader.NewHTTPDownloader(cfg.Download, logger)
	crossposter := service.NewCrossposter(
		tw,
		tw,
		media.NewResolver(dl, cfg.Media, logger),
		media.NewLinkCardResolver(dl, cfg.Media.MaxThumbBytes, logger),
		led,
		service.NewBlueskyPublisherFactory(cfg.Download.UserAgent, cfg.Download.Timeout, logger),
		cfg.Options,
		logger,
	)

	return &pipeline{cfg: cfg, logger: logger, ledger: led, crossposter: crossposter}, nil
}

// dryRunFlag returns the --dry-run override, or nil when the flag was not
// given and the config decides.
func dryRunFlag(cmd *cobra.Command, value *bool) *bool {
	if cmd.Flags().Changed("dry-run") {
		return value
	}
	return nil
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crosspost new tweets for every configured mapping once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := newPipeline(ctx, opts, dryRunFlag(cmd, &dryRun), cmd.OutOrStdout())
			if err != nil || p == nil {
				return err
			}
			defer p.Close()

			if err := p.runOnce(ctx, cmd.OutOrStdout()); err != nil && !errors.Is(err, domain.ErrRateLimited) {
				return err
			}
			p.logger.Info("run complete", "mappings", len(p.cfg.Mappings), "dry_run", p.cfg.Options.DryRun)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "process everything without posting to Bluesky (overrides options.dryRun)")
	return cmd
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Crosspost repeatedly on the configured interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := newPipeline(ctx, opts, dryRunFlag(cmd, &dryRun), cmd.OutOrStdout())
			if err != nil || p == nil {
				return err
			}
			defer p.Close()

			w := watch.New(p.cfg.Watch, func(ctx context.Context) error {
				return p.runOnce(ctx, cmd.OutOrStdout())
			}, p.logger)
			return w.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "process everything without posting to Bluesky (overrides options.dryRun)")
	return cmd
}
