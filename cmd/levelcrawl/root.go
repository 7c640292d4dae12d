package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"levelcrawler/internal/classify"
	"levelcrawler/internal/config"
	"levelcrawler/internal/crawler"
	"levelcrawler/internal/fetcher"
	"levelcrawler/internal/logging"
	"levelcrawler/internal/output"
)

type rootOptions struct {
	configPath  string
	levels      int
	concurrency int
	render      bool
	outDir      string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "levelcrawl <seedURL> <keyword>",
		Short: "Crawl a site level by level and write the discovered URLs to CSV",
		Long: `levelcrawl classifies the seed URL, renders it when it serves HTML and
follows same-site links for a fixed number of levels. Pass an empty keyword ("")
to keep every same-site link.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runCrawl(cmd, opts, args[0], args[1])
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	cmd.PersistentFlags().IntVar(&opts.levels, "levels", 0, "number of levels to follow after the seed (overrides crawl.levels)")
	cmd.PersistentFlags().IntVar(&opts.concurrency, "concurrency", 0, "URLs processed in parallel per level (overrides crawl.concurrency)")
	cmd.PersistentFlags().BoolVar(&opts.render, "render", false, "render pages with headless Chrome (overrides rendering.enabled)")
	cmd.PersistentFlags().StringVar(&opts.outDir, "out", "", "output directory (overrides output.directory)")

	cmd.AddCommand(newSitemapCommand(opts), newVersionCommand())
	return cmd
}

// loadConfig reads the config file when given and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}

	flags := cmd.Flags()
	if flags.Changed("levels") {
		cfg.Crawl.Levels = opts.levels
	}
	if flags.Changed("concurrency") {
		cfg.Crawl.Concurrency = opts.concurrency
	}
	if flags.Changed("render") {
		cfg.Rendering.Enabled = opts.render
	}
	if flags.Changed("out") {
		cfg.Output.Directory = opts.outDir
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type stack struct {
	http   *fetcher.HTTPFetcher
	engine *crawler.Engine
}

// buildStack wires fetcher, renderer, classifier and engine from cfg.
func buildStack(cfg *config.Config, logger *slog.Logger) (*stack, error) {
	httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:    cfg.Crawl.UserAgent,
		Headers:      cfg.Crawl.Headers,
		Timeout:      cfg.Classify.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
		ProxyURL:     cfg.Crawl.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("http fetcher: %w", err)
	}

	httpRenderer := fetcher.NewHTTPRenderer(httpFetcher, cfg.Classify.RequestTimeout.Duration)
	var (
		renderer fetcher.Renderer = httpRenderer
		observer fetcher.NetworkObserver
		capture  *fetcher.CaptureLog
	)
	if cfg.Rendering.Enabled && cfg.Rendering.Engine != "none" {
		chrome := fetcher.NewChromedpRenderer(fetcher.RenderOptions{
			Timeout:            cfg.Rendering.Timeout.Duration,
			UserAgent:          cfg.Crawl.UserAgent,
			Locale:             cfg.Rendering.Locale,
			MaxBodyBytes:       cfg.Crawl.MaxBodyBytes,
			DisableHeadless:    cfg.Rendering.DisableHeadless,
			ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
			ScrollPause:        cfg.Rendering.ScrollPause.Duration,
			MaxScrolls:         cfg.Rendering.MaxScrolls,
			Logger:             logger,
		})
		renderer = fetcher.NewComposite(chrome, httpRenderer, logger)
		if cfg.Classify.CrossCheck {
			capture = fetcher.NewCaptureLog(chrome)
			observer = capture
		}
	}

	classifier := classify.New(httpFetcher, classify.Options{
		RequestTimeout: cfg.Classify.RequestTimeout.Duration,
		ProbeTimeout:   cfg.Classify.ProbeTimeout.Duration,
		Observer:       observer,
		Logger:         logger,
	})
	crawlOpts := crawler.OptionsFromConfig(cfg.Crawl, logger)
	if capture != nil {
		crawlOpts.Capture = capture
	}
	engine := crawler.NewEngine(classifier, renderer, crawlOpts)
	return &stack{http: httpFetcher, engine: engine}, nil
}

func runCrawl(cmd *cobra.Command, opts *rootOptions, seed, keyword string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	cfg.Crawl.Keyword = keyword

	logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	logger = logger.With("run_id", uuid.NewString())

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, runErr := st.engine.Run(ctx, seed)
	if result == nil {
		return runErr
	}

	path := filepath.Join(cfg.Output.Directory, output.FileName(seed))
	if err := output.WriteCSV(path, result.URLs); err != nil {
		return errors.Join(runErr, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d urls written to %s\n", len(result.URLs), path)
	if runErr != nil {
		logger.Warn("crawl interrupted, partial results written", "error", runErr)
	}
	return runErr
}
