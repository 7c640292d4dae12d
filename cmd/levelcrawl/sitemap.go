package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"levelcrawler/internal/config"
	"levelcrawler/internal/harvest"
	"levelcrawler/internal/logging"
	"levelcrawler/internal/processor"
	"levelcrawler/internal/sitemap"
	"levelcrawler/internal/storage"
)

const defaultArticleDB = "articles.db"

func newSitemapCommand(opts *rootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "sitemap <baseURL>",
		Short: "Store articles and comments listed in a site's post sitemaps",
		Long: `sitemap looks for post sitemaps under baseURL and stores every listed article
with its comments. Sites without sitemaps are crawled level by level instead.
Without a db section the articles go to a SQLite file in the output directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("refresh") {
				cfg.Sitemap.RefreshExisting = refresh
			}
			return runSitemap(cmd, cfg, args[0])
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-fetch stored articles for new comments (overrides sitemap.refresh_existing)")
	return cmd
}

func articleStoreConfig(cfg *config.Config) config.SQLConfig {
	if cfg.DB.Enabled() {
		return cfg.DB
	}
	db := cfg.DB
	db.Driver = storage.DriverSQLite
	db.DSN = filepath.Join(cfg.Output.Directory, defaultArticleDB)
	db.AutoMigrate = true
	return db
}

func runSitemap(cmd *cobra.Command, cfg *config.Config, base string) error {
	logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	dbCfg := articleStoreConfig(cfg)
	if !cfg.DB.Enabled() {
		if err := os.MkdirAll(cfg.Output.Directory, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	ctx := cmd.Context()
	store, err := storage.Open(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("open article store: %w", err)
	}
	defer store.Close()

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}

	h := harvest.New(
		store,
		sitemap.NewClient(st.http, cfg.Sitemap, logger),
		st.http,
		processor.NewArticleExtractor(nil),
		st.engine,
		harvest.Options{
			ArticleDelay:    cfg.Sitemap.ArticleDelay.Duration,
			RequestTimeout:  cfg.Sitemap.RequestTimeout.Duration,
			RefreshExisting: cfg.Sitemap.RefreshExisting,
			Logger:          logger,
		},
	)
	report, runErr := h.Run(ctx, base)
	if report == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if report.UsedFallback {
		fmt.Fprintf(out, "no sitemaps found, crawled %d urls\n", len(report.CrawledURLs))
		return runErr
	}
	fmt.Fprintf(out, "run %s: %d stored, %d updated, %d skipped, %d failed\n",
		report.RunID, report.Stored, report.Updated, report.Skipped, report.Failed)
	return runErr
}
