package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/handiism/tdl/internal/audio"
	"github.com/handiism/tdl/internal/cache"
	"github.com/handiism/tdl/internal/config"
	"github.com/handiism/tdl/internal/download"
	"github.com/handiism/tdl/internal/fetch"
	"github.com/handiism/tdl/internal/finalize"
	tdlhttp "github.com/handiism/tdl/internal/http"
	"github.com/handiism/tdl/internal/logger"
	"github.com/handiism/tdl/internal/metrics"
	"github.com/handiism/tdl/internal/model"
	"github.com/handiism/tdl/internal/resolver"
	"github.com/handiism/tdl/internal/retry"
	"github.com/handiism/tdl/internal/tui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// maxFlagDownloads bounds -d. Larger worker counts go through the config file.
const maxFlagDownloads = 10

type getFlags struct {
	downloads    int
	showProgress bool
	replace      bool
	template     string
	useTUI       bool
	playlist     bool
	metricsAddr  string
}

func newGetCmd(root *rootFlags) *cobra.Command {
	return getCommand(root, &getFlags{})
}

func getCommand(root *rootFlags, flags *getFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <manifest.json>...",
		Short: "Download every item of the given manifests",
		Long: "Download every item of the given manifests. A manifest is a path, " +
			"\"-\" for stdin, or an http(s) URL.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg, root.verbose); err != nil {
				return err
			}
			return runGet(cmd.Context(), cfg, flags, args, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.IntVarP(&flags.downloads, "downloads", "d", 0, fmt.Sprintf("parallel downloads, 1-%d (default from config)", maxFlagDownloads))
	f.BoolVarP(&flags.showProgress, "show-progress", "p", false, "print per-track progress lines")
	f.BoolVar(&flags.replace, "replace", false, "overwrite files that already exist")
	f.StringVar(&flags.template, "template", "", "destination path template, without extension")
	f.BoolVar(&flags.useTUI, "tui", false, "interactive progress display")
	f.BoolVar(&flags.playlist, "playlist", false, "write a playlist per album directory")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// apply overlays explicitly set flags on cfg.
func (f *getFlags) apply(cmd *cobra.Command, cfg *config.Config, verbose bool) error {
	set := cmd.Flags().Changed

	if set("downloads") {
		if f.downloads < 1 || f.downloads > maxFlagDownloads {
			return fmt.Errorf("--downloads must be between 1 and %d", maxFlagDownloads)
		}
		cfg.Downloads = f.downloads
	}
	if set("replace") {
		cfg.ReplaceExisting = f.replace
	}
	if set("template") {
		cfg.DownloadPath = config.ExpandTemplate(f.template)
	}
	if set("playlist") {
		cfg.Playlist.Create = f.playlist
	}
	if set("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg.Validate()
}

// pipeline is everything one run needs, built from the config.
type pipeline struct {
	log       *zap.Logger
	metrics   *metrics.Metrics
	client    *tdlhttp.Client
	resolver  resolver.Resolver
	scheduler func(events chan<- model.Event) *download.Scheduler
	closers   []io.Closer
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i].Close()
	}
	p.log.Sync()
}

func buildPipeline(cfg *config.Config, logOut io.Writer) (*pipeline, error) {
	log, err := logger.NewWithWriter(logOut, cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	p := &pipeline{log: log, metrics: metrics.New()}

	policy := &retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Base:        cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Statuses:    cfg.Retry.Statuses,
	}

	opts := tdlhttp.Options{
		UserAgent:      cfg.HTTP.UserAgent,
		Timeout:        cfg.HTTP.Timeout,
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
		Policy:         policy,
		Freshness:      cache.Freshness{DefaultTTL: cfg.Cache.DefaultTTL},
		MaxEntryBytes:  cfg.Cache.MaxEntryBytes,
		Metrics:        p.metrics,
		Logger:         log,
	}
	if cfg.Cache.Enabled {
		store, err := cache.Open(cfg.CacheDir, log)
		if err != nil {
			// A broken cache degrades to direct fetches.
			log.Warn("cache disabled", zap.String("dir", cfg.CacheDir), zap.Error(err))
		} else {
			p.closers = append(p.closers, store)
			opts.Store = store
		}
	}
	p.client = tdlhttp.NewClient(opts)
	p.resolver = resolver.NewManifestResolver(p.client)

	tagCfg := audio.DefaultTagConfig()
	tagCfg.ModifyTags = cfg.Tags.Modify
	tagCfg.EmbedCover = cfg.Cover.Embed

	fetcher := fetch.New(fetch.Options{Client: p.client, Metrics: p.metrics, Logger: log})
	finalizer := finalize.New(finalize.Options{
		Template:      cfg.DownloadPath,
		CoverTemplate: cfg.CoverPath,
		Replace:       cfg.ReplaceExisting,
		Tagger:        audio.NewTagger(tagCfg),
		Covers:        p.client,
		Cover: finalize.CoverOptions{
			Embed:       cfg.Cover.Embed,
			Resize:      cfg.Cover.Resize,
			MaxSize:     cfg.Cover.MaxSize,
			ConvertJPEG: cfg.Cover.ConvertJPEG,
		},
		Logger: log,
	})

	p.scheduler = func(events chan<- model.Event) *download.Scheduler {
		return download.New(fetcher, finalizer, download.Options{
			Concurrency: cfg.Downloads,
			Events:      events,
			Metrics:     p.metrics,
			Logger:      log,
		})
	}
	return p, nil
}

func runGet(ctx context.Context, cfg *config.Config, flags *getFlags, manifests []string, out io.Writer) error {
	logOut := io.Writer(os.Stderr)
	if flags.useTUI {
		// Logs would tear the alternate screen.
		f, err := openLogFile()
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}

	p, err := buildPipeline(cfg, logOut)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := p.metrics.Serve(ctx, cfg.Metrics.Addr, p.log); err != nil {
				p.log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	var descs []model.StreamDescriptor
	for _, m := range manifests {
		d, err := p.resolver.Resolve(ctx, m)
		if err != nil {
			return err
		}
		descs = append(descs, d...)
	}
	p.log.Info("manifests resolved", zap.Int("manifests", len(manifests)), zap.Int("items", len(descs)))

	started := time.Now()
	events := make(chan model.Event, cfg.Progress.Buffer)
	var (
		results []model.Result
		runErr  error
		wg      sync.WaitGroup
	)
	sched := p.scheduler(events)

	if flags.useTUI {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(events)
			results, runErr = sched.Run(ctx, descs)
		}()
		if err := tui.Run(events, cancel); err != nil {
			cancel()
			p.log.Error("tui", zap.Error(err))
		}
		// Drain whatever the TUI left behind so the run can finish.
		for range events {
		}
		wg.Wait()
	} else {
		renderer := tui.NewLineRenderer(out, flags.showProgress)
		wg.Add(1)
		go func() {
			defer wg.Done()
			renderer.Run(events)
		}()
		results, runErr = sched.Run(ctx, descs)
		close(events)
		wg.Wait()
	}

	if cfg.Playlist.Create {
		writePlaylists(cfg, results, p.log)
	}

	sum := download.Summarize(results)
	fmt.Fprintf(out, "%s in %s\n", sum, time.Since(started).Round(time.Millisecond))

	if runErr != nil {
		return runErr
	}
	if !sum.OK() {
		return errJobsFailed
	}
	return nil
}

func writePlaylists(cfg *config.Config, results []model.Result, log *zap.Logger) {
	format, err := audio.ParsePlaylistFormat(cfg.Playlist.Format)
	if err != nil {
		log.Warn("playlist skipped", zap.Error(err))
		return
	}
	creator := audio.NewPlaylistCreator(format, cfg.Playlist.Extended)
	for _, pl := range audio.PlaylistsFromResults(results) {
		path, err := creator.Write(pl)
		if err != nil {
			log.Warn("playlist not written", zap.String("dir", pl.Dir), zap.Error(err))
			continue
		}
		log.Info("playlist written", zap.String("path", path), zap.Int("tracks", len(pl.Entries)))
	}
}

func openLogFile() (*os.File, error) {
	dir := config.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "tdl.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}
