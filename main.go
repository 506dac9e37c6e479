// pyrelate builds the import graph of a Python project and writes it as an
// SBOM document.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/pyrelate/internal/cache"
	"github.com/phobologic/pyrelate/internal/classify"
	"github.com/phobologic/pyrelate/internal/config"
	"github.com/phobologic/pyrelate/internal/discover"
	"github.com/phobologic/pyrelate/internal/graph"
	"github.com/phobologic/pyrelate/internal/model"
	"github.com/phobologic/pyrelate/internal/parse"
	"github.com/phobologic/pyrelate/internal/ranking"
	"github.com/phobologic/pyrelate/internal/sbom"
	"github.com/phobologic/pyrelate/internal/toon"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.AddCommand(newInitCmd(stdout, stderr))
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// options holds the root command flags.
type options struct {
	configPath    string
	format        string
	output        string
	cacheDir      string
	metricsFile   string
	traceFile     string
	logLevel      string
	logFormat     string
	installPrefix string
	fileFilter    string
	workers       int
	maxFileSize   int64
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "pyrelate [root]",
		Short: "Build the import graph of a Python project",
		Long: `pyrelate inventories the Python files under root, extracts their imports
and top-level definitions, and resolves first-party imports into "Uses"
relationships between files. The result is written as an SBOM document.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyze(cmd, args, opts, stdout, stderr)
		},
	}
	cmd.Version = version
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "configuration file (default <root>/"+config.FileName+")")
	f.StringVarP(&opts.format, "format", "f", config.FormatJSON, "output format: json or toon")
	f.StringVarP(&opts.output, "output", "o", "", "write output to this file instead of stdout")
	f.StringVar(&opts.cacheDir, "cache", "", "directory of the extraction cache")
	f.IntVarP(&opts.workers, "workers", "j", 0, "parallel workers (0 uses every CPU)")
	f.Int64Var(&opts.maxFileSize, "max-file-size", parse.DefaultMaxFileSize, "skip files larger than this many bytes")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write prometheus metrics to this file")
	f.StringVar(&opts.traceFile, "trace-file", "", "write OpenTelemetry spans to this file as JSON")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	f.StringVar(&opts.logFormat, "log-format", logFormatAuto, "log format: auto, text or json")
	f.StringVar(&opts.installPrefix, "install-prefix", "", "prefix prepended to every install path")
	f.StringVar(&opts.fileFilter, "file", "", "only report relationships touching files whose path contains this substring")

	return cmd
}

// loadConfig reads the configuration and applies explicitly set flags on
// top of it.
func loadConfig(cmd *cobra.Command, argRoot string, opts options) (config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = filepath.Join(argRoot, config.FileName)
	} else if _, err := os.Stat(path); err != nil {
		return config.Config{}, fmt.Errorf("config file: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Format = opts.format
	}
	if flags.Changed("cache") {
		cfg.CacheDir = opts.cacheDir
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if flags.Changed("max-file-size") {
		cfg.MaxFileSize = opts.maxFileSize
	}
	if flags.Changed("install-prefix") {
		cfg.InstallPrefix = opts.installPrefix
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func analyze(cmd *cobra.Command, args []string, opts options, stdout, stderr io.Writer) error {
	ctx := cmd.Context()

	logger, err := newLogger(stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}
	if opts.metricsFile != "" {
		if err := installMeterProvider(); err != nil {
			return err
		}
	}
	if opts.traceFile != "" {
		shutdown, err := installTracerProvider(opts.traceFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("flushing traces", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, span := otel.Tracer("pyrelate").Start(ctx, "pyrelate.analyze")
	defer span.End()

	argRoot := "."
	if len(args) > 0 {
		argRoot = args[0]
	}
	cfg, err := loadConfig(cmd, argRoot, opts)
	if err != nil {
		return err
	}

	root := argRoot
	if configured := cfg.ProjectRoot(logger); configured != "" && len(args) == 0 {
		root = configured
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	files, err := discover.Inventory(root, cfg.InstallPrefix)
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no python files found")
	}

	manifest, err := classify.LoadManifest(root)
	if err != nil {
		logger.Warn("ignoring project manifest", slog.String("error", err.Error()))
	}
	classifier := classify.New(classify.Options{
		Root:            root,
		KnownFirstParty: cfg.KnownFirstParty,
		KnownThirdParty: cfg.KnownThirdParty,
		Manifest:        manifest,
	})

	var fc *cache.FactCache
	if cfg.CacheDir != "" {
		fc, err = cache.Open(cfg.CacheDir, logger)
		if err != nil {
			return err
		}
		defer fc.Close()
	}

	extractor := parse.NewExtractor(
		parse.WithClassifier(classifier),
		parse.WithLogger(logger),
		parse.WithMaxFileSize(cfg.MaxFileSize),
	)
	ex := &extraction{
		extractor:   extractor,
		cache:       fc,
		classifier:  classifier,
		fingerprint: fmt.Sprintf("%s-%d", factsVersion, cfg.MaxFileSize),
		root:        root,
		workers:     cfg.Workers,
		logger:      logger,
	}
	if err := ex.run(ctx, files); err != nil {
		return err
	}

	snap := model.NewSnapshot(files)
	g, err := graph.BuildGraph(ctx, snap, graph.Options{Workers: cfg.Workers, Logger: logger})
	if err != nil {
		return fmt.Errorf("resolving imports: %w", err)
	}

	logger.Info("analysis complete",
		slog.String("root", root),
		slog.Int("files", snap.Len()),
		slog.Int("relationships", len(g.Relationships)),
		slog.Int("unresolved", len(g.Diagnostics)))

	if opts.fileFilter != "" {
		g = ranking.FilterByFile(snap, g, opts.fileFilter)
	}

	if err := writeOutput(cfg.Format, opts.output, root, snap, g, stdout); err != nil {
		return err
	}

	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, prometheus.DefaultGatherer); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

func writeOutput(format, output, root string, snap *model.Snapshot, g *graph.Graph, stdout io.Writer) error {
	w := stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case config.FormatTOON:
		if _, err := fmt.Fprintln(w, toon.Encode(filepath.Base(root), snap, g)); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	default:
		if err := sbom.Write(w, sbom.New(snap, g.Relationships)); err != nil {
			return err
		}
	}
	return nil
}

// factsVersion changes whenever the extractor's output for unchanged
// source changes.
const factsVersion = "v2"

// extraction runs the Symbol Extractor over the inventory.
type extraction struct {
	extractor   *parse.Extractor
	classifier  classify.Classifier
	cache       *cache.FactCache
	fingerprint string
	root        string
	workers     int
	logger      *slog.Logger
}

// run fills in Facts for every file. Each worker writes only its own slot,
// so results keep inventory order.
func (e *extraction) run(ctx context.Context, files []model.SourceFile) error {
	workers := e.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			facts := e.extract(gctx, &files[i])
			files[i].Facts = &facts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (e *extraction) extract(ctx context.Context, f *model.SourceFile) model.FactRecord {
	if e.cache != nil {
		facts, err := e.cache.Get(f.SHA256, e.fingerprint)
		if err == nil {
			parse.Reclassify(&facts, e.classifier)
			return facts
		}
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn("reading fact cache",
				slog.String("file", f.SourcePath),
				slog.String("error", err.Error()))
		}
	}

	facts := e.extractor.Extract(ctx, f.SourcePath, e.root)

	if e.cache != nil {
		if err := e.cache.Put(f.SHA256, e.fingerprint, &facts); err != nil {
			e.logger.Warn("writing fact cache",
				slog.String("file", f.SourcePath),
				slog.String("error", err.Error()))
		}
	}
	return facts
}
