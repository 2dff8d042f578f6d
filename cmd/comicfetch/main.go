package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aluiziolira/go-comic-fetcher/config"
	"github.com/aluiziolira/go-comic-fetcher/history"
	"github.com/aluiziolira/go-comic-fetcher/models"
	"github.com/aluiziolira/go-comic-fetcher/parser"
	"github.com/aluiziolira/go-comic-fetcher/pipeline"
	"github.com/aluiziolira/go-comic-fetcher/scraper"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		return 1
	}

	flag.StringVar(&cfg.SourcesFile, "sources", cfg.SourcesFile, "YAML file listing comics (built-in list when empty)")
	flag.StringVar(&cfg.StateFile, "state", cfg.StateFile, "CSV file recording the last filename per comic")
	flag.StringVar(&cfg.OutputRoot, "out", cfg.OutputRoot, "Directory that receives the dated comics folder")
	flag.IntVar(&cfg.Parallelism, "parallel", cfg.Parallelism, "Number of comics checked concurrently")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	flag.Int64Var(&cfg.MaxImageBytes, "max-image-bytes", cfg.MaxImageBytes, "Reject images larger than this many bytes (0 = unlimited)")
	flag.StringVar(&cfg.ReportFile, "report", cfg.ReportFile, "Optional run report path")
	flag.StringVar(&cfg.ReportFormat, "format", cfg.ReportFormat, "Report format: csv, json, or dual")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to this rotating file")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address while running (e.g. :9090)")
	flag.StringVar(&cfg.PushgatewayURL, "pushgateway", cfg.PushgatewayURL, "Push run metrics to this Pushgateway URL")
	listOnly := flag.Bool("list", false, "Print the configured comics and exit")
	flag.Parse()

	cfg.ReportFormat = strings.ToLower(cfg.ReportFormat)

	logger, level, closeLog := newLogger(cfg.Verbose, cfg.LogFile)
	defer closeLog()
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	sources, err := loadSources(cfg)
	if err != nil {
		slog.Error("loading sources", slog.Any("error", err))
		return 1
	}

	now := time.Now()
	dir := cfg.RunDir(now)
	printBanner(os.Stdout, sources, dir)
	if *listOnly {
		return 0
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("creating output directory", slog.String("dir", dir), slog.Any("error", err))
		return 1
	}

	prior, err := history.Load(cfg.StateFile)
	if err != nil {
		slog.Error("loading state", slog.String("file", cfg.StateFile), slog.Any("error", err))
		return 1
	}
	if last, ok := prior.LastChecked(); ok {
		slog.Info("previous run", slog.Time("last_checked", last), slog.Int("known_comics", prior.Sources()))
	}

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return 1
	}

	var writer pipeline.OutputWriter
	if cfg.ReportFile != "" {
		writer, err = pipeline.NewWriter(cfg.ReportFormat, cfg.ReportFile)
		if err != nil {
			slog.Error("creating report writer", slog.Any("error", err))
			return 1
		}
		defer func() {
			if err := writer.Close(); err != nil {
				slog.Error("close report writer", slog.Any("error", err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)

	slog.Info("checking comics",
		slog.Int("comics", len(sources)),
		slog.Int("workers", cfg.Parallelism),
		slog.String("dir", dir),
	)

	p := pipeline.NewPipeline(s, writer, cfg.Parallelism).WithObserver(s.Metrics)
	result, merged, runErr := p.Run(ctx, sources, prior, dir)
	if err := checkReport(writer, runErr); err != nil {
		slog.Error("run report", slog.String("file", cfg.ReportFile), slog.Any("error", err))
	}
	slog.Debug("pipeline metrics", slog.Any("metrics", p.GetMetrics()))

	exitCode := 0
	if err := history.Save(cfg.StateFile, merged); err != nil {
		slog.Error("saving state failed; downloaded comics are kept but may be fetched again next run",
			slog.String("file", cfg.StateFile),
			slog.Any("error", err),
		)
		exitCode = 1
	}

	s.Metrics.MarkRun(time.Now())
	if cfg.PushgatewayURL != "" {
		if err := push.New(cfg.PushgatewayURL, "comicfetch").Gatherer(s.Metrics.Registry).Push(); err != nil {
			slog.Error("pushing metrics", slog.String("url", cfg.PushgatewayURL), slog.Any("error", err))
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(os.Stdout, result, cfg.StateFile)
	return exitCode
}

func applyEnv(cfg *config.Config) error {
	if v, ok := config.EnvString("COMICFETCH_SOURCES"); ok {
		cfg.SourcesFile = v
	}
	if v, ok := config.EnvString("COMICFETCH_STATE"); ok {
		cfg.StateFile = v
	}
	if v, ok := config.EnvString("COMICFETCH_OUT"); ok {
		cfg.OutputRoot = v
	}
	if v, ok, err := config.EnvInt("COMICFETCH_PARALLEL"); err != nil {
		return err
	} else if ok {
		cfg.Parallelism = v
	}
	if v, ok, err := config.EnvDuration("COMICFETCH_TIMEOUT"); err != nil {
		return err
	} else if ok {
		cfg.Timeout = v
	}
	if v, ok := config.EnvString("COMICFETCH_LOG_FILE"); ok {
		cfg.LogFile = v
	}
	if v, ok, err := config.EnvBool("COMICFETCH_VERBOSE"); err != nil {
		return err
	} else if ok {
		cfg.Verbose = v
	}
	if v, ok := config.EnvString("COMICFETCH_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := config.EnvString("COMICFETCH_PUSHGATEWAY"); ok {
		cfg.PushgatewayURL = v
	}
	return nil
}

// checkReport returns the report error from the run, or the writer's own
// verdict on the file when the write went through.
func checkReport(writer pipeline.OutputWriter, runErr error) error {
	if runErr != nil || writer == nil {
		return runErr
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("validate report: %w", err)
	}
	return nil
}

func loadSources(cfg *config.Config) ([]models.Source, error) {
	if cfg.SourcesFile != "" {
		return config.LoadSources(cfg.SourcesFile)
	}
	sources := config.DefaultSources()
	if err := parser.ValidateSources(sources); err != nil {
		return nil, err
	}
	return sources, nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func printBanner(w io.Writer, sources []models.Source, dir string) {
	fmt.Fprintf(w, "\n%42s\n", "Scheduled Web Comic Downloader")
	fmt.Fprintf(w, "%42s\n\n", "********* *** ***** **********")
	fmt.Fprint(w, "The following web comics will be checked for updates:\n\n")
	for _, src := range sources {
		fmt.Fprintf(w, ":: %s\n", src.Name)
	}
	fmt.Fprintf(w, "\nComics will be saved under %q.\n\n", dir)
}

func printSummary(w io.Writer, result *models.RunResult, stateFile string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Comic check complete")

	if result == nil {
		fmt.Fprintln(w, separator)
		return
	}

	for _, o := range result.Outcomes {
		detail := o.Filename
		if o.Status == models.StatusFailed {
			detail = o.ErrorType
		}
		fmt.Fprintf(w, "  %-20s %-11s %s\n", o.Source, o.Status, detail)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Downloaded:    %d\n", result.Count(models.StatusDownloaded))
	fmt.Fprintf(w, "  Unchanged:     %d\n", result.Count(models.StatusUnchanged))
	fmt.Fprintf(w, "  Not found:     %d\n", result.Count(models.StatusNotFound))
	fmt.Fprintf(w, "  Failed:        %d\n", result.Count(models.StatusFailed))
	if errs := result.ErrorsByType(); len(errs) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", errs)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	fmt.Fprintf(w, "  Output dir:    %s\n", result.OutputDir)
	fmt.Fprintf(w, "  State file:    %s\n", stateFile)
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, "All done!")
}

func newLogger(verbose bool, logFile string) (*slog.Logger, *slog.LevelVar, func()) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	closeFn := func() {}

	var out io.Writer = os.Stdout
	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { rotator.Close() }
	}

	var handler slog.Handler
	if logFile == "" && isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler), level, closeFn
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
