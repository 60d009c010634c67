// Command nanotrack links per-frame particle detections into trajectories
// and reports each particle's diffusion coefficient and hydrodynamic
// diameter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/nanotrack/internal/config"
	"github.com/banshee-data/nanotrack/internal/db"
	"github.com/banshee-data/nanotrack/internal/diffusion"
	"github.com/banshee-data/nanotrack/internal/httputil"
	"github.com/banshee-data/nanotrack/internal/ingest"
	"github.com/banshee-data/nanotrack/internal/monitoring"
	"github.com/banshee-data/nanotrack/internal/pipeline"
	"github.com/banshee-data/nanotrack/internal/security"
	"github.com/banshee-data/nanotrack/internal/tracks"
	"github.com/banshee-data/nanotrack/internal/version"
)

var logf = monitoring.Component("nanotrack")

type options struct {
	configPath    string
	detections    string
	dbPath        string
	estimator     string
	kalman        bool
	workers       int
	progressEvery int
	csvOut        string
	hist          string
	histBin       float64
	metricsListen string
	showVersion   bool
	quiet         bool
	logJSON       bool
}

// envOr returns the environment variable key, or def when it is unset.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// loadEnv reads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func loadEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	fs := flag.NewFlagSet("nanotrack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o := &options{}
	fs.StringVar(&o.configPath, "config", envOr("NANOTRACK_CONFIG", ""), "JSON tuning config (defaults apply to omitted fields)")
	fs.StringVar(&o.detections, "detections", "", "CSV of frame,x,y[,intensity[,hue]] rows, or - for stdin")
	fs.StringVar(&o.dbPath, "db", envOr("NANOTRACK_DB", ""), "SQLite file to record the run in (optional)")
	fs.StringVar(&o.estimator, "estimator", "", "override the configured estimator: regression, covariance or kalman")
	fs.BoolVar(&o.kalman, "kalman", false, "use the Kalman-smoothed covariance estimator")
	fs.IntVar(&o.workers, "workers", 0, "parallel estimation workers (0 = one per CPU; overrides config when set)")
	fs.IntVar(&o.progressEvery, "progress", 500, "log progress every N frames (0 disables)")
	fs.StringVar(&o.csvOut, "csv", "", "write the results table as CSV to this path")
	fs.StringVar(&o.hist, "hist", "", "print histogram data: diameter or diffusion")
	fs.Float64Var(&o.histBin, "hist-bin", 0, "histogram bin width (0 = 4 nm or 10e-10 cm²/s)")
	fs.StringVar(&o.metricsListen, "metrics-listen", envOr("NANOTRACK_METRICS_LISTEN", ""), "serve /metrics and /status on this address while running")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	fs.BoolVar(&o.quiet, "quiet", false, "suppress diagnostic logging")
	fs.BoolVar(&o.logJSON, "log-json", false, "write diagnostic logs as JSON lines to stderr")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return o, fs, nil
}

func loadConfig(o *options, fs *flag.FlagSet) (*config.TuningConfig, error) {
	cfg := config.DefaultTuningConfig()
	if o.configPath != "" {
		loaded, err := config.LoadTuningConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "estimator":
			cfg.Estimator = &o.estimator
		case "workers":
			cfg.Workers = &o.workers
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDetections(path string) (io.ReadCloser, string, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), "stdin", nil
	}
	if err := security.ValidateInputFile(path, ".csv", ".txt"); err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

func statusMux(reg *prometheus.Registry, p *progress) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", httputil.GetOnly(p.handleStatus))
	return mux
}

func serveStatus(ctx context.Context, addr string, handler http.Handler) func() {
	server := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logf("status server: %v", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, fs, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	switch {
	case o.quiet:
		monitoring.SetLogger(nil)
	case o.logJSON:
		monitoring.SetLogger(monitoring.JSONLogf(stderr))
	}
	if o.detections == "" {
		return errors.New("-detections is required")
	}

	cfg, err := loadConfig(o, fs)
	if err != nil {
		return err
	}

	in, source, err := openDetections(o.detections)
	if err != nil {
		return err
	}
	defer in.Close()

	promReg := prometheus.NewRegistry()
	metrics, err := monitoring.NewMetrics(promReg)
	if err != nil {
		return err
	}
	prog := newProgress()
	if o.metricsListen != "" {
		stop := serveStatus(ctx, o.metricsListen, statusMux(promReg, prog))
		defer stop()
	}

	tracker, err := tracks.NewTracker(cfg.TrackerConfig())
	if err != nil {
		return err
	}
	reg := tracks.NewRegistry()
	analyzer, err := pipeline.NewAnalyzer(cfg, reg, metrics)
	if err != nil {
		return err
	}

	start := time.Now()
	sum, err := pipeline.Run(ctx, ingest.NewCSVSource(in), reg, tracker, pipeline.Options{
		ProgressEvery: o.progressEvery,
		OnFrame:       prog.observe,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}
	prog.setStage("estimating")
	rep, err := analyzer.Report(ctx, o.kalman)
	if err != nil {
		return err
	}
	prog.setStage("done")
	logf("analysed %d frames in %s", sum.Frames, time.Since(start).Round(time.Millisecond))

	printReport(stdout, sum, rep)

	if o.csvOut != "" {
		if err := writeFile(o.csvOut, rep.WriteCSV); err != nil {
			return err
		}
	}
	if o.hist != "" {
		q := pipeline.Quantity(o.hist)
		bin := o.histBin
		if bin == 0 {
			bin = pipeline.DefaultBinSize(q)
		}
		bins, err := rep.Histogram(q, bin)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout)
		if err := pipeline.WriteHistogramCSV(stdout, bins); err != nil {
			return err
		}
	}
	if o.dbPath != "" {
		runID, err := persist(ctx, o.dbPath, source, cfg, analyzer, sum, rep)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "\nrun %s saved to %s\n", runID, o.dbPath)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := security.ValidateOutputPath(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func persist(ctx context.Context, path, source string, cfg *config.TuningConfig, a *pipeline.Analyzer, sum pipeline.Summary, rep *pipeline.Report) (string, error) {
	if err := security.ValidateOutputPath(path); err != nil {
		return "", err
	}
	store, err := db.Open(path)
	if err != nil {
		return "", fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	run, err := store.RecordRun(ctx, db.RunRecord{
		Source:  source,
		Config:  cfg,
		Summary: sum,
		Tracks:  a.FinishedTracks(),
		Report:  rep,
	})
	if err != nil {
		return "", err
	}
	return run.RunID, nil
}

func printReport(w io.Writer, sum pipeline.Summary, rep *pipeline.Report) {
	fmt.Fprintf(w, "frames: %d  detections: %d  tracks: %d  skipped frames: %d\n",
		sum.Frames, sum.Detections, sum.Started, sum.SkippedFrames)
	if rep.Drift.Valid() {
		fmt.Fprintf(w, "drift: (%.4f, %.4f) px/frame from %d steps\n", rep.Drift.X, rep.Drift.Y, rep.Drift.Samples)
	} else {
		fmt.Fprintln(w, "drift: not corrected")
	}
	fmt.Fprintf(w, "estimator: %s  reported: %d  short: %d  rejected: %d  failed: %d\n\n",
		rep.Estimator, len(rep.Rows), rep.Short, rep.Rejected, rep.Failed)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "track\tsteps\tstart\tend\tD [µm²/s]\tdiameter [nm]\t")
	for _, r := range rep.Rows {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.4f\t%.1f\t\n", r.TrackID, r.Steps, r.StartFrame, r.EndFrame, r.DMicron2, r.DiameterNm)
	}
	tw.Flush()
}

func main() {
	log.SetFlags(log.LstdFlags)
	if err := loadEnv(".env"); err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if errors.Is(err, diffusion.ErrInvalidEstimatorConfig) || errors.Is(err, config.ErrInvalidConfig) {
			log.Fatalf("configuration error: %v", err)
		}
		log.Fatalf("nanotrack: %v", err)
	}
}
