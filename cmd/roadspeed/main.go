package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"roadspeed/internal/api"
	"roadspeed/pkg/cache"
	"roadspeed/pkg/config"
	"roadspeed/pkg/db"
	"roadspeed/pkg/db/maintenance"
	"roadspeed/pkg/geo"
	"roadspeed/pkg/logging"
	"roadspeed/pkg/overpass"
	"roadspeed/pkg/probe"
	"roadspeed/pkg/request"
	"roadspeed/pkg/resolver"
	"roadspeed/pkg/route"
	"roadspeed/pkg/spatialcache"
	"roadspeed/pkg/speed"
	"roadspeed/pkg/tracker"
	"roadspeed/pkg/version"
)

const defaultConfigPath = "configs/roadspeed.yaml"

// maxParallelRoutes bounds the route files resolved at once.
const maxParallelRoutes = 4

var (
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	format     = flag.String("format", "", "Output format: csv or geojson (default from config)")
	outDir     = flag.String("out", "", "Output directory (default: next to each route file)")
	step       = flag.String("step", "", "Densify routes to this waypoint spacing, e.g. 25m (default from config)")
	serve      = flag.Bool("serve", false, "Run the HTTP API instead of processing route files")
	offline    = flag.String("offline", "", "Overpass JSON dump to use instead of the Overpass API")
)

// options holds the command line settings that override the config file.
type options struct {
	ConfigPath string
	Format     string
	OutDir     string
	Step       string
	Serve      bool
	Offline    string
	Routes     []string
	// Stdout receives results of routes read from stdin ("-").
	Stdout io.Writer
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: roadspeed [flags] route.csv...\n       roadspeed -serve\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	if !*serve && flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	opts := options{
		ConfigPath: *configPath,
		Format:     *format,
		OutDir:     *outDir,
		Step:       *step,
		Serve:      *serve,
		Offline:    *offline,
		Routes:     flag.Args(),
		Stdout:     os.Stdout,
	}
	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyOverrides(appCfg, opts); err != nil {
		return err
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("roadspeed started", "version", version.Version)

	tr := tracker.New()
	provider, dbConn, err := initProvider(ctx, appCfg, tr)
	if err != nil {
		return err
	}
	if dbConn != nil {
		defer dbConn.Close()
	}

	if err := probe.AnalyzeResults(slog.Default(), probe.Run(ctx, startupProbes(appCfg, provider, dbConn), 0)); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	newResolver := resolverFactory(provider, appCfg, tr)

	if opts.Serve {
		var store api.CacheStatter
		if dbConn != nil {
			store = dbConn
		}
		return runServer(ctx, appCfg, newResolver, tr, store)
	}
	return runRoutes(ctx, appCfg, newResolver, opts)
}

// applyOverrides merges command line flags into the loaded config.
func applyOverrides(cfg *config.Config, opts options) error {
	if opts.Format != "" {
		cfg.Route.Format = opts.Format
	}
	if opts.Step != "" {
		v, err := config.ParseDistance(opts.Step)
		if err != nil {
			return fmt.Errorf("invalid -step: %w", err)
		}
		cfg.Route.Step = config.Distance(v)
	}
	if opts.Offline != "" {
		cfg.Overpass.Offline = config.ExpandPath(opts.Offline)
	}
	return cfg.Validate()
}

// initProvider returns the road graph source: the offline dump when one is
// configured, the Overpass API behind the cached request client otherwise.
// The response cache database is nil in offline mode.
func initProvider(ctx context.Context, cfg *config.Config, tr *tracker.Tracker) (spatialcache.Provider, *db.DB, error) {
	if cfg.Overpass.Offline != "" {
		fp, err := overpass.NewFileProvider(cfg.Overpass.Offline)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load offline road graph: %w", err)
		}
		g := fp.Graph()
		slog.Info("Using offline road graph", "path", cfg.Overpass.Offline, "nodes", g.NodeCount(), "edges", g.EdgeCount())
		return fp, nil, nil
	}

	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	maintenance.Run(ctx, dbConn, time.Duration(cfg.DB.CacheTTL))

	reqClient := request.New(cache.NewSQLiteCache(dbConn, time.Duration(cfg.DB.CacheTTL)), tr, request.Options{
		Retries:   cfg.Request.Retries,
		Timeout:   time.Duration(cfg.Request.Timeout),
		BaseDelay: time.Duration(cfg.Request.Backoff.BaseDelay),
		MaxDelay:  time.Duration(cfg.Request.Backoff.MaxDelay),
	})
	slog.Info("Using Overpass API", "endpoint", cfg.Overpass.Endpoint)
	return overpass.NewProvider(reqClient, cfg.Overpass.Endpoint, time.Duration(cfg.Overpass.Timeout)), dbConn, nil
}

func startupProbes(cfg *config.Config, p spatialcache.Provider, dbConn *db.DB) []probe.Probe {
	if fp, ok := p.(*overpass.FileProvider); ok {
		return []probe.Probe{
			{Name: "Offline Road Graph", Check: probe.Graph(fp.Graph()), Critical: true},
		}
	}
	return []probe.Probe{
		{Name: "Response Cache", Check: dbConn.PingContext, Critical: true},
		{Name: "Overpass Endpoint", Check: probe.Endpoint(cfg.Overpass.Endpoint), Critical: true},
	}
}

func resolverFactory(p spatialcache.Provider, cfg *config.Config, tr *tracker.Tracker) api.ResolverFactory {
	return func(name string) *resolver.Resolver {
		c := spatialcache.New(p, spatialcache.Options{
			EvictBeyond: cfg.Cache.EvictBeyond,
			Name:        name,
			Tracker:     tr,
			Logger:      slog.Default(),
		})
		return resolver.New(c, resolver.Options{
			Radius:     float64(cfg.Cache.Radius),
			Normalizer: speed.Normalizer{StrictLists: cfg.Speed.StrictLists},
		})
	}
}

// runRoutes resolves every route file concurrently, each on its own resolver.
func runRoutes(ctx context.Context, cfg *config.Config, newResolver api.ResolverFactory, opts options) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRoutes)

	for _, path := range opts.Routes {
		g.Go(func() error {
			return processRoute(gctx, cfg, newResolver, path, opts)
		})
	}
	return g.Wait()
}

func processRoute(ctx context.Context, cfg *config.Config, newResolver api.ResolverFactory, path string, opts options) error {
	logger := slog.With("route", path)

	points, err := readRoute(path)
	if err != nil {
		return err
	}
	if step := float64(cfg.Route.Step); step > 0 {
		n := len(points)
		points = geo.Densify(points, step)
		logger.Debug("Route densified", "before", n, "after", len(points), "step_m", step)
	}

	name := "stdin"
	if path != "-" {
		name = filepath.Base(path)
	}
	res := newResolver(name)

	start := time.Now()
	results, err := route.Run(ctx, res, points)
	if err != nil {
		return fmt.Errorf("route %s: %w", path, err)
	}

	known, failed := 0, 0
	for _, r := range results {
		if r.Speed.Known {
			known++
		}
		if r.Err() != nil {
			failed++
		}
	}
	win := res.Window()
	logger.Info("Route processed",
		"waypoints", len(results),
		"known", known,
		"failed", failed,
		"fetches", win.Fetches,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return writeResults(path, cfg.Route.Format, opts, results)
}

func readRoute(path string) ([]geo.Point, error) {
	if path == "-" {
		return route.Read(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open route: %w", err)
	}
	defer f.Close()
	return route.Read(f)
}

func writeResults(path, format string, opts options, results []route.Result) error {
	write := route.WriteCSV
	if format == "geojson" {
		write = route.WriteGeoJSON
	}

	if path == "-" && opts.OutDir == "" {
		return write(opts.Stdout, results)
	}

	out := outputPath(path, format, opts.OutDir)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := write(f, results); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	slog.Info("Results written", "path", out)
	return f.Close()
}

// outputPath maps "dir/drive.csv" to "dir/drive.speeds.csv" (or .geojson),
// placed in outDir when set.
func outputPath(path, format, outDir string) string {
	base := "stdin"
	dir := "."
	if path != "-" {
		base = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		dir = filepath.Dir(path)
	}
	if outDir != "" {
		dir = outDir
	}
	return filepath.Join(dir, base+".speeds."+format)
}

func runServer(ctx context.Context, cfg *config.Config, newResolver api.ResolverFactory, tr *tracker.Tracker, store api.CacheStatter) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	speedH := api.NewSpeedHandler(newResolver, api.SessionOptions{
		TTL: time.Duration(cfg.Server.SessionTTL),
		Max: cfg.Server.MaxSessions,
	})

	srv := api.NewServer(cfg.Server.Address,
		api.NewStatsHandler(tr, store, speedH),
		speedH,
		api.NewRouteHandler(newResolver),
		api.NewStreamHandler(newResolver),
		shutdownFunc,
	)

	srv.Handler = loggingMiddleware(srv.Handler)
	return runServerLifecycle(ctx, srv, quit)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
