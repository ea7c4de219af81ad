package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"imaged/internal/artifacts"
	"imaged/internal/common/fsutil"
	"imaged/internal/config"
	"imaged/internal/gpu"
	"imaged/internal/httpapi"
	"imaged/internal/manager"
	"imaged/internal/registry"
	"imaged/internal/service"
	"imaged/internal/store"
	"imaged/internal/worker"
)

// serveFlags mirror the config fields that can be set on the command line.
// They win over the config file and the environment when given.
type serveFlags struct {
	configPath    string
	addr          string
	dbDriver      string
	dbDSN         string
	modelsDir     string
	imagesDir     string
	logLevel      string
	logFormat     string
	renderer      string
	renderCommand string
	renderArgs    []string
	workerMode    string
	workerBin     string
	corsOrigins   []string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the worker supervisor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &f, os.LookupEnv)
			if err != nil {
				return err
			}
			log, err := config.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	bindServeFlags(cmd, &f)
	return cmd
}

func bindServeFlags(cmd *cobra.Command, f *serveFlags) {
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Config file (.yaml, .yml, .json or .toml)")
	fl.StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8080")
	fl.StringVar(&f.dbDriver, "db-driver", "", "Database driver: sqlite, pgx or postgres")
	fl.StringVar(&f.dbDSN, "db-dsn", "", "Database DSN (sqlite file path or postgres URL)")
	fl.StringVar(&f.modelsDir, "models-dir", "", "Directory scanned for model files on startup")
	fl.StringVar(&f.imagesDir, "images-dir", "", "Directory receiving generated and control images")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	fl.StringVar(&f.logFormat, "log-format", "", "Log format: json|console")
	fl.StringVar(&f.renderer, "renderer", "", "Worker renderer: placeholder|exec")
	fl.StringVar(&f.renderCommand, "render-command", "", "Command run by the exec renderer")
	fl.StringArrayVar(&f.renderArgs, "render-arg", nil, "Extra argument for the render command (repeatable)")
	fl.StringVar(&f.workerMode, "worker-mode", "", "How workers run: exec|inprocess")
	fl.StringVar(&f.workerBin, "worker-bin", "", "Binary spawned for workers (default: this binary)")
	fl.StringSliceVar(&f.corsOrigins, "cors-origins", nil, "Enable CORS for these origins")
}

// loadConfig layers the config file, .env files, IMAGED_* variables and the
// flags that were set, in that order, then fills defaults and validates.
func loadConfig(cmd *cobra.Command, f *serveFlags, lookup func(string) (string, bool)) (config.Config, error) {
	var cfg config.Config
	if f.configPath != "" {
		c, err := config.Load(f.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if err := config.LoadDotEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("addr", &cfg.Addr, f.addr)
	set("db-driver", &cfg.Database.Driver, f.dbDriver)
	set("db-dsn", &cfg.Database.DSN, f.dbDSN)
	set("models-dir", &cfg.ModelsDir, f.modelsDir)
	set("images-dir", &cfg.ImagesDir, f.imagesDir)
	set("log-level", &cfg.Log.Level, f.logLevel)
	set("log-format", &cfg.Log.Format, f.logFormat)
	set("renderer", &cfg.Renderer.Kind, f.renderer)
	set("render-command", &cfg.Renderer.Command, f.renderCommand)
	set("worker-mode", &cfg.Worker.Mode, f.workerMode)
	set("worker-bin", &cfg.Worker.Bin, f.workerBin)
	if cmd.Flags().Changed("render-arg") {
		cfg.Renderer.Args = f.renderArgs
	}
	if cmd.Flags().Changed("cors-origins") {
		cfg.CORS.Enabled = true
		cfg.CORS.Origins = f.corsOrigins
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newSpawner picks how worker processes are started.
func newSpawner(cfg config.Config, log zerolog.Logger) (manager.Spawner, error) {
	if cfg.Worker.Mode != config.WorkerModeInProcess {
		return &manager.ExecSpawner{Bin: cfg.Worker.Bin, Args: workerArgs(cfg)}, nil
	}
	if _, err := worker.NewRenderer(cfg.Renderer.Kind, cfg.Renderer.Command, cfg.Renderer.Args, log); err != nil {
		return nil, err
	}
	return &manager.PipeSpawner{
		NewRenderer: func() worker.Renderer {
			r, _ := worker.NewRenderer(cfg.Renderer.Kind, cfg.Renderer.Command, cfg.Renderer.Args, log)
			return r
		},
		Logger: log,
	}, nil
}

// workerArgs are the flags passed to `imaged worker` so it builds the same
// renderer and logs at the same level as the supervisor.
func workerArgs(cfg config.Config) []string {
	args := []string{"--renderer", cfg.Renderer.Kind, "--log-level", cfg.Log.Level}
	if cfg.Renderer.Command != "" {
		args = append(args, "--render-command", cfg.Renderer.Command)
	}
	for _, a := range cfg.Renderer.Args {
		args = append(args, "--render-arg="+a)
	}
	return args
}

// dbPath is the DSN when it names a file; server DSNs may carry credentials.
func dbPath(driver, dsn string) string {
	if driver != config.DefaultDriver {
		return ""
	}
	return dsn
}

func resolveImagesDir(dir string) (string, error) {
	dir, err := fsutil.ExpandHome(dir)
	if err != nil {
		return "", err
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}
	return dir, nil
}

// serve runs until ctx is done or the listener fails, then shuts the HTTP
// server and the supervisor down within the configured timeout.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	imagesDir, err := resolveImagesDir(cfg.ImagesDir)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := registry.Seed(ctx, st.AIModels, cfg.ModelsDir, log); err != nil {
		return fmt.Errorf("seed models: %w", err)
	}

	// outlives ctx so that Shutdown can still drain worker events
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	spawner, err := newSpawner(cfg, log)
	if err != nil {
		return err
	}
	broker := manager.NewBroker()
	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	mcfg := manager.ManagerConfig{
		Generators:      st.Generators,
		Jobs:            st.Jobs,
		Images:          st.Images,
		Spawner:         spawner,
		Publisher:       broker,
		Logger:          &log,
		ShutdownTimeout: shutdownTimeout,
	}

	var mirror *artifacts.Mirror
	mirrorDone := make(chan struct{})
	if cfg.MinIO.Endpoint != "" {
		mirror, err = artifacts.Connect(ctx, artifacts.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Prefix:    cfg.MinIO.Prefix,
			UseSSL:    cfg.MinIO.UseSSL,
		}, st.Images, log)
		if err != nil {
			return fmt.Errorf("connect object storage: %w", err)
		}
		mcfg.Sink = mirror
		go func() {
			defer close(mirrorDone)
			mirror.Run(runCtx)
		}()
		log.Info().Str("endpoint", cfg.MinIO.Endpoint).Str("bucket", cfg.MinIO.Bucket).Msg("mirroring images to object storage")
	} else {
		close(mirrorDone)
	}

	mgr := manager.New(mcfg)
	if err := mgr.Start(runCtx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	svc := service.New(service.Config{
		Store:      st,
		Supervisor: mgr,
		GPUs:       gpu.NewLister(),
		ImagesDir:  imagesDir,
		DBDriver:   cfg.Database.Driver,
		DBPath:     dbPath(cfg.Database.Driver, cfg.Database.DSN),
		ModelsDir:  cfg.ModelsDir,
		Logger:     &log,
	})

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, nil, nil)
	httpCtx, cancelHTTP := context.WithCancel(context.Background())
	defer cancelHTTP()
	httpapi.SetBaseContext(httpCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc, mgr, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("images_dir", imagesDir).Str("worker_mode", cfg.Worker.Mode).Msg("imaged listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server error")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout+5*time.Second)
	defer cancel()
	// end event streams first; Shutdown waits for active handlers
	cancelHTTP()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("graceful HTTP shutdown")
	}
	if err := mgr.Shutdown(shCtx); err != nil && !errors.Is(err, manager.ErrNotRunning) {
		log.Warn().Err(err).Msg("supervisor shutdown")
	}
	broker.Close()
	if mirror != nil {
		mirror.Close()
	}
	select {
	case <-mirrorDone:
	case <-shCtx.Done():
		log.Warn().Msg("image uploads still pending at exit")
	}
	cancelRun()
	mgr.Wait()
	return serveErr
}
