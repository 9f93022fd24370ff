package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"stripd/internal/config"
	"stripd/internal/extract"
	"stripd/internal/httpapi"
	"stripd/internal/provision"
)

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	// Flags with environment variable defaults
	addr := flag.String("addr", envDefault("STRIPD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	configPath := flag.String("config", envDefault("STRIPD_CONFIG", ""), "Optional config file (.yaml/.json/.toml)")
	toolBin := flag.String("tool-bin", envDefault("STRIPD_TOOL_BIN", ""), "Brain-extraction executable (default hd-bet)")
	python := flag.String("python", envDefault("STRIPD_PYTHON", ""), "Python interpreter for runtime provisioning")
	workRoot := flag.String("work-root", envDefault("STRIPD_WORK_ROOT", ""), "Parent directory for per-run workspaces (default system temp)")
	modelCacheDir := flag.String("model-cache-dir", envDefault("STRIPD_MODEL_CACHE_DIR", ""), "Model parameter-file directory, created on provision")
	timeoutSec := flag.Int("timeout-sec", 0, "Default per-run wall-clock limit in seconds (0=unlimited)")
	keepWorkspace := flag.Bool("keep-workspace", false, "Preserve per-run workspaces for debugging")
	logLevel := flag.String("log-level", envDefault("STRIPD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	flag.Parse()

	cfg := config.Config{
		Addr:          *addr,
		ToolBin:       *toolBin,
		Python:        *python,
		WorkRoot:      *workRoot,
		ModelCacheDir: *modelCacheDir,
		TimeoutSec:    *timeoutSec,
		KeepWorkspace: *keepWorkspace,
		LogLevel:      *logLevel,
	}
	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			l := zerolog.New(os.Stderr)
			l.Fatal().Err(err).Str("path", *configPath).Msg("load config")
		}
		cfg = mergeConfig(fileCfg, cfg)
	}

	logger := newLogger(cfg.LogLevel)

	svc := extract.NewWithConfig(extract.Config{
		ToolBin:       cfg.ToolBin,
		WorkRoot:      cfg.WorkRoot,
		ModelCacheDir: cfg.ModelCacheDir,
		Timeout:       time.Duration(cfg.TimeoutSec) * time.Second,
		KeepWorkspace: cfg.KeepWorkspace,
		Logger:        logger,
		Resolver: &provision.Resolver{
			Python:        cfg.Python,
			ModelCacheDir: cfg.ModelCacheDir,
		},
	})

	// Base context canceled on shutdown so in-flight jobs unwind.
	baseCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	httpapi.SetLogger(logger)
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc)}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("stripd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutting down")
	stopJobs()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
}

// mergeConfig overlays non-zero flag/env values on top of the file config.
func mergeConfig(file, over config.Config) config.Config {
	out := file
	if over.Addr != "" && over.Addr != ":8080" {
		out.Addr = over.Addr
	}
	if out.Addr == "" {
		out.Addr = ":8080"
	}
	if over.ToolBin != "" {
		out.ToolBin = over.ToolBin
	}
	if over.Python != "" {
		out.Python = over.Python
	}
	if over.WorkRoot != "" {
		out.WorkRoot = over.WorkRoot
	}
	if over.ModelCacheDir != "" {
		out.ModelCacheDir = over.ModelCacheDir
	}
	if over.TimeoutSec != 0 {
		out.TimeoutSec = over.TimeoutSec
	}
	if over.KeepWorkspace {
		out.KeepWorkspace = true
	}
	if over.LogLevel != "" && over.LogLevel != "info" {
		out.LogLevel = over.LogLevel
	}
	if out.LogLevel == "" {
		out.LogLevel = "info"
	}
	return out
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
