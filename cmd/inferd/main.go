package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/backend"
	"inferd/internal/config"
	"inferd/internal/gateway"
	"inferd/internal/httpapi"
	"inferd/internal/registry"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath  string
		envFile     string
		corsOrigins string
		cfg         config.Config
	)

	root := &cobra.Command{
		Use:           "inferd",
		Short:         "Local LLM inference gateway: scheduling, model residency and token streaming",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env first so env-derived defaults below see it
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
			} else {
				_ = godotenv.Load()
			}

			if configPath == "" {
				configPath = os.Getenv("INFERD_CONFIG")
			}
			if configPath != "" {
				fileCfg, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				// flags beat file; file beats built-in defaults
				mergeConfig(&cfg, fileCfg, cmd)
			}
			applyEnv(&cfg)
			return serve(cfg, corsOrigins)
		},
	}

	f := root.Flags()
	f.StringVar(&configPath, "config", "", "Config file (.yaml/.json/.toml); INFERD_CONFIG also works")
	f.StringVar(&envFile, "env-file", "", "Optional .env file to load before reading the environment")
	f.StringVar(&cfg.Addr, "addr", ":8080", "HTTP listen address")
	f.StringVar(&cfg.ModelsDir, "models-dir", "~/models/llm", "Directory to scan for *.gguf model files")
	f.StringVar(&cfg.DefaultModel, "default-model", "", "Model used when a request omits one")
	f.IntVar(&cfg.Sessions, "sessions", 1, "Concurrent backend sessions")
	f.IntVar(&cfg.MaxOutstanding, "max-outstanding", 64, "Admitted-but-unfinished request cap (429 beyond it)")
	f.IntVar(&cfg.MaxLoadedModels, "max-loaded-models", 0, "Resident model cap across sessions (0 = unlimited)")
	f.IntVar(&cfg.RequestTimeoutSec, "request-timeout", 300, "End-to-end request timeout in seconds")
	f.IntVar(&cfg.LoadTimeoutSec, "load-timeout", 120, "Model load/unload timeout in seconds")
	f.IntVar(&cfg.FirstTokenTimeoutSec, "first-token-timeout", 0, "First streamed token timeout in seconds (0 = disabled)")
	f.StringVar(&cfg.BackendBin, "backend-bin", "llama-server", "Backend runtime server binary")
	f.StringSliceVar(&cfg.BackendArgs, "backend-arg", nil, "Extra args passed to the backend binary (repeatable)")
	f.StringVar(&cfg.BackendHost, "backend-host", "127.0.0.1", "Host the backend binds on")
	f.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug|info|warn|error")
	f.StringVar(&corsOrigins, "cors-origins", "", "Comma-separated CORS origins; empty disables CORS")

	return root
}

// mergeConfig overlays file values onto cfg for every flag the user did not
// set explicitly.
func mergeConfig(cfg *config.Config, file config.Config, cmd *cobra.Command) {
	changed := cmd.Flags().Changed
	if !changed("addr") && file.Addr != "" {
		cfg.Addr = file.Addr
	}
	if !changed("models-dir") && file.ModelsDir != "" {
		cfg.ModelsDir = file.ModelsDir
	}
	if !changed("default-model") && file.DefaultModel != "" {
		cfg.DefaultModel = file.DefaultModel
	}
	if !changed("sessions") && file.Sessions > 0 {
		cfg.Sessions = file.Sessions
	}
	if !changed("max-outstanding") && file.MaxOutstanding > 0 {
		cfg.MaxOutstanding = file.MaxOutstanding
	}
	if !changed("max-loaded-models") && file.MaxLoadedModels > 0 {
		cfg.MaxLoadedModels = file.MaxLoadedModels
	}
	if !changed("request-timeout") && file.RequestTimeoutSec > 0 {
		cfg.RequestTimeoutSec = file.RequestTimeoutSec
	}
	if !changed("load-timeout") && file.LoadTimeoutSec > 0 {
		cfg.LoadTimeoutSec = file.LoadTimeoutSec
	}
	if !changed("first-token-timeout") && file.FirstTokenTimeoutSec > 0 {
		cfg.FirstTokenTimeoutSec = file.FirstTokenTimeoutSec
	}
	if !changed("backend-bin") && file.BackendBin != "" {
		cfg.BackendBin = file.BackendBin
	}
	if !changed("backend-arg") && len(file.BackendArgs) > 0 {
		cfg.BackendArgs = file.BackendArgs
	}
	if !changed("backend-host") && file.BackendHost != "" {
		cfg.BackendHost = file.BackendHost
	}
	if !changed("log-level") && file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
}

// applyEnv fills the few settings that are commonly set through the
// environment in deployments.
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("INFERD_ADDR"); v != "" && cfg.Addr == ":8080" {
		cfg.Addr = v
	}
	if v := os.Getenv("INFERD_MODELS_DIR"); v != "" && cfg.ModelsDir == "~/models/llm" {
		cfg.ModelsDir = v
	}
	if v := os.Getenv("INFERD_DEFAULT_MODEL"); v != "" && cfg.DefaultModel == "" {
		cfg.DefaultModel = v
	}
	if v := os.Getenv("INFERD_BACKEND_BIN"); v != "" && cfg.BackendBin == "llama-server" {
		cfg.BackendBin = v
	}
}

func serve(cfg config.Config, corsOrigins string) error {
	log := newLogger(cfg.LogLevel)

	models, err := registry.ScanDir(cfg.ModelsDir)
	if err != nil {
		return fmt.Errorf("scan models dir: %w", err)
	}
	if len(models) == 0 {
		log.Warn().Str("dir", cfg.ModelsDir).Msg("no *.gguf models found")
	}
	reg := registry.New(models)

	factory := backend.NewProcess(backend.ProcessConfig{
		Bin:       cfg.BackendBin,
		ExtraArgs: cfg.BackendArgs,
		Host:      cfg.BackendHost,
	}, log)

	gw := gateway.NewWithConfig(gateway.Config{
		Sessions:          cfg.Sessions,
		MaxOutstanding:    cfg.MaxOutstanding,
		MaxLoadedModels:   cfg.MaxLoadedModels,
		RequestTimeout:    time.Duration(cfg.RequestTimeoutSec) * time.Second,
		LoadTimeout:       time.Duration(cfg.LoadTimeoutSec) * time.Second,
		FirstTokenTimeout: time.Duration(cfg.FirstTokenTimeoutSec) * time.Second,
		DefaultModel:      cfg.DefaultModel,
	}, reg, factory, log)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	gw.Start(runCtx)

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(runCtx)
	if corsOrigins != "" {
		httpapi.SetCORSOptions(splitCSV(corsOrigins))
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(gw)}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Int("models", len(models)).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		gw.Shutdown()
		return err
	case <-runCtx.Done():
	}

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	gw.Shutdown()
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
