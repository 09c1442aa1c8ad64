package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/Lynx-Eco/lib-ai/pkg/config"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
	"github.com/Lynx-Eco/lib-ai/pkg/version"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config (defaults plus LIBAI_* overrides when empty)")
		prompt      = flag.String("prompt", "", "Run a single prompt and exit")
		setSecret   = flag.String("set-secret", "", "Store an encrypted secret under NAME and exit")
		secretsDir  = flag.String("secrets-dir", config.DefaultSecretsDir(), "Directory holding .libai/secrets.json.enc")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("libai %s\n", version.String())
		os.Exit(0)
	}
	if *setSecret != "" {
		if err := storeSecret(*secretsDir, *setSecret); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to store secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Secret %s saved to %s\n", *setSecret, config.SecretsFilePath(*secretsDir))
		os.Exit(0)
	}

	os.Exit(run(*configPath, *secretsDir, *prompt, *debug))
}

// run contains the main application logic and returns an exit code.
func run(configPath, secretsDir, prompt string, debug bool) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logx.Configure(logx.Options{
		Debug:        debug || cfg.Logging.Debug,
		DebugDomains: cfg.Logging.DebugDomains,
	})

	if err := unlockSecrets(secretsDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to handle secrets: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promReg := prometheus.NewRegistry()
	a, err := newApp(cfg, appOptions{Out: os.Stdout, Registerer: promReg})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer a.Close(ctx)
	a.Start(ctx)

	if cfg.Metrics.Enabled {
		stop := serveMetrics(cfg.Metrics.ListenAddr, promReg)
		defer stop()
	}

	config.LogInfo("🚀 libai %s using %s/%s", version.Version, cfg.Provider.Name, cfg.Provider.Model)

	switch {
	case prompt != "":
		err = a.Ask(ctx, prompt)
	case term.IsTerminal(int(os.Stdin.Fd())):
		err = a.REPL(ctx, os.Stdin)
	default:
		var data []byte
		if data, err = io.ReadAll(os.Stdin); err == nil {
			err = a.Ask(ctx, string(data))
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "libai failed: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.LoadConfig(path)
}

// serveMetrics exposes reg on addr/metrics until the returned stop function runs.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.NewLogger("metrics").Error("Metrics server failed: %v", err)
		}
	}()
	config.LogInfo("📊 Serving metrics on %s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
