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
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/connreg/config"
	"github.com/timzifer/connreg/processor"
)

const redacted = "********"

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file or directory")
	healthcheck := flag.Bool("healthcheck", false, "Resolve every connection once and exit")
	configCheck := flag.Bool("config-check", false, "Validate configuration, list connections and exit")
	metricsListen := flag.String("metrics-listen", "", "Serve Prometheus metrics on this address (overrides telemetry.listen)")
	healthTimeout := flag.Duration("healthcheck-timeout", 30*time.Second, "Overall deadline for -healthcheck")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		os.Exit(executeConfigCheck(os.Stdout, cfg))
	}

	if *healthcheck {
		if err := executeHealthCheck(cfg, *healthTimeout); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	proc, err := processor.New(ctx, processor.WithConfigPath(*cfgPath, nil))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start processor")
	}
	defer func() { _ = proc.Close() }()

	listen := strings.TrimSpace(*metricsListen)
	if listen == "" && cfg.Telemetry.Enabled {
		listen = strings.TrimSpace(cfg.Telemetry.Listen)
	}
	if listen != "" {
		srv := serveMetrics(listen)
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info().Int("connections", len(proc.Registry().IDs())).Msg("connection registry ready")
	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("processor stopped with error")
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("listen", addr).Msg("metrics endpoint stopped")
		}
	}()
	log.Info().Str("listen", addr).Msg("serving metrics")
	return srv
}

func executeHealthCheck(cfg *config.Config, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	proc, err := processor.New(ctx,
		processor.WithConfig(cfg),
		processor.WithLogger(zerolog.New(os.Stderr).With().Timestamp().Logger()),
	)
	if err != nil {
		return err
	}
	defer func() { _ = proc.Close() }()
	return proc.Registry().Warmup(ctx)
}

func executeConfigCheck(w io.Writer, cfg *config.Config) int {
	if len(cfg.Connections) == 0 {
		fmt.Fprintln(w, "No connections configured.")
		return 0
	}

	conns := append([]config.ConnectionConfig(nil), cfg.Connections...)
	sort.SliceStable(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })

	for _, conn := range conns {
		fmt.Fprintf(w, "Connection %q\n", conn.ID)
		if module := describeModule(conn.Source); module != "" {
			fmt.Fprintf(w, "  Module: %s\n", module)
		}
		fmt.Fprintf(w, "  Address: %s\n", conn.Address)
		if conn.Username != "" {
			fmt.Fprintf(w, "  Username: %s\n", conn.Username)
		}
		switch {
		case conn.PasswordEnv != "":
			fmt.Fprintf(w, "  Password: %s (from $%s)\n", redacted, conn.PasswordEnv)
		case conn.Password != "":
			fmt.Fprintf(w, "  Password: %s\n", redacted)
		}
		if len(conn.Options) > 0 {
			keys := make([]string, 0, len(conn.Options))
			for key := range conn.Options {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			fmt.Fprintln(w, "  Options:")
			for _, key := range keys {
				fmt.Fprintf(w, "    %s: %v\n", key, conn.Options[key])
			}
		}
		if conn.Disable {
			fmt.Fprintln(w, "  Status: disabled")
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "Configuration check completed successfully.")
	return 0
}

func describeModule(ref config.ModuleReference) string {
	name := strings.TrimSpace(ref.Name)
	file := strings.TrimSpace(ref.File)
	desc := strings.TrimSpace(ref.Description)

	label := ""
	switch {
	case name != "" && file != "":
		label = fmt.Sprintf("%s (%s)", name, file)
	case name != "":
		label = name
	case file != "":
		label = file
	}
	if desc != "" {
		if label != "" {
			return label + ": " + desc
		}
		return desc
	}
	return label
}
