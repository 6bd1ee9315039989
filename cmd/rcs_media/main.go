// Команда rcs_media: разбор SDP предложений RCS и проверка RTP
// конвейера через локальный loopback.
//
//	rcs_media [-config rcs_media.yaml] [-metrics :9100] probe -sdp offer.sdp -kind video
//	rcs_media loopback -codec PCMU -frames 50
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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/rcs_media/pkg/config"
	"github.com/arzzra/rcs_media/pkg/rtp"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "rcs_media:", err)
		os.Exit(1)
	}
}

// app общие зависимости подкоманд
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *rtp.Metrics
	out      io.Writer
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("rcs_media", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "путь к YAML конфигурации")
	metricsAddr := fs.String("metrics", "", "адрес HTTP сервера Prometheus метрик")
	showVersion := fs.Bool("version", false, "показать версию")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: rcs_media [flags] probe|loopback [command flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintln(stdout, version)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("не указана команда")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}
	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metricsConfig := rtp.DefaultMetricsConfig()
	metricsConfig.Namespace = cfg.Metrics.Namespace

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  rtp.NewMetrics(reg, metricsConfig),
		out:      stdout,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	command, commandArgs := fs.Arg(0), fs.Args()[1:]
	var cmd func(context.Context, []string) error
	switch command {
	case "probe":
		cmd = a.probe
	case "loopback":
		cmd = a.loopback
	default:
		fs.Usage()
		return fmt.Errorf("неизвестная команда %q", command)
	}

	if cfg.Metrics.Listen == "" {
		return cmd(ctx, commandArgs)
	}

	g, ctx := errgroup.WithContext(ctx)
	ctx, stop := context.WithCancel(ctx)
	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           a.metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("сервер метрик: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		defer stop()
		return cmd(ctx, commandArgs)
	})
	return g.Wait()
}

func (a *app) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return mux
}
