package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaos-io/bgremover/config"
	"github.com/chaos-io/bgremover/finalize"
	"github.com/chaos-io/bgremover/pipeline"
	"github.com/chaos-io/bgremover/rembg"
	"github.com/chaos-io/bgremover/server"
	nhttp "github.com/chaos-io/bgremover/util/http"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	port := flag.Int("port", 0, "override server.port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	setupLogger(cfg.Log)

	if err := os.MkdirAll(cfg.Outputs.Dir, os.ModePerm); err != nil {
		log.Fatal("Failed to create outputs dir:", err)
	}

	remover, closeRemover := newRemover(cfg.Model)
	defer closeRemover()

	p := pipeline.New(remover, finalize.NewFinalizer(cfg.Outputs.Dir), pipeline.WithPreviewSize(cfg.Preview.MaxSize))

	if cfg.Outputs.Retention > 0 {
		janitor := server.NewJanitor(cfg.Outputs.Dir, cfg.Outputs.Retention)
		if err := janitor.Start(cfg.Outputs.CleanupSchedule); err != nil {
			log.Fatal("Failed to start janitor:", err)
		}
		defer janitor.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(p, server.Options{
		Addr:          cfg.Addr(),
		Mode:          cfg.Server.Mode,
		OutputsDir:    cfg.Outputs.Dir,
		DefaultFormat: cfg.Server.DefaultFormat,
		MaxUploadMB:   cfg.Server.MaxUploadMB,
	})
	if err := srv.Run(ctx); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// newRemover builds the process-wide inference session. It lives until main
// returns.
func newRemover(cfg config.ModelConfig) (rembg.Remover, func()) {
	if cfg.Backend == "none" {
		slog.Warn("model backend disabled, images pass through unchanged")
		return rembg.NewPassthrough(), func() {}
	}

	session := rembg.NewSession(cfg.URL,
		rembg.WithModel(cfg.Name),
		rembg.WithClient(nhttp.NewHTTPClientWithTimeout(cfg.Timeout)),
		rembg.WithMatting(rembg.Matting{
			Enabled:             cfg.Matting.Enabled,
			ForegroundThreshold: cfg.Matting.ForegroundThreshold,
			BackgroundThreshold: cfg.Matting.BackgroundThreshold,
			ErodeSize:           cfg.Matting.ErodeSize,
		}),
	)
	slog.Info("inference session ready", "url", cfg.URL, "model", session.Model(), "matting", cfg.Matting.Enabled)
	return session, func() {
		_ = session.Close()
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
