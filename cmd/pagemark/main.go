// Command pagemark runs the EG0008W augmentation.
//
// Usage:
//
//	pagemark -config pagemark.yaml                        # augment pages from YAML config
//	pagemark -url https://host/app/EG0008W                # one live page with defaults
//	pagemark -render page.html -location https://host/... # augment a saved page offline
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/pagemark"
	"github.com/hazyhaar/pagemark/internal/status"
	"github.com/hazyhaar/pagemark/page"
)

func main() {
	configPath := flag.String("config", "", "path to pagemark.yaml config file")
	singleURL := flag.String("url", "", "augment a single URL (stdout sink)")
	renderPath := flag.String("render", "", "augment a saved HTML file and print it")
	location := flag.String("location", "", "page URL assumed for -render")
	listen := flag.String("listen", "", "status endpoint address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case *renderPath != "":
		err = runRender(ctx, logger, *renderPath, *location)
	case *singleURL != "":
		cfg := pagemark.DefaultConfig()
		cfg.Pages = []pagemark.PageConfig{{ID: "page-1", URL: *singleURL}}
		err = runService(ctx, logger, cfg, *listen)
	case *configPath != "":
		var cfg *pagemark.Config
		if cfg, err = pagemark.LoadConfigFile(*configPath); err == nil {
			err = runService(ctx, logger, cfg, *listen)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: pagemark -config <file> | -url <url> | -render <file> -location <url>")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("pagemark: fatal", "error", err)
		os.Exit(1)
	}
}

func runService(ctx context.Context, logger *slog.Logger, cfg *pagemark.Config, listen string) error {
	sinks, err := pagemark.OpenSinks(cfg.Sinks, logger)
	if err != nil {
		return err
	}
	svc := pagemark.NewService(cfg, logger, sinks...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer svc.Stop()

	if listen == "" {
		listen = cfg.Listen
	}
	if listen != "" {
		srv := &http.Server{
			Addr:              listen,
			Handler:           status.New(svc, logger).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("pagemark: status endpoint", "addr", listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("pagemark: status endpoint", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	<-ctx.Done()
	return nil
}

// runRender augments a saved page on the in-memory host and writes the
// result to stdout.
func runRender(ctx context.Context, logger *slog.Logger, path, location string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	defer f.Close()

	doc, err := page.Parse(f, location, page.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go doc.Run(ctx)

	a := pagemark.New(pagemark.Feature{PollAttempts: 1}, pagemark.WithLogger(logger))
	if err := a.Attach(ctx, doc); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	// The first activation check is already queued; one turn behind it the
	// page is augmented, a second lets the mutation watcher settle.
	for range 2 {
		if err := doc.Call(ctx, func() {}); err != nil {
			a.Close()
			return fmt.Errorf("render: %w", err)
		}
	}
	if !a.Activated() {
		logger.Warn("pagemark: location does not match the route, page left as is", "location", location)
	}
	a.Close()

	var werr error
	if err := doc.Call(ctx, func() { werr = doc.Render(os.Stdout) }); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return werr
}
