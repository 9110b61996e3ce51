package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ppiankov/boorufind/internal/config"
	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/fetch"
	"github.com/ppiankov/boorufind/internal/filter"
	"github.com/ppiankov/boorufind/internal/finder"
	"github.com/ppiankov/boorufind/internal/metrics"
	"github.com/ppiankov/boorufind/internal/render"
	"github.com/ppiankov/boorufind/internal/store"
)

// app holds what a command needs, built from the config directory.
type app struct {
	cfg      *config.Config
	finder   *finder.Finder
	pipeline *fetch.Pipeline
	store    *store.Store
	rules    filter.Rules
	log      *slog.Logger

	metricsSrv *http.Server
}

func openApp() (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rules, err := cfg.Filter.Rules()
	if err != nil {
		return nil, fmt.Errorf("filter rules: %w", err)
	}

	log := slog.Default()

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pipe := fetch.New(fetch.Config{Index: db, Logger: log})
	f := finder.New(finder.Options{Logger: log, Retrievers: pipe})

	ctors, err := cfg.Constructors()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := f.AddDefault(ctors); err != nil {
		_ = db.Close()
		return nil, err
	}
	for client, aliases := range cfg.Aliases {
		for tag, alias := range aliases {
			if err := f.SetTagAlias(client, tag, alias); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("alias %s: %w", client, err)
			}
		}
	}

	a := &app{cfg: cfg, finder: f, pipeline: pipe, store: db, rules: rules, log: log}
	if cfg.Metrics.Listen != "" {
		a.serveMetrics(cfg.Metrics.Listen)
	}
	log.Debug("adapters registered", "names", f.Names())
	return a, nil
}

func (a *app) serveMetrics(addr string) {
	metrics.Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.log.Info("serving metrics", "addr", addr)
}

func (a *app) Close() error {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(ctx)
		cancel()
	}
	return a.store.Close()
}

// output renders in with the named format to stdout.
func output(format string, in render.Input) error {
	f, err := render.New(format, !noColor && isTerminal(os.Stdout))
	if err != nil {
		return err
	}
	return f.Format(os.Stdout, in)
}

// resultErr turns a fan-out error into the command's exit error. Partial
// failures are shown with the results and do not fail the command.
func resultErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrPartial) && !errors.Is(err, errs.ErrAllFailed) {
		return nil
	}
	return err
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
