package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/gleaner/internal/credential"
	"github.com/FranksOps/gleaner/internal/fingerprint"
	"github.com/FranksOps/gleaner/internal/metrics"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/internal/storage/csvbackend"
	"github.com/FranksOps/gleaner/internal/storage/jsonbackend"
	"github.com/FranksOps/gleaner/internal/storage/postgres"
	"github.com/FranksOps/gleaner/internal/storage/sqlite"
	"github.com/FranksOps/gleaner/internal/storage/xlsxbackend"
	"github.com/FranksOps/gleaner/internal/transport"
	"github.com/FranksOps/gleaner/internal/workflow"
	"github.com/FranksOps/gleaner/pkg/proxy"
	"github.com/FranksOps/gleaner/pkg/useragent"
	"golang.org/x/sync/errgroup"
)

// app is everything one collect command needs, built from configuration.
type app struct {
	logger   *slog.Logger
	client   *transport.Client
	creds    credential.Set
	sinks    storage.Multi
	workbook *xlsxbackend.Sink
	proxies  *proxy.Pool
	closers  []func() error
}

func newApp(ctx context.Context) (*app, error) {
	a := &app{logger: slog.Default()}

	if path := v.GetString("credentials"); path != "" {
		creds, err := credential.Load(path)
		if err != nil {
			return nil, err
		}
		a.creds = creds
		a.logger.Debug("credentials loaded", "headers", creds.Redacted())
	}

	profile, err := fingerprint.ParseProfile(v.GetString("fingerprint"))
	if err != nil {
		return nil, err
	}

	rotation, err := useragent.ParseRotation(v.GetString("ua-rotation"))
	if err != nil {
		return nil, err
	}

	if path := v.GetString("proxy-file"); path != "" {
		a.proxies = proxy.NewPool(proxy.Config{})
		if err := a.proxies.LoadFile(path); err != nil {
			return nil, err
		}
		a.logger.Info("proxies loaded", "count", a.proxies.Len())
	}

	a.client, err = transport.New(transport.Config{
		Timeout:      v.GetDuration("timeout"),
		UseCookieJar: true,
		ProxyPool:    a.proxies,
		Identities:   useragent.NewPool(useragent.FromUserAgents(v.GetStringSlice("user-agent"))),
		Rotation:     rotation,
		Fingerprint:  profile,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, err
	}

	outDir := v.GetString("out-dir")
	for _, format := range v.GetStringSlice("format") {
		switch format {
		case "xlsx":
			s, err := xlsxbackend.New(outDir, a.logger)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.workbook = s
			a.sinks = append(a.sinks, s)
		case "csv":
			s, err := csvbackend.New(outDir)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.sinks = append(a.sinks, s)
		default:
			a.Close()
			return nil, fmt.Errorf("unknown export format %q", format)
		}
	}

	archive, err := openArchive(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if archive != nil {
		a.sinks = append(a.sinks, archive)
	}

	return a, nil
}

// openArchive opens the configured run archive, or returns nil when none is
// configured.
func openArchive(ctx context.Context) (storage.Backend, error) {
	dsn := v.GetString("archive-dsn")
	switch driver := v.GetString("archive"); driver {
	case "":
		return nil, nil
	case "sqlite":
		return sqlite.New(dsn)
	case "postgres":
		return postgres.New(ctx, dsn)
	case "json":
		return jsonbackend.New(dsn)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", driver)
	}
}

func (a *app) runner(extra workflow.Config) *workflow.Runner {
	extra.Doer = a.client
	extra.Credentials = a.creds
	extra.Logger = a.logger
	if extra.Progress == nil {
		extra.Progress = func(done, total int) {
			a.logger.Info("progress", "done", done, "total", total)
		}
	}
	return workflow.New(extra)
}

// run executes fn next to the optional metrics server and saves its output.
// The output is saved even when ctx is cancelled mid-run, so an interrupted
// collection still leaves its partial rows behind.
func (a *app) run(ctx context.Context, fn func(ctx context.Context) (*workflow.Output, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if port := v.GetInt("metrics-port"); port > 0 {
		addr := fmt.Sprintf(":%d", port)
		a.logger.Info("serving metrics", "addr", addr)
		g.Go(func() error { return metrics.Serve(gctx, addr) })
	}

	g.Go(func() error {
		defer cancel()
		start := time.Now()
		out, err := fn(gctx)
		if err != nil {
			return err
		}

		e := out.Export()
		if err := a.sinks.Save(context.WithoutCancel(gctx), e); err != nil {
			return fmt.Errorf("save export: %w", err)
		}
		a.logger.Info("run finished",
			"source", e.Source,
			"query", e.Query,
			"rows", len(e.Rows),
			"calls", e.Calls,
			"ended_due_to_error", e.EndedDueToError,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		if a.workbook != nil {
			fmt.Println(a.workbook.PathFor(e))
		}
		return nil
	})

	err := g.Wait()
	a.logProxyHealth()
	return err
}

// logProxyHealth reports how each proxy fared during the run.
func (a *app) logProxyHealth() {
	if a.proxies == nil {
		return
	}
	for _, st := range a.proxies.Snapshot() {
		attrs := []any{"proxy", st.URL, "successes", st.Successes, "failures", st.Failures}
		if !st.DisabledUntil.IsZero() {
			attrs = append(attrs, "disabled_until", st.DisabledUntil.Format(time.RFC3339))
		}
		a.logger.Info("proxy health", attrs...)
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	errs = append(errs, a.sinks.Close())
	return errors.Join(errs...)
}
