// Command controlroom runs one operator window: it books the operator on,
// keeps their presence alive, follows shared state and executes console
// commands against the dispatch service.
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

	"controlroom/internal/archive"
	"controlroom/internal/auth"
	"controlroom/internal/config"
	"controlroom/internal/dispatch"
	"controlroom/internal/logger"
	"controlroom/internal/metrics"
	"controlroom/internal/notifier"
	"controlroom/internal/reconcile"
	"controlroom/internal/storage"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "controlroom: %v\n", err)
		stop()
		exitFunc(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("controlroom", flag.ContinueOnError)
	fs.SetOutput(errOut)
	name := fs.String("operator", os.Getenv("CONTROLROOM_OPERATOR"), "operator display name")
	id := fs.String("id", os.Getenv("CONTROLROOM_OPERATOR_ID"), "operator collar or staff id")
	code := fs.String("code", "", "shared access code")
	envFile := fs.String("env", ".env", "dotenv file loaded before configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Configure(cfg.LogLevel, cfg.LogFormat, errOut)
	prom := metrics.NewPrometheus()

	adapter, err := storage.Open(ctx, cfg, log, prom)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			log.WithError(err).Warn("close storage")
		}
	}()
	if adapter.FellBack() {
		fmt.Fprintf(out, "WARNING: remote storage unavailable (%v); working locally\n", adapter.FallbackReason())
	}

	archiveStore, err := archive.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	var archiver *archive.Archiver
	if archiveStore != nil {
		archiver = archive.NewArchiver(archiveStore)
	}

	var sink notifier.Sink = notifier.Nop{}
	if cfg.WebhookURL != "" {
		hook := notifier.NewWebhook(cfg.WebhookURL, notifier.WebhookOptions{
			Client:     &http.Client{Timeout: cfg.WebhookTimeout},
			MaxRetries: cfg.WebhookRetries,
			Logger:     log,
			Metrics:    prom,
		})
		defer hook.Close()
		sink = hook
	}

	svc := dispatch.NewService(adapter.Store(), dispatch.Options{
		Notifier: sink,
		Archiver: archiver,
		Gate:     auth.NewGate(cfg.AccessCode),
		Logger:   log,
		Metrics:  prom,
	})
	op, err := svc.BookOn(ctx, *code, *name, *id)
	if err != nil {
		return fmt.Errorf("book on: %w", err)
	}
	defer func() {
		if err := svc.BookOff(context.WithoutCancel(ctx), op); err != nil {
			log.WithError(err).Warn("book off")
		}
	}()

	con := newConsole(svc, sink, op, out)
	con.engine = reconcile.New(adapter.Store(), adapter.Feed(), con, reconcile.Options{
		Logger:  log,
		Metrics: prom,
		Recency: cfg.OperatorRecency,
		OnApplied: func(v reconcile.View) {
			svc.SyncCounter(v.Snapshot.NextCADNumber)
		},
	})
	fmt.Fprintf(out, "%s booked on (%s storage); type help for commands\n", op.Name, adapter.Backend())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: prom.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(gctx), 2*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error { return con.engine.Run(gctx) })
	g.Go(func() error {
		svc.RunHeartbeat(gctx, op, cfg.HeartbeatInterval)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return con.Serve(gctx, in)
	})
	return g.Wait()
}
