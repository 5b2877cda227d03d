package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ardian231/notify-wa/internal/config"
	"github.com/ardian231/notify-wa/internal/connection"
	"github.com/ardian231/notify-wa/internal/delivery"
	"github.com/ardian231/notify-wa/internal/httpapi"
	"github.com/ardian231/notify-wa/internal/inbound"
	"github.com/ardian231/notify-wa/internal/ledger"
	"github.com/ardian231/notify-wa/internal/notify"
	"github.com/ardian231/notify-wa/internal/scheduler"
	"github.com/ardian231/notify-wa/internal/telegram"
	"github.com/ardian231/notify-wa/internal/templates"
	"github.com/ardian231/notify-wa/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the notification daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFile)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// drainerFunc lets the tracker drain an engine that is built after it.
type drainerFunc func(ctx context.Context)

func (f drainerFunc) Drain(ctx context.Context) { f(ctx) }

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	led, err := ledger.Open(ctx, st.ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	responder, rtr, err := buildResponder(ctx, cfg)
	if err != nil {
		return err
	}

	tmpl, err := templates.Load(cfg.Resolve(cfg.TemplatesPath, "templates.yaml"))
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	// Transport, connection tracker and delivery engine
	if cfg.Telegram.Token == "" {
		slog.Warn("telegram token not set, sends will stay buffered")
	}
	tg := telegram.New(telegram.Config{
		Token:     cfg.Telegram.Token,
		ChatIDs:   cfg.Telegram.ChatIDs,
		Heartbeat: cfg.Telegram.Heartbeat.Std(),
	})
	var engine *delivery.Engine
	tracker := connection.NewTracker(tg,
		drainerFunc(func(ctx context.Context) { engine.Drain(ctx) }),
		connection.WithLogoutClassifier(func(err error) bool {
			return errors.Is(err, connection.ErrLoggedOut) || telegram.IsLoggedOut(err)
		}),
	)
	engine = delivery.NewEngine(tg, tracker, led, delivery.Options{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		RetryDelay:  cfg.Delivery.RetryDelay.Std(),
		Failures:    st.failures,
	})

	dispatcher, err := notify.NewDispatcher(engine, tmpl)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	// Inbound chat messages
	queue := inbound.NewQueue(int64(cfg.Inbound.MaxConcurrent))
	queue.SetProcessor(inbound.NewHandler(responder, engine).Process)
	queue.Start(ctx)
	defer queue.Stop()

	tg.OnInbound(func(msg *types.InboundMessage) {
		if err := queue.Enqueue(inbound.NewJob(msg)); err != nil {
			slog.Error("enqueue inbound message failed", "chat_key", msg.ChatKey, "error", err)
		}
	})
	status := func() httpapi.Status {
		return httpapi.Status{
			Connection: tracker.State().String(),
			Ready:      tracker.Ready(),
			LoggedOut:  tracker.LoggedOut(),
			Pending:    engine.Pending(),
			Delivered:  led.Len(),
			Models:     rtr.Snapshot(),
		}
	}
	tg.OnStatus(func() string {
		s := status()
		return fmt.Sprintf("Status: %s\nPending: %d\nDelivered: %d", s.Connection, s.Pending, s.Delivered)
	})

	// Ledger backups
	sched := scheduler.New()
	if st.file != nil {
		job := scheduler.LedgerBackup(st.file, cfg.Resolve("", backupDir), cfg.Ledger.BackupKeep, cfg.Ledger.BackupSchedule)
		if err := sched.Add(job); err != nil {
			return fmt.Errorf("schedule ledger backup: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Telegram.Token != "" {
		// A logout leaves HTTP up and sends buffered until a restart.
		g.Go(func() error {
			return tracker.Supervise(gctx)
		})
	}

	if cfg.HTTP.Enabled {
		srv := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           httpapi.NewServer(responder, dispatcher, status, st.failures).WithLedger(led),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("notifywa started",
		"data_dir", cfg.DataDir,
		"ledger_backend", cfg.Ledger.Backend,
		"delivered", led.Len(),
		"models", cfg.LLM.Models,
		"templates", len(tmpl.Keys()),
		"pid_file", pidPath,
	)

	err = waitForSignal(gctx, cfg, pidPath)
	cancel()
	if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		return errors.Join(err, werr)
	}
	return err
}

// waitForSignal blocks until SIGINT/SIGTERM, a component failure, or a
// SIGHUP that re-executes the binary.
func waitForSignal(ctx context.Context, cfg *config.Config, pidPath string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
						slog.Error("failed to re-write PID file", "error", writeErr)
					}
				}
				continue
			}
			slog.Info("shutting down", "signal", sig)
			return nil
		}
	}
}
