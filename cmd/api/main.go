package main

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    log "github.com/sirupsen/logrus"

    "wasteroute/internal/api"
    "wasteroute/internal/buildinfo"
    "wasteroute/internal/config"
    "wasteroute/internal/logger"
    "wasteroute/internal/scheduler"
)

// deliveryRetention is how long finished webhook deliveries stay listable.
const deliveryRetention = 7 * 24 * time.Hour

func main() {
    cfg, err := config.Load()
    closer := logger.Setup(cfg.LogLevel, cfg.LogFile)
    defer func() { _ = closer.Close() }()
    if err != nil { log.WithError(err).Fatal("invalid configuration") }

    srvDeps, err := api.NewServer(cfg)
    if err != nil { log.WithError(err).Fatal("failed to init server") }
    defer func() {
        if err := srvDeps.Close(); err != nil { log.WithError(err).Warn("close failed") }
    }()
    if err := srvDeps.Bootstrap(context.Background()); err != nil { log.WithError(err).Fatal("bootstrap failed") }

    worker := srvDeps.NewWebhookWorker()
    worker.Start()

    sched, err := scheduler.New(
        scheduler.AutogenJob(cfg.AutogenCron, srvDeps),
        scheduler.HousekeepingJob(cfg.HousekeepingCron, srvDeps.Store, deliveryRetention, nil),
    )
    if err != nil { log.WithError(err).Fatal("invalid schedule") }
    sched.Start()

    srv := &http.Server{
        Addr:              cfg.Addr(),
        Handler:           srvDeps.Handler(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()
    go func() {
        log.WithFields(log.Fields{"addr": srv.Addr, "version": buildinfo.Version}).Info("API listening")
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.WithError(err).Error("server error")
            stop()
        }
    }()
    <-ctx.Done()

    log.Info("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    if err := srv.Shutdown(shutdownCtx); err != nil { log.WithError(err).Warn("http shutdown") }
    worker.Close()
    sched.Stop(shutdownCtx)
}
