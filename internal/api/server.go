package api

import (
    "context"
    "errors"
    "io"
    "time"

    log "github.com/sirupsen/logrus"

    "wasteroute/internal/auth"
    "wasteroute/internal/config"
    "wasteroute/internal/lifecycle"
    "wasteroute/internal/model"
    "wasteroute/internal/store"
    "wasteroute/internal/webhooks"
)

type Server struct {
    Store    store.Store
    Pub      *webhooks.Publisher
    Sessions *auth.Sessions
    Broker   EventBroker
    Config   config.Config
    Now      func() time.Time
}

// NewServer creates a Server. If DatabaseURL is empty, uses in-memory store;
// if RedisURL is empty or unreachable, events stay in process.
func NewServer(cfg config.Config) (*Server, error) {
    var s store.Store
    if cfg.DatabaseURL == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil { return nil, err }
        if cfg.DBMigrate {
            ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
            err := sp.Migrate(ctx)
            cancel()
            if err != nil {
                _ = sp.Close()
                return nil, err
            }
        }
        s = sp
    }
    var broker EventBroker = NewBroker()
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
            broker = rb
        } else {
            log.WithError(err).Warn("redis unavailable, using in-process event broker")
        }
    }
    return NewServerWithStore(cfg, s, broker), nil
}

// NewServerWithStore wires a Server around an existing store and broker.
func NewServerWithStore(cfg config.Config, s store.Store, broker EventBroker) *Server {
    return &Server{
        Store:    s,
        Pub:      webhooks.NewPublisher(s),
        Sessions: auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL),
        Broker:   broker,
        Config:   cfg,
        Now:      time.Now,
    }
}

// Bootstrap creates the configured admin account on first start.
func (s *Server) Bootstrap(ctx context.Context) error {
    if s.Config.AdminLogin == "" || s.Config.AdminPassword == "" { return nil }
    _, err := s.Store.GetUserByLogin(ctx, s.Config.AdminLogin)
    if err == nil { return nil }
    if !errors.Is(err, lifecycle.ErrNotFound) { return err }
    hash, err := auth.HashPassword(s.Config.AdminPassword)
    if err != nil { return err }
    u, err := s.Store.CreateUser(ctx, model.RoleAdmin, model.UserInput{Login: s.Config.AdminLogin, Name: "Administrator"}, hash)
    if err != nil { return err }
    log.WithFields(log.Fields{"login": u.Login, "id": u.ID}).Info("bootstrap admin created")
    return nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Config.WebhookMaxAttempts)
}

// Close releases the broker and store connections.
func (s *Server) Close() error {
    var errs []error
    if c, ok := s.Broker.(io.Closer); ok { errs = append(errs, c.Close()) }
    if c, ok := s.Store.(io.Closer); ok { errs = append(errs, c.Close()) }
    return errors.Join(errs...)
}
