package api

import (
    "context"
    "net/http"
    "time"

    "wasteroute/internal/buildinfo"
)

// DebugJSON reports build info and the non-secret parts of the configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    c := s.Config
    writeJSON(w, http.StatusOK, map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "PORT":                   c.Port,
            "AUTH_MODE":              c.AuthMode,
            "SESSION_TTL":            c.SessionTTL.String(),
            "ALLOW_ORIGINS":          c.AllowOrigins,
            "RATE_RPS":               c.RateRPS,
            "RATE_BURST":             c.RateBurst,
            "WEBHOOK_MAX_ATTEMPTS":   c.WebhookMaxAttempts,
            "AUTOGEN_CRON":           c.AutogenCron,
            "AUTOGEN_FILL_THRESHOLD": c.AutogenFillThreshold,
            "HOUSEKEEPING_CRON":      c.HousekeepingCron,
            "HAS_DATABASE_URL":       c.DatabaseURL != "",
            "HAS_REDIS_URL":          c.RedisURL != "",
        },
    })
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil { writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path); return }
    writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
