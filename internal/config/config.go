// Package config loads service settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
    "fmt"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
    log "github.com/sirupsen/logrus"
    yaml "gopkg.in/yaml.v3"
)

type Config struct {
    Port        string `yaml:"port"`
    DatabaseURL string `yaml:"databaseUrl"`
    DBMigrate   bool   `yaml:"dbMigrate"`
    RedisURL    string `yaml:"redisUrl"`

    AuthMode      string        `yaml:"authMode"`
    SessionSecret string        `yaml:"sessionSecret"`
    SessionTTL    time.Duration `yaml:"sessionTtl"`
    AdminLogin    string        `yaml:"adminLogin"`
    AdminPassword string        `yaml:"adminPassword"`

    LogLevel string `yaml:"logLevel"`
    LogFile  string `yaml:"logFile"`

    RateRPS      float64  `yaml:"rateRps"`
    RateBurst    int      `yaml:"rateBurst"`
    AllowOrigins []string `yaml:"allowOrigins"`

    WebhookMaxAttempts int `yaml:"webhookMaxAttempts"`

    AutogenCron          string  `yaml:"autogenCron"`
    AutogenFillThreshold float64 `yaml:"autogenFillThreshold"`
    HousekeepingCron     string  `yaml:"housekeepingCron"`
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() Config {
    return Config{
        Port:                 "8080",
        DBMigrate:            true,
        AuthMode:             "dev",
        SessionTTL:           12 * time.Hour,
        LogLevel:             "info",
        RateRPS:              10,
        RateBurst:            20,
        WebhookMaxAttempts:   8,
        AutogenFillThreshold: 0.7,
        HousekeepingCron:     "@hourly",
    }
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the
// environment.
func Load() (Config, error) {
    if err := godotenv.Load(); err != nil {
        log.Debug("No .env file found, relying on environment variables")
    }
    cfg := Defaults()
    if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
        if err := cfg.loadFile(path); err != nil { return cfg, err }
    }
    if err := cfg.applyEnv(os.LookupEnv); err != nil { return cfg, err }
    return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
    b, err := os.ReadFile(path)
    if err != nil { return fmt.Errorf("read config file: %w", err) }
    if err := yaml.Unmarshal(b, c); err != nil { return fmt.Errorf("parse config file %s: %w", path, err) }
    return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
    str := func(key string, dst *string) {
        if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" { *dst = strings.TrimSpace(v) }
    }
    var errs []string
    num := func(key string, set func(string) error) {
        if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
            if err := set(strings.TrimSpace(v)); err != nil { errs = append(errs, fmt.Sprintf("%s: %v", key, err)) }
        }
    }
    str("PORT", &c.Port)
    str("DATABASE_URL", &c.DatabaseURL)
    str("REDIS_URL", &c.RedisURL)
    str("AUTH_MODE", &c.AuthMode)
    str("SESSION_SECRET", &c.SessionSecret)
    str("ADMIN_LOGIN", &c.AdminLogin)
    str("ADMIN_PASSWORD", &c.AdminPassword)
    str("LOG_LEVEL", &c.LogLevel)
    str("LOG_FILE", &c.LogFile)
    str("AUTOGEN_CRON", &c.AutogenCron)
    str("HOUSEKEEPING_CRON", &c.HousekeepingCron)
    c.AuthMode = strings.ToLower(c.AuthMode)

    num("DB_MIGRATE", func(v string) (err error) { c.DBMigrate, err = strconv.ParseBool(v); return })
    num("SESSION_TTL", func(v string) (err error) { c.SessionTTL, err = time.ParseDuration(v); return })
    num("RATE_RPS", func(v string) (err error) { c.RateRPS, err = strconv.ParseFloat(v, 64); return })
    num("RATE_BURST", func(v string) (err error) { c.RateBurst, err = strconv.Atoi(v); return })
    num("WEBHOOK_MAX_ATTEMPTS", func(v string) (err error) { c.WebhookMaxAttempts, err = strconv.Atoi(v); return })
    num("AUTOGEN_FILL_THRESHOLD", func(v string) (err error) { c.AutogenFillThreshold, err = strconv.ParseFloat(v, 64); return })
    num("ALLOW_ORIGINS", func(v string) error {
        c.AllowOrigins = nil
        for _, o := range strings.Split(v, ",") {
            if o = strings.TrimSpace(o); o != "" { c.AllowOrigins = append(c.AllowOrigins, o) }
        }
        return nil
    })
    if len(errs) > 0 { return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; ")) }
    return nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
    switch c.AuthMode {
    case "dev":
    case "session":
        if len(c.SessionSecret) < 16 { return fmt.Errorf("SESSION_SECRET must be at least 16 bytes in session mode") }
    default:
        return fmt.Errorf("AUTH_MODE must be dev or session, got %q", c.AuthMode)
    }
    if c.SessionTTL <= 0 { return fmt.Errorf("SESSION_TTL must be positive") }
    if c.AutogenFillThreshold <= 0 || c.AutogenFillThreshold > 1 {
        return fmt.Errorf("AUTOGEN_FILL_THRESHOLD must be in (0, 1], got %v", c.AutogenFillThreshold)
    }
    if c.WebhookMaxAttempts < 1 { return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be >= 1") }
    if c.RateRPS < 0 || c.RateBurst < 0 { return fmt.Errorf("RATE_RPS and RATE_BURST must not be negative") }
    return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
    if strings.HasPrefix(c.Port, ":") { return c.Port }
    return ":" + c.Port
}
