package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"
)

func envMap(m map[string]string) func(string) (string, bool) {
    return func(k string) (string, bool) { v, ok := m[k]; return v, ok }
}

func TestDefaultsValidate(t *testing.T) {
    if err := Defaults().Validate(); err != nil { t.Fatalf("defaults: %v", err) }
    if got := Defaults().Addr(); got != ":8080" { t.Fatalf("addr: %s", got) }
}

func TestApplyEnvOverrides(t *testing.T) {
    c := Defaults()
    err := c.applyEnv(envMap(map[string]string{
        "PORT":                   "9090",
        "AUTH_MODE":              "SESSION",
        "SESSION_SECRET":         "0123456789abcdef0123",
        "SESSION_TTL":            "30m",
        "DB_MIGRATE":             "false",
        "ALLOW_ORIGINS":          "http://a.test, http://b.test,,",
        "AUTOGEN_FILL_THRESHOLD": "0.8",
    }))
    if err != nil { t.Fatalf("applyEnv: %v", err) }
    if c.Port != "9090" || c.AuthMode != "session" || c.SessionTTL != 30*time.Minute || c.DBMigrate {
        t.Fatalf("unexpected config: %+v", c)
    }
    if len(c.AllowOrigins) != 2 || c.AllowOrigins[1] != "http://b.test" { t.Fatalf("origins: %v", c.AllowOrigins) }
    if c.AutogenFillThreshold != 0.8 { t.Fatalf("threshold: %v", c.AutogenFillThreshold) }
    if err := c.Validate(); err != nil { t.Fatalf("validate: %v", err) }
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
    c := Defaults()
    if err := c.applyEnv(envMap(map[string]string{"RATE_BURST": "lots"})); err == nil { t.Fatalf("expected error") }
}

func TestValidateSessionSecret(t *testing.T) {
    c := Defaults()
    c.AuthMode = "session"
    if err := c.Validate(); err == nil { t.Fatalf("short secret accepted") }
    c.AuthMode = "oauth"
    if err := c.Validate(); err == nil { t.Fatalf("unknown mode accepted") }
}

func TestYAMLFileThenEnv(t *testing.T) {
    dir := t.TempDir()
    p := filepath.Join(dir, "config.yaml")
    data := "port: \"7000\"\nsessionTtl: 2h\nautogenCron: \"0 5 * * *\"\nallowOrigins: [\"http://x.test\"]\n"
    if err := os.WriteFile(p, []byte(data), 0o600); err != nil { t.Fatal(err) }
    c := Defaults()
    if err := c.loadFile(p); err != nil { t.Fatalf("loadFile: %v", err) }
    if c.Port != "7000" || c.SessionTTL != 2*time.Hour || c.AutogenCron != "0 5 * * *" || len(c.AllowOrigins) != 1 {
        t.Fatalf("file values: %+v", c)
    }
    if err := c.applyEnv(envMap(map[string]string{"PORT": "7001"})); err != nil { t.Fatal(err) }
    if c.Port != "7001" { t.Fatalf("env must win over file: %s", c.Port) }
    if c.AuthMode != "dev" { t.Fatalf("defaults must survive file load: %s", c.AuthMode) }
}
