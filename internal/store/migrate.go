package store

import (
    "context"
    "embed"
    "fmt"
    "io/fs"
    "os"
    "sort"
    "strings"

    log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations that have not run yet.
func (p *Postgres) Migrate(ctx context.Context) error {
    sub, err := fs.Sub(migrationsFS, "migrations")
    if err != nil { return err }
    return p.migrateFS(ctx, sub)
}

// MigrateDir applies *.sql files from a directory on disk, in name order.
func (p *Postgres) MigrateDir(dir string) error {
    return p.migrateFS(context.Background(), os.DirFS(dir))
}

func (p *Postgres) migrateFS(ctx context.Context, fsys fs.FS) error {
    if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
        return fmt.Errorf("create schema_migrations: %w", err)
    }
    names, err := fs.Glob(fsys, "*.sql")
    if err != nil { return err }
    sort.Strings(names)
    for _, name := range names {
        var done bool
        if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&done); err != nil { return err }
        if done { continue }
        body, err := fs.ReadFile(fsys, name)
        if err != nil { return err }
        tx, err := p.db.BeginTx(ctx, nil)
        if err != nil { return err }
        if _, err := tx.ExecContext(ctx, string(body)); err != nil {
            _ = tx.Rollback()
            return fmt.Errorf("migration %s: %w", name, err)
        }
        if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
            _ = tx.Rollback()
            return err
        }
        if err := tx.Commit(); err != nil { return err }
        log.WithField("migration", strings.TrimSuffix(name, ".sql")).Info("applied migration")
    }
    return nil
}
