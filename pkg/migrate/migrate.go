// Package migrate applies the goose SQL migrations. The files are embedded,
// so every binary carries the schema it was built against.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are written, relative to the repo root.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Source returns the embedded set for an empty dir, otherwise the files on disk.
func Source(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	return os.DirFS(dir)
}

// Step is one applied or rolled back migration.
type Step struct {
	Version   int64
	Path      string
	Direction string
	Took      time.Duration
}

// State is one migration's position in the database.
type State struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

type Runner struct {
	provider *goose.Provider
}

// NewRunner binds a Postgres database to a migration set.
func NewRunner(db *sql.DB, migrations fs.FS) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: p}, nil
}

func (r *Runner) Up(ctx context.Context) ([]Step, error) {
	res, err := r.provider.Up(ctx)
	return steps(res), wrap("up", err)
}

// Down rolls back the most recent migration only.
func (r *Runner) Down(ctx context.Context) ([]Step, error) {
	res, err := r.provider.Down(ctx)
	if res == nil {
		return nil, wrap("down", err)
	}
	return steps([]*goose.MigrationResult{res}), wrap("down", err)
}

// To moves the schema up or down until target is the newest applied version.
func (r *Runner) To(ctx context.Context, target int64) ([]Step, error) {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}
	var res []*goose.MigrationResult
	switch {
	case current == target:
		return nil, nil
	case current < target:
		res, err = r.provider.UpTo(ctx, target)
	default:
		res, err = r.provider.DownTo(ctx, target)
	}
	return steps(res), wrap(fmt.Sprintf("migrate to %d", target), err)
}

func (r *Runner) Status(ctx context.Context) ([]State, error) {
	all, err := r.provider.Status(ctx)
	if err != nil {
		return nil, wrap("status", err)
	}
	out := make([]State, 0, len(all))
	for _, s := range all {
		out = append(out, State{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

func steps(results []*goose.MigrationResult) []Step {
	out := make([]Step, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, Step{
			Version:   r.Source.Version,
			Path:      r.Source.Path,
			Direction: r.Direction,
			Took:      r.Duration,
		})
	}
	return out
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}
