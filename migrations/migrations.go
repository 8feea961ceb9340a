// Package migrations embeds the schema and applies it with goose. Applied
// versions are tracked in goose_db_version, so re-running is a no-op.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
)

//go:embed *.sql
var files embed.FS

type Applied struct {
	Version  int64         `json:"version"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
}

type Status struct {
	Version   int64      `json:"version"`
	Name      string     `json:"name"`
	State     string     `json:"state"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// NewProvider builds a goose provider over the embedded files. Concurrent
// migrators serialize on a postgres advisory lock.
func NewProvider(db *sql.DB) (*goose.Provider, error) {
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectPostgres, db, files, goose.WithSessionLocker(locker))
}

// Up applies pending migrations and returns the ones applied by this call
// together with the resulting schema version.
func Up(ctx context.Context, db *sql.DB) ([]Applied, int64, error) {
	p, err := NewProvider(db)
	if err != nil {
		return nil, 0, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Applied, 0, len(results))
	for _, r := range results {
		out = append(out, Applied{
			Version:  r.Source.Version,
			Name:     path.Base(r.Source.Path),
			Duration: r.Duration,
		})
	}
	version, err := p.GetDBVersion(ctx)
	if err != nil {
		return nil, 0, err
	}
	return out, version, nil
}

func List(ctx context.Context, db *sql.DB) ([]Status, error) {
	p, err := NewProvider(db)
	if err != nil {
		return nil, err
	}
	rows, err := p.Status(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(rows))
	for _, r := range rows {
		s := Status{
			Version: r.Source.Version,
			Name:    path.Base(r.Source.Path),
			State:   string(r.State),
		}
		if !r.AppliedAt.IsZero() {
			at := r.AppliedAt.UTC()
			s.AppliedAt = &at
		}
		out = append(out, s)
	}
	return out, nil
}
